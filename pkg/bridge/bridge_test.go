package bridge_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/console-bridge/pkg/bridge"
)

func TestCustomFormatter(t *testing.T) {
	cfg, err := bridge.LoadConfig("", map[string]any{"server.port": 0, "output.color": "never"})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	var (
		mu    sync.Mutex
		lines []string
	)
	collect := bridge.SinkFunc(func(_ context.Context, line string) error {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
		return nil
	})
	upper := func(string) bridge.Formatter {
		return bridge.FormatterFunc(func(ev bridge.LogEvent) (string, bool) {
			return strings.ToUpper(ev.Method.String()), true
		})
	}

	b, err := bridge.New(
		bridge.WithConfig(cfg),
		bridge.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		bridge.WithOutput(io.Discard),
		bridge.WithExtensionServer(),
		bridge.WithSink(collect),
		bridge.WithFormatterFactory(upper),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Submit(ctx, bridge.Observation{Method: "info", Args: []any{"x"}, Source: "app"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(lines) != 1 || lines[0] != "INFO" {
		t.Errorf("lines = %v, want [INFO]", lines)
	}
}
