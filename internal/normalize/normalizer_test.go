package normalize

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/serialize"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000123)
}

func TestNormalize_Basic(t *testing.T) {
	n := New(nil, WithClock(fixedClock))

	loc := &domain.Location{URL: "http://localhost:3000/app.js", Line: 10, Column: 4}
	ev, ok := n.Normalize(Observation{
		Method:   "warn",
		Args:     []any{"hello", 42, map[string]any{"k": true}},
		Source:   "localhost:3000",
		Location: loc,
	})
	if !ok {
		t.Fatal("Normalize() dropped a valid event")
	}
	if ev.Method != domain.MethodWarning {
		t.Errorf("Method = %v, want warning", ev.Method)
	}
	if len(ev.Args) != 3 {
		t.Fatalf("len(Args) = %d, want 3", len(ev.Args))
	}
	wantTypes := []domain.ValueType{domain.TypeString, domain.TypeNumber, domain.TypeObject}
	for i, want := range wantTypes {
		if ev.Args[i].Type != want {
			t.Errorf("Args[%d].Type = %q, want %q", i, ev.Args[i].Type, want)
		}
	}
	if ev.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %v, want clock time", ev.Timestamp)
	}
	if ev.Location != loc || ev.Source != "localhost:3000" {
		t.Errorf("Location/Source not carried through: %+v", ev)
	}
}

func TestNormalize_KeepsGivenTimestamp(t *testing.T) {
	n := New(nil, WithClock(fixedClock))
	ev, ok := n.Normalize(Observation{Method: "log", Timestamp: 1234.5})
	if !ok {
		t.Fatal("Normalize() dropped a valid event")
	}
	if ev.Timestamp != 1234.5 {
		t.Errorf("Timestamp = %v, want 1234.5", ev.Timestamp)
	}
}

func TestNormalize_UnknownMethod(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	n := New(nil, WithLogger(logger))

	if _, ok := n.Normalize(Observation{Method: "countReset"}); ok {
		t.Fatal("Normalize() accepted an unknown method")
	}
	if !strings.Contains(buf.String(), "countReset") {
		t.Errorf("expected diagnostic mentioning the method, got %q", buf.String())
	}
}

func TestNormalize_SharedObjectAcrossArgs(t *testing.T) {
	shared := map[string]any{"x": 1}
	n := New(nil)

	ev, _ := n.Normalize(Observation{Method: "log", Args: []any{shared, shared}})
	for i, arg := range ev.Args {
		if arg.Type != domain.TypeObject {
			t.Errorf("Args[%d].Type = %q, want object", i, arg.Type)
		}
	}
}

func TestNormalize_LevelFilter(t *testing.T) {
	n := New(nil, WithLevels(domain.MethodError, domain.MethodWarning))

	tests := []struct {
		method string
		want   bool
	}{
		{"error", true},
		{"warn", true},
		{"log", false},
		{"info", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, ok := n.Normalize(Observation{Method: tt.method})
			if ok != tt.want {
				t.Errorf("Normalize(%s) ok = %v, want %v", tt.method, ok, tt.want)
			}
		})
	}
}

func TestNormalizeSerialized_PassThrough(t *testing.T) {
	n := New(serialize.New(serialize.DefaultLimits()), WithClock(fixedClock))
	args := []domain.Value{domain.String("from page"), domain.Circular("root.a")}

	ev, ok := n.NormalizeSerialized("group", args, "tab:7", 99, nil)
	if !ok {
		t.Fatal("NormalizeSerialized() dropped a valid event")
	}
	if ev.Method != domain.MethodStartGroup {
		t.Errorf("Method = %v, want startGroup", ev.Method)
	}
	if ev.Args[1].Path != "root.a" || ev.Timestamp != 99 {
		t.Errorf("event = %+v, want args and timestamp unchanged", ev)
	}
}

func TestParseLevels(t *testing.T) {
	got, err := ParseLevels([]string{"error", "warn"})
	if err != nil {
		t.Fatalf("ParseLevels() error = %v", err)
	}
	if len(got) != 2 || got[1] != domain.MethodWarning {
		t.Errorf("ParseLevels() = %v", got)
	}
	if _, err := ParseLevels([]string{"verbose"}); err == nil {
		t.Error("ParseLevels() accepted an unknown level")
	}
}
