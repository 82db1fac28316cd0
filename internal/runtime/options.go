package runtime

import (
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/console-bridge/internal/adapters/config/file"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
	"github.com/tjfontaine/console-bridge/internal/pipeline"
	"github.com/tjfontaine/console-bridge/internal/pkg/config"
)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge) error

// WithFileConfig uses file-based configuration with hot-reload. The
// overrides, typically command line flags, win over the file and the
// environment on every reload.
func WithFileConfig(path string, overrides map[string]any) Option {
	return func(b *Bridge) error {
		provider, err := file.NewProvider(path, file.WithOverrides(overrides), file.WithLogger(b.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		b.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration.
func WithConfig(cfg *config.Config) Option {
	return func(b *Bridge) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		b.config = config.Static{Config: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(b *Bridge) error {
		b.config = provider
		return nil
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithOutput replaces stdout as the terminal destination.
func WithOutput(w io.Writer) Option {
	return func(b *Bridge) error {
		b.stdout = w
		return nil
	}
}

// WithSink adds a destination next to the terminal and the configured
// file and process sinks. The bridge closes it on shutdown.
func WithSink(s ports.Sink) Option {
	return func(b *Bridge) error {
		b.sinks = append(b.sinks, s)
		return nil
	}
}

// WithFormatterFactory replaces the configured formatter style. The
// factory is called once per source.
func WithFormatterFactory(factory pipeline.FormatterFactory) Option {
	return func(b *Bridge) error {
		b.factory = factory
		return nil
	}
}

// WithStage runs s on every event before formatting. Lower orders run
// first.
func WithStage(order int, s ports.Stage) Option {
	return func(b *Bridge) error {
		b.stages = append(b.stages, pipeline.StageConfig{Order: order, Stage: s})
		return nil
	}
}

// WithExtensionServer captures from the browser extension over WebSocket
// instead of launching a browser.
func WithExtensionServer() Option {
	return func(b *Bridge) error {
		b.mode = ModeExtension
		return nil
	}
}

// WithBrowser captures by driving a browser over the DevTools protocol
// (default).
func WithBrowser() Option {
	return func(b *Bridge) error {
		b.mode = ModeBrowser
		return nil
	}
}

// WithTracerProvider traces event handling with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) error {
		b.tracer = tp
		return nil
	}
}
