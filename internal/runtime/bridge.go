// Package runtime provides the Bridge struct and lifecycle management that
// connect a capture source to the formatter pipeline and output sinks.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/console-bridge/internal/adapters/capture/cdp"
	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
	"github.com/tjfontaine/console-bridge/internal/formatter"
	"github.com/tjfontaine/console-bridge/internal/normalize"
	"github.com/tjfontaine/console-bridge/internal/pipeline"
	"github.com/tjfontaine/console-bridge/internal/pkg/config"
	"github.com/tjfontaine/console-bridge/internal/serialize"
	"github.com/tjfontaine/console-bridge/internal/server"
	"github.com/tjfontaine/console-bridge/internal/sink"
)

var (
	ErrAlreadyStarted = errors.New("bridge already started")
	ErrNotStarted     = errors.New("bridge not started")
	// ErrWrongMode is returned by page management calls in extension mode.
	ErrWrongMode = errors.New("operation requires browser mode")
)

// Mode selects where console output is captured from.
type Mode int

const (
	ModeBrowser Mode = iota
	ModeExtension
)

func (m Mode) String() string {
	if m == ModeExtension {
		return "extension"
	}
	return "browser"
}

// Bridge is the main entry point for running a console bridge. It can be
// embedded in larger applications or run standalone.
type Bridge struct {
	// Dependencies (injected via options)
	config  ports.ConfigProvider
	logger  *slog.Logger
	stdout  io.Writer
	sinks   []ports.Sink
	factory pipeline.FormatterFactory
	stages  []pipeline.StageConfig
	tracer  trace.TracerProvider
	mode    Mode

	// Internal state
	cfg        *config.Config
	color      bool
	current    atomic.Pointer[display]
	normalizer *normalize.Normalizer
	dispatcher *pipeline.Dispatcher
	capturer   ports.Capturer
	server     *server.Server
	browser    *cdp.Manager

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.RWMutex
}

// New creates a Bridge. Without a config option the defaults and the
// environment are used.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		logger: slog.Default(),
		stdout: os.Stdout,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if b.config == nil {
		b.config = config.Static{}
	}
	return b, nil
}

// Start loads the configuration, builds the pipeline and starts capturing.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}

	cfg, err := b.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	levels, err := normalize.ParseLevels(cfg.Capture.Levels)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b.cfg = cfg
	b.color = b.colorEnabled(cfg)
	b.current.Store(&display{style: cfg.Format.Style, opts: formatterOptions(cfg, b.color)})

	out, err := buildSinks(cfg, sink.NewTerminal(b.stdout), b.sinks)
	if err != nil {
		return err
	}

	b.normalizer = normalize.New(serialize.New(cfg.Limits),
		normalize.WithLogger(b.logger),
		normalize.WithLevels(levels...))

	dispatchOpts := []pipeline.Option{
		pipeline.WithLogger(b.logger),
		pipeline.WithMerged(cfg.Format.MergeSources),
		pipeline.WithExecutor(pipeline.NewExecutor(b.stages...)),
	}
	if b.tracer != nil {
		dispatchOpts = append(dispatchOpts, pipeline.WithTracerProvider(b.tracer))
	}
	factory := b.factory
	if factory == nil {
		factory = b.newFormatter
	}
	b.dispatcher = pipeline.NewDispatcher(factory, out, dispatchOpts...)

	switch b.mode {
	case ModeExtension:
		hub := server.NewHub(b.normalizer, b.dispatcher, server.WithHubLogger(b.logger))
		b.server = server.New(cfg.Server.Host, cfg.Server.Port, hub, b.logger)
		b.capturer = b.server
	default:
		b.browser = cdp.NewManager(cdp.Config{
			URLs:       cfg.Capture.URLs,
			Headless:   cfg.Capture.Headless,
			BrowserBin: cfg.Capture.BrowserBin,
			Limits:     cfg.Limits,
		}, b.normalizer, b.dispatcher, cdp.WithLogger(b.logger))
		b.capturer = b.browser
	}

	if err := b.capturer.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start %s capture: %w", b.mode, err), b.dispatcher.Close(ctx))
	}

	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.started = true

	go b.watchConfig()

	b.logger.Info("bridge started",
		slog.String("mode", b.mode.String()),
		slog.String("style", cfg.Format.Style),
		slog.Int("urls", len(cfg.Capture.URLs)))

	return nil
}

func (b *Bridge) colorEnabled(cfg *config.Config) bool {
	f, _ := b.stdout.(*os.File)
	return sink.ColorEnabled(cfg.Output.Color, f)
}

// display is what new formatters are built from. It is read from capture
// goroutines, so it is swapped atomically rather than guarded by mu.
type display struct {
	style string
	opts  formatter.Options
}

// newFormatter builds the configured style for a new source using the
// current display options.
func (b *Bridge) newFormatter(string) ports.Formatter {
	d := b.current.Load()
	return formatter.NewStyle(d.style, d.opts)
}

// Shutdown stops capturing, drains queued events and closes the sinks.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}

	b.logger.Info("shutting down bridge")

	if b.cancel != nil {
		b.cancel()
	}

	var errs []error
	if err := b.capturer.Stop(ctx); err != nil {
		b.logger.Error("failed to stop capture", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := b.dispatcher.Close(ctx); err != nil {
		b.logger.Error("failed to drain output", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := b.config.Close(); err != nil {
		b.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	b.started = false
	b.logger.Info("bridge shutdown complete")
	return errors.Join(errs...)
}

// watchConfig watches for config changes and reloads.
func (b *Bridge) watchConfig() {
	onChange := func(newCfg *config.Config) {
		b.logger.Info("config changed, reloading")
		b.reload(newCfg)
	}

	if err := b.config.Watch(b.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies display options from cfg to every formatter. Settings
// that shape the pipeline itself need a restart.
func (b *Bridge) reload(cfg *config.Config) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	old := b.cfg
	b.cfg = cfg
	opts := formatterOptions(cfg, b.color)
	b.current.Store(&display{style: old.Format.Style, opts: opts})
	dispatcher := b.dispatcher
	b.mu.Unlock()

	updated := 0
	dispatcher.EachFormatter(func(_ string, f ports.Formatter) {
		if setOptions(f, opts) {
			updated++
		}
	})

	if old.Server != cfg.Server || old.Format.Style != cfg.Format.Style ||
		old.Format.MergeSources != cfg.Format.MergeSources || old.Limits != cfg.Limits {
		b.logger.Warn("some changed settings take effect after a restart")
	}
	b.logger.Info("reload complete", slog.Int("formatters", updated))
}

// Submit injects an observation as if it had been captured, for programs
// that embed the bridge.
func (b *Bridge) Submit(ctx context.Context, obs normalize.Observation) error {
	b.mu.RLock()
	n, d, started := b.normalizer, b.dispatcher, b.started
	b.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	ev, ok := n.Normalize(obs)
	if !ok {
		return nil
	}
	return d.Submit(ctx, ev)
}

// SubmitEvent delivers an already normalized event.
func (b *Bridge) SubmitEvent(ctx context.Context, ev domain.LogEvent) error {
	b.mu.RLock()
	d, started := b.dispatcher, b.started
	b.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return d.Submit(ctx, ev)
}

// Mode reports the capture mode.
func (b *Bridge) Mode() Mode {
	return b.mode
}

// Sources lists the sources seen so far.
func (b *Bridge) Sources() []string {
	b.mu.RLock()
	d := b.dispatcher
	b.mu.RUnlock()
	if d == nil {
		return nil
	}
	return d.Sources()
}

// Addr returns the extension server address, or "" when not serving.
func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil || !b.started {
		return ""
	}
	return b.server.Addr()
}

// Clients lists the connected extension tabs.
func (b *Bridge) Clients() []server.ClientInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil || !b.started {
		return nil
	}
	return b.server.Hub.Clients()
}

func (b *Bridge) pages() (*cdp.Manager, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.mode != ModeBrowser {
		return nil, ErrWrongMode
	}
	if !b.started {
		return nil, ErrNotStarted
	}
	return b.browser, nil
}

// AddURL starts capturing another page.
func (b *Bridge) AddURL(ctx context.Context, url string) error {
	m, err := b.pages()
	if err != nil {
		return err
	}
	return m.AddURL(ctx, url)
}

// RemoveURL stops capturing a page.
func (b *Bridge) RemoveURL(url string) error {
	m, err := b.pages()
	if err != nil {
		return err
	}
	return m.RemoveURL(url)
}

// ActiveURLs lists the captured pages.
func (b *Bridge) ActiveURLs() []string {
	m, err := b.pages()
	if err != nil {
		return nil
	}
	return m.ActiveURLs()
}

// IsActive reports whether url is being captured.
func (b *Bridge) IsActive(url string) bool {
	m, err := b.pages()
	if err != nil {
		return false
	}
	return m.IsActive(url)
}
