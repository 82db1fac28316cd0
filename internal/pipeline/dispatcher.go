package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
)

// DefaultQueueSize bounds each lane's queue.
const DefaultQueueSize = 1024

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// FormatterFactory creates the formatter for a new lane. In merged mode
// it is called once with an empty source.
type FormatterFactory func(source string) ports.Formatter

// Dispatcher routes events to per-source lanes.
type Dispatcher struct {
	factory   FormatterFactory
	sink      ports.Sink
	executor  *Executor
	logger    *slog.Logger
	tracer    trace.Tracer
	queueSize int
	merged    bool

	closeMu sync.RWMutex
	closed  bool

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

type lane struct {
	source    string
	jobs      chan job
	formatter ports.Formatter
}

type job struct {
	ctx    context.Context
	ev     domain.LogEvent
	notice string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithQueueSize sets the per-lane queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithMerged routes every source through one lane and one formatter.
func WithMerged(merged bool) Option {
	return func(d *Dispatcher) { d.merged = merged }
}

// WithExecutor runs stages before formatting.
func WithExecutor(e *Executor) Option {
	return func(d *Dispatcher) { d.executor = e }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/tjfontaine/console-bridge/internal/pipeline"

// NewDispatcher creates a dispatcher writing to sink.
func NewDispatcher(factory FormatterFactory, sink ports.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		factory:   factory,
		sink:      sink,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		queueSize: DefaultQueueSize,
		lanes:     make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues ev on its source's lane. It blocks while the lane is full
// until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev domain.LogEvent) error {
	return d.enqueue(ctx, ev.Source, job{ctx: ctx, ev: ev})
}

// Notice queues a pre-rendered line on source's lane, keeping it ordered
// with that source's events. It bypasses stages and the formatter.
func (d *Dispatcher) Notice(ctx context.Context, source, line string) error {
	return d.enqueue(ctx, source, job{ctx: ctx, notice: line})
}

func (d *Dispatcher) enqueue(ctx context.Context, source string, j job) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	l := d.lane(source)
	select {
	case l.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) lane(source string) *lane {
	key := source
	if d.merged {
		key = ""
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[key]; ok {
		return l
	}
	l := &lane{
		source:    key,
		jobs:      make(chan job, d.queueSize),
		formatter: d.factory(key),
	}
	d.lanes[key] = l
	d.wg.Add(1)
	go d.run(l)
	d.logger.Debug("opened source lane", slog.String("source", key))
	return l
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	for j := range l.jobs {
		d.handle(l, j)
	}
}

func (d *Dispatcher) handle(l *lane, j job) {
	ctx := context.WithoutCancel(j.ctx)
	if j.notice != "" {
		if err := d.sink.WriteLine(ctx, j.notice); err != nil {
			d.logger.Warn("sink write failed", slog.String("source", l.source), slog.String("error", err.Error()))
		}
		return
	}

	ctx, span := d.tracer.Start(ctx, "console.event", trace.WithAttributes(
		attribute.String("console.method", j.ev.Method.String()),
		attribute.String("console.source", j.ev.Source),
		attribute.Int("console.args", len(j.ev.Args)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "formatter panic")
			d.logger.Error("recovered from panic while formatting console event",
				slog.String("source", j.ev.Source),
				slog.String("method", j.ev.Method.String()),
				slog.String("error", err.Error()),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	ev, err := d.executor.Run(ctx, j.ev)
	if err != nil {
		if IsDenied(err) {
			d.logger.Debug("console event dropped", slog.String("source", j.ev.Source), slog.String("reason", err.Error()))
			span.SetAttributes(attribute.Bool("console.denied", true))
			return
		}
		span.RecordError(err)
		d.logger.Warn("pipeline stage failed", slog.String("source", j.ev.Source), slog.String("error", err.Error()))
		return
	}

	line, ok := l.formatter.Format(ev)
	if !ok {
		span.SetAttributes(attribute.Bool("console.suppressed", true))
		return
	}
	if err := d.sink.WriteLine(ctx, line); err != nil {
		span.RecordError(err)
		d.logger.Warn("sink write failed", slog.String("source", j.ev.Source), slog.String("error", err.Error()))
	}
}

// Sources lists the lanes opened so far.
func (d *Dispatcher) Sources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.lanes))
	for k := range d.lanes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EachFormatter calls fn for every lane's formatter. Formatters must only
// be touched through methods that are safe across goroutines, such as
// SetOptions.
func (d *Dispatcher) EachFormatter(fn func(source string, f ports.Formatter)) {
	d.mu.Lock()
	lanes := make([]*lane, 0, len(d.lanes))
	for _, l := range d.lanes {
		lanes = append(lanes, l)
	}
	d.mu.Unlock()
	for _, l := range lanes {
		fn(l.source, l.formatter)
	}
}

// Close stops accepting events, drains every lane and closes the sink. If
// ctx ends first the sink is closed anyway and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Lock()
	for _, l := range d.lanes {
		close(l.jobs)
	}
	d.mu.Unlock()
	d.closeMu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	var waitErr error
	select {
	case <-drained:
	case <-ctx.Done():
		waitErr = fmt.Errorf("drain console lanes: %w", ctx.Err())
	}
	return errors.Join(waitErr, d.sink.Close())
}
