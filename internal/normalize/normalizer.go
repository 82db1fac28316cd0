// Package normalize turns raw console observations into canonical
// domain.LogEvent values.
package normalize

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/serialize"
)

// Observation is a console call as reported by a capture adapter, before
// its method is validated or its arguments serialized.
type Observation struct {
	Method    string
	Args      []any
	Source    string
	Timestamp float64
	Location  *domain.Location
}

// Clock supplies the current time for observations without a timestamp.
type Clock func() time.Time

// Normalizer validates methods, serializes arguments and fills in
// timestamps. It is safe for concurrent use.
type Normalizer struct {
	serializer *serialize.Serializer
	logger     *slog.Logger
	clock      Clock
	levels     map[domain.Method]bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(clock Clock) Option {
	return func(n *Normalizer) {
		n.clock = clock
	}
}

// WithLevels restricts accepted events to the given methods. An empty list
// accepts every method.
func WithLevels(methods ...domain.Method) Option {
	return func(n *Normalizer) {
		if len(methods) == 0 {
			n.levels = nil
			return
		}
		n.levels = make(map[domain.Method]bool, len(methods))
		for _, m := range methods {
			n.levels[m] = true
		}
	}
}

// New creates a Normalizer around s.
func New(s *serialize.Serializer, opts ...Option) *Normalizer {
	if s == nil {
		s = serialize.New(serialize.DefaultLimits())
	}
	n := &Normalizer{
		serializer: s,
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Accepts reports whether events for m pass the level filter.
func (n *Normalizer) Accepts(m domain.Method) bool {
	return n.levels == nil || n.levels[m]
}

// Normalize converts obs into an event. It returns false when the method
// is unknown or filtered out.
func (n *Normalizer) Normalize(obs Observation) (domain.LogEvent, bool) {
	method, ok := n.method(obs.Method, obs.Source)
	if !ok {
		return domain.LogEvent{}, false
	}

	args := make([]domain.Value, len(obs.Args))
	for i, arg := range obs.Args {
		args[i] = n.serializeArg(arg)
	}

	return n.build(method, args, obs.Source, obs.Timestamp, obs.Location), true
}

// NormalizeSerialized is the entry point for arguments that were already
// serialized on the page, as with the browser extension.
func (n *Normalizer) NormalizeSerialized(method string, args []domain.Value, source string, timestamp float64, loc *domain.Location) (domain.LogEvent, bool) {
	m, ok := n.method(method, source)
	if !ok {
		return domain.LogEvent{}, false
	}
	if args == nil {
		args = []domain.Value{}
	}
	return n.build(m, args, source, timestamp, loc), true
}

func (n *Normalizer) method(name, source string) (domain.Method, bool) {
	m, ok := domain.ParseMethod(name)
	if !ok {
		n.logger.Debug("dropping console event with unknown method",
			slog.String("method", name),
			slog.String("source", source))
		return 0, false
	}
	if !n.Accepts(m) {
		return 0, false
	}
	return m, true
}

func (n *Normalizer) build(m domain.Method, args []domain.Value, source string, ts float64, loc *domain.Location) domain.LogEvent {
	if ts == 0 {
		ts = domain.TimeToMillis(n.clock())
	}
	return domain.LogEvent{
		Method:    m,
		Args:      args,
		Source:    source,
		Timestamp: ts,
		Location:  loc,
	}
}

func (n *Normalizer) serializeArg(arg any) (out domain.Value) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.ErrorValue("Error", fmt.Sprintf("[Error serializing argument: %v]", r), "")
		}
	}()
	return n.serializer.Serialize(arg)
}

// ParseLevels resolves a list of method names for WithLevels.
func ParseLevels(names []string) ([]domain.Method, error) {
	out := make([]domain.Method, 0, len(names))
	for _, name := range names {
		m, ok := domain.ParseMethod(name)
		if !ok {
			return nil, fmt.Errorf("unknown console level %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}
