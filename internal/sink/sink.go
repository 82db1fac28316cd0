// Package sink delivers formatted lines to their destinations.
package sink

import (
	"context"
	"errors"

	"github.com/tjfontaine/console-bridge/internal/core/ports"
)

// Sink is re-exported so callers outside the core need not import ports.
type Sink = ports.Sink

// Func adapts a callback into a Sink. Close is a no-op.
type Func func(ctx context.Context, line string) error

func (f Func) WriteLine(ctx context.Context, line string) error { return f(ctx, line) }

func (f Func) Close() error { return nil }

// Multi fans a line out to several sinks. Each WriteLine delivers to every
// wrapped sink sequentially; a failing sink does not stop delivery to the
// rest.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi over the given sinks. Nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{sinks: make([]Sink, 0, len(sinks))}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) WriteLine(ctx context.Context, line string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WriteLine(ctx, line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every line.
var Discard Sink = Func(func(context.Context, string) error { return nil })
