package ports

import (
	"context"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// Formatter renders one event. A false result suppresses output.
type Formatter interface {
	Format(ev domain.LogEvent) (string, bool)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(ev domain.LogEvent) (string, bool)

func (f FormatterFunc) Format(ev domain.LogEvent) (string, bool) { return f(ev) }

// Sink receives formatted lines.
type Sink interface {
	WriteLine(ctx context.Context, line string) error
	Close() error
}
