package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Color modes accepted by ColorEnabled.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Terminal writes lines to a stream, normally stdout.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal creates a terminal sink writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Stdout creates a terminal sink on os.Stdout.
func Stdout() *Terminal {
	return NewTerminal(os.Stdout)
}

func (t *Terminal) WriteLine(_ context.Context, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, line+"\n"); err != nil {
		return fmt.Errorf("terminal sink: %w", err)
	}
	return nil
}

func (t *Terminal) Close() error {
	return nil
}

// ColorEnabled resolves a color mode against f. In auto mode colour is
// used only when f is a terminal and NO_COLOR is unset.
func ColorEnabled(mode string, f *os.File) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
