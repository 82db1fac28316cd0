package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ErrEmptyCommand is returned when no command is given to NewProcess.
var ErrEmptyCommand = errors.New("process sink: empty command")

// ProcessOption configures a Process sink.
type ProcessOption func(*exec.Cmd)

// WithOutput redirects the child's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) ProcessOption {
	return func(c *exec.Cmd) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

// Process streams lines to the stdin of a spawned command. The child
// inherits the bridge's stdout and stderr unless WithOutput is given.
type Process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	closed bool
}

// NewProcess starts argv[0] with the remaining arguments.
func NewProcess(argv []string, opts ...ProcessOption) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	for _, opt := range opts {
		opt(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process sink: stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process sink: start %s: %w", argv[0], err)
	}
	return &Process{cmd: cmd, stdin: stdin, w: bufio.NewWriter(stdin)}, nil
}

// NewShellProcess splits command on whitespace and starts it.
func NewShellProcess(command string, opts ...ProcessOption) (*Process, error) {
	return NewProcess(strings.Fields(command), opts...)
}

func (p *Process) WriteLine(_ context.Context, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("process sink: %w", os.ErrClosed)
	}
	if _, err := p.w.WriteString(StripANSI(line) + "\n"); err != nil {
		return fmt.Errorf("process sink: write: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("process sink: write: %w", err)
	}
	return nil
}

// Close closes the child's stdin and waits for it to exit.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	flushErr := p.w.Flush()
	closeErr := p.stdin.Close()
	waitErr := p.cmd.Wait()
	if waitErr != nil {
		waitErr = fmt.Errorf("process sink: wait: %w", waitErr)
	}
	return errors.Join(flushErr, closeErr, waitErr)
}
