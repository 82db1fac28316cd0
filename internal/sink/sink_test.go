package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// recordingSink records calls for test assertions.
type recordingSink struct {
	lines  []string
	closed bool
	err    error
}

func (r *recordingSink) WriteLine(_ context.Context, line string) error {
	r.lines = append(r.lines, line)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func TestMulti_FanOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := NewMulti(a, nil, b)
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	if err := m.WriteLine(context.Background(), "hello"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	for i, s := range []*recordingSink{a, b} {
		if len(s.lines) != 1 || s.lines[0] != "hello" {
			t.Errorf("sink %d lines = %v", i, s.lines)
		}
	}
}

func TestMulti_FailingSinkDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSink{err: boom}
	good := &recordingSink{}
	m := NewMulti(bad, good)

	err := m.WriteLine(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Errorf("WriteLine() error = %v, want %v", err, boom)
	}
	if len(good.lines) != 1 {
		t.Errorf("good sink got %d lines, want 1", len(good.lines))
	}

	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() error = %v, want %v", err, boom)
	}
	if !bad.closed || !good.closed {
		t.Error("Close() did not reach every sink")
	}
}

func TestFunc(t *testing.T) {
	var got []string
	s := Func(func(_ context.Context, line string) error {
		got = append(got, line)
		return nil
	})
	s.WriteLine(context.Background(), "a")
	s.WriteLine(context.Background(), "b")
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("Func received %v", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.WriteLine(context.Background(), "\x1b[31mred\x1b[0m")
	term.WriteLine(context.Background(), "plain")

	if got := buf.String(); got != "\x1b[31mred\x1b[0m\nplain\n" {
		t.Errorf("terminal output = %q", got)
	}
}

func TestColorEnabled(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer f.Close()

	tests := []struct {
		mode string
		want bool
	}{
		{ColorAlways, true},
		{ColorNever, false},
		{ColorAuto, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			if got := ColorEnabled(tt.mode, f); got != tt.want {
				t.Errorf("ColorEnabled(%q) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\x1b[31merror:\x1b[0m boom", "error: boom"},
		{"\x1b[1;90m[12:00:00]\x1b[22;39m", "[12:00:00]"},
	}
	for _, tt := range tests {
		if got := StripANSI(tt.in); got != tt.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFile_AppendsPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	f.WriteLine(context.Background(), "\x1b[33mwarning:\x1b[0m careful")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := string(data); got != "existing\nwarning: careful\n" {
		t.Errorf("file contents = %q", got)
	}
}

func TestFile_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	f, err := NewFile(path, WithMaxSize(10), WithMaxBackups(2))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	for _, line := range []string{"aaaaaa", "bbbbbb", "cccccc", "dddddd"} {
		if err := f.WriteLine(context.Background(), line); err != nil {
			t.Fatalf("WriteLine() error = %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := map[string]string{
		path:        "dddddd\n",
		path + ".1": "cccccc\n",
		path + ".2": "bbbbbb\n",
	}
	for p, content := range want {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", p, err)
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", filepath.Base(p), data, content)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected no third backup, Stat() error = %v", err)
	}
}

func TestProcess_StreamsToStdin(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var out bytes.Buffer
	p, err := NewShellProcess("cat", WithOutput(&out, &out))
	if err != nil {
		t.Fatalf("NewShellProcess() error = %v", err)
	}
	p.WriteLine(context.Background(), "\x1b[34minfo:\x1b[0m one")
	p.WriteLine(context.Background(), "two")
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := out.String(); got != "info: one\ntwo\n" {
		t.Errorf("child output = %q", got)
	}
	if err := p.WriteLine(context.Background(), "late"); !errors.Is(err, os.ErrClosed) {
		t.Errorf("WriteLine() after Close error = %v, want %v", err, os.ErrClosed)
	}
}

func TestProcess_EmptyCommand(t *testing.T) {
	if _, err := NewShellProcess("  "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("NewShellProcess() error = %v, want %v", err, ErrEmptyCommand)
	}
}
