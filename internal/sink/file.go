package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
)

const defaultBufSize = 64 * 1024

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

// FileOption configures a File sink.
type FileOption func(*File)

// WithMaxSize sets the size in bytes at which the file is rotated.
// 0 (default) disables rotation.
func WithMaxSize(bytes int64) FileOption {
	return func(f *File) { f.maxSize = bytes }
}

// WithBufSize sets the write buffer size. Default: 64KB.
func WithBufSize(bytes int) FileOption {
	return func(f *File) { f.bufSize = bytes }
}

// WithMaxBackups sets how many rotated files are kept. Default: 9.
func WithMaxBackups(n int) FileOption {
	return func(f *File) { f.backups = n }
}

// File appends plain-text lines to a file with buffered I/O and optional
// size-based rotation. Colour codes are stripped.
type File struct {
	mu      sync.Mutex
	w       *bufio.Writer
	f       *os.File
	path    string
	maxSize int64
	written int64
	bufSize int
	backups int
}

// NewFile opens path for appending, creating it if needed.
func NewFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, bufSize: defaultBufSize, backups: 9}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) WriteLine(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := StripANSI(line) + "\n"
	if f.maxSize > 0 && f.written > 0 && f.written+int64(len(data)) > f.maxSize {
		if err := f.rotate(); err != nil {
			return fmt.Errorf("file sink: rotate: %w", err)
		}
	}

	n, err := f.w.WriteString(data)
	f.written += int64(n)
	if err != nil {
		return fmt.Errorf("file sink: write: %w", err)
	}
	return nil
}

// Flush writes buffered lines to disk.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Flush()
}

// Close flushes the buffer and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.w.Flush(); err != nil {
		f.f.Close()
		return fmt.Errorf("file sink: flush: %w", err)
	}
	return f.f.Close()
}

func (f *File) open() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file sink: open %s: %w", f.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("file sink: stat %s: %w", f.path, err)
	}
	f.f = file
	f.w = bufio.NewWriterSize(file, f.bufSize)
	f.written = info.Size()
	return nil
}

// rotate shifts path.N to path.N+1, moves the current file to path.1 and
// opens a fresh one.
func (f *File) rotate() error {
	if err := f.w.Flush(); err != nil {
		return err
	}
	if err := f.f.Close(); err != nil {
		return err
	}
	if f.backups > 0 {
		os.Remove(fmt.Sprintf("%s.%d", f.path, f.backups))
		for i := f.backups - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", f.path, i), fmt.Sprintf("%s.%d", f.path, i+1))
		}
		if err := os.Rename(f.path, f.path+".1"); err != nil {
			return err
		}
	} else if err := os.Remove(f.path); err != nil {
		return err
	}
	f.written = 0
	return f.open()
}
