// Package logging builds the process log sink and per-component loggers.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	// File is the log file path. Empty logs to stderr.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// Sink is the shared log destination. Close it on shutdown.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// Open returns a sink for opts. A file sink creates the parent directory and
// rotates through lumberjack.
func Open(opts Options) (*Sink, error) {
	if opts.File == "" {
		return &Sink{w: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return &Sink{w: lj, closer: lj}, nil
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Logger returns a logger writing to the sink with a "[component] " prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, Prefix(component), log.LstdFlags)
}

// Close flushes and closes a file sink. Stderr sinks are left open.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Prefix formats a component name the way every garage logger prefixes
// its lines.
func Prefix(component string) string {
	return "[" + strings.TrimSpace(component) + "] "
}
