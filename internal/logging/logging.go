// Package logging builds the process-wide structured logger. Output goes to
// stdout, stderr or a size-rotated file; the level can be changed at runtime
// by config reload.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Options selects the log destination and initial level.
type Options struct {
	Level      string // "debug", "info", "warn", "error"; default "info"
	Output     string // "stdout", "stderr", or a file path; default "stdout"
	MaxSizeMB  int    // rotation threshold for file output
	MaxBackups int    // rotated files to keep
}

// Sink owns the logger, its runtime-adjustable level and the underlying
// writer.
type Sink struct {
	Logger *slog.Logger
	level  *slog.LevelVar
	out    io.Closer
}

// New builds a JSON logger per opts. The returned Sink must be closed on
// shutdown when logging to a file.
func New(opts Options) (*Sink, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	var (
		w      io.Writer
		closer io.Closer
	)
	switch opts.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		rw, err := newRotatingWriter(opts.Output, opts.MaxSizeMB, opts.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("opening log output: %w", err)
		}
		w = rw
		closer = rw
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Sink{
		Logger: slog.New(handler),
		level:  level,
		out:    closer,
	}, nil
}

// SetLevel adjusts the minimum level at runtime. Unknown strings fall back
// to info.
func (s *Sink) SetLevel(lvl string) {
	s.level.Set(parseLevel(lvl))
}

// Close releases the underlying file, if any.
func (s *Sink) Close() error {
	if s.out == nil {
		return nil
	}
	return s.out.Close()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
