package logging

import (
	"context"
	"fmt"
	"io"
)

// Options selects and configures a Logger implementation.
type Options struct {
	Backend  string // "slog" or "zap"
	Format   string // slog only: "text" or "json"
	Level    string // debug, info, warn, error
	Rotation RotationOptions
}

// New returns the Logger described by opts, writing console output to w.
func New(w io.Writer, opts Options) (Logger, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}

	switch opts.Backend {
	case "", "slog":
		return NewSlog(w, opts.Format, level), nil
	case "zap":
		z, err := NewZap(w, level, opts.Rotation)
		if err != nil {
			return nil, err
		}
		return z, nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", opts.Backend)
	}
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) Logger                  { return n }
