// Package logging builds the slog loggers used by the chaincast CLIs.
// Library code never calls this; every component takes an injected
// *slog.Logger instead.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewCLILogger returns a colorized stderr logger for interactive use.
func NewCLILogger(level slog.Level) *slog.Logger {
	return NewLogger(os.Stderr, level)
}

// NewLogger returns a tint-backed logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(handler)
}
