package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so audit-adjacent
// operational logs stay machine-parseable.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
