package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Level comes from config so
// an operator can raise verbosity without rebuilding.
func New(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
