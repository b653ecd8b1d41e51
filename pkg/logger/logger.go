package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured JSON logger. Local and dev
// environments log at debug so per-cycle billing decisions are visible.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "voip-billing")
}

// Component tags a child logger for one subsystem (call monitor, renewal
// sweep, rate reload) so its lines can be filtered in aggregate.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}
