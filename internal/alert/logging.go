package alert

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ordersentry/ordersentry/internal/logging"
)

// Package-level logger instance for the alert engine.
var (
	alertLogger     *slog.Logger
	alertLevelVar   = new(slog.LevelVar)
	alertLoggerOnce sync.Once
)

// getLogger returns the alert engine logger instance.
// The debug parameter controls the log level (debug vs info).
func getLogger(debug bool) *slog.Logger {
	alertLoggerOnce.Do(func() {
		if debug {
			alertLevelVar.Set(slog.LevelDebug)
		} else {
			alertLevelVar.Set(slog.LevelInfo)
		}

		if base := logging.Structured(); base != nil {
			alertLogger = base.With("service", "alert")
			return
		}

		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: alertLevelVar,
		})
		alertLogger = slog.New(handler).With("service", "alert")
	})

	return alertLogger
}

// SetDebugLevel sets the logging level based on debug mode.
func SetDebugLevel(debug bool) {
	if debug {
		alertLevelVar.Set(slog.LevelDebug)
	} else {
		alertLevelVar.Set(slog.LevelInfo)
	}
}

// discardLogger returns a logger that discards all output. Used in tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
