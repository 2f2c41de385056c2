// Package telemetry provides opt-in error capture via Sentry.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ordersentry/ordersentry/internal/conf"
	"github.com/ordersentry/ordersentry/internal/errors"
	"github.com/ordersentry/ordersentry/internal/logging"
)

var initialized atomic.Bool

// Init initializes the Sentry SDK. Capture is opt-in; with Sentry disabled
// every other function in this package is a no-op.
func Init(settings *conf.Settings) error {
	if !settings.Sentry.Enabled {
		logging.Info("error telemetry is disabled (opt-in required)")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: true,
		Release:          "ordersentry@" + conf.Version,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})

	initialized.Store(true)
	logging.Info("error telemetry initialized")
	return nil
}

// Enabled reports whether capture is active.
func Enabled() bool {
	return initialized.Load()
}

// CaptureError reports an error with its component tag. Enhanced error
// context travels along as extra data.
func CaptureError(err error, component string) {
	if !initialized.Load() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) {
			scope.SetTag("category", enhanced.GetCategory())
			for k, v := range enhanced.GetContext() {
				scope.SetExtra(k, v)
			}
		}
		sentry.CaptureException(err)
	})
}

// CaptureMessage reports a plain message at the given level.
func CaptureMessage(message, component string, level sentry.Level) {
	if !initialized.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(message)
	})
}

// Flush waits for buffered events to reach the server; call on shutdown.
func Flush(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	sentry.Flush(timeout)
}
