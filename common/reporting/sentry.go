// Package reporting sends crash reports to Sentry.
package reporting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init configures the Sentry client. An empty dsn leaves reporting disabled; every function in
// this package is then a no-op.
func Init(dsn, release string) error {
	if dsn == "" {
		slog.Debug("No sentry DSN configured, crash reporting disabled")
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          release,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// PanicListener reports a fatal message and waits for it to be delivered.
func PanicListener(msg string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
	})

	sentry.CaptureMessage(msg)
	if result := sentry.Flush(6 * time.Second); !result {
		slog.Error("sentry.Flush: timeout")
	}
}

// CapturePanic reports a value recovered from a panic in a goroutine that keeps running.
// where names the component that recovered it.
func CapturePanic(recovered any, where string) {
	slog.Error("Recovered from panic", "where", where, "panic", recovered)
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("recovered_in", where)
		scope.SetLevel(sentry.LevelError)
	})
	hub.Recover(recovered)
}
