package errors

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// reportableCategories are the categories worth sending upstream. Validation,
// auth and permission errors are user-facing outcomes, not defects.
var reportableCategories = map[Category]bool{
	CategoryNetwork: true,
	CategoryBackend: true,
	CategoryStorage: true,
}

// SentryReporter forwards reportable errors to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter initializes the Sentry SDK for dsn and returns a reporter.
func NewSentryReporter(dsn, release string) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return nil, Newf("sentry init failed: %w", err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report implements Reporter.
func (r *SentryReporter) Report(err *EnhancedError) {
	if !reportableCategories[err.GetCategory()] {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", err.GetComponent())
		scope.SetTag("category", string(err.GetCategory()))
		scope.SetContext("error", sentry.Context(err.GetContext()))
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
