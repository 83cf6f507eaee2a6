// Package errors provides categorized, context-carrying errors for storyapp.
//
// Errors are created with a small builder:
//
//	errors.Newf("backend rejected subscription").
//		Component("subscription").
//		Category(errors.CategoryBackend).
//		Context("status", resp.StatusCode).
//		Build()
//
// The package re-exports the standard helpers so callers only import one
// errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

// Category classifies an error for handling and telemetry decisions.
type Category string

const (
	CategoryGeneric          Category = "generic"
	CategoryValidation       Category = "validation"
	CategoryNetwork          Category = "network"
	CategoryNotSupported     Category = "not-supported"
	CategoryAuth             Category = "auth"
	CategoryPermission       Category = "permission"
	CategoryBackend          Category = "backend"
	CategoryMalformedPayload Category = "malformed-payload"
	CategoryStorage          Category = "storage"
	CategoryConfiguration    Category = "configuration"
	CategoryNotFound         Category = "not-found"
)

// EnhancedError wraps an underlying error with component, category and
// free-form context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return e.component + ": " + e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ContextString renders the context as sorted key=value pairs.
func (e *EnhancedError) ContextString() string {
	keys := make([]string, 0, len(e.context))
	for k := range e.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.context[k]))
	}
	return strings.Join(parts, " ")
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: &EnhancedError{Err: err, category: CategoryGeneric, context: map[string]any{}}}
}

// Newf starts a builder around a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.component = name
	return b
}

func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.err.category = c
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build finalizes the error and hands it to the telemetry reporter when one
// is configured.
func (b *ErrorBuilder) Build() *EnhancedError {
	report(b.err)
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// HasCategory reports whether err carries category c.
func HasCategory(err error, c Category) bool {
	return err != nil && CategoryOf(err) == c
}

func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }

// NewStd creates a plain sentinel error.
func NewStd(text string) error { return stderrors.New(text) }

// Reporter receives built errors for external telemetry.
type Reporter interface {
	Report(err *EnhancedError)
}

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetTelemetryReporter installs r; pass nil to disable reporting.
func SetTelemetryReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(err *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r.Report(err)
	}
}
