package repository

import "github.com/storyapp/storyapp/internal/errors"

var (
	// ErrCacheEntryNotFound is returned when no entry matches a cache lookup.
	ErrCacheEntryNotFound = errors.NewStd("cache entry not found")
	// ErrSubscriptionNotFound is returned when a scope has no push subscription.
	ErrSubscriptionNotFound = errors.NewStd("push subscription not found")
)
