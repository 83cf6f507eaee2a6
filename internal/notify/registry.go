package notify

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/storyapp/storyapp/internal/errors"
)

// ErrNotificationNotFound is returned for unknown or expired notifications.
var ErrNotificationNotFound = errors.NewStd("notification not found")

// Registry remembers shown notifications until they are closed or expire.
// It doubles as a Displayer placed before the real ones.
type Registry struct {
	items *cache.Cache
}

// NewRegistry creates a registry whose entries expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		return &Registry{items: cache.New(cache.NoExpiration, 0)}
	}
	return &Registry{items: cache.New(ttl, ttl)}
}

// Show records n.
func (r *Registry) Show(_ context.Context, n *Notification) error {
	Prepare(n)
	r.items.Set(n.ID, n, cache.DefaultExpiration)
	return nil
}

// Get returns a shown notification.
func (r *Registry) Get(id string) (*Notification, error) {
	v, ok := r.items.Get(id)
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return v.(*Notification), nil
}

// Close dismisses a notification. Closing twice or closing an unknown id is
// not an error.
func (r *Registry) Close(id string) {
	r.items.Delete(id)
}

// List returns every open notification.
func (r *Registry) List() []*Notification {
	items := r.items.Items()
	out := make([]*Notification, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Notification))
	}
	return out
}
