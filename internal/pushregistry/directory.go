package pushregistry

import (
	"context"
	"sync"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// Directory answers, on the worker, whether a push endpoint id belongs to a
// live subscription. It learns subscriptions from subscription.changed
// broadcasts and, when given a store shared with the page, falls back to it.
type Directory struct {
	mu    sync.RWMutex
	known map[string]bool // endpoint id -> subscribed
	store repository.PushSubscriptionRepository
	log   logger.Logger
}

// NewDirectory creates a Directory. store may be nil.
func NewDirectory(store repository.PushSubscriptionRepository, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNop()
	}
	return &Directory{
		known: make(map[string]bool),
		store: store,
		log:   log.Module(component),
	}
}

// Attach follows subscription changes published on ch.
func (d *Directory) Attach(ch broadcast.Channel) (func(), error) {
	return ch.Subscribe(broadcast.TopicSubscription, d.handle)
}

func (d *Directory) handle(_ string, msg broadcast.Message) {
	if msg.Type != broadcast.TypeSubscriptionChanged {
		return
	}
	endpoint, _ := msg.Payload["endpoint"].(string)
	subscribed, _ := msg.Payload["subscribed"].(bool)
	id, ok := EndpointID(endpoint)
	if !ok {
		d.log.Debug("ignoring subscription change for foreign endpoint", logger.String("endpoint", endpoint))
		return
	}
	d.Set(id, subscribed)
}

// Set records the state of an endpoint id.
func (d *Directory) Set(id string, subscribed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[id] = subscribed
}

// Lookup reports whether id is a live subscription. An explicit
// unsubscribe wins over the store.
func (d *Directory) Lookup(ctx context.Context, id string) bool {
	d.mu.RLock()
	state, seen := d.known[id]
	d.mu.RUnlock()
	if seen {
		return state
	}
	if d.store == nil {
		return false
	}
	_, err := d.store.GetByEndpointID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrSubscriptionNotFound) {
			d.log.Warn("push subscription lookup failed", logger.String("endpoint_id", id), logger.Error(err))
		}
		return false
	}
	return true
}
