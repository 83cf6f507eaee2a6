// Package pushregistry is the browser side push subscription store of one
// origin: it mints endpoints on the worker, generates the subscription key
// material and remembers the single active subscription.
package pushregistry

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/subscription"
)

const (
	component  = "pushregistry"
	authLength = 16
	// PushPath is the worker route prefix that receives push deliveries.
	PushPath = "/push/"
)

// ErrKeyMismatch is returned when subscribing with an application server
// key different from the one of the existing subscription.
var ErrKeyMismatch = errors.New(errors.NewStd("subscription exists with a different application server key")).
	Component(component).
	Category(errors.CategoryValidation).
	Build()

var b64 = base64.RawURLEncoding

// Config configures a Registry.
type Config struct {
	// Scope identifies the origin owning the subscription.
	Scope string
	// PublicURL is the externally reachable worker base URL.
	PublicURL string
	Store     repository.PushSubscriptionRepository
	Logger    logger.Logger
}

// Registry implements subscription.PushManager. Calls are serialized so
// the one subscription per origin is never read-modified-written
// concurrently.
type Registry struct {
	mu        sync.Mutex
	scope     string
	publicURL string
	store     repository.PushSubscriptionRepository
	log       logger.Logger
}

var _ subscription.PushManager = (*Registry)(nil)

// New creates a Registry. A nil Store keeps subscriptions in memory.
func New(cfg Config) (*Registry, error) {
	if cfg.PublicURL == "" {
		return nil, errors.Newf("push registry needs the worker public url").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		scope:     cfg.Scope,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		store:     store,
		log:       log.Module(component),
	}, nil
}

// GetSubscription returns the current subscription or nil.
func (r *Registry) GetSubscription(ctx context.Context) (*subscription.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, err := r.current(ctx)
	if err != nil || sub == nil {
		return nil, err
	}
	return toRecord(sub)
}

func (r *Registry) current(ctx context.Context) (*entities.PushSubscription, error) {
	sub, err := r.store.GetByScope(ctx, r.scope)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryStorage).
			Context("scope", r.scope).
			Build()
	}
	return sub, nil
}

// Subscribe returns the existing subscription, or creates one with fresh
// key material when there is none.
func (r *Registry) Subscribe(ctx context.Context, opts subscription.SubscribeOptions) (*subscription.Record, error) {
	if !opts.UserVisibleOnly {
		return nil, errors.Newf("push subscriptions must be user visible").
			Component(component).
			Category(errors.CategoryNotSupported).
			Build()
	}
	if _, err := ecdh.P256().NewPublicKey(opts.ApplicationServerKey); err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryValidation).
			Context("key_length", len(opts.ApplicationServerKey)).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		have, _ := b64.DecodeString(existing.ApplicationServerKey)
		if subtle.ConstantTimeCompare(have, opts.ApplicationServerKey) != 1 {
			return nil, ErrKeyMismatch
		}
		return toRecord(existing)
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.New(err).Component(component).Category(errors.CategoryGeneric).Build()
	}
	secret := make([]byte, authLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.New(err).Component(component).Category(errors.CategoryGeneric).Build()
	}

	id := uuid.NewString()
	sub := &entities.PushSubscription{
		Scope:                r.scope,
		EndpointID:           id,
		Endpoint:             r.publicURL + PushPath + id,
		P256dh:               b64.EncodeToString(priv.PublicKey().Bytes()),
		Auth:                 b64.EncodeToString(secret),
		PrivateKey:           b64.EncodeToString(priv.Bytes()),
		ApplicationServerKey: b64.EncodeToString(opts.ApplicationServerKey),
	}
	if err := r.store.Save(ctx, sub); err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryStorage).
			Context("scope", r.scope).
			Build()
	}
	r.log.Info("push subscription created",
		logger.String("scope", r.scope),
		logger.String("endpoint_id", id))
	return toRecord(sub)
}

// Unsubscribe removes the subscription, reporting whether one existed.
func (r *Registry) Unsubscribe(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted, err := r.store.DeleteByScope(ctx, r.scope)
	if err != nil {
		return false, errors.New(err).
			Component(component).
			Category(errors.CategoryStorage).
			Context("scope", r.scope).
			Build()
	}
	if deleted {
		r.log.Info("push subscription removed", logger.String("scope", r.scope))
	}
	return deleted, nil
}

func toRecord(sub *entities.PushSubscription) (*subscription.Record, error) {
	p256dh, err := b64.DecodeString(sub.P256dh)
	if err != nil {
		return nil, corrupt(err, sub)
	}
	auth, err := b64.DecodeString(sub.Auth)
	if err != nil {
		return nil, corrupt(err, sub)
	}
	return &subscription.Record{Endpoint: sub.Endpoint, P256dh: p256dh, Auth: auth}, nil
}

func corrupt(err error, sub *entities.PushSubscription) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryStorage).
		Context("endpoint_id", sub.EndpointID).
		Build()
}

// EndpointID extracts the subscription id from a push endpoint URL.
func EndpointID(endpoint string) (string, bool) {
	i := strings.LastIndex(endpoint, PushPath)
	if i < 0 {
		return "", false
	}
	id := endpoint[i+len(PushPath):]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
