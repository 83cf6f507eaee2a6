// Package subscription is the page-side push subscription manager. It asks
// for notification permission, creates or reuses the browser push
// subscription and registers it with the Story API backend.
package subscription

import (
	"context"
	"encoding/base64"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
	"github.com/storyapp/storyapp/internal/storyapi"
)

const component = "subscription"

// Sentinel errors raised to the page.
var (
	ErrNotSupported     = sentinel("push notifications not supported", errors.CategoryNotSupported)
	ErrNotAuthenticated = sentinel("user not logged in", errors.CategoryAuth)
	ErrPermissionDenied = sentinel("notification permission denied", errors.CategoryPermission)
)

func sentinel(msg string, c errors.Category) error {
	return errors.New(errors.NewStd(msg)).Component(component).Category(c).Build()
}

// BackendError carries the message of a failure reported by the backend.
type BackendError struct {
	Message string
	Err     error
}

func (e *BackendError) Error() string { return e.Message }
func (e *BackendError) Unwrap() error { return e.Err }

// TokenStore yields the auth token of the current user.
type TokenStore interface {
	Token(ctx context.Context) (string, bool)
}

// Record is a browser push subscription.
type Record struct {
	Endpoint string
	P256dh   []byte
	Auth     []byte
}

// Keys returns the subscription keys in standard base64.
func (r *Record) Keys() storyapi.SubscriptionKeys {
	return storyapi.SubscriptionKeys{
		P256dh: base64.StdEncoding.EncodeToString(r.P256dh),
		Auth:   base64.StdEncoding.EncodeToString(r.Auth),
	}
}

// SubscribeOptions mirrors PushSubscriptionOptionsInit.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// PushManager is the browser push registration of this origin.
// GetSubscription returns nil, nil when there is no subscription.
type PushManager interface {
	GetSubscription(ctx context.Context) (*Record, error)
	Subscribe(ctx context.Context, opts SubscribeOptions) (*Record, error)
	Unsubscribe(ctx context.Context) (bool, error)
}

// Permission is a notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionRequester prompts the user for notification permission.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// PermissionFunc adapts a function to PermissionRequester.
type PermissionFunc func(ctx context.Context) (Permission, error)

func (f PermissionFunc) RequestPermission(ctx context.Context) (Permission, error) { return f(ctx) }

// AlwaysGrant grants every request, for headless pages.
var AlwaysGrant = PermissionFunc(func(context.Context) (Permission, error) {
	return PermissionGranted, nil
})

// Capabilities are the features a page needs for push.
type Capabilities struct {
	ServiceWorker bool
	PushManager   bool
}

// Backend registers subscriptions with the Story API.
type Backend interface {
	SubscribeNotifications(ctx context.Context, token, endpoint string, keys storyapi.SubscriptionKeys) error
	UnsubscribeNotifications(ctx context.Context, token, endpoint string) error
}

// Result is the outcome of a subscribe or unsubscribe call.
type Result struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Config wires a Manager.
type Config struct {
	Tokens         TokenStore
	Push           PushManager
	Permissions    PermissionRequester
	Capabilities   Capabilities
	Backend        Backend
	VAPIDPublicKey string
	Language       string
	Channel        broadcast.Channel
	Metrics        *metrics.Metrics
	Logger         logger.Logger
}

// Manager subscribes the page to push notifications.
type Manager struct {
	tokens      TokenStore
	push        PushManager
	permissions PermissionRequester
	caps        Capabilities
	backend     Backend
	vapidKey    string
	labels      *labels
	channel     broadcast.Channel
	metrics     *metrics.Metrics
	log         logger.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	perms := cfg.Permissions
	if perms == nil {
		perms = AlwaysGrant
	}
	return &Manager{
		tokens:      cfg.Tokens,
		push:        cfg.Push,
		permissions: perms,
		caps:        cfg.Capabilities,
		backend:     cfg.Backend,
		vapidKey:    cfg.VAPIDPublicKey,
		labels:      newLabels(cfg.Language),
		channel:     cfg.Channel,
		metrics:     cfg.Metrics,
		log:         log.Module(component),
	}
}

// IsSupported reports whether both push capabilities are present.
func (m *Manager) IsSupported() bool {
	return m.caps.ServiceWorker && m.caps.PushManager && m.push != nil
}

// IsSubscribed reports whether a local push subscription exists.
func (m *Manager) IsSubscribed(ctx context.Context) (bool, error) {
	if !m.IsSupported() {
		return false, nil
	}
	rec, err := m.push.GetSubscription(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (m *Manager) token(ctx context.Context) (string, error) {
	if m.tokens == nil {
		return "", ErrNotAuthenticated
	}
	token, ok := m.tokens.Token(ctx)
	if !ok || token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// Subscribe registers a push subscription with the backend, creating it
// first when the page has none.
func (m *Manager) Subscribe(ctx context.Context) (rec *Record, err error) {
	defer func() { m.metrics.RecordSubscription("subscribe", err) }()

	if !m.IsSupported() {
		return nil, ErrNotSupported
	}
	token, err := m.token(ctx)
	if err != nil {
		return nil, err
	}

	perm, err := m.permissions.RequestPermission(ctx)
	if err != nil {
		m.log.Warn("permission request failed", logger.Error(err))
		return nil, ErrPermissionDenied
	}
	if perm != PermissionGranted {
		return nil, ErrPermissionDenied
	}

	rec, err = m.push.GetSubscription(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		key, err := DecodeApplicationServerKey(m.vapidKey)
		if err != nil {
			return nil, err
		}
		rec, err = m.push.Subscribe(ctx, SubscribeOptions{
			UserVisibleOnly:      true,
			ApplicationServerKey: key,
		})
		if err != nil {
			return nil, err
		}
		m.log.Info("created push subscription", logger.String("endpoint", rec.Endpoint))
	}

	if err := m.backend.SubscribeNotifications(ctx, token, rec.Endpoint, rec.Keys()); err != nil {
		return nil, backendError(err)
	}

	m.publish(ctx, true, rec.Endpoint)
	return rec, nil
}

// Unsubscribe removes the subscription from the backend and from the page.
// The local subscription is always removed, even when the backend call
// fails; that failure is returned afterwards.
func (m *Manager) Unsubscribe(ctx context.Context) (res *Result, err error) {
	defer func() { m.metrics.RecordSubscription("unsubscribe", err) }()

	if !m.IsSupported() {
		return nil, ErrNotSupported
	}
	token, err := m.token(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := m.push.GetSubscription(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &Result{Error: false, Message: "Not subscribed"}, nil
	}

	remoteErr := m.backend.UnsubscribeNotifications(ctx, token, rec.Endpoint)

	if _, err := m.push.Unsubscribe(ctx); err != nil {
		m.log.Error("local unsubscribe failed", logger.Error(err))
		return nil, errors.Join(err, backendError(remoteErr))
	}
	m.publish(ctx, false, rec.Endpoint)

	if remoteErr != nil {
		m.log.Warn("backend unsubscribe failed after local unsubscribe",
			logger.String("endpoint", rec.Endpoint),
			logger.Error(remoteErr))
		return nil, backendError(remoteErr)
	}
	return &Result{Error: false, Message: "Unsubscribed"}, nil
}

// Toggle subscribes when unsubscribed and the other way round, returning
// the message to show the user.
func (m *Manager) Toggle(ctx context.Context) (string, error) {
	subscribed, err := m.IsSubscribed(ctx)
	if err != nil {
		return "", err
	}
	if subscribed {
		if _, err := m.Unsubscribe(ctx); err != nil {
			return "", err
		}
		return m.labels.toastDisabled(), nil
	}
	if _, err := m.Subscribe(ctx); err != nil {
		return "", err
	}
	return m.labels.toastEnabled(), nil
}

// Announce republishes the current subscription, so a worker that started
// after the page learns about it.
func (m *Manager) Announce(ctx context.Context) error {
	if !m.IsSupported() {
		return nil
	}
	rec, err := m.push.GetSubscription(ctx)
	if err != nil {
		return err
	}
	if rec != nil {
		m.publish(ctx, true, rec.Endpoint)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, subscribed bool, endpoint string) {
	if m.channel == nil {
		return
	}
	err := m.channel.Publish(ctx, broadcast.TopicSubscription, broadcast.Message{
		Type:    broadcast.TypeSubscriptionChanged,
		Payload: map[string]any{"subscribed": subscribed, "endpoint": endpoint},
	})
	if err != nil {
		m.log.Warn("failed to publish subscription change", logger.Error(err))
	}
}

// backendError turns a backend failure into a *BackendError. Transport
// failures keep their network category underneath.
func backendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *storyapi.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Message: apiErr.Message, Err: err}
	}
	if errors.HasCategory(err, errors.CategoryNetwork) {
		return err
	}
	return &BackendError{Message: err.Error(), Err: err}
}
