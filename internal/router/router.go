// Package router handles notification clicks: it closes the notification
// and focuses the window already showing the target URL or opens a new one.
package router

import (
	"context"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// Click actions.
const (
	ActionFocus = "focus"
	ActionOpen  = "open"
	ActionSkip  = "skip"
)

// Windows is the part of the client hub used for clicks.
type Windows interface {
	MatchAll(opts clients.MatchOptions) []clients.Info
	Focus(ctx context.Context, id string) (clients.Info, error)
	OpenWindow(ctx context.Context, url string) (clients.Info, error)
}

// Notifications resolves and closes shown notifications.
type Notifications interface {
	Get(id string) (*notify.Notification, error)
	Close(id string)
}

// Result reports what a click did.
type Result struct {
	Action   string       `json:"action"`
	Target   string       `json:"target"`
	ClientID string       `json:"client_id,omitempty"`
	Client   clients.Info `json:"-"`
}

// Router routes notification clicks.
type Router struct {
	windows       Windows
	notifications Notifications
	channel       broadcast.Channel
	metrics       *metrics.Metrics
	log           logger.Logger
}

// Config wires a Router. Channel and Metrics are optional.
type Config struct {
	Windows       Windows
	Notifications Notifications
	Channel       broadcast.Channel
	Metrics       *metrics.Metrics
	Logger        logger.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Router{
		windows:       cfg.Windows,
		notifications: cfg.Notifications,
		channel:       cfg.Channel,
		metrics:       cfg.Metrics,
		log:           cfg.Logger.Module("router"),
	}
}

// ClickByID resolves a shown notification and handles the click.
func (r *Router) ClickByID(ctx context.Context, id string) (Result, error) {
	n, err := r.notifications.Get(id)
	if err != nil {
		return Result{}, errors.New(err).
			Component("router").
			Category(errors.CategoryNotFound).
			Context("notification_id", id).
			Build()
	}
	return r.Click(ctx, n)
}

// Click closes n and brings its target URL to the foreground. Window URLs
// are compared as exact strings: "/#/stories" and "/#/stories/" differ.
func (r *Router) Click(ctx context.Context, n *notify.Notification) (Result, error) {
	if n.ID != "" {
		r.notifications.Close(n.ID)
	}
	target := n.TargetURL()

	for _, c := range r.windows.MatchAll(clients.MatchOptions{IncludeUncontrolled: true}) {
		if c.URL != target {
			continue
		}
		info, err := r.windows.Focus(ctx, c.ID)
		if err != nil {
			r.metrics.RecordClick(ActionSkip)
			return Result{Action: ActionSkip, Target: target}, r.wrap(err, target)
		}
		r.metrics.RecordClick(ActionFocus)
		r.announce(ctx, n, ActionFocus)
		r.log.Debug("focused existing window", logger.String("target", target), logger.String("client_id", info.ID))
		return Result{Action: ActionFocus, Target: target, ClientID: info.ID, Client: info}, nil
	}

	info, err := r.windows.OpenWindow(ctx, target)
	if err != nil {
		r.metrics.RecordClick(ActionSkip)
		r.log.Warn("could not open window", logger.String("target", target), logger.Error(err))
		return Result{Action: ActionSkip, Target: target}, r.wrap(err, target)
	}
	r.metrics.RecordClick(ActionOpen)
	r.announce(ctx, n, ActionOpen)
	return Result{Action: ActionOpen, Target: target, ClientID: info.ID, Client: info}, nil
}

// Dismiss closes a notification without routing.
func (r *Router) Dismiss(id string) {
	r.notifications.Close(id)
}

func (r *Router) announce(ctx context.Context, n *notify.Notification, action string) {
	if r.channel == nil {
		return
	}
	msg := broadcast.Message{
		Type:    broadcast.TypeNotificationClicked,
		Payload: map[string]any{"id": n.ID, "action": action, "target": n.TargetURL()},
	}
	if err := r.channel.Publish(ctx, broadcast.TopicNotification, msg); err != nil {
		r.log.Debug("click broadcast failed", logger.Error(err))
	}
}

func (r *Router) wrap(err error, target string) error {
	return errors.New(err).
		Component("router").
		Category(errors.CategoryGeneric).
		Context("target", target).
		Build()
}
