// Package broadcast carries messages between the worker and page processes,
// the counterpart of a BroadcastChannel shared by both browser contexts.
package broadcast

import (
	"context"
	"time"
)

// Topics used by storyapp.
const (
	TopicLifecycle    = "lifecycle"
	TopicNotification = "notification"
	TopicSubscription = "subscription"
)

// Message types.
const (
	TypeControllerChange    = "controllerchange"
	TypeNotificationShown   = "notification.shown"
	TypeNotificationClicked = "notification.clicked"
	TypeSubscriptionChanged = "subscription.changed"
)

// Message is the JSON envelope published on a topic.
type Message struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler processes messages. Handlers run on the channel's delivery
// goroutine and must not block for long.
type Handler func(topic string, msg Message)

// Channel is a topic based, best effort message channel.
type Channel interface {
	Publish(ctx context.Context, topic string, msg Message) error
	// Subscribe registers h for topic and returns a function that removes it.
	Subscribe(topic string, h Handler) (func(), error)
	Close() error
}
