// Package notify shows notifications and remembers the ones currently shown,
// the counterpart of the platform Notification API.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storyapp/storyapp/internal/errors"
)

// Notification is a shown or to be shown notification.
type Notification struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Image   string         `json:"image,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Data    map[string]any `json:"data"`
	Extra   map[string]any `json:"extra,omitempty"`
	ShownAt time.Time      `json:"shown_at"`
}

// TargetURL returns data.url when it is a non-empty string, else "/".
func (n *Notification) TargetURL() string {
	if n == nil || n.Data == nil {
		return "/"
	}
	if u, ok := n.Data["url"].(string); ok && u != "" {
		return u
	}
	return "/"
}

// Displayer puts a notification in front of the user.
type Displayer interface {
	Show(ctx context.Context, n *Notification) error
}

// DisplayerFunc adapts a function to Displayer.
type DisplayerFunc func(ctx context.Context, n *Notification) error

func (f DisplayerFunc) Show(ctx context.Context, n *Notification) error { return f(ctx, n) }

// Multi shows through every displayer and joins their errors.
type Multi []Displayer

func (m Multi) Show(ctx context.Context, n *Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Prepare assigns an id and display time when missing.
func Prepare(n *Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ShownAt.IsZero() {
		n.ShownAt = time.Now()
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
}
