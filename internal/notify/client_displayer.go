package notify

import (
	"context"

	"github.com/storyapp/storyapp/internal/logger"
)

// Broadcaster delivers a notification to connected page clients and returns
// how many received it.
type Broadcaster interface {
	BroadcastNotification(ctx context.Context, n *Notification) int
}

// ClientDisplayer renders notifications inside connected pages.
type ClientDisplayer struct {
	clients Broadcaster
	log     logger.Logger
}

// NewClientDisplayer creates a displayer over clients.
func NewClientDisplayer(clients Broadcaster, log logger.Logger) *ClientDisplayer {
	if log == nil {
		log = logger.NewNop()
	}
	return &ClientDisplayer{clients: clients, log: log.Module("notify")}
}

func (d *ClientDisplayer) Show(ctx context.Context, n *Notification) error {
	delivered := d.clients.BroadcastNotification(ctx, n)
	d.log.Debug("notification sent to clients",
		logger.String("id", n.ID), logger.Int("clients", delivered))
	return nil
}
