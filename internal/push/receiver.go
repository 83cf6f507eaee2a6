package push

import (
	"context"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// Receiver handles push deliveries.
type Receiver struct {
	defaults Defaults
	display  notify.Displayer
	channel  broadcast.Channel
	metrics  *metrics.Metrics
	log      logger.Logger
}

// ReceiverConfig wires a Receiver. Channel and Metrics are optional.
type ReceiverConfig struct {
	Defaults  Defaults
	Displayer notify.Displayer
	Channel   broadcast.Channel
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// NewReceiver creates a receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Receiver{
		defaults: cfg.Defaults,
		display:  cfg.Displayer,
		channel:  cfg.Channel,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.Module("push"),
	}
}

// Receive decodes raw and shows the resulting notification. Display
// failures are logged, never returned: nobody is waiting for the answer.
func (r *Receiver) Receive(ctx context.Context, raw []byte) *notify.Notification {
	n, format := r.defaults.Parse(raw)
	notify.Prepare(n)
	r.metrics.RecordPush(string(format))
	if format == FormatDefault {
		r.log.Warn("undecodable push payload, showing default notification", logger.Int("bytes", len(raw)))
	}

	if err := r.display.Show(ctx, n); err != nil {
		r.log.Error("failed to display notification",
			logger.String("id", n.ID), logger.Error(err))
	}

	if r.channel != nil {
		msg := broadcast.Message{
			Type:    broadcast.TypeNotificationShown,
			Payload: map[string]any{"id": n.ID, "title": n.Title},
		}
		if err := r.channel.Publish(ctx, broadcast.TopicNotification, msg); err != nil {
			r.log.Debug("notification broadcast failed", logger.Error(err))
		}
	}
	r.log.Info("notification shown",
		logger.String("id", n.ID), logger.String("format", string(format)))
	return n
}
