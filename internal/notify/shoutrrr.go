package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// Sender is the subset of the shoutrrr router used here.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// ShoutrrrDisplayer forwards notifications to OS or chat services through
// shoutrrr service URLs (ntfy, gotify, desktop bridges and so on).
type ShoutrrrDisplayer struct {
	sender Sender
	log    logger.Logger
}

// NewShoutrrrDisplayer validates urls and builds the sender.
func NewShoutrrrDisplayer(urls []string, log logger.Logger) (*ShoutrrrDisplayer, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("no notification service urls configured").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid notification service url: %w", err)).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return NewShoutrrrDisplayerWithSender(sender, log), nil
}

// NewShoutrrrDisplayerWithSender uses an existing sender.
func NewShoutrrrDisplayerWithSender(sender Sender, log logger.Logger) *ShoutrrrDisplayer {
	if log == nil {
		log = logger.NewNop()
	}
	return &ShoutrrrDisplayer{sender: sender, log: log.Module("notify.shoutrrr")}
}

func (d *ShoutrrrDisplayer) Show(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{"title": n.Title}
	if target := n.TargetURL(); strings.HasPrefix(target, "http") {
		params["click"] = target
	}
	if n.Icon != "" && strings.HasPrefix(n.Icon, "http") {
		params["icon"] = n.Icon
	}

	var errs []error
	for _, err := range d.sender.Send(n.Body, &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("notification_id", n.ID).
			Build()
	}
	d.log.Debug("notification forwarded", logger.String("id", n.ID))
	return nil
}
