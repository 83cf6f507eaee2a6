package repository

import (
	"context"

	"github.com/storyapp/storyapp/internal/datastore/entities"
)

// PushSubscriptionRepository persists the browser-side push subscription.
type PushSubscriptionRepository interface {
	GetByScope(ctx context.Context, scope string) (*entities.PushSubscription, error)
	GetByEndpointID(ctx context.Context, endpointID string) (*entities.PushSubscription, error)
	Save(ctx context.Context, sub *entities.PushSubscription) error
	DeleteByScope(ctx context.Context, scope string) (bool, error)
}
