package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/errors"
)

type pushSubscriptionRepository struct {
	db *gorm.DB
}

// NewPushSubscriptionRepository creates a new PushSubscriptionRepository.
func NewPushSubscriptionRepository(db *gorm.DB) PushSubscriptionRepository {
	return &pushSubscriptionRepository{db: db}
}

func (r *pushSubscriptionRepository) first(ctx context.Context, column, value string) (*entities.PushSubscription, error) {
	var sub entities.PushSubscription
	if err := r.db.WithContext(ctx).Where(column+" = ?", value).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get push subscription: %w", err)
	}
	return &sub, nil
}

// GetByScope returns the subscription of an origin or ErrSubscriptionNotFound.
func (r *pushSubscriptionRepository) GetByScope(ctx context.Context, scope string) (*entities.PushSubscription, error) {
	return r.first(ctx, "scope", scope)
}

// GetByEndpointID resolves a push endpoint id to its subscription.
func (r *pushSubscriptionRepository) GetByEndpointID(ctx context.Context, endpointID string) (*entities.PushSubscription, error) {
	return r.first(ctx, "endpoint_id", endpointID)
}

// Save stores sub, replacing any subscription held for the same scope.
func (r *pushSubscriptionRepository) Save(ctx context.Context, sub *entities.PushSubscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"endpoint_id", "endpoint", "p256dh", "auth", "private_key", "application_server_key"}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

// DeleteByScope removes the subscription of an origin.
func (r *pushSubscriptionRepository) DeleteByScope(ctx context.Context, scope string) (bool, error) {
	result := r.db.WithContext(ctx).Where("scope = ?", scope).Delete(&entities.PushSubscription{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete push subscription: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
