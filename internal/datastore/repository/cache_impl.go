package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/errors"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// EnsureBucket creates the named bucket if it does not exist yet.
func (r *cacheRepository) EnsureBucket(ctx context.Context, name string) error {
	bucket := entities.CacheBucket{Name: name}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&bucket).Error
	if err != nil {
		return fmt.Errorf("failed to create cache bucket %q: %w", name, err)
	}
	return nil
}

// BucketExists reports whether the named bucket exists.
func (r *cacheRepository) BucketExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CacheBucket{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up cache bucket %q: %w", name, err)
	}
	return count > 0, nil
}

// ListBuckets returns bucket names in creation order.
func (r *cacheRepository) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&entities.CacheBucket{}).Order("id ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}
	return names, nil
}

// DeleteBucket removes a bucket and all of its entries.
func (r *cacheRepository) DeleteBucket(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cache_name = ?", name).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of %q: %w", name, err)
		}
		result := tx.Where("name = ?", name).Delete(&entities.CacheBucket{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete cache bucket %q: %w", name, result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// GetEntry returns the entry for keyHash or ErrCacheEntryNotFound.
func (r *cacheRepository) GetEntry(ctx context.Context, cacheName, keyHash string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	err := r.db.WithContext(ctx).
		Where("cache_name = ? AND key_hash = ?", cacheName, keyHash).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// PutEntry inserts or replaces an entry (upsert on cache name and key hash).
func (r *cacheRepository) PutEntry(ctx context.Context, entry *entities.CacheEntry) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_name"}, {Name: "key_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"request_key", "status", "header", "body", "stored_at", "updated_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// DeleteEntry removes one entry and reports whether it existed.
func (r *cacheRepository) DeleteEntry(ctx context.Context, cacheName, keyHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("cache_name = ? AND key_hash = ?", cacheName, keyHash).
		Delete(&entities.CacheEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListKeys returns the request keys stored in a bucket.
func (r *cacheRepository) ListKeys(ctx context.Context, cacheName string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("cache_name = ?", cacheName).
		Order("id ASC").
		Pluck("request_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// Stats counts entries and stored body bytes in a bucket.
func (r *cacheRepository) Stats(ctx context.Context, cacheName string) (CacheStats, error) {
	var stats CacheStats
	err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(LENGTH(body)), 0) AS bytes").
		Where("cache_name = ?", cacheName).
		Scan(&stats).Error
	if err != nil {
		return CacheStats{}, fmt.Errorf("failed to compute cache stats: %w", err)
	}
	return stats, nil
}
