package repository

import (
	"context"

	"github.com/storyapp/storyapp/internal/datastore/entities"
)

// CacheRepository persists named cache buckets and their entries.
type CacheRepository interface {
	// Buckets
	EnsureBucket(ctx context.Context, name string) error
	BucketExists(ctx context.Context, name string) (bool, error)
	ListBuckets(ctx context.Context) ([]string, error)
	DeleteBucket(ctx context.Context, name string) (bool, error)

	// Entries
	GetEntry(ctx context.Context, cacheName, keyHash string) (*entities.CacheEntry, error)
	PutEntry(ctx context.Context, entry *entities.CacheEntry) error
	DeleteEntry(ctx context.Context, cacheName, keyHash string) (bool, error)
	ListKeys(ctx context.Context, cacheName string) ([]string, error)
	Stats(ctx context.Context, cacheName string) (CacheStats, error)
}

// CacheStats summarizes one bucket.
type CacheStats struct {
	Entries int64
	Bytes   int64
}
