package cachestorage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/gommon/bytes"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// GormStorage persists caches through the datastore repository, so the
// cache survives worker restarts (sqlite or mysql).
type GormStorage struct {
	repo repository.CacheRepository
	log  logger.Logger
}

// NewGormStorage wraps a cache repository.
func NewGormStorage(repo repository.CacheRepository, log logger.Logger) *GormStorage {
	if log == nil {
		log = logger.NewNop()
	}
	return &GormStorage{repo: repo, log: log.Module("cachestorage")}
}

func (s *GormStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := s.repo.EnsureBucket(ctx, name); err != nil {
		return nil, storageError(err, "open", name)
	}
	return &gormCache{name: name, repo: s.repo, log: s.log}, nil
}

func (s *GormStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.repo.BucketExists(ctx, name)
	if err != nil {
		return false, storageError(err, "has", name)
	}
	return ok, nil
}

func (s *GormStorage) Delete(ctx context.Context, name string) (bool, error) {
	stats, err := s.repo.Stats(ctx, name)
	if err != nil {
		return false, storageError(err, "delete", name)
	}
	deleted, err := s.repo.DeleteBucket(ctx, name)
	if err != nil {
		return false, storageError(err, "delete", name)
	}
	if deleted {
		s.log.Info("cache deleted",
			logger.String("cache", name),
			logger.Int64("entries", stats.Entries),
			logger.String("size", bytes.Format(stats.Bytes)))
	}
	return deleted, nil
}

func (s *GormStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.repo.ListBuckets(ctx)
	if err != nil {
		return nil, storageError(err, "names", "")
	}
	return names, nil
}

type gormCache struct {
	name string
	repo repository.CacheRepository
	log  logger.Logger
}

func (c *gormCache) Name() string { return c.name }

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *gormCache) Match(ctx context.Context, key string) (*Entry, bool, error) {
	row, err := c.repo.GetEntry(ctx, c.name, hashKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrCacheEntryNotFound) {
			return nil, false, nil
		}
		return nil, false, storageError(err, "match", c.name)
	}
	var header http.Header
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			// a corrupt header row is treated as a miss so the network refills it
			c.log.Warn("discarding cache entry with unreadable header",
				logger.String("cache", c.name), logger.String("key", key), logger.Error(err))
			return nil, false, nil
		}
	}
	return &Entry{
		Key:      row.RequestKey,
		Status:   row.Status,
		Header:   header,
		Body:     row.Body,
		StoredAt: row.StoredAt,
	}, true, nil
}

func (c *gormCache) Put(ctx context.Context, entry *Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return storageError(fmt.Errorf("failed to encode header: %w", err), "put", c.name)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	row := &entities.CacheEntry{
		CacheName:  c.name,
		KeyHash:    hashKey(entry.Key),
		RequestKey: entry.Key,
		Status:     entry.Status,
		Header:     string(header),
		Body:       entry.Body,
		StoredAt:   storedAt,
	}
	if err := c.repo.PutEntry(ctx, row); err != nil {
		return storageError(err, "put", c.name)
	}
	c.log.Debug("cache entry stored",
		logger.String("cache", c.name),
		logger.String("key", entry.Key),
		logger.String("size", bytes.Format(int64(len(entry.Body)))))
	return nil
}

func (c *gormCache) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := c.repo.DeleteEntry(ctx, c.name, hashKey(key))
	if err != nil {
		return false, storageError(err, "delete_entry", c.name)
	}
	return deleted, nil
}

func (c *gormCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.repo.ListKeys(ctx, c.name)
	if err != nil {
		return nil, storageError(err, "keys", c.name)
	}
	return keys, nil
}

func storageError(err error, op, cacheName string) error {
	return errors.New(err).
		Component("cachestorage").
		Category(errors.CategoryStorage).
		Context("operation", op).
		Context("cache", cacheName).
		Build()
}
