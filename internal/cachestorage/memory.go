package cachestorage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStorage keeps caches in process memory. Entries never expire unless
// a TTL is given, matching browser cache semantics.
type MemoryStorage struct {
	mu      sync.Mutex
	ttl     time.Duration
	order   []string
	buckets map[string]*memoryCache
}

// NewMemoryStorage creates an empty storage. ttl <= 0 disables expiry.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{ttl: ttl, buckets: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if s.ttl > 0 {
		expiration = s.ttl
		cleanup = s.ttl
	}
	b := &memoryCache{name: name, items: cache.New(expiration, cleanup)}
	s.buckets[name] = b
	s.order = append(s.order, name)
	return b, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	b.items.Flush()
	delete(s.buckets, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order), nil
}

type memoryCache struct {
	name  string
	items *cache.Cache
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*Entry).Clone(), true, nil
}

func (c *memoryCache) Put(_ context.Context, entry *Entry) error {
	stored := entry.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	c.items.Set(stored.Key, stored, cache.DefaultExpiration)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	if _, ok := c.items.Get(key); !ok {
		return false, nil
	}
	c.items.Delete(key)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	items := c.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
