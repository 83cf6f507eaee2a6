package strategy

import (
	"context"
	"net/http"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// CacheFirst serves from the cache and only goes to the network on a miss.
type CacheFirst struct {
	base
}

// NewCacheFirst creates a cache-first strategy.
func NewCacheFirst(opts Options) *CacheFirst {
	return &CacheFirst{base: newBase("CacheFirst", opts)}
}

func (s *CacheFirst) Handle(ctx context.Context, req *http.Request) (*cachestorage.Entry, error) {
	key := requestKey(req)
	if entry, ok := s.lookup(ctx, key); ok {
		s.record(metrics.OutcomeHit)
		return entry, nil
	}
	entry, err := s.fetchAndStore(ctx, req, key)
	if err != nil {
		s.record(metrics.OutcomeError)
		return nil, err
	}
	s.record(metrics.OutcomeMiss)
	return entry, nil
}
