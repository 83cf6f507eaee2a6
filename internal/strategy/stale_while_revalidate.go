package strategy

import (
	"context"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// StaleWhileRevalidate answers from the cache immediately and refreshes the
// entry in the background. Concurrent refreshes of one key are collapsed.
type StaleWhileRevalidate struct {
	base
	runner Runner
	group  singleflight.Group
}

// NewStaleWhileRevalidate creates the strategy. Background refreshes run on
// runner so shutdown can wait for them; a nil runner uses bare goroutines.
func NewStaleWhileRevalidate(opts Options, runner Runner) *StaleWhileRevalidate {
	return &StaleWhileRevalidate{base: newBase("StaleWhileRevalidate", opts), runner: runner}
}

func (s *StaleWhileRevalidate) Handle(ctx context.Context, req *http.Request) (*cachestorage.Entry, error) {
	key := requestKey(req)

	if cached, ok := s.lookup(ctx, key); ok {
		s.record(metrics.OutcomeHit)
		s.revalidate(req, key)
		return cached, nil
	}

	// The fetch is shared by every waiter on key, so it must not end when
	// the caller that started it goes away.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetchAndStore(shared, req, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			s.record(metrics.OutcomeError)
			return nil, res.Err
		}
		s.record(metrics.OutcomeMiss)
		return res.Val.(*cachestorage.Entry).Clone(), nil
	case <-ctx.Done():
		s.record(metrics.OutcomeError)
		return nil, ctx.Err()
	}
}

func (s *StaleWhileRevalidate) revalidate(req *http.Request, key string) {
	work := func(ctx context.Context) error {
		_, err, shared := s.group.Do(key, func() (any, error) {
			return s.fetchAndStore(ctx, req, key)
		})
		if err != nil {
			s.log.Debug("revalidation failed", logger.String("key", key), logger.Error(err))
			return nil
		}
		if !shared {
			s.record(metrics.OutcomeRevalidated)
		}
		return nil
	}

	if s.runner != nil {
		s.runner.Go("revalidate "+key, work)
		return
	}
	go func() { _ = work(context.Background()) }()
}
