package strategy

import (
	"context"
	"net/http"
	"time"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// NetworkFirst prefers fresh responses and falls back to the cache when the
// network fails or exceeds Timeout.
type NetworkFirst struct {
	base
	timeout time.Duration
}

// NewNetworkFirst creates a network-first strategy. A zero timeout waits for
// the network as long as the request context allows.
func NewNetworkFirst(opts Options, timeout time.Duration) *NetworkFirst {
	return &NetworkFirst{base: newBase("NetworkFirst", opts), timeout: timeout}
}

func (s *NetworkFirst) Handle(ctx context.Context, req *http.Request) (*cachestorage.Entry, error) {
	key := requestKey(req)

	netCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		netCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	entry, netErr := s.fetchAndStore(netCtx, req, key)
	if netErr == nil {
		s.record(metrics.OutcomeNetwork)
		return entry, nil
	}

	if cached, ok := s.lookup(ctx, key); ok {
		s.log.Debug("network failed, serving cached response", logger.String("key", key), logger.Error(netErr))
		s.record(metrics.OutcomeFallback)
		return cached, nil
	}
	s.record(metrics.OutcomeError)
	return nil, netErr
}
