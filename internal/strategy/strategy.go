// Package strategy implements the runtime caching policies applied to
// intercepted requests: cache-first, network-first and
// stale-while-revalidate.
package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

// DefaultMaxBodySize bounds a single fetched response kept in memory.
const DefaultMaxBodySize = 32 << 20

// ErrBodyTooLarge is returned when a response exceeds Options.MaxBodySize.
// Such responses are neither served nor cached.
var ErrBodyTooLarge = errors.NewStd("response body too large")

// Strategy answers one request from the cache, the network or both.
type Strategy interface {
	Name() string
	CacheName() string
	Handle(ctx context.Context, req *http.Request) (*cachestorage.Entry, error)
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPFetcher fetches with an *http.Client.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher using client, or a client with timeout
// when client is nil.
func NewHTTPFetcher(client *http.Client, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f.Client.Do(req.Clone(ctx))
}

// Runner starts background work that must outlive the request that caused it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// CacheableResponse decides which responses are written to the cache.
// Status 0 stands for an opaque cross-origin response.
type CacheableResponse struct {
	Statuses []int
}

// DefaultCacheable caches opaque and 200 responses.
func DefaultCacheable() CacheableResponse {
	return CacheableResponse{Statuses: []int{0, http.StatusOK}}
}

// IsCacheable reports whether an entry with status may be stored.
func (c CacheableResponse) IsCacheable(status int) bool {
	if len(c.Statuses) == 0 {
		return status == http.StatusOK
	}
	return slices.Contains(c.Statuses, status)
}

// Options are shared by every strategy.
type Options struct {
	CacheName string
	Storage   cachestorage.Storage
	Fetcher   Fetcher
	Cacheable CacheableResponse
	Metrics   *metrics.Metrics
	Logger    logger.Logger

	// MaxBodySize defaults to DefaultMaxBodySize.
	MaxBodySize int64
}

type base struct {
	name string
	opts Options
	log  logger.Logger
}

func newBase(name string, opts Options) base {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Cacheable.Statuses == nil {
		opts.Cacheable = DefaultCacheable()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	return base{
		name: name,
		opts: opts,
		log:  opts.Logger.Module("strategy").With(logger.String("strategy", name), logger.String("cache", opts.CacheName)),
	}
}

func (b *base) Name() string      { return b.name }
func (b *base) CacheName() string { return b.opts.CacheName }

func (b *base) record(outcome string) {
	b.opts.Metrics.RecordCache(b.opts.CacheName, b.name, outcome)
}

func (b *base) lookup(ctx context.Context, key string) (*cachestorage.Entry, bool) {
	c, err := b.opts.Storage.Open(ctx, b.opts.CacheName)
	if err != nil {
		b.log.Warn("cache open failed", logger.Error(err))
		return nil, false
	}
	entry, ok, err := c.Match(ctx, key)
	if err != nil {
		b.log.Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
		return nil, false
	}
	return entry, ok
}

// fetchAndStore performs the network request and writes cacheable responses.
// Non-cacheable responses are still returned to the caller.
func (b *base) fetchAndStore(ctx context.Context, req *http.Request, key string) (*cachestorage.Entry, error) {
	resp, err := b.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, networkError(err, req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.opts.MaxBodySize+1))
	if err != nil {
		return nil, networkError(fmt.Errorf("read body: %w", err), req)
	}
	if int64(len(body)) > b.opts.MaxBodySize {
		return nil, errors.New(ErrBodyTooLarge).
			Component("strategy").
			Category(errors.CategoryBackend).
			Context("url", req.URL.String()).
			Context("limit", b.opts.MaxBodySize).
			Build()
	}
	entry := &cachestorage.Entry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	if !b.opts.Cacheable.IsCacheable(entry.Status) {
		b.log.Debug("response not cacheable", logger.String("key", key), logger.Int("status", entry.Status))
		return entry, nil
	}
	c, err := b.opts.Storage.Open(ctx, b.opts.CacheName)
	if err == nil {
		err = c.Put(ctx, entry)
	}
	if err != nil {
		// serving the fresh response matters more than caching it
		b.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
	return entry, nil
}

func networkError(err error, req *http.Request) error {
	return errors.New(err).
		Component("strategy").
		Category(errors.CategoryNetwork).
		Context("url", req.URL.String()).
		Build()
}

func requestKey(req *http.Request) string {
	return cachestorage.Key(req.Method, req.URL.String())
}
