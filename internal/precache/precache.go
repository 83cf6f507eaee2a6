// Package precache installs the build-time asset manifest into its own cache
// before the worker activates, and serves those assets afterwards.
package precache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/strategy"
)

// revisionParam is appended to entries that carry a revision.
const revisionParam = "__WB_REVISION__"

const installConcurrency = 8

// ManifestEntry is one asset to precache.
type ManifestEntry struct {
	URL      string
	Revision string
}

// Precacher installs and serves a manifest.
type Precacher struct {
	base     *url.URL
	manifest []ManifestEntry
	storage  cachestorage.Storage
	fetcher  strategy.Fetcher
	log      logger.Logger

	// url without revision -> cache key
	keys map[string]string
}

// New resolves manifest URLs against baseURL.
func New(baseURL string, manifest []ManifestEntry, storage cachestorage.Storage, fetcher strategy.Fetcher, log logger.Logger) (*Precacher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid precache base url: %w", err)).
			Component("precache").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := &Precacher{
		base:     base,
		manifest: manifest,
		storage:  storage,
		fetcher:  fetcher,
		log:      log.Module("precache"),
		keys:     make(map[string]string, len(manifest)),
	}
	for _, e := range manifest {
		ref, err := url.Parse(e.URL)
		if err != nil {
			return nil, errors.New(fmt.Errorf("invalid precache url %q: %w", e.URL, err)).
				Component("precache").
				Category(errors.CategoryConfiguration).
				Build()
		}
		abs := base.ResolveReference(ref)
		p.keys[abs.String()] = cacheKey(abs, e.Revision)
	}
	return p, nil
}

func cacheKey(u *url.URL, revision string) string {
	if revision == "" {
		return cachestorage.Key(http.MethodGet, u.String())
	}
	withRev := *u
	q := withRev.Query()
	q.Set(revisionParam, revision)
	withRev.RawQuery = q.Encode()
	return cachestorage.Key(http.MethodGet, withRev.String())
}

// Install fetches every entry not already cached. Any failure fails the
// whole installation.
func (p *Precacher) Install(ctx context.Context) error {
	c, err := p.storage.Open(ctx, cachestorage.CachePrecache)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for assetURL, key := range p.keys {
		g.Go(func() error {
			if _, ok, err := c.Match(gctx, key); err == nil && ok {
				return nil
			}
			return p.fetchInto(gctx, c, assetURL, key)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.New(err).
			Component("precache").
			Category(errors.CategoryNetwork).
			Context("entries", len(p.keys)).
			Build()
	}
	p.log.Info("precache installed", logger.Int("entries", len(p.keys)))
	return nil
}

func (p *Precacher) fetchInto(ctx context.Context, c cachestorage.Cache, assetURL, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", assetURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", assetURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", assetURL, err)
	}
	return c.Put(ctx, &cachestorage.Entry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	})
}

// Match returns the precached response for a GET of a manifest URL.
func (p *Precacher) Match(ctx context.Context, req *http.Request) (*cachestorage.Entry, bool) {
	if req.Method != http.MethodGet {
		return nil, false
	}
	key, ok := p.keys[p.base.ResolveReference(req.URL).String()]
	if !ok {
		return nil, false
	}
	c, err := p.storage.Open(ctx, cachestorage.CachePrecache)
	if err != nil {
		return nil, false
	}
	entry, ok, err := c.Match(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	return entry, true
}

// Cleanup removes entries left by previous manifests.
func (p *Precacher) Cleanup(ctx context.Context) (int, error) {
	c, err := p.storage.Open(ctx, cachestorage.CachePrecache)
	if err != nil {
		return 0, err
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	current := make(map[string]struct{}, len(p.keys))
	for _, k := range p.keys {
		current[k] = struct{}{}
	}
	removed := 0
	for _, k := range keys {
		if _, ok := current[k]; ok {
			continue
		}
		if _, err := c.Delete(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		p.log.Info("removed outdated precache entries", logger.Int("removed", removed))
	}
	return removed, nil
}

// Len returns the number of manifest entries.
func (p *Precacher) Len() int { return len(p.keys) }
