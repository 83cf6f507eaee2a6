// Package cachestorage provides named response caches, the server-side
// counterpart of the browser Cache Storage API.
package cachestorage

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Well known cache names. They are persisted state and must not change
// between releases or previously filled caches become orphaned.
const (
	CacheGoogleFonts    = "google-fonts"
	CacheFontAwesome    = "fontawesome"
	CacheAvatars        = "avatars-api"
	CacheStoryAPI       = "story-api"
	CacheStoryAPIImages = "story-api-images"
	CacheMapTiler       = "maptiler-api"
	CachePrecache       = "precache"
)

// Entry is a stored response.
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone returns a deep copy so callers never share buffers with the store.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// Key builds the canonical request key: upper-cased method and the full URL.
func Key(method, rawURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + rawURL
}

// Cache is one named partition.
type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage manages named caches.
type Storage interface {
	// Open returns the named cache, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
}
