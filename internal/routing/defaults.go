package routing

import (
	"time"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/strategy"
)

// DefaultOptions carry the dependencies shared by the built-in rules.
type DefaultOptions struct {
	Strategy       strategy.Options // CacheName is set per rule
	NetworkTimeout time.Duration
	Runner         strategy.Runner
}

// DefaultRules returns the application's runtime routes in their fixed order.
func DefaultRules(baseURL string, opts DefaultOptions) []Rule {
	with := func(name string) strategy.Options {
		o := opts.Strategy
		o.CacheName = name
		return o
	}
	return []Rule{
		{
			Name:     "google-fonts",
			Match:    OriginIs("https://fonts.googleapis.com", "https://fonts.gstatic.com"),
			Strategy: strategy.NewCacheFirst(with(cachestorage.CacheGoogleFonts)),
		},
		{
			Name:     "fontawesome",
			Match:    Any(OriginIs("https://cdnjs.cloudflare.com"), OriginContains("fontawesome")),
			Strategy: strategy.NewCacheFirst(with(cachestorage.CacheFontAwesome)),
		},
		{
			Name:     "avatars",
			Match:    OriginIs("https://ui-avatars.com"),
			Strategy: strategy.NewCacheFirst(with(cachestorage.CacheAvatars)),
		},
		{
			Name:     "story-api",
			Match:    BackendOrigin(baseURL, false),
			Strategy: strategy.NewNetworkFirst(with(cachestorage.CacheStoryAPI), opts.NetworkTimeout),
		},
		{
			Name:     "story-api-images",
			Match:    BackendOrigin(baseURL, true),
			Strategy: strategy.NewStaleWhileRevalidate(with(cachestorage.CacheStoryAPIImages), opts.Runner),
		},
		{
			Name:     "maptiler",
			Match:    OriginContains("maptiler"),
			Strategy: strategy.NewCacheFirst(with(cachestorage.CacheMapTiler)),
		},
	}
}
