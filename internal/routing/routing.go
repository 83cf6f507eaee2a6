// Package routing selects the caching strategy for an intercepted request.
// Rules are evaluated in declaration order and the first match wins.
package routing

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/storyapp/storyapp/internal/strategy"
)

// Fetch request destinations used by the rules.
const (
	DestinationImage    = "image"
	DestinationFont     = "font"
	DestinationStyle    = "style"
	DestinationScript   = "script"
	DestinationDocument = "document"
)

// Request describes an intercepted fetch.
type Request struct {
	Method      string
	URL         *url.URL
	Destination string
}

// FromHTTP builds a Request from an outgoing http.Request and the fetch
// destination reported by the page.
func FromHTTP(r *http.Request, destination string) *Request {
	return &Request{Method: r.Method, URL: r.URL, Destination: strings.ToLower(destination)}
}

// Predicate reports whether a rule applies. Predicates must be pure.
type Predicate func(req *Request) bool

// Rule maps a predicate to a strategy.
type Rule struct {
	Name     string
	Match    Predicate
	Strategy strategy.Strategy
}

// Router holds an ordered, immutable rule list.
type Router struct {
	rules []Rule
}

// NewRouter copies rules so later changes by the caller have no effect.
func NewRouter(rules ...Rule) *Router {
	return &Router{rules: slices.Clone(rules)}
}

// Route returns the first rule matching req. Only GET requests are routed.
func (r *Router) Route(req *Request) (*Rule, bool) {
	if req == nil || req.URL == nil {
		return nil, false
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, false
	}
	for i := range r.rules {
		if r.rules[i].Match(req) {
			return &r.rules[i], true
		}
	}
	return nil, false
}

// Rules returns a copy of the rule list.
func (r *Router) Rules() []Rule {
	return slices.Clone(r.rules)
}

// Origin serializes the scheme, host and non-default port of u, the way
// browsers compare origins.
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return scheme + "://" + host + ":" + port
	}
	return scheme + "://" + host
}

// OriginIs matches requests whose origin equals one of origins.
func OriginIs(origins ...string) Predicate {
	return func(req *Request) bool {
		return slices.Contains(origins, Origin(req.URL))
	}
}

// OriginContains matches requests whose origin contains substr.
func OriginContains(substr string) Predicate {
	return func(req *Request) bool {
		return strings.Contains(Origin(req.URL), substr)
	}
}

// Any matches when at least one predicate does.
func Any(preds ...Predicate) Predicate {
	return func(req *Request) bool {
		for _, p := range preds {
			if p(req) {
				return true
			}
		}
		return false
	}
}

// BackendOrigin matches requests to the backend's origin, split by whether
// the destination is an image so the API and API image rules never overlap.
// The base URL is parsed on every call; a malformed value never matches.
func BackendOrigin(baseURL string, wantImage bool) Predicate {
	return func(req *Request) bool {
		base, err := url.Parse(baseURL)
		if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
			return false
		}
		if Origin(base) != Origin(req.URL) {
			return false
		}
		return (req.Destination == DestinationImage) == wantImage
	}
}
