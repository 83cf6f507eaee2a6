package worker

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/routing"
)

// Response headers describing how a fetch was answered.
const (
	HeaderHandledBy = "X-Storyapp-Handled-By"
	HeaderStoredAt  = "X-Storyapp-Stored-At"
)

// hop-by-hop and length headers are not replayed from the cache.
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func (s *Server) registerFetchRoutes() {
	s.echo.Any("/fetch", s.Fetch)
}

// Fetch answers an intercepted request: precached assets first, then the
// first matching runtime route, otherwise straight from the network.
// The target is ?url=; the destination comes from ?destination= or the
// Sec-Fetch-Dest header.
func (s *Server) Fetch(c echo.Context) error {
	target := c.QueryParam("url")
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return jsonError(c, http.StatusBadRequest, "url must be an absolute http(s) URL")
	}

	dest := c.QueryParam("destination")
	if dest == "" {
		dest = c.Request().Header.Get("Sec-Fetch-Dest")
	}
	if dest == "empty" {
		dest = ""
	}

	ctx := c.Request().Context()
	var body io.Reader = http.NoBody
	if c.Request().Method != http.MethodGet && c.Request().Method != http.MethodHead {
		body = c.Request().Body
	}
	out, err := http.NewRequestWithContext(ctx, c.Request().Method, u.String(), body)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	copyRequestHeaders(out.Header, c.Request().Header)

	if s.precache != nil && out.Method == http.MethodGet {
		if entry, ok := s.precache.Match(ctx, out); ok {
			c.Response().Header().Set(HeaderHandledBy, "precache")
			return writeEntry(c, entry)
		}
	}

	if s.routes != nil {
		if rule, ok := s.routes.Route(routing.FromHTTP(out, dest)); ok {
			entry, err := rule.Strategy.Handle(ctx, out)
			if err != nil {
				s.log.Debug("strategy failed",
					logger.String("rule", rule.Name),
					logger.String("url", target),
					logger.Error(err))
				return jsonError(c, statusFor(err), "fetch failed")
			}
			c.Response().Header().Set(HeaderHandledBy, rule.Name)
			return writeEntry(c, entry)
		}
	}

	return s.passthrough(c, out)
}

func (s *Server) passthrough(c echo.Context, out *http.Request) error {
	if s.fetcher == nil {
		return jsonError(c, http.StatusBadGateway, "no network fetcher configured")
	}
	resp, err := s.fetcher.Fetch(out.Context(), out)
	if err != nil {
		s.log.Debug("network fetch failed", logger.String("url", out.URL.String()), logger.Error(err))
		return jsonError(c, http.StatusBadGateway, "fetch failed")
	}
	defer resp.Body.Close()

	h := c.Response().Header()
	copyResponseHeaders(h, resp.Header)
	h.Set(HeaderHandledBy, "network")
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(c.Response(), resp.Body)
	return err
}

func writeEntry(c echo.Context, e *cachestorage.Entry) error {
	h := c.Response().Header()
	copyResponseHeaders(h, e.Header)
	if !e.StoredAt.IsZero() {
		h.Set(HeaderStoredAt, e.StoredAt.UTC().Format(http.TimeFormat))
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	status := e.Status
	if status == 0 {
		// opaque responses carry no status
		status = http.StatusOK
	}
	c.Response().WriteHeader(status)
	if c.Request().Method == http.MethodHead {
		return nil
	}
	_, err := c.Response().Write(e.Body)
	return err
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vs := range src {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vs := range src {
		ck := http.CanonicalHeaderKey(k)
		if skipHeaders[ck] || ck == "Cookie" || strings.HasPrefix(ck, "Sec-Fetch-") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryNetwork:
		return http.StatusGatewayTimeout
	case errors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
