package worker

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/storyapp/storyapp/internal/lifecycle"
	"github.com/storyapp/storyapp/internal/logger"
)

// StateResponse is the body of GET /sw/state.
type StateResponse struct {
	lifecycle.Snapshot
	PendingEvents int64 `json:"pending_events"`
	Clients       int   `json:"clients"`
}

// CacheInfo describes one cache partition.
type CacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func (s *Server) registerLifecycleRoutes() {
	s.echo.GET("/sw/state", s.State)
	s.echo.GET("/sw/caches", s.Caches)
}

// State reports the lifecycle state and outstanding event work.
func (s *Server) State(c echo.Context) error {
	var resp StateResponse
	if s.lifecycle != nil {
		resp.Snapshot = s.lifecycle.Snapshot()
	}
	if s.tracker != nil {
		resp.PendingEvents = s.tracker.Pending()
	}
	if s.hub != nil {
		resp.Clients = s.hub.Len()
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSON(http.StatusOK, resp)
}

// Caches lists the cache partitions and their entry counts.
func (s *Server) Caches(c echo.Context) error {
	if s.storage == nil {
		return c.JSON(http.StatusOK, []CacheInfo{})
	}
	ctx := c.Request().Context()
	names, err := s.storage.Names(ctx)
	if err != nil {
		s.log.Error("listing caches failed", logger.Error(err))
		return jsonError(c, http.StatusInternalServerError, "cache storage unavailable")
	}
	out := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		cache, err := s.storage.Open(ctx, name)
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, "cache storage unavailable")
		}
		keys, err := cache.Keys(ctx)
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, "cache storage unavailable")
		}
		out = append(out, CacheInfo{Name: name, Entries: len(keys)})
	}
	return c.JSON(http.StatusOK, out)
}
