package worker

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/storyapp/storyapp/internal/logger"
)

func (s *Server) registerPushRoutes(limit float64) {
	if limit <= 0 {
		limit = defaultPushRate
	}
	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(limit),
				Burst:     int(limit) * 2,
				ExpiresIn: pushRateWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return jsonError(ctx, http.StatusForbidden, "rate limiter error")
		},
		DenyHandler: func(ctx echo.Context, _ string, _ error) error {
			return jsonError(ctx, http.StatusTooManyRequests, "too many push messages")
		},
	}

	s.echo.POST("/push/:subscriptionID", s.Push,
		middleware.BodyLimit(maxPushPayload),
		middleware.RateLimiterWithConfig(rateLimiterConfig))
}

// Push accepts a push message for a subscription and schedules the
// notification. It answers 201 once the push event is tracked; display
// happens in the background and never fails the delivery.
func (s *Server) Push(c echo.Context) error {
	id := c.Param("subscriptionID")
	if s.subscriptions == nil || !s.subscriptions.Lookup(c.Request().Context(), id) {
		return jsonError(c, http.StatusNotFound, "push subscription not found")
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "unreadable push body")
	}

	started := s.tracker.Go("push", func(ctx context.Context) error {
		s.receiver.Receive(ctx, raw)
		return nil
	})
	if !started {
		return jsonError(c, http.StatusServiceUnavailable, "worker is shutting down")
	}

	s.log.Debug("push accepted", logger.String("subscription_id", id), logger.Int("bytes", len(raw)))
	return c.NoContent(http.StatusCreated)
}
