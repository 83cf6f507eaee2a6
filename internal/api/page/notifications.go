package page

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/subscription"
)

func (s *Server) registerNotificationRoutes() {
	g := s.echo.Group("/notifications")
	g.POST("/toggle", s.ToggleSubscription)
	g.GET("/button", s.SubscriptionButton)
	g.GET("", s.ShownNotifications)
	g.POST("/:id/click", s.ClickNotification)
	g.POST("/:id/close", s.CloseNotification)
	s.echo.GET("/windows", s.ListWindows)
}

// ToggleSubscription subscribes or unsubscribes and returns the toast text.
func (s *Server) ToggleSubscription(c echo.Context) error {
	if s.subscriptions == nil {
		return jsonError(c, http.StatusNotImplemented, "push notifications not supported")
	}
	ctx := c.Request().Context()
	toast, err := s.subscriptions.Toggle(ctx)
	if err != nil {
		return s.subscriptionError(c, err)
	}
	var b subscription.Button
	s.subscriptions.UpdateButtonState(ctx, &b)
	return c.JSON(http.StatusOK, map[string]any{
		"error":   false,
		"message": toast,
		"button":  b,
	})
}

// SubscriptionButton returns the navbar toggle state.
func (s *Server) SubscriptionButton(c echo.Context) error {
	if s.subscriptions == nil {
		return c.JSON(http.StatusOK, subscription.Button{Disabled: true})
	}
	var b subscription.Button
	s.subscriptions.UpdateButtonState(c.Request().Context(), &b)
	return c.JSON(http.StatusOK, b)
}

func (s *Server) subscriptionError(c echo.Context, err error) error {
	var backendErr *subscription.BackendError
	switch {
	case errors.Is(err, subscription.ErrNotAuthenticated):
		return jsonError(c, http.StatusUnauthorized, "User not logged in")
	case errors.Is(err, subscription.ErrNotSupported):
		return jsonError(c, http.StatusNotImplemented, "Push notifications not supported")
	case errors.Is(err, subscription.ErrPermissionDenied):
		return jsonError(c, http.StatusForbidden, "Notification permission denied")
	case errors.As(err, &backendErr):
		return jsonError(c, http.StatusBadGateway, backendErr.Message)
	case errors.HasCategory(err, errors.CategoryNetwork):
		return jsonError(c, http.StatusBadGateway, "Story API unreachable")
	default:
		s.log.Error("subscription toggle failed", logger.Error(err))
		return jsonError(c, http.StatusInternalServerError, userMessage(err))
	}
}

// ShownNotifications lists the notifications the worker showed in this
// page's windows.
func (s *Server) ShownNotifications(c echo.Context) error {
	if s.windows == nil {
		return c.JSON(http.StatusOK, []*notify.Notification{})
	}
	return c.JSON(http.StatusOK, s.windows.Notifications())
}

// ClickNotification forwards a click to the worker, which focuses or
// opens the target window.
func (s *Server) ClickNotification(c echo.Context) error {
	return s.relay(c, func(w Windows, id string) error { return w.Click(id) })
}

// CloseNotification forwards a dismissal to the worker.
func (s *Server) CloseNotification(c echo.Context) error {
	return s.relay(c, func(w Windows, id string) error { return w.Dismiss(id) })
}

func (s *Server) relay(c echo.Context, send func(w Windows, id string) error) error {
	if s.windows == nil {
		return jsonError(c, http.StatusServiceUnavailable, "not connected to the worker")
	}
	if err := send(s.windows, c.Param("id")); err != nil {
		if errors.Is(err, clients.ErrNotConnected) {
			return jsonError(c, http.StatusServiceUnavailable, "not connected to the worker")
		}
		s.log.Warn("relaying notification event failed", logger.Error(err))
		return jsonError(c, http.StatusBadGateway, "worker unreachable")
	}
	return jsonMessage(c, http.StatusAccepted, "Sent to worker")
}

// ListWindows lists the windows this page has open on the worker.
func (s *Server) ListWindows(c echo.Context) error {
	if s.windows == nil {
		return c.JSON(http.StatusOK, []clients.WindowInfo{})
	}
	return c.JSON(http.StatusOK, s.windows.Windows())
}
