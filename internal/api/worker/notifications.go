package worker

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/router"
)

func (s *Server) registerNotificationRoutes() {
	g := s.echo.Group("/notifications")
	g.GET("", s.ListNotifications)
	g.POST("/:id/click", s.ClickNotification)
	g.POST("/:id/close", s.CloseNotification)
}

// ListNotifications returns the notifications currently shown.
func (s *Server) ListNotifications(c echo.Context) error {
	if s.notifications == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.notifications.List())
}

// ClickNotification handles a click on a shown notification.
func (s *Server) ClickNotification(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return jsonError(c, http.StatusBadRequest, "Notification ID is required")
	}

	res, err := waitUntil(c, s.tracker, "notificationclick", func(ctx context.Context) (router.Result, error) {
		return s.clicks.ClickByID(ctx, id)
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, errShuttingDown):
		return jsonError(c, http.StatusServiceUnavailable, "worker is shutting down")
	case errors.HasCategory(err, errors.CategoryNotFound):
		return jsonError(c, http.StatusNotFound, "notification not found")
	default:
		s.log.Warn("notification click failed", logger.String("id", id), logger.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]any{"error": "click could not be routed", "result": res})
	}
}

// CloseNotification dismisses a notification without routing.
func (s *Server) CloseNotification(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return jsonError(c, http.StatusBadRequest, "Notification ID is required")
	}
	s.clicks.Dismiss(id)
	return c.JSON(http.StatusOK, map[string]string{"message": "Notification closed"})
}

// handleClientMessage receives click and close events raised by pages
// over the client channel.
func (s *Server) handleClientMessage(_ context.Context, from clients.Info, msg clients.Message) {
	switch msg.Type {
	case clients.MsgNotificationClick:
		id := msg.NotificationID
		s.tracker.Go("notificationclick", func(ctx context.Context) error {
			_, err := s.clicks.ClickByID(ctx, id)
			return err
		})
	case clients.MsgNotificationClose:
		s.clicks.Dismiss(msg.NotificationID)
	default:
		s.log.Debug("unhandled client message",
			logger.String("type", msg.Type),
			logger.String("client_id", from.ID))
	}
}

func (s *Server) registerClientRoutes() {
	s.echo.GET("/clients/ws", s.ClientSocket)
	s.echo.GET("/clients", s.ListClients)
}

// ClientSocket upgrades a page connection onto the client channel.
func (s *Server) ClientSocket(c echo.Context) error {
	if s.hub == nil {
		return jsonError(c, http.StatusServiceUnavailable, "client channel disabled")
	}
	if err := s.hub.ServeWS(c.Request().Context(), s.upgrader, c.Response(), c.Request()); err != nil {
		// the upgrader already wrote the HTTP error
		s.log.Debug("websocket upgrade failed", logger.Error(err))
	}
	return nil
}

// ListClients returns every connected window.
func (s *Server) ListClients(c echo.Context) error {
	if s.hub == nil {
		return c.JSON(http.StatusOK, []clients.Info{})
	}
	return c.JSON(http.StatusOK, s.hub.MatchAll(clients.MatchOptions{IncludeUncontrolled: true}))
}
