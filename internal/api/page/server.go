// Package page is the HTTP surface of the page process: account
// handling, the story feed and the notification subscription toggle.
// It also serves the manifest an installing browser reads.
package page

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/storyapp/storyapp/internal/auth"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/storyapi"
	"github.com/storyapp/storyapp/internal/subscription"
)

const (
	// maxUploadBody leaves room for form fields around a 1 MB photo.
	maxUploadBody = "2M"

	defaultPageSize = 10
)

// Stories is the part of the Story API the page uses.
type Stories interface {
	Register(ctx context.Context, name, email, password string) error
	Login(ctx context.Context, email, password string) (*storyapi.LoginResult, error)
	Stories(ctx context.Context, token string, q storyapi.Query) ([]storyapi.Story, error)
	Story(ctx context.Context, token, id string) (*storyapi.Story, error)
	AddStory(ctx context.Context, token string, s storyapi.NewStory) error
}

// Windows is the page's connection to the worker's client channel.
type Windows interface {
	Windows() []clients.WindowInfo
	Notifications() []*notify.Notification
	Click(notificationID string) error
	Dismiss(notificationID string) error
}

// Config wires the page API. Windows is optional.
type Config struct {
	Stories       Stories
	Tokens        auth.TokenStore
	Subscriptions *subscription.Manager
	Windows       Windows
	Manifest      Manifest
	// WorkerURL is where the worker process is registered from.
	WorkerURL string
	Logger    logger.Logger
}

// Server is the page HTTP server.
type Server struct {
	echo          *echo.Echo
	stories       Stories
	tokens        auth.TokenStore
	subscriptions *subscription.Manager
	windows       Windows
	manifest      Manifest
	workerURL     string
	log           logger.Logger
}

// New builds the server and registers its routes.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:          e,
		stories:       cfg.Stories,
		tokens:        cfg.Tokens,
		subscriptions: cfg.Subscriptions,
		windows:       cfg.Windows,
		manifest:      cfg.Manifest.withDefaults(),
		workerURL:     cfg.WorkerURL,
		log:           log.Module("page-api"),
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))
	e.Use(withSession)

	s.registerAccountRoutes()
	s.registerStoryRoutes()
	s.registerNotificationRoutes()
	s.registerPWARoutes()
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("page listening", logger.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// withSession makes the request and response reachable from the request
// context, where the session token store looks for them.
func withSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		c.SetRequest(r.WithContext(auth.WithHTTP(r.Context(), c.Response(), r)))
		return next(c)
	}
}

func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}

func (s *Server) token(c echo.Context) (string, bool) {
	return s.tokens.Token(c.Request().Context())
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"error": true, "message": msg})
}

func jsonMessage(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"error": false, "message": msg})
}

// backendStatus maps a Story API failure onto the page's answer.
func (s *Server) backendStatus(c echo.Context, err error) error {
	var apiErr *storyapi.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return jsonError(c, status, apiErr.Message)
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return jsonError(c, http.StatusBadRequest, userMessage(err))
	case errors.CategoryNetwork:
		s.log.Warn("story api unreachable", logger.Error(err))
		return jsonError(c, http.StatusBadGateway, "Story API unreachable")
	default:
		s.log.Error("story api call failed", logger.Error(err))
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}
}

// userMessage drops the component prefix of an enhanced error.
func userMessage(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err.Error()
	}
	return err.Error()
}
