// Package worker is the HTTP surface of the worker process: fetch
// interception, push delivery, notification clicks, the page client
// channel and lifecycle state.
package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/lifecycle"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/push"
	"github.com/storyapp/storyapp/internal/router"
	"github.com/storyapp/storyapp/internal/routing"
	"github.com/storyapp/storyapp/internal/strategy"
)

const (
	// maxPushPayload is the largest push message body push services deliver.
	maxPushPayload = "4K"
	// pushRateWindow is how long an idle sender's limiter is kept.
	pushRateWindow = time.Minute
	// defaultPushRate applies when no push rate limit is configured.
	defaultPushRate = 20
)

// Precache serves build-time assets ahead of the runtime routes.
type Precache interface {
	Match(ctx context.Context, req *http.Request) (*cachestorage.Entry, bool)
}

// SubscriptionLookup tells whether a push endpoint id is live.
type SubscriptionLookup interface {
	Lookup(ctx context.Context, endpointID string) bool
}

// Config wires the worker API. Gatherer and Storage are optional.
type Config struct {
	Precache      Precache
	Routes        *routing.Router
	Fetcher       strategy.Fetcher
	Storage       cachestorage.Storage
	Receiver      *push.Receiver
	Clicks        *router.Router
	Notifications *notify.Registry
	Hub           *clients.Hub
	Upgrader      *websocket.Upgrader
	Lifecycle     *lifecycle.Controller
	Tracker       *lifecycle.Tracker
	Subscriptions SubscriptionLookup
	PushRateLimit float64
	Gatherer      prometheus.Gatherer
	Logger        logger.Logger
}

// Server is the worker HTTP server.
type Server struct {
	echo          *echo.Echo
	precache      Precache
	routes        *routing.Router
	fetcher       strategy.Fetcher
	storage       cachestorage.Storage
	receiver      *push.Receiver
	clicks        *router.Router
	notifications *notify.Registry
	hub           *clients.Hub
	upgrader      *websocket.Upgrader
	lifecycle     *lifecycle.Controller
	tracker       *lifecycle.Tracker
	subscriptions SubscriptionLookup
	log           logger.Logger
}

// New builds the server and registers its routes.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = clients.NewUpgrader(nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:          e,
		precache:      cfg.Precache,
		routes:        cfg.Routes,
		fetcher:       cfg.Fetcher,
		storage:       cfg.Storage,
		receiver:      cfg.Receiver,
		clicks:        cfg.Clicks,
		notifications: cfg.Notifications,
		hub:           cfg.Hub,
		upgrader:      upgrader,
		lifecycle:     cfg.Lifecycle,
		tracker:       cfg.Tracker,
		subscriptions: cfg.Subscriptions,
		log:           log.Module("worker-api"),
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))

	s.registerFetchRoutes()
	s.registerPushRoutes(cfg.PushRateLimit)
	s.registerNotificationRoutes()
	s.registerClientRoutes()
	s.registerLifecycleRoutes()

	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	if s.hub != nil {
		s.hub.OnMessage(s.handleClientMessage)
	}
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("worker listening", logger.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes page connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return s.echo.Shutdown(ctx)
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

// errShuttingDown is returned by waitUntil once the tracker stopped
// accepting work.
var errShuttingDown = errors.Newf("worker is shutting down").
	Component("worker-api").
	Category(errors.CategoryGeneric).
	Build()

// waitUntil runs fn as tracked event work and waits for its result, so
// the work still completes when the HTTP client goes away.
func waitUntil[T any](c echo.Context, t *lifecycle.Tracker, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	started := t.Go(name, func(ctx context.Context) error {
		v, err := fn(ctx)
		done <- outcome{v, err}
		return err
	})
	var zero T
	if !started {
		return zero, errShuttingDown
	}
	select {
	case o := <-done:
		return o.v, o.err
	case <-c.Request().Context().Done():
		return zero, c.Request().Context().Err()
	}
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
