package app

import (
	"context"
	"net/http"

	"github.com/storyapp/storyapp/internal/api/worker"
	"github.com/storyapp/storyapp/internal/cachestorage"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/datastore"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/lifecycle"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
	"github.com/storyapp/storyapp/internal/precache"
	"github.com/storyapp/storyapp/internal/push"
	"github.com/storyapp/storyapp/internal/pushregistry"
	"github.com/storyapp/storyapp/internal/router"
	"github.com/storyapp/storyapp/internal/routing"
	"github.com/storyapp/storyapp/internal/strategy"
)

// Worker is the assembled worker process.
type Worker struct {
	rt         *Runtime
	server     *worker.Server
	controller *lifecycle.Controller
	tracker    *lifecycle.Tracker
	directory  *pushregistry.Directory
	detach     func()
	dbs        []*datastore.Manager
	log        logger.Logger
}

// NewWorker wires cache storage, routes, push handling and the client
// channel from rt.Settings.
func NewWorker(rt *Runtime) (*Worker, error) {
	s := rt.Settings
	log := rt.Log.Module("worker")
	w := &Worker{rt: rt, log: log}
	built := false
	defer func() {
		if !built {
			w.Close()
		}
	}()

	var storage cachestorage.Storage
	switch s.Worker.CacheBackend {
	case datastore.BackendSQLite, datastore.BackendMySQL:
		db, err := openDatastore(s.Worker.CacheBackend, s.Worker.CacheDSN)
		if err != nil {
			return nil, err
		}
		w.dbs = append(w.dbs, db)
		storage = cachestorage.NewGormStorage(repository.NewCacheRepository(db.DB()), log)
	default:
		storage = cachestorage.NewMemoryStorage(0)
	}

	var subs repository.PushSubscriptionRepository
	if s.Page.PushStoreDSN != "" {
		db, err := openDatastore(datastore.BackendSQLite, s.Page.PushStoreDSN)
		if err != nil {
			return nil, err
		}
		w.dbs = append(w.dbs, db)
		subs = repository.NewPushSubscriptionRepository(db.DB())
	}
	w.directory = pushregistry.NewDirectory(subs, log)
	detach, err := w.directory.Attach(rt.Channel)
	if err != nil {
		return nil, err
	}
	w.detach = detach

	fetcher := strategy.NewHTTPFetcher(nil, s.API.Timeout.Std())
	w.tracker = lifecycle.NewTracker(log)

	rules := routing.DefaultRules(s.API.BaseURL, routing.DefaultOptions{
		Strategy: strategy.Options{
			Storage: storage,
			Fetcher: fetcher,
			Metrics: rt.Metrics,
			Logger:  log,
		},
		NetworkTimeout: s.Worker.NetworkTimeout.Std(),
		Runner:         w.tracker,
	})

	manifest := make([]precache.ManifestEntry, 0, len(s.Worker.Precache))
	for _, e := range s.Worker.Precache {
		manifest = append(manifest, precache.ManifestEntry{URL: e.URL, Revision: e.Revision})
	}
	precacher, err := precache.New(s.Page.URL, manifest, storage, fetcher, log)
	if err != nil {
		return nil, err
	}

	hub := clients.NewHub(log)
	shown := notify.NewRegistry(s.Worker.NotificationTTL.Std())
	displayers := notify.Multi{shown, notify.NewClientDisplayer(hub, log)}
	if len(s.Notify.URLs) > 0 {
		d, err := notify.NewShoutrrrDisplayer(s.Notify.URLs, log)
		if err != nil {
			return nil, err
		}
		displayers = append(displayers, d)
	}

	receiver := push.NewReceiver(push.ReceiverConfig{
		Defaults: push.Defaults{
			Title: s.Worker.Notification.Title,
			Body:  s.Worker.Notification.Body,
			Icon:  s.Worker.Notification.Icon,
			Badge: s.Worker.Notification.Badge,
		},
		Displayer: displayers,
		Channel:   rt.Channel,
		Metrics:   rt.Metrics,
		Logger:    log,
	})
	clicks := router.New(router.Config{
		Windows:       hub,
		Notifications: shown,
		Channel:       rt.Channel,
		Metrics:       rt.Metrics,
		Logger:        log,
	})
	w.controller = lifecycle.NewController(lifecycle.Config{
		Version:   s.Worker.Version,
		Installer: precacher,
		Clients:   hub,
		Channel:   rt.Channel,
		Logger:    log,
	})

	w.server = worker.New(worker.Config{
		Precache:      precacher,
		Routes:        routing.NewRouter(rules...),
		Fetcher:       fetcher,
		Storage:       storage,
		Receiver:      receiver,
		Clicks:        clicks,
		Notifications: shown,
		Hub:           hub,
		Upgrader:      clients.NewUpgrader(s.Worker.AllowedOrigins),
		Lifecycle:     w.controller,
		Tracker:       w.tracker,
		Subscriptions: w.directory,
		PushRateLimit: s.Worker.PushRateLimit,
		Gatherer:      rt.Registry,
		Logger:        log,
	})
	built = true
	return w, nil
}

// Handler exposes the HTTP surface for tests.
func (w *Worker) Handler() http.Handler { return w.server.Handler() }

// Run installs and activates the worker, serves until ctx ends and then
// drains outstanding event work.
func (w *Worker) Run(ctx context.Context) error {
	defer w.Close()
	s := w.rt.Settings

	if err := w.controller.Start(ctx); err != nil {
		return err
	}
	err := serve(ctx, w.server, s.Worker.Listen, s.Worker.ShutdownDeadline.Std())

	drainCtx, cancel := context.WithTimeout(context.Background(), s.Worker.ShutdownDeadline.Std())
	defer cancel()
	if werr := w.tracker.Wait(drainCtx); werr != nil {
		w.log.Warn("event work did not finish before the deadline", logger.Error(werr))
	}
	w.log.Info("worker stopped")
	return err
}

// Close releases the datastores. Run calls it on return.
func (w *Worker) Close() {
	if w.detach != nil {
		w.detach()
		w.detach = nil
	}
	for _, db := range w.dbs {
		if err := db.Close(); err != nil {
			w.log.Warn("closing datastore failed", logger.Error(err))
		}
	}
	w.dbs = nil
}
