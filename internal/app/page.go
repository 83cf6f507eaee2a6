package app

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"

	"github.com/storyapp/storyapp/internal/api/page"
	"github.com/storyapp/storyapp/internal/auth"
	"github.com/storyapp/storyapp/internal/clients"
	"github.com/storyapp/storyapp/internal/datastore"
	"github.com/storyapp/storyapp/internal/datastore/repository"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/pushregistry"
	"github.com/storyapp/storyapp/internal/storyapi"
	"github.com/storyapp/storyapp/internal/subscription"
)

// Page is the assembled page process.
type Page struct {
	rt            *Runtime
	server        *page.Server
	host          *clients.Host
	subscriptions *subscription.Manager
	db            *datastore.Manager
	log           logger.Logger
}

// NewPage wires the Story API client, the session store, the push
// registration and the subscription manager from rt.Settings.
func NewPage(rt *Runtime) (*Page, error) {
	s := rt.Settings
	log := rt.Log.Module("page")
	p := &Page{rt: rt, log: log}

	api, err := storyapi.New(storyapi.Config{
		BaseURL:             s.API.BaseURL,
		Timeout:             s.API.Timeout.Std(),
		RateLimit:           s.API.RateLimit,
		RateBurst:           s.API.RateBurst,
		SubscribeEndpoint:   s.API.SubscribeEndpoint,
		UnsubscribeEndpoint: s.API.UnsubscribeEndpoint,
		Metrics:             rt.Metrics,
		Logger:              log,
	})
	if err != nil {
		return nil, err
	}

	secret := []byte(s.Page.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		log.Warn("page.session_secret not set, sessions end when the page restarts")
	}
	tokens, err := auth.NewSessionTokenStore(secret, strings.HasPrefix(s.Page.URL, "https://"))
	if err != nil {
		return nil, err
	}

	var store repository.PushSubscriptionRepository
	if s.Page.PushStoreDSN != "" {
		p.db, err = openDatastore(datastore.BackendSQLite, s.Page.PushStoreDSN)
		if err != nil {
			return nil, err
		}
		store = repository.NewPushSubscriptionRepository(p.db.DB())
	}
	registry, err := pushregistry.New(pushregistry.Config{
		Scope:     s.Page.URL,
		PublicURL: s.Worker.PublicURL,
		Store:     store,
		Logger:    log,
	})
	if err != nil {
		p.close()
		return nil, err
	}

	p.host, err = clients.NewHost(clients.HostConfig{
		Endpoint: strings.TrimSuffix(s.Page.WorkerURL, "/") + "/clients/ws",
		PageURL:  s.Page.URL,
		Logger:   log,
	})
	if err != nil {
		p.close()
		return nil, err
	}

	p.subscriptions = subscription.NewManager(subscription.Config{
		Tokens:         tokens,
		Push:           registry,
		Capabilities:   subscription.Capabilities{ServiceWorker: true, PushManager: true},
		Backend:        api,
		VAPIDPublicKey: s.API.VAPIDPublicKey,
		Language:       s.Page.Language,
		Channel:        rt.Channel,
		Metrics:        rt.Metrics,
		Logger:         log,
	})

	p.server = page.New(page.Config{
		Stories:       api,
		Tokens:        tokens,
		Subscriptions: p.subscriptions,
		Windows:       p.host,
		Manifest:      manifest(s.Worker.Notification.Title, s.Worker.Notification.Icon),
		WorkerURL:     s.Page.WorkerURL,
		Logger:        log,
	})
	return p, nil
}

// Handler exposes the HTTP surface for tests.
func (p *Page) Handler() http.Handler { return p.server.Handler() }

// Run connects to the worker, announces the existing push subscription and
// serves until ctx ends.
func (p *Page) Run(ctx context.Context) error {
	defer p.close()
	s := p.rt.Settings

	hostCtx, stopHost := context.WithCancel(ctx)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		_ = p.host.Run(hostCtx)
	}()
	defer func() {
		stopHost()
		<-hostDone
	}()

	if err := p.subscriptions.Announce(ctx); err != nil {
		p.log.Warn("announcing push subscription failed", logger.Error(err))
	}

	err := serve(ctx, p.server, s.Page.Listen, s.Worker.ShutdownDeadline.Std())
	p.log.Info("page stopped")
	return err
}

func manifest(name, icon string) page.Manifest {
	m := page.Manifest{Name: name}
	if icon != "" {
		m.Icons = []page.ManifestIcon{{Src: icon, Sizes: "192x192", Type: "image/png"}}
	}
	return m
}

func (p *Page) close() {
	if p.db == nil {
		return
	}
	if err := p.db.Close(); err != nil {
		p.log.Warn("closing push store failed", logger.Error(err))
	}
	p.db = nil
}
