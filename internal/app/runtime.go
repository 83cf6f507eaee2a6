// Package app assembles the worker and page processes from settings.
package app

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/conf"
	"github.com/storyapp/storyapp/internal/datastore"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/observability/metrics"
)

const sentryFlushTimeout = 2 * time.Second

// Runtime holds what every process shares: logger, metrics, telemetry and
// the broadcast channel. Run worker and page in one process by handing
// both the same Runtime.
type Runtime struct {
	Settings *conf.Settings
	Log      logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Channel  broadcast.Channel

	reporter *errors.SentryReporter
}

// NewRuntime builds the shared services. name identifies the process on
// the broadcast broker.
func NewRuntime(ctx context.Context, s *conf.Settings, out io.Writer, name string) (*Runtime, error) {
	log := logger.NewSlogLogger(out, logger.ParseLevel(s.Log.Level), s.Location())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Settings: s, Log: log, Registry: reg, Metrics: m}

	if s.Telemetry.SentryDSN != "" {
		reporter, err := errors.NewSentryReporter(s.Telemetry.SentryDSN, s.Worker.Version)
		if err != nil {
			return nil, err
		}
		errors.SetTelemetryReporter(reporter)
		rt.reporter = reporter
		log.Info("error telemetry enabled")
	}

	switch s.Broadcast.Kind {
	case "mqtt":
		ch, err := broadcast.NewMQTTChannel(ctx, broadcast.MQTTConfig{
			Broker:      s.Broadcast.Broker,
			ClientID:    s.Broadcast.ClientID + "-" + name,
			TopicPrefix: s.Broadcast.TopicPrefix,
			Username:    s.Broadcast.Username,
			Password:    s.Broadcast.Password,
		}, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Channel = ch
	default:
		rt.Channel = broadcast.NewLocalChannel(log)
	}
	return rt, nil
}

// Close releases the channel and flushes telemetry.
func (r *Runtime) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.Log.Warn("closing broadcast channel failed", logger.Error(err))
		}
	}
	if r.reporter != nil {
		r.reporter.Flush(sentryFlushTimeout)
		errors.SetTelemetryReporter(nil)
	}
}

// openDatastore opens and migrates a gorm database.
func openDatastore(backend, dsn string) (*datastore.Manager, error) {
	db, err := datastore.NewManager(datastore.Config{Backend: backend, DSN: dsn})
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// server is the part of an echo wrapper serve needs.
type server interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// serve runs srv on addr until ctx ends, then shuts it down within
// deadline.
func serve(ctx context.Context, srv server, addr string, deadline time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
