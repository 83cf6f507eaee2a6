// Package lifecycle drives the worker through install and activation and
// keeps event work alive until it settles.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/storyapp/storyapp/internal/broadcast"
	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// State of the worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Installer prepares assets on install and removes stale ones on activate.
type Installer interface {
	Install(ctx context.Context) error
	Cleanup(ctx context.Context) (int, error)
}

// Claimer takes control of open pages.
type Claimer interface {
	Claim() int
}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	State       State     `json:"state"`
	Version     string    `json:"version"`
	SkipWaiting bool      `json:"skip_waiting"`
	Claimed     int       `json:"claimed"`
	InstalledAt time.Time `json:"installed_at,omitzero"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// Controller runs the install and activate steps.
type Controller struct {
	version   string
	installer Installer
	clients   Claimer
	channel   broadcast.Channel
	log       logger.Logger

	mu   sync.Mutex
	snap Snapshot
}

// Config wires a Controller. Installer and Channel are optional.
type Config struct {
	Version   string
	Installer Installer
	Clients   Claimer
	Channel   broadcast.Channel
	Logger    logger.Logger
}

// NewController creates a controller in the parsed state.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Controller{
		version:   cfg.Version,
		installer: cfg.Installer,
		clients:   cfg.Clients,
		channel:   cfg.Channel,
		log:       cfg.Logger.Module("lifecycle").With(logger.String("version", cfg.Version)),
		snap:      Snapshot{State: StateParsed, Version: cfg.Version},
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// State returns the current state.
func (c *Controller) State() State {
	return c.Snapshot().State
}

func (c *Controller) transition(from []State, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.snap.State == s {
			c.snap.State = to
			return nil
		}
	}
	return errors.Newf("cannot move from %s to %s", c.snap.State, to).
		Component("lifecycle").
		Category(errors.CategoryValidation).
		Build()
}

// Start installs and, since the worker always skips waiting, activates.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Install(ctx); err != nil {
		return err
	}
	return c.SkipWaiting(ctx)
}

// Install precaches assets. A failed install leaves the worker redundant.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition([]State{StateParsed}, StateInstalling); err != nil {
		return err
	}
	c.log.Info("worker installing")

	if c.installer != nil {
		if err := c.installer.Install(ctx); err != nil {
			c.mu.Lock()
			c.snap.State = StateRedundant
			c.snap.Error = err.Error()
			c.mu.Unlock()
			c.log.Error("install failed", logger.Error(err))
			return err
		}
	}

	c.mu.Lock()
	c.snap.State = StateInstalled
	c.snap.InstalledAt = time.Now()
	c.mu.Unlock()
	return nil
}

// SkipWaiting marks the worker to replace any waiting version at once and
// activates it when it is already installed.
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	c.snap.SkipWaiting = true
	installed := c.snap.State == StateInstalled
	c.mu.Unlock()

	if !installed {
		return nil
	}
	return c.Activate(ctx)
}

// Activate removes outdated precache entries, claims every open page and
// announces the new controller.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.transition([]State{StateInstalled}, StateActivating); err != nil {
		return err
	}
	c.log.Info("worker activating")

	if c.installer != nil {
		if _, err := c.installer.Cleanup(ctx); err != nil {
			// stale entries only cost space
			c.log.Warn("precache cleanup failed", logger.Error(err))
		}
	}

	claimed := 0
	if c.clients != nil {
		claimed = c.clients.Claim()
	}

	c.mu.Lock()
	c.snap.State = StateActivated
	c.snap.ActivatedAt = time.Now()
	c.snap.Claimed = claimed
	c.mu.Unlock()

	if c.channel != nil {
		msg := broadcast.Message{
			Type:    broadcast.TypeControllerChange,
			Payload: map[string]any{"version": c.version, "claimed": claimed},
		}
		if err := c.channel.Publish(ctx, broadcast.TopicLifecycle, msg); err != nil {
			c.log.Warn("controllerchange broadcast failed", logger.Error(err))
		}
	}
	c.log.Info("worker activated", logger.Int("claimed_clients", claimed))
	return nil
}
