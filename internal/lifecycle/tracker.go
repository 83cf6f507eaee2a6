package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// Tracker keeps units of background work alive and lets shutdown wait for
// them, the equivalent of an extendable event's waitUntil. Each push, click
// and cache revalidation runs as its own unit.
type Tracker struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	pending atomic.Int64
}

// NewTracker creates a tracker. Work started on it gets a context that is
// cancelled only when Wait gives up.
func NewTracker(log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{ctx: ctx, cancel: cancel, log: log.Module("tracker")}
}

// Go runs fn in its own goroutine. It returns false without running fn once
// Wait has been called.
func (t *Tracker) Go(name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.log.Warn("work rejected after shutdown started", logger.String("unit", name))
		return false
	}
	t.wg.Add(1)
	t.pending.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer t.pending.Add(-1)
		if err := t.safeRun(name, fn); err != nil {
			t.log.Warn("background work failed", logger.String("unit", name), logger.Error(err))
		}
	}()
	return true
}

// safeRun recovers panics so one unit cannot take down the process.
func (t *Tracker) safeRun(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in %s: %v", name, r).
				Component("lifecycle").
				Category(errors.CategoryGeneric).
				Build()
		}
	}()
	return fn(t.ctx)
}

// Pending returns the number of units still running.
func (t *Tracker) Pending() int64 { return t.pending.Load() }

// Wait stops accepting new work and blocks until every running unit settles.
// When ctx ends first the remaining units are cancelled and ctx's error is
// returned after they exit.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		pending := t.Pending()
		t.log.Warn("cancelling unfinished work", logger.Int64("pending", pending))
		t.cancel()
		<-done
		return errors.New(ctx.Err()).
			Component("lifecycle").
			Category(errors.CategoryGeneric).
			Context("pending", pending).
			Build()
	}
}
