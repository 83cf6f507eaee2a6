package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

// localBufferSize is the capacity of the async delivery queue. Messages are
// dropped when it is full so publishers never block.
const localBufferSize = 256

type envelope struct {
	topic string
	msg   Message
}

type subscription struct {
	id int
	h  Handler
}

// LocalChannel delivers messages within one process through a buffered
// queue drained by a single goroutine.
type LocalChannel struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int

	queue    chan envelope
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	log      logger.Logger
}

// NewLocalChannel creates the channel and starts its delivery goroutine.
func NewLocalChannel(log logger.Logger) *LocalChannel {
	if log == nil {
		log = logger.NewNop()
	}
	c := &LocalChannel{
		handlers: make(map[string][]subscription),
		queue:    make(chan envelope, localBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      log.Module("broadcast"),
	}
	go c.processLoop()
	return c
}

// ErrClosed is returned when publishing on a closed channel.
var ErrClosed = errors.NewStd("broadcast channel closed")

func (c *LocalChannel) Publish(_ context.Context, topic string, msg Message) error {
	select {
	case <-c.stopCh:
		return ErrClosed
	default:
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case c.queue <- envelope{topic: topic, msg: msg}:
	default:
		c.log.Warn("broadcast queue full, message dropped",
			logger.String("topic", topic), logger.String("type", msg.Type))
	}
	return nil
}

func (c *LocalChannel) Subscribe(topic string, h Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[topic] = append(c.handlers[topic], subscription{id: id, h: h})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				c.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}, nil
}

// Close drains queued messages and stops the delivery goroutine. Safe to
// call more than once.
func (c *LocalChannel) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
	return nil
}

func (c *LocalChannel) processLoop() {
	defer close(c.doneCh)
	for {
		select {
		case env := <-c.queue:
			c.dispatch(env)
		case <-c.stopCh:
			for {
				select {
				case env := <-c.queue:
					c.dispatch(env)
				default:
					return
				}
			}
		}
	}
}

func (c *LocalChannel) dispatch(env envelope) {
	c.mu.RLock()
	subs := make([]subscription, len(c.handlers[env.topic]))
	copy(subs, c.handlers[env.topic])
	c.mu.RUnlock()

	for _, s := range subs {
		c.safeCall(s.h, env)
	}
}

// safeCall keeps the delivery goroutine alive when a handler panics.
func (c *LocalChannel) safeCall(h Handler, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("broadcast handler panicked",
				logger.String("topic", env.topic), logger.Any("panic", r))
		}
	}()
	h(env.topic, env.msg)
}
