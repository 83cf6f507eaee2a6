// Package clients tracks the pages (windows) connected to the worker and
// lets the worker focus, navigate, claim and open them.
package clients

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
)

// Message types exchanged with pages.
const (
	MsgHello             = "hello"
	MsgNavigate          = "navigate"
	MsgFocus             = "focus"
	MsgFocusChanged      = "focus-changed"
	MsgNotification      = "notification"
	MsgControllerChange  = "controllerchange"
	MsgOpenWindow        = "open-window"
	MsgWindowOpened      = "window-opened"
	MsgNotificationClick = "notificationclick"
	MsgNotificationClose = "notificationclose"
)

// Role distinguishes ordinary windows from the host able to open new ones.
type Role string

const (
	RoleWindow Role = "window"
	RoleHost   Role = "host"
)

// Message is the JSON frame sent in both directions.
type Message struct {
	Type           string               `json:"type"`
	ClientID       string               `json:"client_id,omitempty"`
	URL            string               `json:"url,omitempty"`
	RequestID      string               `json:"request_id,omitempty"`
	Focused        bool                 `json:"focused,omitempty"`
	NotificationID string               `json:"notification_id,omitempty"`
	Notification   *notify.Notification `json:"notification,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Sink delivers messages to one connected client.
type Sink interface {
	Send(msg Message) error
	Close() error
}

// Info is a snapshot of a client.
type Info struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	Focused    bool   `json:"focused"`
	Controlled bool   `json:"controlled"`
}

type client struct {
	Info
	role Role
	sink Sink
}

// MatchOptions filter MatchAll.
type MatchOptions struct {
	IncludeUncontrolled bool
}

// Errors returned by the hub.
var (
	ErrClientNotFound = errors.NewStd("client not found")
	ErrNoWindowOpener = errors.NewStd("no host available to open windows")
	ErrNotConnected   = errors.NewStd("not connected to the worker")
)

// MessageHandler receives client messages the hub does not handle itself.
type MessageHandler func(ctx context.Context, from Info, msg Message)

// Hub is the registry of connected clients.
type Hub struct {
	mu      sync.Mutex
	clients []*client
	claimed bool
	pending map[string]chan Message

	openTimeout time.Duration
	onMessage   MessageHandler
	log         logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		pending:     make(map[string]chan Message),
		openTimeout: 10 * time.Second,
		log:         log.Module("clients"),
	}
}

// SetOpenTimeout bounds how long OpenWindow waits for the host.
func (h *Hub) SetOpenTimeout(d time.Duration) { h.openTimeout = d }

// OnMessage sets the handler for unrecognized client messages.
func (h *Hub) OnMessage(fn MessageHandler) { h.onMessage = fn }

// Register adds a client and returns its snapshot. Clients that connect
// after Claim are controlled from the start.
func (h *Hub) Register(id, url string, role Role, focused bool, sink Sink) Info {
	if id == "" {
		id = uuid.NewString()
	}
	if role == "" {
		role = RoleWindow
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{
		Info: Info{ID: id, URL: url, Type: "window", Focused: focused, Controlled: h.claimed && role == RoleWindow},
		role: role,
		sink: sink,
	}
	if focused {
		h.blurLocked()
	}
	h.clients = append(h.clients, c)
	h.log.Debug("client registered", logger.String("id", id), logger.String("url", url), logger.String("role", string(role)))
	return c.Info
}

// Unregister removes a client.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = slices.DeleteFunc(h.clients, func(c *client) bool { return c.ID == id })
}

func (h *Hub) findLocked(id string) *client {
	for _, c := range h.clients {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (h *Hub) blurLocked() {
	for _, c := range h.clients {
		c.Focused = false
	}
}

// Get returns a snapshot of one client.
func (h *Hub) Get(id string) (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.findLocked(id); c != nil {
		return c.Info, true
	}
	return Info{}, false
}

// MatchAll lists window clients in connection order.
func (h *Hub) MatchAll(opts MatchOptions) []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.clients))
	for _, c := range h.clients {
		if c.role != RoleWindow {
			continue
		}
		if !c.Controlled && !opts.IncludeUncontrolled {
			continue
		}
		out = append(out, c.Info)
	}
	return out
}

// Claim makes the worker control every open window and returns how many
// windows changed controller.
func (h *Hub) Claim() int {
	h.mu.Lock()
	h.claimed = true
	var changed []*client
	for _, c := range h.clients {
		if c.role == RoleWindow && !c.Controlled {
			c.Controlled = true
			changed = append(changed, c)
		}
	}
	h.mu.Unlock()

	for _, c := range changed {
		if err := c.sink.Send(Message{Type: MsgControllerChange, ClientID: c.ID}); err != nil {
			h.log.Warn("controllerchange delivery failed", logger.String("id", c.ID), logger.Error(err))
		}
	}
	return len(changed)
}

// Focus brings a window to the foreground.
func (h *Hub) Focus(_ context.Context, id string) (Info, error) {
	h.mu.Lock()
	c := h.findLocked(id)
	if c == nil {
		h.mu.Unlock()
		return Info{}, ErrClientNotFound
	}
	h.blurLocked()
	c.Focused = true
	info, sink := c.Info, c.sink
	h.mu.Unlock()

	if err := sink.Send(Message{Type: MsgFocus, ClientID: id}); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Navigate asks a window to load url.
func (h *Hub) Navigate(_ context.Context, id, url string) (Info, error) {
	h.mu.Lock()
	c := h.findLocked(id)
	if c == nil {
		h.mu.Unlock()
		return Info{}, ErrClientNotFound
	}
	c.URL = url
	info, sink := c.Info, c.sink
	h.mu.Unlock()

	if err := sink.Send(Message{Type: MsgNavigate, ClientID: id, URL: url}); err != nil {
		return Info{}, err
	}
	return info, nil
}

// OpenWindow asks a host client to open a new window at url and waits for
// the new window to report back.
func (h *Hub) OpenWindow(ctx context.Context, url string) (Info, error) {
	h.mu.Lock()
	var host *client
	for _, c := range h.clients {
		if c.role == RoleHost {
			host = c
			break
		}
	}
	if host == nil {
		h.mu.Unlock()
		return Info{}, ErrNoWindowOpener
	}
	requestID := uuid.NewString()
	reply := make(chan Message, 1)
	h.pending[requestID] = reply
	sink := host.sink
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
	}()

	if err := sink.Send(Message{Type: MsgOpenWindow, URL: url, RequestID: requestID}); err != nil {
		return Info{}, err
	}

	timer := time.NewTimer(h.openTimeout)
	defer timer.Stop()
	select {
	case msg := <-reply:
		if msg.Error != "" {
			return Info{}, errors.Newf("open window: %s", msg.Error).Component("clients").Category(errors.CategoryGeneric).Build()
		}
		if info, ok := h.Get(msg.ClientID); ok {
			return info, nil
		}
		return Info{ID: msg.ClientID, URL: url, Type: "window"}, nil
	case <-timer.C:
		return Info{}, errors.Newf("open window timed out after %s", h.openTimeout).
			Component("clients").
			Category(errors.CategoryNetwork).
			Build()
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Broadcast sends msg to every window and returns how many accepted it.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.role == RoleWindow {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if err := c.sink.Send(msg); err != nil {
			h.log.Debug("broadcast delivery failed", logger.String("id", c.ID), logger.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastNotification shows n in every connected window.
func (h *Hub) BroadcastNotification(_ context.Context, n *notify.Notification) int {
	return h.Broadcast(Message{Type: MsgNotification, Notification: n})
}

// Handle applies a message received from client id.
func (h *Hub) Handle(ctx context.Context, id string, msg Message) {
	switch msg.Type {
	case MsgNavigate:
		h.mu.Lock()
		if c := h.findLocked(id); c != nil {
			c.URL = msg.URL
		}
		h.mu.Unlock()
	case MsgFocusChanged:
		h.mu.Lock()
		if c := h.findLocked(id); c != nil {
			if msg.Focused {
				h.blurLocked()
			}
			c.Focused = msg.Focused
		}
		h.mu.Unlock()
	case MsgWindowOpened:
		h.mu.Lock()
		reply, ok := h.pending[msg.RequestID]
		h.mu.Unlock()
		if ok {
			select {
			case reply <- msg:
			default:
			}
		}
	default:
		info, ok := h.Get(id)
		if !ok || h.onMessage == nil {
			h.log.Debug("ignoring client message", logger.String("type", msg.Type))
			return
		}
		h.onMessage(ctx, info, msg)
	}
}

// Len returns the number of connected clients of any role.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.sink.Close()
	}
}
