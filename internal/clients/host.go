package clients

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
	"github.com/storyapp/storyapp/internal/notify"
)

const (
	minRedial = time.Second
	maxRedial = 30 * time.Second
	// recentNotifications bounds the notifications kept for the page UI.
	recentNotifications = 20
)

// HostConfig wires a Host.
type HostConfig struct {
	// Endpoint is the worker's client channel, e.g. http://worker/clients/ws.
	Endpoint string
	// PageURL is the page origin used to resolve relative window URLs.
	PageURL string
	Logger  logger.Logger
}

// WindowInfo is the page-side view of an open window.
type WindowInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

type window struct {
	WindowInfo
	conn *Conn
}

// Host is the page side of the client channel. It keeps a host connection
// to the worker, opens windows on request and collects the notifications
// the worker shows in them.
type Host struct {
	endpoint string
	pageURL  *url.URL
	log      logger.Logger

	mu      sync.Mutex
	host    *Conn
	windows map[string]*window
	recent  []*notify.Notification
	wg      sync.WaitGroup
}

// NewHost validates cfg and returns an unconnected Host.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Newf("client channel endpoint is required").
			Component("clients").
			Category(errors.CategoryConfiguration).
			Build()
	}
	page, err := url.Parse(cfg.PageURL)
	if err != nil {
		return nil, errors.New(err).Component("clients").Category(errors.CategoryConfiguration).Build()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Host{
		endpoint: cfg.Endpoint,
		pageURL:  page,
		log:      log.Module("clients-host"),
		windows:  make(map[string]*window),
	}, nil
}

// Run keeps the host connection open until ctx is done, redialing with
// backoff when the worker goes away.
func (h *Host) Run(ctx context.Context) error {
	delay := minRedial
	for {
		conn, err := Dial(ctx, h.endpoint, DialOptions{PageURL: h.pageURL.String(), Role: RoleHost})
		if err == nil {
			delay = minRedial
			h.mu.Lock()
			h.host = conn
			h.mu.Unlock()
			h.log.Info("connected to worker", logger.String("client_id", conn.ID))

			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			h.serveHost(ctx, conn)
			stop()

			h.mu.Lock()
			h.host = nil
			h.mu.Unlock()
		} else {
			h.log.Warn("worker unreachable", logger.Error(err), logger.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			h.closeWindows()
			h.wg.Wait()
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRedial)
	}
}

func (h *Host) serveHost(ctx context.Context, conn *Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				h.log.Debug("host connection closed", logger.Error(err))
			}
			return
		}
		switch msg.Type {
		case MsgOpenWindow:
			reply := Message{Type: MsgWindowOpened, RequestID: msg.RequestID}
			w, err := h.Open(ctx, msg.URL)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.ClientID = w.ID
				reply.URL = w.URL
			}
			if err := conn.Send(reply); err != nil {
				h.log.Warn("window-opened reply failed", logger.Error(err))
			}
		case MsgControllerChange:
			h.log.Info("worker took control of the page")
		default:
			h.log.Debug("ignoring host message", logger.String("type", msg.Type))
		}
	}
}

// Open connects a new focused window at rawURL, resolved against the page
// URL.
func (h *Host) Open(ctx context.Context, rawURL string) (WindowInfo, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return WindowInfo{}, errors.New(err).Component("clients").Category(errors.CategoryValidation).Build()
	}
	target := h.pageURL.ResolveReference(ref).String()

	conn, err := Dial(ctx, h.endpoint, DialOptions{PageURL: target, Role: RoleWindow, Focused: true})
	if err != nil {
		return WindowInfo{}, err
	}
	w := &window{WindowInfo: WindowInfo{ID: conn.ID, URL: target, Focused: true}, conn: conn}

	h.mu.Lock()
	for _, other := range h.windows {
		other.Focused = false
	}
	h.windows[w.ID] = w
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.serveWindow(w)
	}()
	h.log.Debug("opened window", logger.String("client_id", w.ID), logger.String("url", target))
	return w.WindowInfo, nil
}

func (h *Host) serveWindow(w *window) {
	defer func() {
		h.mu.Lock()
		delete(h.windows, w.ID)
		h.mu.Unlock()
	}()
	for {
		msg, err := w.conn.Receive()
		if err != nil {
			return
		}
		h.mu.Lock()
		switch msg.Type {
		case MsgFocus:
			for _, other := range h.windows {
				other.Focused = other == w
			}
		case MsgNavigate:
			w.URL = msg.URL
		case MsgNotification:
			if msg.Notification != nil {
				h.recent = append(h.recent, msg.Notification)
				if len(h.recent) > recentNotifications {
					h.recent = slices.Delete(h.recent, 0, len(h.recent)-recentNotifications)
				}
			}
		}
		h.mu.Unlock()
	}
}

// Connected reports whether the host connection is up.
func (h *Host) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host != nil
}

// Windows lists the open windows.
func (h *Host) Windows() []WindowInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]WindowInfo, 0, len(h.windows))
	for _, w := range h.windows {
		out = append(out, w.WindowInfo)
	}
	slices.SortFunc(out, func(a, b WindowInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Notifications returns the most recent notifications shown in windows,
// oldest first. The same notification shown in several windows is listed
// once.
func (h *Host) Notifications() []*notify.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]bool, len(h.recent))
	out := make([]*notify.Notification, 0, len(h.recent))
	for _, n := range h.recent {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}

// Click reports a notification click to the worker.
func (h *Host) Click(notificationID string) error {
	return h.sendHost(Message{Type: MsgNotificationClick, NotificationID: notificationID})
}

// Dismiss reports a notification close to the worker.
func (h *Host) Dismiss(notificationID string) error {
	return h.sendHost(Message{Type: MsgNotificationClose, NotificationID: notificationID})
}

func (h *Host) sendHost(msg Message) error {
	h.mu.Lock()
	conn := h.host
	h.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

func (h *Host) closeWindows() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.windows))
	for _, w := range h.windows {
		conns = append(conns, w.conn)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
