package clients

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storyapp/storyapp/internal/errors"
	"github.com/storyapp/storyapp/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 32 * 1024
	sendBufferSize = 32
)

// Sink errors.
var (
	ErrClientGone = errors.NewStd("client disconnected")
	ErrClientSlow = errors.NewStd("client send buffer full")
)

// NewUpgrader returns a websocket upgrader accepting same-host origins,
// requests without an Origin header and any origin in allowed.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if slices.Contains(allowed, origin) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

type wsSink struct {
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSink() *wsSink {
	return &wsSink{send: make(chan Message, sendBufferSize), done: make(chan struct{})}
}

func (s *wsSink) Send(msg Message) error {
	select {
	case <-s.done:
		return ErrClientGone
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrClientGone
	default:
		return ErrClientSlow
	}
}

func (s *wsSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// ServeWS upgrades the request and serves the client until it disconnects.
// Query parameters: url (current page URL), role (window or host), focused
// and id (reuse a previous client id).
func (h *Hub) ServeWS(ctx context.Context, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	q := r.URL.Query()
	role := Role(q.Get("role"))
	if role != RoleHost {
		role = RoleWindow
	}
	focused, _ := strconv.ParseBool(q.Get("focused"))

	sink := newWSSink()
	info := h.Register(q.Get("id"), q.Get("url"), role, focused, sink)
	log := h.log.With(logger.String("client_id", info.ID))
	_ = sink.Send(Message{Type: MsgHello, ClientID: info.ID, URL: info.URL})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, sink)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("client read failed", logger.Error(err))
			}
			break
		}
		h.Handle(ctx, info.ID, msg)
	}

	h.Unregister(info.ID)
	_ = sink.Close()
	<-writerDone
	log.Debug("client disconnected")
	return nil
}

func (h *Hub) writePump(conn *websocket.Conn, sink *wsSink) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg := <-sink.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				_ = sink.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = sink.Close()
				return
			}
		case <-sink.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Conn is the page side of a client connection.
type Conn struct {
	ID   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DialOptions describe the connecting page.
type DialOptions struct {
	PageURL string
	Role    Role
	Focused bool
	Header  http.Header
}

// Dial connects to the worker's client endpoint (http or ws URL of
// /clients/ws) and waits for the hello frame carrying the client id.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if opts.PageURL != "" {
		q.Set("url", opts.PageURL)
	}
	if opts.Role != "" {
		q.Set("role", string(opts.Role))
	}
	if opts.Focused {
		q.Set("focused", "true")
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		return nil, errors.New(err).Component("clients").Category(errors.CategoryNetwork).Build()
	}
	c := &Conn{conn: ws}
	hello, err := c.Receive()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if hello.Type != MsgHello {
		_ = ws.Close()
		return nil, errors.Newf("unexpected first frame %q", hello.Type).Component("clients").Build()
	}
	c.ID = hello.ClientID
	return c, nil
}

// Send writes one frame.
func (c *Conn) Send(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Receive reads the next frame. Pings are answered automatically.
func (c *Conn) Receive() (Message, error) {
	var msg Message
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
