package collab

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type clientConfig struct {
	room         *Room
	logger       *slog.Logger
	dialer       *websocket.Dialer
	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

// ClientOption configures a client before dialing.
type ClientOption func(*clientConfig)

// WithClientRoom connects using an existing room replica instead of a
// fresh one. The room keeps its entries and clock, so dialing with a
// previously synced room only transfers what changed since.
func WithClientRoom(room *Room) ClientOption {
	return func(c *clientConfig) {
		c.room = room
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *clientConfig) {
		c.dialer = d
	}
}

// Client is one remote replica of a room, connected to a hub. Local
// writes to the room's shared signals are pushed to the hub, and
// updates from the hub are merged on the client's loop goroutine.
type Client struct {
	room          *Room
	loop          *Loop
	conn          *websocket.Conn
	logger        *slog.Logger
	cfg           *clientConfig
	serverReplica string

	writeMu sync.Mutex
	done    chan struct{}
	closed  atomic.Bool
	unwatch func()
}

// Dial connects to a hub, joins roomID, and syncs state. serverURL is
// the hub's base URL; http and https schemes are translated to ws and
// wss, so an httptest server URL works directly. The welcome snapshot
// is applied before Dial returns, on the calling goroutine.
func Dial(ctx context.Context, serverURL, roomID string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("component", "client", "room", roomID)
	if cfg.dialer == nil {
		cfg.dialer = websocket.DefaultDialer
	}
	d := DefaultHubConfig()
	if cfg.readTimeout <= 0 {
		cfg.readTimeout = d.ReadTimeout
	}
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = d.WriteTimeout
	}
	if cfg.pingInterval <= 0 {
		cfg.pingInterval = d.PingInterval
	}
	if cfg.room == nil {
		cfg.room = NewRoom(roomID, WithRoomLogger(cfg.logger))
	} else if cfg.room.ID() != roomID {
		return nil, fmt.Errorf("collab: room %q does not match dial target %q", cfg.room.ID(), roomID)
	}

	wsURL, err := roomURL(serverURL, roomID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := cfg.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("collab: dial %s: %w", wsURL, err)
	}

	c := &Client{
		room:   cfg.room,
		conn:   conn,
		logger: cfg.logger,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
	if err := c.join(roomID); err != nil {
		conn.Close()
		return nil, err
	}

	c.loop = NewLoop(cfg.logger, 0)
	c.loop.Start()
	c.unwatch = c.room.Watch(c.sendEntries)

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// join performs the hello/welcome handshake and applies the snapshot.
func (c *Client) join(roomID string) error {
	hello := &Hello{
		Version:    ProtocolVersion,
		Room:       roomID,
		Replica:    c.room.Replica(),
		SinceClock: c.room.SyncedClock(),
	}
	frame := NewFrame(FrameHello, EncodeHello(hello)).Encode()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("collab: send hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("collab: read welcome: %w", err)
	}
	f, err := DecodeFrame(msg)
	if err != nil {
		return fmt.Errorf("collab: decode welcome: %w", err)
	}
	if f.Type != FrameWelcome {
		return fmt.Errorf("collab: expected welcome, got %s frame", f.Type)
	}
	w, err := DecodeWelcome(f.Payload)
	if err != nil {
		return fmt.Errorf("collab: decode welcome: %w", err)
	}
	if w.Status != JoinOK {
		return fmt.Errorf("collab: join %s: %s", roomID, w.Status)
	}

	c.serverReplica = w.Replica

	// Writes made while offline never reached the hub. Snapshot them
	// before merging the welcome, then push them up; entries the hub
	// already has lose the merge there and go no further.
	pending := c.room.Entries()
	c.room.Apply(w.Entries)
	c.room.markSeen(w.Clock)
	if len(pending) > 0 {
		c.sendEntries(pending)
	}

	c.logger.Info("joined",
		"server_replica", w.Replica,
		"server_clock", w.Clock,
		"entries", len(w.Entries))
	return nil
}

// Room returns the client's room replica.
func (c *Client) Room() *Room { return c.room }

// Loop returns the goroutine that owns the room's signals.
func (c *Client) Loop() *Loop { return c.loop }

// ServerReplica returns the hub's replica ID for this room.
func (c *Client) ServerReplica() string { return c.serverReplica }

// Dispatch queues fn onto the client's loop.
func (c *Client) Dispatch(fn func()) { c.loop.Dispatch(fn) }

// Do runs fn on the client's loop and waits for it.
func (c *Client) Do(fn func()) { c.loop.Do(fn) }

// Done returns a channel closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// sendEntries pushes locally written entries to the hub.
func (c *Client) sendEntries(entries []Entry) {
	if c.closed.Load() {
		return
	}
	msg := updateFrame(entries)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		c.logger.Error("send failed", "error", err)
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))

		frame, err := DecodeFrame(msg)
		if err != nil {
			c.logger.Warn("frame decode error", "error", err)
			continue
		}
		switch frame.Type {
		case FrameUpdate:
			u, err := DecodeUpdate(frame.Payload)
			if err != nil {
				c.logger.Warn("update decode error", "error", err)
				continue
			}
			c.loop.Dispatch(func() {
				c.room.Apply(u.Entries)
			})

		default:
			c.logger.Warn("unexpected frame", "type", frame.Type.String())
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Close stops publishing, stops the loop, and closes the connection.
// The room and its signals stay usable; a later Dial with
// WithClientRoom resumes from the room's clock.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.unwatch()
	c.loop.Close()
	close(c.done)

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.writeTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// roomURL builds the WebSocket URL for a room from the hub's base URL.
func roomURL(serverURL, roomID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("collab: parse url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("collab: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rooms/" + roomID + "/ws"
	return u.String(), nil
}
