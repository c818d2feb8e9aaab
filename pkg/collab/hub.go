package collab

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HubConfig configures the WebSocket hub.
type HubConfig struct {
	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int

	// ReadLimit is the maximum incoming message size in bytes.
	ReadLimit int64

	// ReadTimeout is how long a connection may stay silent. Pings
	// count, so it must exceed PingInterval.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	WriteTimeout time.Duration

	// PingInterval is the time between keepalive pings.
	PingInterval time.Duration

	// SendQueue is the per-connection outgoing message buffer. When it
	// fills, further updates for that connection are dropped.
	SendQueue int

	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(*http.Request) bool

	// RoomOptions are applied to every room the hub creates.
	RoomOptions []RoomOption

	// Logger receives connection lifecycle and error logs.
	Logger *slog.Logger
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		ReadLimit:       1 << 20,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		SendQueue:       256,
	}
}

func (c *HubConfig) normalize() {
	d := DefaultHubConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hub serves rooms over WebSocket. Each room gets its own loop
// goroutine that serializes merges, so connections for the same room
// never race on its signals. Rooms are created on first join and kept
// alive when the last connection leaves, preserving state for
// reconnects.
type Hub struct {
	cfg      *HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*hubRoom
	closed atomic.Bool
}

type hubRoom struct {
	room *Room
	loop *Loop

	mu    sync.Mutex
	conns map[string]*hubConn
}

type hubConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

// NewHub creates a hub. A nil config uses defaults; zero-valued fields
// are filled in from the defaults.
func NewHub(cfg *HubConfig) *Hub {
	if cfg == nil {
		cfg = DefaultHubConfig()
	}
	cfg.normalize()

	h := &Hub{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "hub"),
		rooms:  make(map[string]*hubRoom),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}
	if cfg.CheckOrigin != nil {
		h.upgrader.CheckOrigin = cfg.CheckOrigin
	}
	return h
}

// Routes returns the hub's HTTP routes. Mount them under the path
// prefix clients dial, for example at the server root for
// /rooms/{roomID}/ws.
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/rooms/{roomID}/ws", h.handleWS)
	return r
}

// Room returns the named room and its loop, creating both on first
// use. Server-side code joins the replicated state this way; signal
// operations on the returned room must run on the returned loop.
func (h *Hub) Room(id string) (*Room, *Loop) {
	hr := h.getOrCreateRoom(id)
	return hr.room, hr.loop
}

// Counts reports the number of live rooms and connections.
func (h *Hub) Counts() (rooms, conns int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hr := range h.rooms {
		hr.mu.Lock()
		conns += len(hr.conns)
		hr.mu.Unlock()
	}
	return len(h.rooms), conns
}

func (h *Hub) getOrCreateRoom(id string) *hubRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hr, ok := h.rooms[id]; ok {
		return hr
	}

	opts := append([]RoomOption{WithRoomLogger(h.logger)}, h.cfg.RoomOptions...)
	hr := &hubRoom{
		room:  NewRoom(id, opts...),
		loop:  NewLoop(h.logger, 0),
		conns: make(map[string]*hubConn),
	}
	// Server-side writes reach every connection. Remote writes are
	// rebroadcast from the read pump, which can exclude the sender.
	hr.room.Watch(func(entries []Entry) {
		h.broadcast(hr, entries, "")
	})
	hr.loop.Start()
	h.rooms[id] = hr
	return hr
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	roomID := chi.URLParam(r, "roomID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", "room", roomID, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	hello, err := h.readHello(conn)
	if err != nil {
		h.logger.Warn("bad hello", "room", roomID, "error", err)
		h.rejectJoin(conn, JoinBadHello)
		return
	}
	if hello.Version != ProtocolVersion {
		h.logger.Warn("version mismatch", "room", roomID, "version", hello.Version)
		h.rejectJoin(conn, JoinVersionMismatch)
		return
	}
	if hello.Room != roomID || hello.Replica == "" {
		h.rejectJoin(conn, JoinBadHello)
		return
	}

	hr := h.getOrCreateRoom(roomID)
	c := &hubConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendQueue),
		done: make(chan struct{}),
	}

	// Register before snapshotting: a write landing in between is
	// queued on the connection AND may appear in the snapshot, and the
	// merge drops the duplicate. Registering after would lose it.
	// The write pump is not running yet, so the welcome write below
	// has the connection to itself.
	hr.addConn(c)
	welcome := &Welcome{
		Status:  JoinOK,
		Replica: hr.room.Replica(),
		Clock:   hr.room.Clock(),
		Entries: hr.room.EntriesSince(hello.SinceClock),
	}
	frame := NewFrame(FrameWelcome, EncodeWelcome(welcome)).Encode()
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		h.logger.Error("welcome failed", "room", roomID, "error", err)
		hr.removeConn(c.id)
		c.close()
		return
	}
	h.logger.Info("replica joined",
		"room", roomID,
		"replica", hello.Replica,
		"conn", c.id,
		"since_clock", hello.SinceClock)

	go h.writePump(c)
	h.readPump(hr, c)
}

// readHello reads the first frame of a connection, which must be a
// hello.
func (h *Hub) readHello(conn *websocket.Conn) (*Hello, error) {
	conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(msg)
	if err != nil {
		return nil, err
	}
	if frame.Type != FrameHello {
		return nil, ErrBadFrame
	}
	return DecodeHello(frame.Payload)
}

// rejectJoin sends an error welcome and closes the connection.
func (h *Hub) rejectJoin(conn *websocket.Conn, status JoinStatus) {
	frame := NewFrame(FrameWelcome, EncodeWelcome(NewWelcomeError(status))).Encode()
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	conn.WriteMessage(websocket.BinaryMessage, frame)
	conn.Close()
}

// readPump reads frames from one connection until it drops. Updates
// are merged on the room loop and the winners fan out to the other
// connections.
func (h *Hub) readPump(hr *hubRoom, c *hubConn) {
	defer func() {
		hr.removeConn(c.id)
		c.close()
		h.logger.Info("replica left", "room", hr.room.ID(), "conn", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Error("read error", "conn", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		frame, err := DecodeFrame(msg)
		if err != nil {
			h.logger.Warn("frame decode error", "conn", c.id, "error", err)
			continue
		}
		switch frame.Type {
		case FrameUpdate:
			u, err := DecodeUpdate(frame.Payload)
			if err != nil {
				h.logger.Warn("update decode error", "conn", c.id, "error", err)
				continue
			}
			hr.loop.Dispatch(func() {
				winners := hr.room.Apply(u.Entries)
				if len(winners) > 0 {
					h.broadcast(hr, winners, c.id)
				}
			})

		default:
			h.logger.Warn("unexpected frame", "type", frame.Type.String(), "conn", c.id)
		}
	}
}

// writePump owns all writes on one connection: queued updates and
// keepalive pings.
func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}

// broadcast queues an update frame on every connection in the room
// except the one named by exclude.
func (h *Hub) broadcast(hr *hubRoom, entries []Entry, exclude string) {
	msg := updateFrame(entries)

	hr.mu.Lock()
	conns := make([]*hubConn, 0, len(hr.conns))
	for _, c := range hr.conns {
		if c.id != exclude {
			conns = append(conns, c)
		}
	}
	hr.mu.Unlock()

	for _, c := range conns {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("send queue full, dropping update", "conn", c.id)
		}
	}
}

// Shutdown closes every connection and room loop. The context deadline
// bounds the close handshake writes.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	h.mu.Lock()
	rooms := make([]*hubRoom, 0, len(h.rooms))
	for _, hr := range h.rooms {
		rooms = append(rooms, hr)
	}
	h.mu.Unlock()

	for _, hr := range rooms {
		hr.loop.Close()
		hr.mu.Lock()
		conns := make([]*hubConn, 0, len(hr.conns))
		for _, c := range hr.conns {
			conns = append(conns, c)
		}
		hr.mu.Unlock()
		for _, c := range conns {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				deadline)
			c.close()
		}
		hr.room.Dispose()
	}
	h.logger.Info("hub stopped")
	return nil
}

func (hr *hubRoom) addConn(c *hubConn) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.conns[c.id] = c
}

func (hr *hubRoom) removeConn(id string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	delete(hr.conns, id)
}

func (c *hubConn) close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.conn.Close()
}
