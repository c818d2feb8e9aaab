package inspector

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// Event stream message types.
const (
	EventSnapshot      = "snapshot"
	EventNodeCreated   = "node_created"
	EventSignalWrite   = "signal_write"
	EventMemoRecompute = "memo_recompute"
	EventEffectRun     = "effect_run"
	EventNodeDisposed  = "node_disposed"
	EventStorm         = "storm"
)

// Event is one message on the /ws stream, as JSON text. The first
// message on every connection is a snapshot; everything after mirrors
// the runtime hooks that produced it.
type Event struct {
	Type       string             `json:"type"`
	Node       *reactive.NodeInfo `json:"node,omitempty"`
	DurationNS int64              `json:"duration_ns,omitempty"`
	Runs       int                `json:"runs,omitempty"`
	Snapshot   *reactive.Snapshot `json:"snapshot,omitempty"`
}

// Hooks returns the hook set feeding the event stream. Attach it with
// reactive.WithHooks, or combine it with others via telemetry.Merge.
func (i *Inspector) Hooks() reactive.Hooks {
	return reactive.Hooks{
		OnNodeCreated: func(info reactive.NodeInfo) {
			i.publish(Event{Type: EventNodeCreated, Node: &info})
		},
		OnSignalWrite: func(info reactive.NodeInfo) {
			i.publish(Event{Type: EventSignalWrite, Node: &info})
		},
		OnMemoRecompute: func(info reactive.NodeInfo, d time.Duration) {
			i.publish(Event{Type: EventMemoRecompute, Node: &info, DurationNS: d.Nanoseconds()})
		},
		OnEffectRun: func(info reactive.NodeInfo, d time.Duration) {
			i.publish(Event{Type: EventEffectRun, Node: &info, DurationNS: d.Nanoseconds()})
		},
		OnNodeDisposed: func(info reactive.NodeInfo) {
			i.publish(Event{Type: EventNodeDisposed, Node: &info})
		},
		OnStorm: func(info reactive.NodeInfo, runs int) {
			i.publish(Event{Type: EventStorm, Node: &info, Runs: runs})
		},
	}
}

// publish fans an event out to every subscriber. Runs on the runtime's
// goroutine, so it never blocks: a subscriber with a full queue loses
// the event.
func (i *Inspector) publish(ev Event) {
	i.mu.Lock()
	if len(i.subs) == 0 {
		i.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(i.subs))
	for _, s := range i.subs {
		subs = append(subs, s)
	}
	i.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		i.logger.Warn("encode event", "type", ev.Type, "error", err)
		return
	}
	for _, s := range subs {
		select {
		case s.send <- data:
		default:
			i.logger.Warn("subscriber queue full, dropping event", "subscriber", s.id, "type", ev.Type)
		}
	}
}

type subscriber struct {
	id     uint64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func (s *subscriber) close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
	s.conn.Close()
}

func (i *Inspector) handleWS(w http.ResponseWriter, r *http.Request) {
	if i.closed.Load() {
		http.Error(w, "inspector closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, i.sendQueue),
		done: make(chan struct{}),
	}

	// Register before snapshotting so nothing after the snapshot point
	// is missed; an event that lands in between shows up both queued
	// and inside the snapshot, which a debugging client tolerates.
	i.mu.Lock()
	i.nextSub++
	sub.id = i.nextSub
	i.subs[sub.id] = sub
	rt := i.rt
	i.mu.Unlock()

	var first Event
	if rt != nil {
		snap := rt.Snapshot()
		first = Event{Type: EventSnapshot, Snapshot: &snap}
	} else {
		first = Event{Type: EventSnapshot}
	}
	data, err := json.Marshal(first)
	if err == nil {
		sub.send <- data
	}

	i.logger.Debug("subscriber connected", "subscriber", sub.id)
	go i.writePump(sub)
	i.readPump(sub)
}

// readPump consumes the connection until the peer goes away. The
// stream is one-way; inbound data frames are discarded.
func (i *Inspector) readPump(sub *subscriber) {
	defer func() {
		i.removeSub(sub.id)
		sub.close()
		i.logger.Debug("subscriber disconnected", "subscriber", sub.id)
	}()

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				i.logger.Warn("subscriber read failed", "subscriber", sub.id, "error", err)
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (i *Inspector) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sub.close()
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (i *Inspector) removeSub(id uint64) {
	i.mu.Lock()
	delete(i.subs, id)
	i.mu.Unlock()
}
