package collab

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(&HubConfig{Logger: quietLogger()})
	srv := httptest.NewServer(hub.Routes())
	t.Cleanup(func() {
		hub.Shutdown(context.Background())
		srv.Close()
	})
	return hub, srv
}

func dialClient(t *testing.T, serverURL, roomID string, opts ...ClientOption) *Client {
	t.Helper()
	opts = append(opts, WithClientLogger(quietLogger()))
	c, err := Dial(context.Background(), serverURL, roomID, opts...)
	if err != nil {
		t.Fatalf("Dial(%q, %q) failed: %v", serverURL, roomID, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recvInt(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("received %d, want %d", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %d", want)
	}
}

func entryValue(r *Room, key string) string {
	for _, e := range r.Entries() {
		if e.Key == key {
			return string(e.Value)
		}
	}
	return ""
}

func TestHubTwoClientSync(t *testing.T) {
	hub, srv := newTestHub(t)

	a := dialClient(t, srv.URL, "doc")
	b := dialClient(t, srv.URL, "doc")

	got := make(chan int, 16)
	b.Do(func() {
		sig := SignalFor(b.Room(), "count", 0)
		reactive.NewEffect(b.Room().Runtime(), func() reactive.Cleanup {
			got <- sig.Get()
			return nil
		})
	})
	recvInt(t, got, 0)

	a.Do(func() {
		SignalFor(a.Room(), "count", 0).Set(42)
	})
	recvInt(t, got, 42)

	// The hub's own replica converged too.
	room, _ := hub.Room("doc")
	waitUntil(t, "hub room to converge", func() bool {
		return entryValue(room, "count") == "42"
	})
}

func TestHubLateJoinerGetsSnapshot(t *testing.T) {
	hub, srv := newTestHub(t)

	a := dialClient(t, srv.URL, "doc")
	a.Do(func() {
		SignalFor(a.Room(), "title", "").Set("meeting notes")
		SignalFor(a.Room(), "count", 0).Set(3)
	})

	room, _ := hub.Room("doc")
	waitUntil(t, "hub to receive both entries", func() bool {
		return room.Len() == 2
	})

	// Dial applies the welcome snapshot before returning.
	b := dialClient(t, srv.URL, "doc")
	if got := b.Room().Len(); got != 2 {
		t.Fatalf("late joiner has %d entries, want 2", got)
	}
	var title string
	b.Do(func() {
		title = SignalFor(b.Room(), "title", "").Peek()
	})
	if title != "meeting notes" {
		t.Errorf("title = %q, want %q", title, "meeting notes")
	}
}

func TestHubServerSideWrites(t *testing.T) {
	hub, srv := newTestHub(t)

	room, loop := hub.Room("doc")
	loop.Do(func() {
		SignalFor(room, "motd", "").Set("welcome")
	})

	c := dialClient(t, srv.URL, "doc")

	var motd string
	c.Do(func() {
		motd = SignalFor(c.Room(), "motd", "").Peek()
	})
	if motd != "welcome" {
		t.Fatalf("motd = %q, want %q", motd, "welcome")
	}

	// Later server-side writes stream to connected clients.
	loop.Do(func() {
		SignalFor(room, "motd", "").Set("maintenance at noon")
	})
	waitUntil(t, "client to receive the new motd", func() bool {
		return entryValue(c.Room(), "motd") == `"maintenance at noon"`
	})
}

func TestHubConcurrentWritersConverge(t *testing.T) {
	hub, srv := newTestHub(t)

	a := dialClient(t, srv.URL, "doc")
	b := dialClient(t, srv.URL, "doc")

	a.Do(func() { SignalFor(a.Room(), "owner", "").Set("alice") })
	b.Do(func() { SignalFor(b.Room(), "owner", "").Set("bob") })

	room, _ := hub.Room("doc")
	waitUntil(t, "all replicas to agree", func() bool {
		v := entryValue(room, "owner")
		if v == "" {
			return false
		}
		return entryValue(a.Room(), "owner") == v && entryValue(b.Room(), "owner") == v
	})

	got := entryValue(room, "owner")
	if got != `"alice"` && got != `"bob"` {
		t.Errorf("converged value = %q, want one of the two writes", got)
	}
}

func TestHubCounts(t *testing.T) {
	hub, srv := newTestHub(t)

	dialClient(t, srv.URL, "doc")
	dialClient(t, srv.URL, "doc")
	dialClient(t, srv.URL, "other")

	waitUntil(t, "hub to register connections", func() bool {
		rooms, conns := hub.Counts()
		return rooms == 2 && conns == 3
	})
}

func TestClientResumeSyncsBothWays(t *testing.T) {
	hub, srv := newTestHub(t)

	room := NewRoom("doc", WithRoomLogger(quietLogger()))
	a := dialClient(t, srv.URL, "doc", WithClientRoom(room))
	a.Do(func() { SignalFor(room, "x", 0).Set(1) })

	hubRoom, hubLoop := hub.Room("doc")
	waitUntil(t, "hub to receive x", func() bool {
		return entryValue(hubRoom, "x") == "1"
	})
	a.Close()

	// While offline: the hub moves on and the client writes locally.
	hubLoop.Do(func() { SignalFor(hubRoom, "y", 0).Set(2) })
	SignalFor(room, "z", 0).Set(3)

	resumed := dialClient(t, srv.URL, "doc", WithClientRoom(room))
	defer resumed.Close()

	// The welcome delivered y immediately.
	if got := entryValue(room, "y"); got != "2" {
		t.Errorf("y = %q, want %q after resume", got, "2")
	}
	// The offline write z reaches the hub.
	waitUntil(t, "hub to receive z", func() bool {
		return entryValue(hubRoom, "z") == "3"
	})
}

func TestClientRoomMismatch(t *testing.T) {
	_, srv := newTestHub(t)

	room := NewRoom("other", WithRoomLogger(quietLogger()))
	_, err := Dial(context.Background(), srv.URL, "doc", WithClientRoom(room))
	if err == nil {
		t.Fatal("expected an error when the room does not match the dial target")
	}
}

func TestHubShutdownDisconnectsClients(t *testing.T) {
	hub, srv := newTestHub(t)

	c := dialClient(t, srv.URL, "doc")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client not disconnected by shutdown")
	}

	if _, err := Dial(context.Background(), srv.URL, "doc", WithClientLogger(quietLogger())); err == nil {
		t.Error("expected dial to fail after shutdown")
	}
}

// Raw-frame helpers for handshake failure cases.

func wsURL(t *testing.T, baseURL, path string) string {
	t.Helper()
	if !strings.HasPrefix(baseURL, "http") {
		t.Fatalf("unexpected base URL: %q", baseURL)
	}
	return "ws" + strings.TrimPrefix(baseURL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%q) failed: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWelcome(t *testing.T, conn *websocket.Conn) *Welcome {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome failed: %v", err)
	}
	frame, err := DecodeFrame(msg)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if frame.Type != FrameWelcome {
		t.Fatalf("frame type = %v, want %v", frame.Type, FrameWelcome)
	}
	w, err := DecodeWelcome(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeWelcome failed: %v", err)
	}
	return w
}

func TestHubRejectsBadJoins(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  JoinStatus
	}{
		{
			name: "version_mismatch",
			frame: NewFrame(FrameHello, EncodeHello(&Hello{
				Version: 99, Room: "doc", Replica: "r",
			})).Encode(),
			want: JoinVersionMismatch,
		},
		{
			name: "room_mismatch",
			frame: NewFrame(FrameHello, EncodeHello(&Hello{
				Version: ProtocolVersion, Room: "other", Replica: "r",
			})).Encode(),
			want: JoinBadHello,
		},
		{
			name: "empty_replica",
			frame: NewFrame(FrameHello, EncodeHello(&Hello{
				Version: ProtocolVersion, Room: "doc", Replica: "",
			})).Encode(),
			want: JoinBadHello,
		},
		{
			name:  "update_before_hello",
			frame: updateFrame([]Entry{{Key: "k", Value: []byte(`1`), Clock: 1, Replica: "r"}}),
			want:  JoinBadHello,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newTestHub(t)
			conn := dialWS(t, wsURL(t, srv.URL, "/rooms/doc/ws"))

			if err := conn.WriteMessage(websocket.BinaryMessage, tc.frame); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			w := readWelcome(t, conn)
			if w.Status != tc.want {
				t.Errorf("Status = %v, want %v", w.Status, tc.want)
			}
		})
	}
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		room    string
		want    string
		wantErr bool
	}{
		{
			name: "http",
			base: "http://127.0.0.1:8080",
			room: "doc",
			want: "ws://127.0.0.1:8080/rooms/doc/ws",
		},
		{
			name: "https",
			base: "https://example.com",
			room: "doc",
			want: "wss://example.com/rooms/doc/ws",
		},
		{
			name: "ws_with_prefix",
			base: "ws://example.com/collab/",
			room: "doc",
			want: "ws://example.com/collab/rooms/doc/ws",
		},
		{
			name:    "bad_scheme",
			base:    "ftp://example.com",
			room:    "doc",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := roomURL(tc.base, tc.room)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("roomURL() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("roomURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
