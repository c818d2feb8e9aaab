// Package inspector exposes a runtime's graph over HTTP for debugging:
// JSON snapshots of nodes and edges, cumulative counters, an optional
// Prometheus endpoint and a live event stream over WebSocket.
//
// The event stream is fed by runtime hooks, which exist before the
// runtime does, so wiring is two-phase:
//
//	insp := inspector.New()
//	rt := reactive.New(reactive.WithHooks(insp.Hooks()))
//	insp.Attach(rt)
//	http.ListenAndServe(":6060", insp.Routes())
//
// The stream is best effort: slow subscribers miss events rather than
// stall the runtime.
package inspector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

const (
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
	defaultSendQueue = 256
)

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Inspector) {
		i.logger = logger
	}
}

// WithRegistry enables GET /metrics, serving the given gatherer in
// Prometheus exposition format. Pass the registry the telemetry
// collector registered into.
func WithRegistry(g prometheus.Gatherer) Option {
	return func(i *Inspector) {
		i.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
}

// WithCheckOrigin sets the origin check for WebSocket upgrades. By
// default same-origin requests are required.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(i *Inspector) {
		i.upgrader.CheckOrigin = fn
	}
}

// WithSendQueue sets the per-subscriber event buffer.
func WithSendQueue(n int) Option {
	return func(i *Inspector) {
		if n > 0 {
			i.sendQueue = n
		}
	}
}

// Inspector serves a runtime's internals for debugging dashboards.
type Inspector struct {
	logger    *slog.Logger
	metrics   http.Handler
	upgrader  websocket.Upgrader
	sendQueue int

	mu      sync.Mutex
	rt      *reactive.Runtime
	subs    map[uint64]*subscriber
	nextSub uint64

	closed atomic.Bool
}

// New creates an inspector. Call Attach once the runtime exists.
func New(opts ...Option) *Inspector {
	i := &Inspector{
		logger:    slog.Default(),
		sendQueue: defaultSendQueue,
		subs:      make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "inspector")
	return i
}

// Attach binds the runtime whose graph /graph and /stats serve.
func (i *Inspector) Attach(rt *reactive.Runtime) {
	i.mu.Lock()
	i.rt = rt
	i.mu.Unlock()
}

func (i *Inspector) runtime() *reactive.Runtime {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rt
}

// Routes returns the inspector's HTTP routes, ready to mount:
//
//	GET /graph    node and edge snapshot as JSON
//	GET /stats    cumulative counters as JSON
//	GET /healthz  liveness probe
//	GET /metrics  Prometheus exposition (404 unless WithRegistry)
//	GET /ws       live event stream
func (i *Inspector) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/graph", i.handleGraph)
	r.Get("/stats", i.handleStats)
	r.Get("/healthz", i.handleHealthz)
	r.Get("/metrics", i.handleMetrics)
	r.Get("/ws", i.handleWS)
	return r
}

func (i *Inspector) handleGraph(w http.ResponseWriter, r *http.Request) {
	rt := i.runtime()
	if rt == nil {
		http.Error(w, "no runtime attached", http.StatusServiceUnavailable)
		return
	}
	i.writeJSON(w, rt.Snapshot())
}

func (i *Inspector) handleStats(w http.ResponseWriter, r *http.Request) {
	rt := i.runtime()
	if rt == nil {
		http.Error(w, "no runtime attached", http.StatusServiceUnavailable)
		return
	}
	i.writeJSON(w, rt.Stats())
}

func (i *Inspector) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (i *Inspector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if i.metrics == nil {
		http.NotFound(w, r)
		return
	}
	i.metrics.ServeHTTP(w, r)
}

func (i *Inspector) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		i.logger.Warn("encode response", "error", err)
	}
}

// Close disconnects all stream subscribers. Further upgrade requests
// are refused; the JSON endpoints keep working.
func (i *Inspector) Close() {
	if i.closed.Swap(true) {
		return
	}
	i.mu.Lock()
	subs := make([]*subscriber, 0, len(i.subs))
	for _, s := range i.subs {
		subs = append(subs, s)
	}
	i.subs = make(map[uint64]*subscriber)
	i.mu.Unlock()

	for _, s := range subs {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "inspector closed"),
			time.Now().Add(writeTimeout))
		s.close()
	}
}
