package reactive

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultMaxCascade is the default bound on synchronous effect runs
// triggered by a single write. See WithMaxCascade.
const DefaultMaxCascade = 10000

// Config holds runtime configuration. Use DefaultConfig as the base and
// adjust via options.
type Config struct {
	// Logger receives runtime diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Hooks receive instrumentation callbacks.
	Hooks Hooks

	// MaxCascade bounds the synchronous effect runs triggered by one write.
	// 0 disables the bound.
	MaxCascade int
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		Logger:     slog.Default(),
		MaxCascade: DefaultMaxCascade,
	}
}

// Option configures a Runtime.
type Option func(*Config)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithHooks sets the instrumentation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Config) { c.Hooks = h }
}

// WithMaxCascade bounds the synchronous effect runs one write may trigger.
// Exceeding the bound panics with *StormError, so an effect that keeps
// rewriting its own dependency fails fast instead of recursing until the
// stack overflows. 0 disables the bound.
func WithMaxCascade(n int) Option {
	return func(c *Config) { c.MaxCascade = n }
}

// Runtime is the arena owning one reactive graph: the node registry, the
// dependency edges, the tracking stack and the propagation state. Nodes
// belong to exactly one Runtime and are addressed by uint64 handles.
//
// A Runtime is confined to a single goroutine of control; see the package
// documentation.
type Runtime struct {
	logger     *slog.Logger
	hooks      Hooks
	maxCascade int

	idc atomic.Uint64

	// gmu guards nodes, dependents, dependencies and disposed. It is held
	// only for map mutation and snapshots, never across user callbacks.
	gmu          sync.RWMutex
	nodes        map[uint64]node
	dependents   map[uint64][]uint64
	dependencies map[uint64][]uint64
	disposed     bool

	// Tracking and propagation state, touched only by the owning goroutine.
	frames      []*frame
	wave        uint64
	writeDepth  int
	cascadeRuns int
	batchDepth  int
	draining    bool
	pendingWave map[uint64]uint64
	pendingIDs  []uint64

	signalWrites   atomic.Uint64
	memoRecomputes atomic.Uint64
	effectRuns     atomic.Uint64
}

// New creates an empty Runtime.
func New(opts ...Option) *Runtime {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{
		logger:       cfg.Logger,
		hooks:        cfg.Hooks,
		maxCascade:   cfg.MaxCascade,
		nodes:        make(map[uint64]node),
		dependents:   make(map[uint64][]uint64),
		dependencies: make(map[uint64][]uint64),
		pendingWave:  make(map[uint64]uint64),
	}
}

func (rt *Runtime) newID() uint64 {
	return rt.idc.Add(1)
}

// register adds a node to the registry. Panics with ErrUseAfterDispose if
// the runtime has been disposed.
func (rt *Runtime) register(n node) {
	rt.gmu.Lock()
	if rt.disposed {
		rt.gmu.Unlock()
		panic(fmt.Errorf("%w: runtime", ErrUseAfterDispose))
	}
	rt.nodes[n.nodeID()] = n
	rt.gmu.Unlock()

	if h := rt.hooks.OnNodeCreated; h != nil {
		h(n.info())
	}
}

// removeNode deletes a node and every edge touching it, in both directions.
// Dependents of a removed provider keep recomputing; they simply no longer
// hold an edge to it. Safe to call twice.
func (rt *Runtime) removeNode(id uint64) {
	rt.gmu.Lock()
	n, ok := rt.nodes[id]
	if !ok {
		rt.gmu.Unlock()
		return
	}
	delete(rt.nodes, id)
	for _, p := range rt.dependencies[id] {
		rt.dependents[p] = removeID(rt.dependents[p], id)
	}
	delete(rt.dependencies, id)
	for _, c := range rt.dependents[id] {
		rt.dependencies[c] = removeID(rt.dependencies[c], id)
	}
	delete(rt.dependents, id)
	rt.gmu.Unlock()

	if h := rt.hooks.OnNodeDisposed; h != nil {
		h(n.info())
	}
}

func (rt *Runtime) consumerByID(id uint64) (consumer, bool) {
	rt.gmu.RLock()
	n, ok := rt.nodes[id]
	rt.gmu.RUnlock()
	if !ok {
		return nil, false
	}
	c, ok := n.(consumer)
	return c, ok
}

// propagation carries the state of one write's notification through the
// graph: the write's wave number, the consumers already visited, and the
// effects to run once marking is complete.
type propagation struct {
	wave uint64
	seen map[uint64]struct{}
	runs []*Effect
}

// propagate notifies the transitive dependents of a provider after a write,
// in two phases. Phase one walks the consumer closure marking memos dirty
// and collecting effects in first-reached order; no user code runs, so the
// walk cannot observe a half-updated graph. Phase two runs the collected
// effects synchronously, each of which pulls fresh memo values on read.
// Running everything only after marking everything is what keeps an effect
// behind a diamond from firing against one recomputed arm and one stale one.
//
// Each write gets a fresh wave number. An effect that already ran for a
// newer or equal wave (a nested write reached it first) is skipped. Nested
// writes from effect bodies re-enter here and cascade depth-first.
func (rt *Runtime) propagate(pid uint64) {
	rt.wave++
	pr := &propagation{wave: rt.wave, seen: make(map[uint64]struct{})}
	if rt.writeDepth == 0 && !rt.draining {
		rt.cascadeRuns = 0
	}
	rt.writeDepth++
	defer func() { rt.writeDepth-- }()

	rt.walkDependents(pid, pr)

	if rt.batchDepth > 0 {
		for _, e := range pr.runs {
			rt.enqueueEffect(e.id, pr.wave)
		}
		return
	}
	for _, e := range pr.runs {
		if e.disposed.Load() || e.lastWave >= pr.wave {
			continue
		}
		e.run(pr.wave)
	}
}

// walkDependents visits every consumer subscribed to the provider exactly
// once per propagation, over a snapshot of the edge list. The visited set
// spans the whole propagation, so converging paths deliver one notification
// and subscription cycles cannot loop the walk.
func (rt *Runtime) walkDependents(pid uint64, pr *propagation) {
	for _, cid := range rt.dependentsOf(pid) {
		if _, dup := pr.seen[cid]; dup {
			continue
		}
		pr.seen[cid] = struct{}{}
		if c, ok := rt.consumerByID(cid); ok {
			c.dependencyChanged(pr)
		}
	}
}

// noteCascadeRun counts an effect run against the current write's budget.
func (rt *Runtime) noteCascadeRun(e *Effect) {
	if rt.writeDepth == 0 && !rt.draining {
		return
	}
	rt.cascadeRuns++
	if rt.maxCascade > 0 && rt.cascadeRuns > rt.maxCascade {
		info := e.info()
		rt.logger.Warn("effect cascade budget exceeded",
			"effect", info.Name, "runs", rt.cascadeRuns, "budget", rt.maxCascade)
		if h := rt.hooks.OnStorm; h != nil {
			h(info, rt.cascadeRuns)
		}
		panic(&StormError{Node: info.Name, Runs: rt.cascadeRuns})
	}
}

// Dispose tears down the whole graph: every effect is disposed in reverse
// creation order (running its cleanup), then all nodes and edges are
// dropped. Creating nodes on a disposed runtime panics.
func (rt *Runtime) Dispose() {
	rt.gmu.Lock()
	if rt.disposed {
		rt.gmu.Unlock()
		return
	}
	rt.disposed = true
	effects := make([]*Effect, 0)
	for _, n := range rt.nodes {
		if e, ok := n.(*Effect); ok {
			effects = append(effects, e)
		}
	}
	rt.gmu.Unlock()

	sort.Slice(effects, func(i, j int) bool { return effects[i].id > effects[j].id })
	for _, e := range effects {
		e.Dispose()
	}

	rt.gmu.Lock()
	rest := make([]node, 0, len(rt.nodes))
	for _, n := range rt.nodes {
		n.markDisposed()
		rest = append(rest, n)
	}
	rt.nodes = make(map[uint64]node)
	rt.dependents = make(map[uint64][]uint64)
	rt.dependencies = make(map[uint64][]uint64)
	rt.gmu.Unlock()
	rt.pendingWave = make(map[uint64]uint64)
	rt.pendingIDs = nil

	if h := rt.hooks.OnNodeDisposed; h != nil {
		sort.Slice(rest, func(i, j int) bool { return rest[i].nodeID() < rest[j].nodeID() })
		for _, n := range rest {
			h(n.info())
		}
	}
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}
