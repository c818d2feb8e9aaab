package reactive

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Memo is a cached derived value. It recomputes lazily: a dependency write
// only marks it dirty, and the next Get recomputes. A memo is both a
// consumer (of the providers it reads) and a provider (to the memos and
// effects that read it).
type Memo[T any] struct {
	rt      *Runtime
	id      uint64
	name    string
	compute func() T

	mu    sync.RWMutex
	value T

	// dirty means the cached value is stale. A memo starts dirty: the
	// first Get computes it.
	dirty atomic.Bool

	// computing guards against a computation transitively reading itself.
	computing atomic.Bool

	disposed atomic.Bool
}

// NewMemo creates a memo owned by rt. compute does not run until the first
// Get.
func NewMemo[T any](rt *Runtime, compute func() T) *Memo[T] {
	m := &Memo[T]{
		rt:      rt,
		id:      rt.newID(),
		compute: compute,
	}
	m.name = fmt.Sprintf("memo-%d", m.id)
	m.dirty.Store(true)
	rt.register(m)
	return m
}

// WithName names the memo for snapshots and instrumentation. Call it right
// after construction.
func (m *Memo[T]) WithName(name string) *Memo[T] {
	m.name = name
	return m
}

// Get returns the memo's value, recomputing first if a dependency changed
// since the last run. The memo itself is then recorded in the enclosing
// tracking frame, whether or not it recomputed, so the caller becomes a
// dependent of the memo rather than of its inputs.
//
// Panics with *CycleError if the computation transitively reads itself and
// with ErrUseAfterDispose on a disposed memo.
func (m *Memo[T]) Get() T {
	if m.disposed.Load() {
		panic(disposedError(KindMemo, m.name))
	}
	if m.dirty.Load() {
		m.recompute()
	}
	m.rt.track(m.id)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

// Peek returns the memo's value, recomputing if dirty, without recording a
// read in the enclosing frame.
func (m *Memo[T]) Peek() T {
	if m.disposed.Load() {
		panic(disposedError(KindMemo, m.name))
	}
	if m.dirty.Load() {
		m.recompute()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

// recompute runs the computation under a fresh tracking frame and swaps the
// dependency set to exactly what it read. The frame pops on all exit paths;
// edges and the dirty flag change only after a successful run, so a
// panicking computation leaves the memo dirty with its previous edges and
// the next Get retries.
func (m *Memo[T]) recompute() {
	if !m.computing.CompareAndSwap(false, true) {
		panic(&CycleError{Handle: m.id, Name: m.name})
	}
	defer m.computing.Store(false)

	rt := m.rt
	start := time.Now()
	f := rt.pushFrame(m.id)
	var value T
	func() {
		defer rt.popFrame(f)
		value = m.compute()
	}()

	rt.replaceDependencies(m.id, f.reads)
	m.mu.Lock()
	m.value = value
	m.mu.Unlock()
	m.dirty.Store(false)

	rt.memoRecomputes.Add(1)
	if h := rt.hooks.OnMemoRecompute; h != nil {
		h(m.info(), time.Since(start))
	}
}

// dependencyChanged marks the memo dirty and forwards the invalidation to
// its own dependents. Nothing recomputes here; dependents observe the
// change lazily on their next read or run. Forwarding even when already
// dirty lets an effect whose last run failed be re-collected by the next
// write; the propagation's visited set bounds the walk.
func (m *Memo[T]) dependencyChanged(pr *propagation) {
	if m.disposed.Load() {
		return
	}
	m.dirty.Store(true)
	m.rt.walkDependents(m.id, pr)
}

// ID returns the memo's handle within its runtime.
func (m *Memo[T]) ID() uint64 { return m.id }

// Name returns the memo's name.
func (m *Memo[T]) Name() string { return m.name }

// Dirty reports whether the cached value is stale.
func (m *Memo[T]) Dirty() bool { return m.dirty.Load() }

// Dispose removes the memo from the graph, unsubscribing it from every
// dependency and detaching its dependents. Get panics afterwards.
func (m *Memo[T]) Dispose() {
	if m.disposed.Swap(true) {
		return
	}
	m.rt.removeNode(m.id)
}

func (m *Memo[T]) nodeID() uint64 { return m.id }

func (m *Memo[T]) info() NodeInfo {
	return NodeInfo{Handle: m.id, Kind: KindMemo, Name: m.name}
}

func (m *Memo[T]) dirtyFlag() bool { return m.dirty.Load() }

func (m *Memo[T]) markDisposed() { m.disposed.Store(true) }

func (m *Memo[T]) isProvider() {}
