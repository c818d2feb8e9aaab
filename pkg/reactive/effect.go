package reactive

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Cleanup is returned by an effect body to release whatever the run
// acquired. It executes before the next run and at disposal.
type Cleanup func()

// Effect is an eager side-effecting subscriber. It runs once at
// construction and re-runs synchronously whenever a provider it read
// changes. Effects are terminal: nothing depends on an effect.
type Effect struct {
	rt   *Runtime
	id   uint64
	name string
	fn   func() Cleanup

	cleanup Cleanup

	// lastWave is the write wave this effect last ran for. A notification
	// carrying a wave the effect already ran for is dropped, so one write
	// reaching the effect over converging paths fires it once.
	lastWave uint64

	disposed atomic.Bool
}

// EffectOption is an option for configuring an Effect.
type EffectOption interface {
	applyEffect(e *Effect)
}

type effectOptionFunc func(e *Effect)

func (f effectOptionFunc) applyEffect(e *Effect) { f(e) }

// EffectName names the effect for snapshots and instrumentation.
func EffectName(name string) EffectOption {
	return effectOptionFunc(func(e *Effect) { e.name = name })
}

// NewEffect creates an effect owned by rt and runs it immediately,
// establishing its initial dependency set and side effect. fn may return a
// Cleanup (or nil) to run before the next invocation and at disposal.
//
// A panic in the initial run propagates to the caller and the effect is not
// registered.
func NewEffect(rt *Runtime, fn func() Cleanup, opts ...EffectOption) *Effect {
	e := &Effect{
		rt: rt,
		id: rt.newID(),
		fn: fn,
	}
	for _, opt := range opts {
		opt.applyEffect(e)
	}
	if e.name == "" {
		e.name = fmt.Sprintf("effect-%d", e.id)
	}
	rt.register(e)

	ok := false
	defer func() {
		if !ok {
			e.disposed.Store(true)
			rt.removeNode(e.id)
		}
	}()
	e.run(rt.wave)
	ok = true
	return e
}

// run executes the effect body under a fresh tracking frame and swaps the
// dependency set to exactly what it read. The previous cleanup runs first.
// On panic the frame still pops and the previous dependency set stays
// intact, so the effect keeps firing on its old inputs.
func (e *Effect) run(wave uint64) {
	if e.disposed.Load() {
		return
	}
	e.lastWave = wave
	rt := e.rt
	rt.noteCascadeRun(e)

	if cl := e.cleanup; cl != nil {
		e.cleanup = nil
		cl()
	}

	start := time.Now()
	f := rt.pushFrame(e.id)
	var next Cleanup
	func() {
		defer rt.popFrame(f)
		next = e.fn()
	}()

	if e.disposed.Load() {
		// Disposed itself mid-run; the fresh cleanup is all that is left
		// to release.
		if next != nil {
			next()
		}
		return
	}
	e.cleanup = next
	rt.replaceDependencies(e.id, f.reads)

	rt.effectRuns.Add(1)
	if h := rt.hooks.OnEffectRun; h != nil {
		h(e.info(), time.Since(start))
	}
}

// dependencyChanged collects the effect into the propagation's run list.
// The actual rerun happens after the marking phase, or at batch end when a
// batch is open. A disposed effect ignores the notification: writes may
// legitimately race a disposal in reentrant code.
func (e *Effect) dependencyChanged(pr *propagation) {
	if e.disposed.Load() {
		return
	}
	pr.runs = append(pr.runs, e)
}

// ID returns the effect's handle within its runtime.
func (e *Effect) ID() uint64 { return e.id }

// Name returns the effect's name.
func (e *Effect) Name() string { return e.name }

// Disposed reports whether Dispose has been called.
func (e *Effect) Disposed() bool { return e.disposed.Load() }

// Dispose runs the pending cleanup, unsubscribes the effect from every
// dependency and clears them. Idempotent; after it returns no further run
// can start.
func (e *Effect) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	if cl := e.cleanup; cl != nil {
		e.cleanup = nil
		cl()
	}
	e.rt.removeNode(e.id)
}

func (e *Effect) nodeID() uint64 { return e.id }

func (e *Effect) info() NodeInfo {
	return NodeInfo{Handle: e.id, Kind: KindEffect, Name: e.name}
}

func (e *Effect) dirtyFlag() bool { return false }

func (e *Effect) markDisposed() { e.disposed.Store(true) }
