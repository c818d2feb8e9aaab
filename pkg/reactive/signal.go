package reactive

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Signal is an observable mutable value. Reading it inside a memo or effect
// subscribes that computation to future writes.
type Signal[T any] struct {
	rt   *Runtime
	id   uint64
	name string

	mu    sync.RWMutex
	value T

	// equal, when set, suppresses storage and notification for writes of
	// an equal value. Nil by default: every Set notifies.
	equal func(T, T) bool

	disposed atomic.Bool
}

// NewSignal creates a signal owned by rt with the given initial value.
func NewSignal[T any](rt *Runtime, initial T) *Signal[T] {
	s := &Signal[T]{
		rt:    rt,
		id:    rt.newID(),
		value: initial,
	}
	s.name = fmt.Sprintf("signal-%d", s.id)
	rt.register(s)
	return s
}

// WithName names the signal for snapshots and instrumentation. Call it
// right after construction, before the signal is read or written.
func (s *Signal[T]) WithName(name string) *Signal[T] {
	s.name = name
	return s
}

// WithEquals returns the signal configured with a custom equality function.
// Writes of a value equal to the current one are dropped without
// notification, which changes observable effect-run counts: dependents see
// one run per distinct value instead of one run per write.
func (s *Signal[T]) WithEquals(fn func(a, b T) bool) *Signal[T] {
	s.equal = fn
	return s
}

// WithDistinct is WithEquals using the default comparator: == for common
// scalar types, reflect.DeepEqual otherwise.
func (s *Signal[T]) WithDistinct() *Signal[T] {
	s.equal = defaultEquals[T]
	return s
}

// Get returns the current value and records the read in the active
// tracking frame, if any.
func (s *Signal[T]) Get() T {
	if !s.disposed.Load() {
		s.rt.track(s.id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Peek returns the current value without tracking.
func (s *Signal[T]) Peek() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set stores value and synchronously notifies every dependent: dirty memos
// are marked, effects re-run before Set returns. Without WithEquals the
// store and the notification are unconditional, even if value is equal to
// the current one. Panics with ErrUseAfterDispose on a disposed signal.
func (s *Signal[T]) Set(value T) {
	if s.disposed.Load() {
		panic(disposedError(KindSignal, s.name))
	}
	s.mu.Lock()
	if s.equal != nil && s.equal(s.value, value) {
		s.mu.Unlock()
		return
	}
	s.value = value
	s.mu.Unlock()

	s.rt.signalWrites.Add(1)
	if h := s.rt.hooks.OnSignalWrite; h != nil {
		h(s.info())
	}
	s.rt.propagate(s.id)
}

// Update applies fn to the current value and stores the result. The read
// is untracked; Update inside an effect does not subscribe the effect.
func (s *Signal[T]) Update(fn func(T) T) {
	s.Set(fn(s.Peek()))
}

// ID returns the signal's handle within its runtime.
func (s *Signal[T]) ID() uint64 { return s.id }

// Name returns the signal's name.
func (s *Signal[T]) Name() string { return s.name }

// Dispose removes the signal from the graph. Dependents keep their cached
// values but no longer hold an edge to it; a later write panics.
func (s *Signal[T]) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.rt.removeNode(s.id)
}

func (s *Signal[T]) nodeID() uint64 { return s.id }

func (s *Signal[T]) info() NodeInfo {
	return NodeInfo{Handle: s.id, Kind: KindSignal, Name: s.name}
}

func (s *Signal[T]) dirtyFlag() bool { return false }

func (s *Signal[T]) markDisposed() { s.disposed.Store(true) }

func (s *Signal[T]) isProvider() {}

// defaultEquals compares with == for common scalar types and falls back to
// reflect.DeepEqual.
func defaultEquals[T any](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		return av == any(b).(int)
	case int32:
		return av == any(b).(int32)
	case int64:
		return av == any(b).(int64)
	case uint:
		return av == any(b).(uint)
	case uint64:
		return av == any(b).(uint64)
	case float32:
		return av == any(b).(float32)
	case float64:
		return av == any(b).(float64)
	case string:
		return av == any(b).(string)
	case bool:
		return av == any(b).(bool)
	default:
		return reflect.DeepEqual(a, b)
	}
}
