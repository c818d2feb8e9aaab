package collab

import (
	"encoding/json"
	"fmt"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// SharedSignal is a reactive signal whose value replicates through a
// room. Reads track dependencies exactly like a plain signal's. Writes
// additionally stamp the value with the room's Lamport clock and hand
// it to the room's watchers for delivery to other replicas.
type SharedSignal[T any] struct {
	room *Room
	key  string
	sig  *reactive.Signal[T]
}

// SignalFor returns the shared signal bound to key, creating it on
// first use. Calling it again with the same key returns the same
// instance and ignores initial. If the room already synced a value for
// key before the signal existed, that value seeds the signal and
// initial is ignored; replication never loses a write to a late
// signal creation.
//
// Binding one key to two different value types panics.
func SignalFor[T any](room *Room, key string, initial T) *SharedSignal[T] {
	room.mu.Lock()
	defer room.mu.Unlock()

	if b, ok := room.bindings[key]; ok {
		ss, ok := b.shared.(*SharedSignal[T])
		if !ok {
			panic(fmt.Sprintf("collab: key %q already bound to %T", key, b.shared))
		}
		return ss
	}

	seed := initial
	if e, ok := room.entries[key]; ok {
		if err := json.Unmarshal(e.Value, &seed); err != nil {
			room.logger.Warn("seed decode failed", "key", key, "error", err)
			seed = initial
		}
	}

	ss := &SharedSignal[T]{
		room: room,
		key:  key,
		sig:  reactive.NewSignal(room.rt, seed).WithName(key).WithDistinct(),
	}
	room.bindings[key] = &binding{
		shared: ss,
		apply: func(value []byte) error {
			var v T
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			ss.sig.Set(v)
			return nil
		},
	}
	return ss
}

// Key returns the entry key the signal replicates under.
func (s *SharedSignal[T]) Key() string { return s.key }

// Room returns the room the signal belongs to.
func (s *SharedSignal[T]) Room() *Room { return s.room }

// Signal returns the underlying reactive signal.
func (s *SharedSignal[T]) Signal() *reactive.Signal[T] { return s.sig }

// Get returns the current value and tracks the read.
func (s *SharedSignal[T]) Get() T { return s.sig.Get() }

// Peek returns the current value without tracking.
func (s *SharedSignal[T]) Peek() T { return s.sig.Peek() }

// Set writes value locally and publishes it to the room. Writing a
// value whose JSON encoding matches the current entry is a no-op:
// nothing is published and no dependents run. Values must be
// JSON-encodable; Set panics otherwise, since an unencodable value
// could never reach the other replicas.
func (s *SharedSignal[T]) Set(value T) {
	data, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("collab: marshal %q: %v", s.key, err))
	}
	if s.room.entryEqual(s.key, data) {
		return
	}
	s.room.publish(s.key, data)
	s.sig.Set(value)
}

// Update applies fn to the current value and publishes the result.
func (s *SharedSignal[T]) Update(fn func(T) T) {
	s.Set(fn(s.sig.Peek()))
}
