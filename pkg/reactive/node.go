package reactive

// Kind identifies what a node is: a signal, a memo or an effect.
type Kind uint8

const (
	KindSignal Kind = iota + 1
	KindMemo
	KindEffect
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindMemo:
		return "memo"
	case KindEffect:
		return "effect"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so kinds serialize as their
// names in JSON snapshots.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting what
// MarshalText produces.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "signal":
		*k = KindSignal
	case "memo":
		*k = KindMemo
	case "effect":
		*k = KindEffect
	default:
		*k = 0
	}
	return nil
}

// NodeInfo describes a node to instrumentation hooks and snapshots.
type NodeInfo struct {
	Handle uint64 `json:"handle"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}

// node is the registry entry shared by every reactive primitive. Nodes are
// identified by their handle; the registry never hands out object references
// across nodes, only handles.
type node interface {
	nodeID() uint64
	info() NodeInfo
	dirtyFlag() bool
	markDisposed()
}

// provider can be read and therefore tracked as a dependency. Implemented by
// *Signal[T] and *Memo[T]; the set is closed.
type provider interface {
	node
	isProvider()
}

// consumer records dependencies and reacts when one of them changes.
// Implemented by *Memo[T] and *Effect; the set is closed. The hook runs
// during a propagation's marking phase and must not execute user code.
type consumer interface {
	node
	dependencyChanged(pr *propagation)
}
