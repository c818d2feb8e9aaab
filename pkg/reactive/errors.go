package reactive

import (
	"errors"
	"fmt"
)

// Sentinel errors. Structured errors below unwrap to these so callers can
// match with errors.Is after recovering from a panic.
var (
	// ErrCycle is reported when a memo or effect transitively reads itself
	// during its own recomputation.
	ErrCycle = errors.New("lattice: cyclic dependency")

	// ErrUseAfterDispose is reported when a disposed node or runtime is
	// written, read or extended.
	ErrUseAfterDispose = errors.New("lattice: use after dispose")

	// ErrStorm is reported when a single write triggers more effect runs
	// than the runtime's cascade budget allows.
	ErrStorm = errors.New("lattice: effect cascade budget exceeded")
)

// CycleError identifies the node whose recomputation re-entered itself.
type CycleError struct {
	Handle uint64
	Name   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("lattice: cyclic dependency: %s re-entered its own recomputation", e.Name)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// StormError reports a write whose synchronous effect cascade exceeded the
// runtime's budget. Node names the effect that tripped the budget.
type StormError struct {
	Node string
	Runs int
}

func (e *StormError) Error() string {
	return fmt.Sprintf("lattice: effect cascade budget exceeded after %d runs (last: %s)", e.Runs, e.Node)
}

func (e *StormError) Unwrap() error { return ErrStorm }

func disposedError(kind Kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrUseAfterDispose, kind, name)
}
