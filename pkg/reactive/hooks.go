package reactive

import "time"

// Hooks receive instrumentation callbacks from a Runtime. All fields are
// optional; nil fields are skipped. Hooks run synchronously on the runtime
// goroutine and must not write signals or mutate the graph.
type Hooks struct {
	// OnNodeCreated fires after a signal, memo or effect is registered.
	OnNodeCreated func(NodeInfo)

	// OnSignalWrite fires after a signal stored a new value, before
	// propagation.
	OnSignalWrite func(NodeInfo)

	// OnMemoRecompute fires after a memo recomputed successfully.
	OnMemoRecompute func(NodeInfo, time.Duration)

	// OnEffectRun fires after an effect run completed successfully,
	// including the initial run at construction.
	OnEffectRun func(NodeInfo, time.Duration)

	// OnNodeDisposed fires after a node was removed from the graph.
	OnNodeDisposed func(NodeInfo)

	// OnStorm fires when a write's effect cascade exceeds the runtime
	// budget, just before the runtime panics with *StormError.
	OnStorm func(NodeInfo, int)
}
