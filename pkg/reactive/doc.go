// Package reactive implements a fine-grained reactive runtime: a dependency
// graph of signals, memos and effects where dependencies are discovered
// automatically at read time and writes propagate invalidation to exactly
// the nodes affected by them.
//
// All state lives in a Runtime, which owns the tracking stack, the node
// registry and the dependency edges. Independent Runtimes are fully isolated
// from each other.
//
//	rt := reactive.New()
//	defer rt.Dispose()
//
// # Core Types
//
// Signal[T] is an observable value container:
//
//	count := reactive.NewSignal(rt, 0)
//	value := count.Get()  // read (tracked by the active computation)
//	count.Set(5)          // write (notifies dependents)
//	count.Update(func(n int) int { return n + 1 })
//
// Memo[T] is a cached derived computation, recomputed lazily on read after
// one of its dependencies changed:
//
//	doubled := reactive.NewMemo(rt, func() int { return count.Get() * 2 })
//	value := doubled.Get()
//
// Effect runs a side effect immediately and again, synchronously, whenever
// one of the values it read changes:
//
//	eff := reactive.NewEffect(rt, func() reactive.Cleanup {
//	    fmt.Println("count is", count.Get())
//	    return nil
//	})
//	defer eff.Dispose()
//
// A memo re-subscribes to exactly the providers it read on its most recent
// run, so computations with conditional reads drop dependencies they no
// longer use.
//
// # Batching
//
// Propagation is eager per write. Batch defers and deduplicates effect runs
// until the outermost batch ends:
//
//	rt.Batch(func() {
//	    a.Set(1)
//	    b.Set(2)
//	})  // dependents of a and b each run once
//
// # Concurrency
//
// A Runtime is confined to a single goroutine of control: writes, reads
// inside computations, and disposal must all happen on the same goroutine.
// Peek and Snapshot are safe to call from other goroutines. To feed a
// Runtime from network or timer goroutines, serialize through a dispatch
// loop (see the collab package).
package reactive
