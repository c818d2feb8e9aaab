package reactive

// frame records the providers read while one consumer recomputes. Only the
// innermost frame on the runtime's stack collects reads; a masked frame
// collects nothing and shields the frames below it.
type frame struct {
	owner  uint64
	masked bool
	reads  []uint64
	seen   map[uint64]struct{}
}

// pushFrame activates a new tracking frame for the given consumer.
// The caller must pop it with popFrame on every exit path, including panics.
func (rt *Runtime) pushFrame(owner uint64) *frame {
	f := &frame{owner: owner, seen: make(map[uint64]struct{})}
	rt.frames = append(rt.frames, f)
	return f
}

// pushMasked activates a frame that suppresses tracking entirely.
func (rt *Runtime) pushMasked() *frame {
	f := &frame{masked: true}
	rt.frames = append(rt.frames, f)
	return f
}

// popFrame deactivates f. Frames are strictly stack-ordered; popping out of
// order means a push escaped its deferred pop.
func (rt *Runtime) popFrame(f *frame) {
	n := len(rt.frames)
	if n == 0 || rt.frames[n-1] != f {
		panic("lattice: reactive context stack corrupted")
	}
	rt.frames[n-1] = nil
	rt.frames = rt.frames[:n-1]
}

// track records a read of the given provider in the innermost frame.
// Duplicate reads collapse to one entry; first-read order is preserved so
// notification order stays deterministic.
func (rt *Runtime) track(id uint64) {
	n := len(rt.frames)
	if n == 0 {
		return
	}
	f := rt.frames[n-1]
	if f.masked {
		return
	}
	if _, ok := f.seen[id]; ok {
		return
	}
	f.seen[id] = struct{}{}
	f.reads = append(f.reads, id)
}

// Untracked runs fn with tracking suppressed: reads inside fn do not become
// dependencies of the computation that called it.
func (rt *Runtime) Untracked(fn func()) {
	f := rt.pushMasked()
	defer rt.popFrame(f)
	fn()
}

// UntrackedGet reads a signal's value without creating a dependency.
// This is a convenience function equivalent to signal.Peek().
func UntrackedGet[T any](s *Signal[T]) T {
	return s.Peek()
}
