package reactive

// Batch runs fn with effect reruns deferred: writes inside fn mark memos
// dirty immediately, but effects triggered by those writes run once, in
// first-trigger order, when the outermost batch ends. Batches nest.
//
// Batching is opt-in; outside a batch every write propagates eagerly on
// its own.
func (rt *Runtime) Batch(fn func()) {
	rt.batchDepth++
	defer func() {
		rt.batchDepth--
		if rt.batchDepth == 0 {
			rt.drainPending()
		}
	}()
	fn()
}

// enqueueEffect records a deferred effect run. An effect already queued
// keeps its queue position but adopts the newer wave, so the drain can tell
// whether the effect already ran for the write that triggered it.
func (rt *Runtime) enqueueEffect(id, wave uint64) {
	if w, ok := rt.pendingWave[id]; ok {
		if wave > w {
			rt.pendingWave[id] = wave
		}
		return
	}
	rt.pendingWave[id] = wave
	rt.pendingIDs = append(rt.pendingIDs, id)
}

// drainPending runs the deferred effects. An effect disposed while queued
// is skipped, as is one that already ran for a wave at least as new as the
// one that queued it (a drained run's own writes cascade eagerly and may
// reach effects later in the queue).
func (rt *Runtime) drainPending() {
	if len(rt.pendingIDs) == 0 {
		return
	}
	ids := rt.pendingIDs
	waves := rt.pendingWave
	rt.pendingIDs = nil
	rt.pendingWave = make(map[uint64]uint64)

	rt.draining = true
	rt.cascadeRuns = 0
	defer func() { rt.draining = false }()

	for _, id := range ids {
		c, ok := rt.consumerByID(id)
		if !ok {
			continue
		}
		e, ok := c.(*Effect)
		if !ok || e.disposed.Load() {
			continue
		}
		if e.lastWave >= waves[id] {
			continue
		}
		e.run(waves[id])
	}
}
