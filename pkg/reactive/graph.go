package reactive

// Edge bookkeeping. Both directions of every edge live in arena-owned
// adjacency maps keyed by node handle: dependents maps a provider to the
// consumers subscribed to it, dependencies maps a consumer to the providers
// it read on its most recent run. The two maps are kept in lockstep: an
// edge exists in one iff it exists in the other. Lists preserve insertion
// order so notification order is deterministic.

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// replaceDependencies sets the consumer's dependency set to exactly the
// providers it just read, unsubscribing from stale edges and subscribing to
// new ones. Called only after a successful run, so a failed run leaves the
// previous edges untouched. Providers disposed mid-run are dropped.
func (rt *Runtime) replaceDependencies(cid uint64, reads []uint64) {
	rt.gmu.Lock()
	defer rt.gmu.Unlock()

	if _, ok := rt.nodes[cid]; !ok {
		// Consumer disposed itself during the run.
		return
	}

	deps := make([]uint64, 0, len(reads))
	for _, p := range reads {
		if n, ok := rt.nodes[p]; ok {
			if _, isProvider := n.(provider); isProvider {
				deps = append(deps, p)
			}
		}
	}

	old := rt.dependencies[cid]
	for _, p := range old {
		if !containsID(deps, p) {
			rt.dependents[p] = removeID(rt.dependents[p], cid)
		}
	}
	for _, p := range deps {
		if !containsID(old, p) {
			rt.dependents[p] = append(rt.dependents[p], cid)
		}
	}
	rt.dependencies[cid] = deps
}

// dependentsOf returns a snapshot of the consumers subscribed to a provider.
// Notification iterates the snapshot, so consumers may re-subscribe or
// dispose while being notified without corrupting the walk.
func (rt *Runtime) dependentsOf(pid uint64) []uint64 {
	rt.gmu.RLock()
	defer rt.gmu.RUnlock()
	d := rt.dependents[pid]
	if len(d) == 0 {
		return nil
	}
	out := make([]uint64, len(d))
	copy(out, d)
	return out
}

// dependenciesOf returns a snapshot of a consumer's current dependency set.
func (rt *Runtime) dependenciesOf(cid uint64) []uint64 {
	rt.gmu.RLock()
	defer rt.gmu.RUnlock()
	d := rt.dependencies[cid]
	if len(d) == 0 {
		return nil
	}
	out := make([]uint64, len(d))
	copy(out, d)
	return out
}
