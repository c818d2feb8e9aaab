package reactive

import "sort"

// Stats are cumulative runtime counters plus current node counts.
type Stats struct {
	SignalWrites   uint64 `json:"signal_writes"`
	MemoRecomputes uint64 `json:"memo_recomputes"`
	EffectRuns     uint64 `json:"effect_runs"`
	Signals        int    `json:"signals"`
	Memos          int    `json:"memos"`
	Effects        int    `json:"effects"`
}

// NodeSnapshot is one node's state at snapshot time. Edges are handle
// lists ordered as the runtime would notify them.
type NodeSnapshot struct {
	Handle       uint64   `json:"handle"`
	Kind         Kind     `json:"kind"`
	Name         string   `json:"name"`
	Dirty        bool     `json:"dirty,omitempty"`
	Dependencies []uint64 `json:"dependencies,omitempty"`
	Dependents   []uint64 `json:"dependents,omitempty"`
}

// Snapshot is a point-in-time copy of the graph, ordered by handle.
type Snapshot struct {
	Nodes []NodeSnapshot `json:"nodes"`
	Stats Stats          `json:"stats"`
}

// Stats returns the runtime counters. Safe to call from any goroutine.
func (rt *Runtime) Stats() Stats {
	st := Stats{
		SignalWrites:   rt.signalWrites.Load(),
		MemoRecomputes: rt.memoRecomputes.Load(),
		EffectRuns:     rt.effectRuns.Load(),
	}
	rt.gmu.RLock()
	for _, n := range rt.nodes {
		switch n.info().Kind {
		case KindSignal:
			st.Signals++
		case KindMemo:
			st.Memos++
		case KindEffect:
			st.Effects++
		}
	}
	rt.gmu.RUnlock()
	return st
}

// Snapshot copies the current graph for inspection. Safe to call from any
// goroutine; the copy does not observe a half-applied edge swap.
func (rt *Runtime) Snapshot() Snapshot {
	rt.gmu.RLock()
	nodes := make([]NodeSnapshot, 0, len(rt.nodes))
	for id, n := range rt.nodes {
		ns := NodeSnapshot{
			Handle: id,
			Kind:   n.info().Kind,
			Name:   n.info().Name,
			Dirty:  n.dirtyFlag(),
		}
		if deps := rt.dependencies[id]; len(deps) > 0 {
			ns.Dependencies = append([]uint64(nil), deps...)
		}
		if subs := rt.dependents[id]; len(subs) > 0 {
			ns.Dependents = append([]uint64(nil), subs...)
		}
		nodes = append(nodes, ns)
	}
	rt.gmu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Handle < nodes[j].Handle })
	return Snapshot{Nodes: nodes, Stats: rt.Stats()}
}
