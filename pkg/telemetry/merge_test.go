package telemetry

import (
	"testing"
	"time"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

func TestMergeFansOut(t *testing.T) {
	var order []string
	h := Merge(
		reactive.Hooks{
			OnSignalWrite: func(reactive.NodeInfo) { order = append(order, "first") },
		},
		reactive.Hooks{
			OnSignalWrite: func(reactive.NodeInfo) { order = append(order, "second") },
			OnStorm:       func(reactive.NodeInfo, int) { order = append(order, "storm") },
		},
	)

	h.OnSignalWrite(reactive.NodeInfo{})
	h.OnStorm(reactive.NodeInfo{}, 3)

	want := []string{"first", "second", "storm"}
	if len(order) != len(want) {
		t.Fatalf("callbacks fired %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callbacks fired %v, want %v", order, want)
		}
	}
}

func TestMergeKeepsUnusedFieldsNil(t *testing.T) {
	h := Merge(
		reactive.Hooks{OnSignalWrite: func(reactive.NodeInfo) {}},
		reactive.Hooks{OnEffectRun: func(reactive.NodeInfo, time.Duration) {}},
	)

	if h.OnSignalWrite == nil || h.OnEffectRun == nil {
		t.Error("populated fields came back nil")
	}
	if h.OnNodeCreated != nil || h.OnMemoRecompute != nil || h.OnNodeDisposed != nil || h.OnStorm != nil {
		t.Error("fields with no inputs should stay nil")
	}
}

func TestMergeDrivesRuntime(t *testing.T) {
	writes := 0
	runs := 0
	h := Merge(
		reactive.Hooks{OnSignalWrite: func(reactive.NodeInfo) { writes++ }},
		reactive.Hooks{OnEffectRun: func(reactive.NodeInfo, time.Duration) { runs++ }},
	)

	rt := reactive.New(reactive.WithHooks(h))
	defer rt.Dispose()

	s := reactive.NewSignal(rt, 0)
	reactive.NewEffect(rt, func() reactive.Cleanup {
		_ = s.Get()
		return nil
	})
	s.Set(1)

	if writes != 1 {
		t.Errorf("writes = %d, want 1", writes)
	}
	if runs != 2 {
		t.Errorf("effect runs = %d, want 2", runs)
	}
}
