package reactive

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRuntimeDisposeRunsEffectCleanups(t *testing.T) {
	rt := New()

	s := NewSignal(rt, 0)
	var order []string
	NewEffect(rt, func() Cleanup {
		_ = s.Get()
		return func() { order = append(order, "first") }
	})
	NewEffect(rt, func() Cleanup {
		_ = s.Get()
		return func() { order = append(order, "second") }
	})

	rt.Dispose()

	// Reverse creation order, like a stack of scopes unwinding.
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("expected [second first], got %v", order)
	}

	// Dispose is idempotent.
	rt.Dispose()
	if len(order) != 2 {
		t.Errorf("expected no extra cleanups, got %v", order)
	}
}

func TestRuntimeDisposeRejectsNewNodes(t *testing.T) {
	rt := New()
	rt.Dispose()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic creating a signal on a disposed runtime")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUseAfterDispose) {
			t.Errorf("expected ErrUseAfterDispose, got %v", r)
		}
	}()
	NewSignal(rt, 1)
}

func TestRuntimeDisposeStopsNodes(t *testing.T) {
	rt := New()
	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() * 2 })
	_ = m.Get()
	rt.Dispose()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected Set to panic after runtime dispose")
			}
		}()
		s.Set(2)
	}()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected memo Get to panic after runtime dispose")
			}
		}()
		_ = m.Get()
	}()
}

func TestRuntimeSnapshot(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1).WithName("input")
	m := NewMemo(rt, func() int { return s.Get() * 2 }).WithName("double")
	e := NewEffect(rt, func() Cleanup {
		_ = m.Get()
		return nil
	}, EffectName("sink"))

	snap := rt.Snapshot()
	if len(snap.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(snap.Nodes))
	}

	// Sorted by handle, which follows creation order here.
	if snap.Nodes[0].Handle != s.ID() || snap.Nodes[1].Handle != m.ID() || snap.Nodes[2].Handle != e.ID() {
		t.Errorf("expected handles [%d %d %d], got %+v", s.ID(), m.ID(), e.ID(), snap.Nodes)
	}

	sig, mem, eff := snap.Nodes[0], snap.Nodes[1], snap.Nodes[2]
	if sig.Kind != KindSignal || sig.Name != "input" {
		t.Errorf("unexpected signal node %+v", sig)
	}
	if mem.Kind != KindMemo || mem.Name != "double" {
		t.Errorf("unexpected memo node %+v", mem)
	}
	if eff.Kind != KindEffect || eff.Name != "sink" {
		t.Errorf("unexpected effect node %+v", eff)
	}

	if len(sig.Dependents) != 1 || sig.Dependents[0] != m.ID() {
		t.Errorf("expected signal dependents [%d], got %v", m.ID(), sig.Dependents)
	}
	if len(mem.Dependencies) != 1 || mem.Dependencies[0] != s.ID() {
		t.Errorf("expected memo dependencies [%d], got %v", s.ID(), mem.Dependencies)
	}
	if len(mem.Dependents) != 1 || mem.Dependents[0] != e.ID() {
		t.Errorf("expected memo dependents [%d], got %v", e.ID(), mem.Dependents)
	}
	if len(eff.Dependencies) != 1 || eff.Dependencies[0] != m.ID() {
		t.Errorf("expected effect dependencies [%d], got %v", m.ID(), eff.Dependencies)
	}
	if mem.Dirty {
		t.Error("expected memo clean after the effect's initial read")
	}

	s.Set(5)
	snap = rt.Snapshot()
	if snap.Nodes[1].Dirty {
		t.Error("expected memo clean after eager rerun")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindSignal, "signal"},
		{KindMemo, "memo"},
		{KindEffect, "effect"},
		{Kind(0), "unknown"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestRuntimeStats(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() * 2 })
	NewEffect(rt, func() Cleanup {
		_ = m.Get()
		return nil
	})

	s.Set(2)
	s.Set(3)

	st := rt.Stats()
	if st.Signals != 1 || st.Memos != 1 || st.Effects != 1 {
		t.Errorf("expected node counts 1/1/1, got %d/%d/%d", st.Signals, st.Memos, st.Effects)
	}
	if st.SignalWrites != 2 {
		t.Errorf("SignalWrites = %d, want 2", st.SignalWrites)
	}
	// Initial read plus one pull per write.
	if st.MemoRecomputes != 3 {
		t.Errorf("MemoRecomputes = %d, want 3", st.MemoRecomputes)
	}
	if st.EffectRuns != 3 {
		t.Errorf("EffectRuns = %d, want 3", st.EffectRuns)
	}
}

func TestRuntimeHooks(t *testing.T) {
	created := 0
	writes := 0
	recomputes := 0
	effectRuns := 0
	disposed := 0
	var recomputeDur time.Duration = -1

	rt := New(WithHooks(Hooks{
		OnNodeCreated:   func(NodeInfo) { created++ },
		OnSignalWrite:   func(NodeInfo) { writes++ },
		OnMemoRecompute: func(_ NodeInfo, d time.Duration) { recomputes++; recomputeDur = d },
		OnEffectRun:     func(NodeInfo, time.Duration) { effectRuns++ },
		OnNodeDisposed:  func(NodeInfo) { disposed++ },
	}))

	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() + 1 })
	NewEffect(rt, func() Cleanup {
		_ = m.Get()
		return nil
	})

	if created != 3 {
		t.Errorf("OnNodeCreated fired %d times, want 3", created)
	}
	if effectRuns != 1 {
		t.Errorf("OnEffectRun fired %d times, want 1", effectRuns)
	}
	if recomputes != 1 {
		t.Errorf("OnMemoRecompute fired %d times, want 1", recomputes)
	}
	if recomputeDur < 0 {
		t.Errorf("expected a non-negative recompute duration, got %v", recomputeDur)
	}

	s.Set(2)
	if writes != 1 {
		t.Errorf("OnSignalWrite fired %d times, want 1", writes)
	}

	rt.Dispose()
	if disposed != 3 {
		t.Errorf("OnNodeDisposed fired %d times, want 3", disposed)
	}
}

func TestStormBudgetTripsOnSelfFeedingEffect(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	stormNode := ""
	stormRuns := 0
	rt := New(
		WithMaxCascade(50),
		WithLogger(logger),
		WithHooks(Hooks{
			OnStorm: func(info NodeInfo, runs int) { stormNode = info.Name; stormRuns = runs },
		}),
	)
	defer rt.Dispose()

	s := NewSignal(rt, 0)
	NewEffect(rt, func() Cleanup {
		s.Set(s.Get() + 1)
		return nil
	}, EffectName("feedback"))

	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected a storm panic")
			}
			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrStorm) {
				t.Fatalf("expected ErrStorm, got %v", r)
			}
			var storm *StormError
			if !errors.As(err, &storm) {
				t.Fatalf("expected *StormError, got %v", err)
			}
			if storm.Node != "feedback" {
				t.Errorf("StormError.Node = %q, want feedback", storm.Node)
			}
			if storm.Runs != 51 {
				t.Errorf("StormError.Runs = %d, want 51", storm.Runs)
			}
		}()
		s.Set(100)
	}()

	if stormNode != "feedback" || stormRuns != 51 {
		t.Errorf("OnStorm got (%q, %d), want (feedback, 51)", stormNode, stormRuns)
	}
	if !strings.Contains(buf.String(), "cascade budget exceeded") {
		t.Errorf("expected a warning log, got %q", buf.String())
	}
}

func TestStormBudgetZeroDisables(t *testing.T) {
	rt := New(WithMaxCascade(0))
	defer rt.Dispose()

	s := NewSignal(rt, 0)
	NewEffect(rt, func() Cleanup {
		if v := s.Get(); v < 200 {
			s.Set(v + 1)
		}
		return nil
	})

	s.Set(1)
	if got := s.Peek(); got != 200 {
		t.Errorf("expected the cascade to finish at 200, got %d", got)
	}
}

func TestStormBudgetBoundedCascadePasses(t *testing.T) {
	// A cascade below the budget completes normally.
	rt := New(WithMaxCascade(50))
	defer rt.Dispose()

	s := NewSignal(rt, 0)
	NewEffect(rt, func() Cleanup {
		if v := s.Get(); v < 20 {
			s.Set(v + 1)
		}
		return nil
	})

	s.Set(1)
	if got := s.Peek(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
}

func TestUntrackedReadInsideEffect(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	tracked := NewSignal(rt, 1)
	ignored := NewSignal(rt, 1)

	runs := 0
	sum := 0
	NewEffect(rt, func() Cleanup {
		runs++
		sum = tracked.Get()
		rt.Untracked(func() {
			sum += ignored.Get()
		})
		return nil
	})

	if runs != 1 || sum != 2 {
		t.Fatalf("expected 1 run with sum 2, got %d runs with %d", runs, sum)
	}

	ignored.Set(10)
	if runs != 1 {
		t.Errorf("expected no rerun for an untracked read, got %d", runs)
	}

	tracked.Set(5)
	if runs != 2 {
		t.Errorf("expected rerun for the tracked read, got %d", runs)
	}
	if sum != 15 {
		t.Errorf("expected the untracked value to be read fresh, got %d", sum)
	}
}

func TestRuntimeLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	rt := New(WithLogger(logger))
	defer rt.Dispose()

	if rt.Logger() != logger {
		t.Error("expected the configured logger back")
	}

	rt2 := New(WithLogger(nil))
	defer rt2.Dispose()
	if rt2.Logger() == nil {
		t.Error("expected a fallback logger, got nil")
	}
}
