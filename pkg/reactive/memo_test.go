package reactive

import (
	"errors"
	"testing"
)

func TestMemoLazyCaching(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 2)
	computes := 0
	m := NewMemo(rt, func() int {
		computes++
		return s.Get() * 10
	})

	if computes != 0 {
		t.Fatalf("expected no computation before first read, got %d", computes)
	}

	if got := m.Get(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
	if got := m.Get(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
	if computes != 1 {
		t.Errorf("expected 1 computation across repeated reads, got %d", computes)
	}
}

func TestMemoInvalidation(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() + 100 })

	if got := m.Get(); got != 101 {
		t.Errorf("expected 101, got %d", got)
	}

	s.Set(5)
	if !m.Dirty() {
		t.Error("expected memo dirty after dependency write")
	}
	if got := m.Get(); got != 105 {
		t.Errorf("expected 105 after write, got %d", got)
	}
	if m.Dirty() {
		t.Error("expected memo clean after read")
	}
}

func TestMemoDynamicDependencyPruning(t *testing.T) {
	// The memo reads s1 while the guard is true and s2 while false. After
	// toggling the guard, writes to the now-unused signal must not dirty it.
	rt := New()
	defer rt.Dispose()

	guard := NewSignal(rt, true)
	s1 := NewSignal(rt, "one")
	s2 := NewSignal(rt, "two")

	computes := 0
	m := NewMemo(rt, func() string {
		computes++
		if guard.Get() {
			return s1.Get()
		}
		return s2.Get()
	})

	if got := m.Get(); got != "one" {
		t.Errorf("expected one, got %q", got)
	}

	guard.Set(false)
	if got := m.Get(); got != "two" {
		t.Errorf("expected two, got %q", got)
	}
	if computes != 2 {
		t.Fatalf("expected 2 computations, got %d", computes)
	}

	s1.Set("stale branch")
	if m.Dirty() {
		t.Error("expected write to unused signal to not dirty the memo")
	}
	if got := m.Get(); got != "two" {
		t.Errorf("expected two, got %q", got)
	}
	if computes != 2 {
		t.Errorf("expected no recomputation after write to pruned dependency, got %d", computes)
	}

	s2.Set("live branch")
	if got := m.Get(); got != "live branch" {
		t.Errorf("expected live branch, got %q", got)
	}
	if computes != 3 {
		t.Errorf("expected 3 computations, got %d", computes)
	}
}

func TestMemoChain(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	base := NewSignal(rt, 5)
	doubled := NewMemo(rt, func() int { return base.Get() * 2 })
	quadrupled := NewMemo(rt, func() int { return doubled.Get() * 2 })

	if got := quadrupled.Get(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}

	base.Set(10)
	if got := quadrupled.Get(); got != 40 {
		t.Errorf("expected 40, got %d", got)
	}
}

func TestMemoCycleDetection(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	var m *Memo[int]
	m = NewMemo(rt, func() int {
		return m.Get() + 1
	})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on self-referential memo")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrCycle) {
			t.Errorf("expected ErrCycle, got %v", r)
		}
		var ce *CycleError
		if !errors.As(err, &ce) {
			t.Errorf("expected *CycleError, got %T", r)
		}
	}()
	m.Get()
}

func TestMemoMutualCycleDetection(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	var a, b *Memo[int]
	a = NewMemo(rt, func() int { return b.Get() + 1 })
	b = NewMemo(rt, func() int { return a.Get() + 1 })

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on mutually recursive memos")
		}
	}()
	a.Get()
}

func TestMemoComputePanicPreservesState(t *testing.T) {
	// A failing computation must leave the memo dirty with its previous
	// dependency set so a later read retries, and must not corrupt the
	// tracking stack.
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1)
	fail := false
	computes := 0
	m := NewMemo(rt, func() int {
		computes++
		v := s.Get()
		if fail {
			panic("compute exploded")
		}
		return v * 2
	})

	if got := m.Get(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}

	fail = true
	s.Set(3)
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected compute panic to propagate")
			}
		}()
		m.Get()
	}()

	if !m.Dirty() {
		t.Error("expected memo still dirty after failed recompute")
	}
	if deps := rt.dependenciesOf(m.ID()); len(deps) != 1 || deps[0] != s.ID() {
		t.Errorf("expected previous dependency set preserved, got %v", deps)
	}

	// Retry succeeds and the stack is intact: tracking still works.
	fail = false
	if got := m.Get(); got != 6 {
		t.Errorf("expected 6 after retry, got %d", got)
	}
	if computes != 3 {
		t.Errorf("expected 3 compute attempts, got %d", computes)
	}

	runs := 0
	NewEffect(rt, func() Cleanup {
		runs++
		_ = m.Get()
		return nil
	})
	s.Set(4)
	if runs != 2 {
		t.Errorf("expected tracking to survive the failed compute, got %d runs", runs)
	}
}

func TestMemoPeek(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() + 1 })

	runs := 0
	NewEffect(rt, func() Cleanup {
		runs++
		_ = m.Peek()
		return nil
	})

	if got := m.Peek(); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}

	s.Set(10)
	if runs != 1 {
		t.Errorf("expected peek to not subscribe the effect, got %d runs", runs)
	}
	if got := m.Peek(); got != 11 {
		t.Errorf("expected peek to see fresh value, got %d", got)
	}
}

func TestMemoDisposeFailsLoudly(t *testing.T) {
	rt := New()
	defer rt.Dispose()

	s := NewSignal(rt, 1)
	m := NewMemo(rt, func() int { return s.Get() })
	_ = m.Get()

	m.Dispose()

	if deps := rt.dependenciesOf(m.ID()); len(deps) != 0 {
		t.Errorf("expected dependencies cleared on dispose, got %v", deps)
	}
	if subs := rt.dependentsOf(s.ID()); len(subs) != 0 {
		t.Errorf("expected signal to drop the disposed dependent, got %v", subs)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic reading a disposed memo")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUseAfterDispose) {
			t.Errorf("expected ErrUseAfterDispose, got %v", r)
		}
	}()
	m.Get()
}
