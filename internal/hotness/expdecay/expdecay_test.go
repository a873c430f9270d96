package expdecay

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTrackerForTest(hl time.Duration) (*Tracker, *fakeClock) {
	fc := &fakeClock{now: time.Unix(0, 0).UTC()}
	tr := New(hl)
	tr.now = fc.Now
	return tr, fc
}

func almostEq(t *testing.T, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("got=%g want=%g (eps=%g)", got, want, eps)
	}
}

func TestInc_AccumulatesImmediately(t *testing.T) {
	tr, _ := newTrackerForTest(time.Minute)

	tr.Inc("12")
	almostEq(t, tr.Score("12"), 1, 1e-9)
	tr.Inc("12")
	tr.Inc("12")
	almostEq(t, tr.Score("12"), 3, 1e-9)
	if tr.Score("unknown") != 0 || tr.Score("") != 0 {
		t.Fatal("unknown districts score zero")
	}
}

func TestHalfLife_DecaysByHalf(t *testing.T) {
	hl := 2 * time.Second
	tr, fc := newTrackerForTest(hl)

	tr.Inc("7")
	fc.Add(hl)
	almostEq(t, tr.Score("7"), 0.5, 1e-6)
	fc.Add(hl)
	almostEq(t, tr.Score("7"), 0.25, 1e-6)

	// decayed score carries into the next increment
	tr.Inc("7")
	almostEq(t, tr.Score("7"), 1.25, 1e-6)
}

func TestConcurrency_ManyIncSameDistrict(t *testing.T) {
	tr, _ := newTrackerForTest(time.Minute)
	const N = 256

	var wg sync.WaitGroup
	wg.Add(N)
	for range N {
		go func() {
			tr.Inc("1")
			wg.Done()
		}()
	}
	wg.Wait()
	almostEq(t, tr.Score("1"), N, 1e-9)
}

func TestReset_OnlySelected(t *testing.T) {
	tr, _ := newTrackerForTest(30 * time.Second)
	tr.Inc("a")
	tr.Inc("b")

	tr.Reset("a", "")
	if got := tr.Score("a"); got != 0 {
		t.Fatalf("reset a: got %g", got)
	}
	if got := tr.Score("b"); got <= 0 {
		t.Fatalf("b must survive reset, got %g", got)
	}
	if tr.Size() != 1 {
		t.Fatalf("size=%d want 1", tr.Size())
	}
}

func TestPrune_RemovesColdEntries(t *testing.T) {
	tr, fc := newTrackerForTest(time.Second)
	tr.Inc("old")
	fc.Add(10 * time.Second)
	tr.Inc("fresh")

	if n := tr.Prune(0.01); n != 1 {
		t.Fatalf("pruned=%d want 1", n)
	}
	if tr.Size() != 1 || tr.Score("fresh") == 0 {
		t.Fatalf("fresh entry must remain, size=%d", tr.Size())
	}
}

func TestDecayHelper_Edges(t *testing.T) {
	if got := decay(0, 10, 60); got != 0 {
		t.Fatalf("expected 0, got %g", got)
	}
	if got := decay(5, 0, 60); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
	if got := decay(5, 10, 0); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
}
