package pause

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// startMutator runs a mutator loop that polls Safepoint until stop is
// closed, bumping work on every iteration.
func startMutator(c *Coordinator, roots func() []uintptr, stop chan struct{}, wg *sync.WaitGroup, work *int64) *Mutator {
	m := c.Register(roots)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Unregister(m)
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.Safepoint()
			atomic.AddInt64(work, 1)
		}
	}()
	return m
}

func TestPauseWaitsForAllMutators(t *testing.T) {
	c := NewCoordinator()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var work int64

	mutators := make([]*Mutator, 3)
	for i := range mutators {
		mutators[i] = startMutator(c, nil, stop, &wg, &work)
	}

	c.RequestPause()
	// With RequestPause returned, every mutator must be parked.
	for i, m := range mutators {
		if got := m.State(); got != StatePaused {
			t.Errorf("mutator %d state = %v, want paused", i, got)
		}
	}
	// Parked mutators make no progress.
	before := atomic.LoadInt64(&work)
	time.Sleep(20 * time.Millisecond)
	if after := atomic.LoadInt64(&work); after != before {
		t.Errorf("mutators progressed while paused: %d -> %d", before, after)
	}

	c.Resume()

	// After resume, all mutators observe Running again.
	deadline := time.After(2 * time.Second)
	for i, m := range mutators {
		for m.State() != StateRunning {
			select {
			case <-deadline:
				t.Fatalf("mutator %d never resumed", i)
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}

	close(stop)
	wg.Wait()
}

func TestSnapshotsCapturedAtSafepoint(t *testing.T) {
	c := NewCoordinator()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var work int64

	startMutator(c, func() []uintptr { return []uintptr{0x1000, 0x2000} }, stop, &wg, &work)
	startMutator(c, func() []uintptr { return []uintptr{0x3000} }, stop, &wg, &work)

	c.RequestPause()
	snaps := c.Snapshots()
	c.Resume()
	close(stop)
	wg.Wait()

	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	words := 0
	for _, s := range snaps {
		words += len(s.Words)
	}
	if words != 3 {
		t.Errorf("snapshots carry %d root words, want 3", words)
	}
}

func TestRepeatedCycles(t *testing.T) {
	c := NewCoordinator()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var work int64

	for i := 0; i < 3; i++ {
		startMutator(c, nil, stop, &wg, &work)
	}

	for cycle := 0; cycle < 5; cycle++ {
		c.RequestPause()
		if got := len(c.Snapshots()); got != 3 {
			t.Fatalf("cycle %d: %d snapshots, want 3", cycle, got)
		}
		c.Resume()
	}

	close(stop)
	wg.Wait()
}

func TestUnregisterReleasesPendingPause(t *testing.T) {
	c := NewCoordinator()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var work int64

	startMutator(c, nil, stop, &wg, &work)

	// A registered mutator that never polls safepoints would block the
	// handshake forever; unregistering it must release the request.
	idle := c.Register(nil)

	done := make(chan struct{})
	go func() {
		c.RequestPause()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("pause completed while a mutator had not parked")
	case <-time.After(20 * time.Millisecond):
	}

	c.Unregister(idle)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pause did not complete after unregister")
	}

	c.Resume()
	close(stop)
	wg.Wait()
}
