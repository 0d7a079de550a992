// Package gc orchestrates one collection cycle of the Lumen runtime:
// stop the world, fan conservative root scanning out over parallel
// workers, resume the mutators, then hand the condemned set to the
// finalization scheduler. The tracing algorithm itself belongs to the
// collector; this package only coordinates it.
package gc

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lumen-lang/lumen/internal/runtime/finalize"
	"github.com/lumen-lang/lumen/internal/runtime/pause"
)

// Collector is the tracing collector this package coordinates. It is a
// black box: it conservatively discovers live objects from pointer-shaped
// root words and reports what is left unreachable.
type Collector interface {
	// ScanRoots marks objects reachable from one mutator's root snapshot.
	// It is called from parallel workers while the world is stopped and
	// must be safe for concurrent use.
	ScanRoots(ctx context.Context, snap pause.RootSnapshot) error

	// Condemned returns the objects found unreachable once every snapshot
	// of the cycle has been scanned, clearing collector state for the next
	// cycle. Objects in the set are guaranteed unreachable from all
	// mutator roots at the moment scanning completed.
	Condemned() []*finalize.Object
}

// Runner drives collection cycles. At most one mark phase is active at a
// time; finalization of the previous cycle may still be ongoing when the
// next mark phase starts, which is fine because the scheduler serializes
// it independently.
type Runner struct {
	coordinator *pause.Coordinator
	collector   Collector
	scheduler   *finalize.Scheduler
	workers     int

	markMu sync.Mutex
	cycles int64
}

// NewRunner creates a Runner. workers caps the parallel scan fan-out; zero
// means one worker per CPU.
func NewRunner(coordinator *pause.Coordinator, collector Collector, scheduler *finalize.Scheduler, workers int) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		coordinator: coordinator,
		collector:   collector,
		scheduler:   scheduler,
		workers:     workers,
	}
}

// Cycles returns the number of completed collection cycles.
func (r *Runner) Cycles() int64 {
	return atomic.LoadInt64(&r.cycles)
}

// Collect runs one full cycle and returns the number of objects handed to
// the finalization scheduler. Mutators are paused only for the scan/mark
// phase; finalizers run after they resume, concurrently with them.
func (r *Runner) Collect(ctx context.Context) (int, error) {
	r.markMu.Lock()
	defer r.markMu.Unlock()

	r.coordinator.RequestPause()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, snap := range r.coordinator.Snapshots() {
		snap := snap
		g.Go(func() error {
			return r.collector.ScanRoots(gctx, snap)
		})
	}
	scanErr := g.Wait()

	// The world resumes as soon as scanning is done, whether or not it
	// succeeded; condemned objects are handed off afterwards.
	r.coordinator.Resume()

	if scanErr != nil {
		return 0, fmt.Errorf("gc: scan/mark: %w", scanErr)
	}

	condemned := r.collector.Condemned()
	r.scheduler.Submit(condemned)
	atomic.AddInt64(&r.cycles, 1)
	return len(condemned), nil
}
