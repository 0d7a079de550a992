package finalize

import (
	"log"
	"sync"
	"sync/atomic"
)

// State is the scheduler's drain state for the current collection cycle.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// Stats counts finalization work since the scheduler started.
type Stats struct {
	Registered int64 // objects handed to the scheduler
	Completed  int64 // finalizers that ran to completion
	Failed     int64 // finalizers that panicked
	Drains     int64 // Idle -> Draining -> Idle transitions
}

// Scheduler drains the condemned-object queue on one dedicated goroutine.
// Finalizer execution is serialized against itself but concurrent with
// resumed mutators. A finalizer that panics is isolated: the failure is
// logged, the object still counts as finalized, and the drain continues
// with the remaining queue.
type Scheduler struct {
	queue *Queue

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	registered int64
	completed  int64
	failed     int64
	drains     int64
}

// NewScheduler creates a scheduler over a queue of the given capacity.
// Call Start to launch the finalization goroutine.
func NewScheduler(queueCapacity uint64) *Scheduler {
	s := &Scheduler{
		queue: NewQueue(queueCapacity),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the dedicated finalization goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the finalization goroutine once the current drain
// finishes. Objects still queued are not finalized, and no Enqueue or
// Submit may follow.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// Enqueue hands one condemned object to the scheduler. Safe to call from
// multiple scan workers concurrently. Returns false when the object was
// already queued or finalized. The scheduler must have been started and
// not yet stopped: a full queue blocks the producer until the drain
// goroutine frees a slot.
func (s *Scheduler) Enqueue(o *Object) bool {
	if !s.queue.Enqueue(o) {
		return false
	}
	atomic.AddInt64(&s.registered, 1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Submit enqueues a whole condemned set. Like Enqueue, it requires a
// started scheduler.
func (s *Scheduler) Submit(objs []*Object) {
	for _, o := range objs {
		s.Enqueue(o)
	}
}

// State returns the scheduler's current drain state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the finalization counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Registered: atomic.LoadInt64(&s.registered),
		Completed:  atomic.LoadInt64(&s.completed),
		Failed:     atomic.LoadInt64(&s.failed),
		Drains:     atomic.LoadInt64(&s.drains),
	}
}

// WaitIdle blocks until the scheduler has finalized everything handed to
// it and returned to Idle.
func (s *Scheduler) WaitIdle() {
	s.mu.Lock()
	for !s.idleLocked() {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Scheduler) idleLocked() bool {
	done := atomic.LoadInt64(&s.completed) + atomic.LoadInt64(&s.failed)
	return s.state == StateIdle && done == atomic.LoadInt64(&s.registered)
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
			s.setState(StateDraining)
			s.drain()
			s.setState(StateIdle)
			atomic.AddInt64(&s.drains, 1)
			s.broadcast()
		}
	}
}

func (s *Scheduler) drain() {
	for {
		o, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.runOne(o)
	}
}

// runOne invokes one finalizer to completion before the next is popped.
func (s *Scheduler) runOne(o *Object) {
	if !o.transition(stateQueued, stateFinalized) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.failed, 1)
			log.Printf("finalize: finalizer for object %#x panicked: %v", o.Handle, r)
		}
		s.broadcast()
	}()
	o.Finalize()
	atomic.AddInt64(&s.completed, 1)
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}
