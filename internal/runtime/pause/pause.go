// Package pause implements the cooperative stop-the-world handshake the
// collector uses for its scan/mark phase. Mutator threads register with a
// Coordinator and poll Safepoint; a pause request parks every registered
// mutator at its next safepoint, holding a conservative snapshot of its
// pointer-shaped roots, until the collector resumes the world. Only the
// scan/mark phase stops the world: finalization runs after resume,
// concurrently with the mutators.
package pause

import (
	"sync"
	"sync/atomic"
)

// MutatorState is the handshake state of one mutator thread.
type MutatorState int32

const (
	StateRunning MutatorState = iota
	StatePauseRequested
	StatePaused
)

func (s MutatorState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePauseRequested:
		return "pause-requested"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// RootSnapshot is one mutator's conservative register/stack image, saved
// at the safepoint where it parked. Any pointer-shaped word in it is
// treated as a potential live reference.
type RootSnapshot struct {
	MutatorID int
	Words     []uintptr
}

// Mutator is one registered mutator thread's handle into the handshake.
type Mutator struct {
	id    int
	coord *Coordinator
	roots func() []uintptr
	state int32
}

// ID returns the mutator's registration id.
func (m *Mutator) ID() int { return m.id }

// State returns the mutator's current handshake state.
func (m *Mutator) State() MutatorState {
	return MutatorState(atomic.LoadInt32(&m.state))
}

// Safepoint must be polled regularly by the mutator thread. It is nearly
// free while no pause is requested. When one is, it captures the root
// snapshot and parks until the collector resumes the world.
func (m *Mutator) Safepoint() {
	if MutatorState(atomic.LoadInt32(&m.state)) != StatePauseRequested {
		return
	}
	m.coord.park(m)
}

// Coordinator runs the pause/resume handshake across all registered
// mutators. It never runs finalizers itself and shares no locks with the
// finalization scheduler; the two runtimes meet only through the condemned
// object hand-off.
type Coordinator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	mutators map[int]*Mutator
	nextID   int

	pausing    bool
	generation uint64
	paused     int
	snapshots  []RootSnapshot
}

// NewCoordinator creates a Coordinator with no registered mutators.
func NewCoordinator() *Coordinator {
	c := &Coordinator{mutators: make(map[int]*Mutator)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Register adds a mutator thread to the handshake. The roots callback is
// invoked at the parking safepoint to capture the thread's conservative
// root words; it may be nil for threads that own no managed roots.
// Registration during an in-progress pause request joins that request: the
// new mutator must reach a safepoint before scanning can begin.
func (c *Coordinator) Register(roots func() []uintptr) *Mutator {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Mutator{id: c.nextID, coord: c, roots: roots}
	c.nextID++
	c.mutators[m.id] = m
	if c.pausing {
		atomic.StoreInt32(&m.state, int32(StatePauseRequested))
	}
	return m
}

// Unregister removes a mutator that is done executing managed code. It
// must be called from the mutator's own thread while Running.
func (c *Coordinator) Unregister(m *Mutator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mutators, m.id)
	atomic.StoreInt32(&m.state, int32(StateRunning))
	// A pending pause request may now be satisfied by the remaining set.
	c.cond.Broadcast()
}

// Registered returns the number of registered mutators.
func (c *Coordinator) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mutators)
}

// RequestPause broadcasts a pause signal and blocks until every registered
// mutator has parked at a safepoint. When it returns, the world is stopped
// and the root snapshots are ready for scanning.
func (c *Coordinator) RequestPause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A previous cycle must be fully resumed before a new request begins:
	// every mutator observes Running in between.
	for c.pausing || c.paused > 0 {
		c.cond.Wait()
	}

	c.pausing = true
	c.snapshots = c.snapshots[:0]
	for _, m := range c.mutators {
		atomic.StoreInt32(&m.state, int32(StatePauseRequested))
	}

	for c.paused < len(c.mutators) {
		c.cond.Wait()
	}
}

// Resume broadcasts the resume signal after scanning completes. Parked
// mutators transition back to Running and continue from their safepoints.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pausing = false
	c.generation++
	c.cond.Broadcast()
}

// Snapshots returns the root snapshots captured during the current pause.
// Valid between RequestPause returning and Resume.
func (c *Coordinator) Snapshots() []RootSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RootSnapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// park saves the mutator's roots and blocks it until resume.
func (c *Coordinator) park(m *Mutator) {
	var words []uintptr
	if m.roots != nil {
		words = m.roots()
	}

	c.mu.Lock()
	atomic.StoreInt32(&m.state, int32(StatePaused))
	c.snapshots = append(c.snapshots, RootSnapshot{MutatorID: m.id, Words: words})
	c.paused++
	gen := c.generation
	c.cond.Broadcast()

	for c.pausing && c.generation == gen {
		c.cond.Wait()
	}

	atomic.StoreInt32(&m.state, int32(StateRunning))
	c.paused--
	c.cond.Broadcast()
	c.mu.Unlock()
}
