package finalize

import (
	"runtime"
	"sync/atomic"
)

// Queue is a bounded multi-producer single-consumer ring buffer of
// condemned objects, based on Dmitry Vyukov's algorithm using per-slot
// sequence numbers. Parallel scan workers enqueue concurrently with
// marking; only the scheduler dequeues, never concurrently with itself.
// An object is held by the queue at most once across its lifetime.
type Queue struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []queueCell
}

type queueCell struct {
	seq  uint64
	_pad [56]byte // cache line padding (approx)
	val  *Object
}

// NewQueue creates a queue with the given capacity (must be a power of
// two; rounded up if not).
func NewQueue(capacity uint64) *Queue {
	if capacity < 2 {
		capacity = 2
	}
	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	q := &Queue{
		mask:  capPow2 - 1,
		cells: make([]queueCell, capPow2),
	}
	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}
	return q
}

// Enqueue adds o. It returns false without touching the ring when o was
// already queued or finalized, so double condemnation cannot produce a
// second finalizer run. A full ring applies backpressure: the call spins
// until the consumer frees a slot, so a consumer must already be
// draining; without one the call never returns.
func (q *Queue) Enqueue(o *Object) bool {
	if !o.transition(statePending, stateQueued) {
		return false
	}
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				c.val = o
				atomic.StoreUint64(&c.seq, pos+1)
				return true
			}
		case dif < 0:
			// Ring full: wait for the consumer to catch up.
			runtime.Gosched()
		default:
			// Lost the race to another producer; re-read the head.
		}
	}
}

// Dequeue pops the arrival-ordered head of the queue. Arrival order
// carries no execution-order guarantee; it is just how the ring stores
// elements. Only the scheduler may call this.
func (q *Queue) Dequeue() (*Object, bool) {
	pos := atomic.LoadUint64(&q.dequeue)
	c := &q.cells[pos&q.mask]
	seq := atomic.LoadUint64(&c.seq)
	if int64(seq)-int64(pos+1) < 0 {
		return nil, false // empty
	}
	atomic.StoreUint64(&q.dequeue, pos+1)
	o := c.val
	c.val = nil
	atomic.StoreUint64(&c.seq, pos+q.mask+1)
	return o, true
}

// Empty reports whether the queue currently holds no objects.
func (q *Queue) Empty() bool {
	return atomic.LoadUint64(&q.dequeue) == atomic.LoadUint64(&q.enqueue)
}
