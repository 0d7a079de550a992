// Package finalize implements the Lumen finalization runtime: the queue of
// condemned objects handed over by the collector at the end of a cycle, and
// the dedicated scheduler that runs each object's finalizer exactly once.
// Finalizers execute serialized on one dedicated goroutine, concurrently
// with resumed mutator threads; no ordering between distinct objects is
// defined, even for objects that referenced each other before collection.
package finalize

import "sync/atomic"

const (
	statePending int32 = iota
	stateQueued
	stateFinalized
)

// Object is a condemned object: an opaque handle plus its finalizer entry
// point. The collector produces one per object found unreachable; it is
// discarded after its finalizer returns.
type Object struct {
	// Handle identifies the underlying allocation. It is opaque to the
	// finalization runtime.
	Handle uint64
	// Finalize is the finalizer entry point.
	Finalize func()

	state int32
}

// NewObject creates a condemned object for the given handle.
func NewObject(handle uint64, finalize func()) *Object {
	return &Object{Handle: handle, Finalize: finalize}
}

// Finalized reports whether the object's finalizer has been claimed for
// execution. It stays true even if the finalizer failed: finalization is
// run-once, never retried.
func (o *Object) Finalized() bool {
	return atomic.LoadInt32(&o.state) == stateFinalized
}

func (o *Object) transition(from, to int32) bool {
	return atomic.CompareAndSwapInt32(&o.state, from, to)
}
