package typefacts

import (
	"fmt"
	"sync"
)

// Universe is an in-memory Provider. The snapshot loader populates one from
// a facts file; tests populate one directly. All reads are safe for
// concurrent use once construction is finished.
type Universe struct {
	mu         sync.RWMutex
	nodes      map[string]*TypeNode
	fields     map[string][]FieldEdge
	threadSafe map[string]bool
	overrides  map[string]bool
	finalizers map[string]*FinalizerBody
}

// NewUniverse creates an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		nodes:      make(map[string]*TypeNode),
		fields:     make(map[string][]FieldEdge),
		threadSafe: make(map[string]bool),
		overrides:  make(map[string]bool),
		finalizers: make(map[string]*FinalizerBody),
	}
}

// Define registers a concrete type and returns its node. Defining the same
// name twice returns the original node so that edges may refer to types
// before their own definition is complete.
func (u *Universe) Define(name string, kind TypeKind) *TypeNode {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n, ok := u.nodes[name]; ok {
		return n
	}
	n := &TypeNode{Name: name, Kind: kind}
	u.nodes[name] = n
	return n
}

// Lookup returns the node for a concrete type name.
func (u *Universe) Lookup(name string) (*TypeNode, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	n, ok := u.nodes[name]
	if !ok {
		return nil, fmt.Errorf("typefacts: unknown type %q", name)
	}
	return n, nil
}

// SetFields records the ordered child edges of a type.
func (u *Universe) SetFields(t *TypeNode, edges []FieldEdge) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fields[t.Name] = edges
}

// SetThreadSafe records the thread-safety capability of a type.
func (u *Universe) SetThreadSafe(t *TypeNode, safe bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.threadSafe[t.Name] = safe
}

// SetOverride records the unchecked finalizer-safe override for a type.
func (u *Universe) SetOverride(t *TypeNode, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.overrides[t.Name] = on
}

// SetFinalizer records the finalizer body of a type.
func (u *Universe) SetFinalizer(t *TypeNode, body *FinalizerBody) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finalizers[t.Name] = body
}

// FieldsOf implements Provider.
func (u *Universe) FieldsOf(t *TypeNode) []FieldEdge {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.fields[t.Name]
}

// LifetimeOf implements Provider.
func (u *Universe) LifetimeOf(e FieldEdge) Lifetime {
	return e.Lifetime
}

// IsThreadSafe implements Provider. Primitives are always thread-safe;
// everything else is only as safe as the front end declared it.
func (u *Universe) IsThreadSafe(t *TypeNode) bool {
	if t.Kind == KindPrimitive {
		return true
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.threadSafe[t.Name]
}

// HasOverride implements Provider.
func (u *Universe) HasOverride(t *TypeNode) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.overrides[t.Name]
}

// FinalizerOf implements Provider.
func (u *Universe) FinalizerOf(t *TypeNode) *FinalizerBody {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.finalizers[t.Name]
}

var _ Provider = (*Universe)(nil)
