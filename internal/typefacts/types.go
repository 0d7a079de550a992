// Package typefacts defines the read-only view of elaborated type
// information that the Lumen garbage collection subsystem consumes from the
// compiler front end: field graphs, reference lifetime classifications, and
// thread-safety capabilities for concrete (post generic substitution) types.
package typefacts

// TypeKind represents the kind of a concrete type.
type TypeKind int

const (
	KindPrimitive TypeKind = iota
	KindStruct
	KindTuple
	KindArray
	KindSlice
	KindEnum
	KindReference
	KindManaged
	KindOpaque
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindStruct:
		return "struct"
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	case KindSlice:
		return "slice"
	case KindEnum:
		return "enum"
	case KindReference:
		return "reference"
	case KindManaged:
		return "managed"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Lifetime classifies a reference field.
type Lifetime int

const (
	// LifetimeBounded marks a reference tied to an enclosing stack frame or
	// input parameter. It may dangle by the time a finalizer runs.
	LifetimeBounded Lifetime = iota
	// LifetimeUnbounded marks a reference valid for the whole program.
	LifetimeUnbounded
)

func (l Lifetime) String() string {
	if l == LifetimeUnbounded {
		return "unbounded"
	}
	return "bounded"
}

// TypeNode is a concrete type as instantiated. Nodes are owned by the
// provider; the subsystem only holds read-only views and uses Name as the
// identity of the concrete instantiation.
type TypeNode struct {
	Name string // concrete display name, e.g. "List<u32>"
	Kind TypeKind
}

func (t *TypeNode) String() string { return t.Name }

// FieldEdge relates a TypeNode to a child reachable through one access-path
// segment: a field name, a tuple index, an array/slice element ("[]"), or an
// enum variant field ("Variant::field").
type FieldEdge struct {
	Label    string
	Child    *TypeNode
	Lifetime Lifetime // meaningful only when Child.Kind == KindReference
}

// Provider supplies type facts to the reachability builder and the
// finalizer safety checker. Implementations must be safe for concurrent
// readers and must return stable results for a given concrete type: the
// checker memoizes on that assumption.
type Provider interface {
	// FieldsOf returns the ordered child edges of a type. A reference type
	// has exactly one dereference edge labeled "*" to its referent.
	// Primitive, managed and opaque types have no edges of their own.
	FieldsOf(t *TypeNode) []FieldEdge

	// LifetimeOf classifies a reference-typed edge.
	LifetimeOf(e FieldEdge) Lifetime

	// IsThreadSafe reports whether values of the type may be accessed from
	// an execution context other than the one that created them.
	IsThreadSafe(t *TypeNode) bool

	// HasOverride reports whether the type forcibly declares its finalizer
	// safe. The claim is taken on faith and never re-validated.
	HasOverride(t *TypeNode) bool

	// FinalizerOf returns the finalizer body of the type, or nil when the
	// type defines no user finalizer.
	FinalizerOf(t *TypeNode) *FinalizerBody
}
