// Package fsa implements finalizer safety analysis for the Lumen compiler.
// Whenever a concrete type is placed inside a managed allocation, the
// checker decides whether its finalizer can run soundly on the dedicated
// finalization thread: it must not dereference state that may already be
// invalid by then, and must not touch values that are not thread-safe.
package fsa

import (
	"strings"

	"github.com/lumen-lang/lumen/internal/position"
)

// ViolationKind classifies why a finalizer was rejected.
type ViolationKind int

const (
	// AccessViolation: the finalizer dereferences a possibly-dangling
	// bounded reference, or dereferences a managed pointer whose referent
	// may itself already have been finalized.
	AccessViolation ViolationKind = iota
	// ThreadSafetyViolation: the finalizer touches a value whose type is
	// not proven safe to access from another execution context.
	ThreadSafetyViolation
	// RecursionLimitExceeded: the type's field graph nests too deeply for
	// the reachability walk to complete.
	RecursionLimitExceeded
	// OpaqueCallViolation: the finalizer calls a function whose definition
	// is unavailable, so nothing can be proven about it.
	OpaqueCallViolation
	// DynamicDispatchViolation: the finalizer dispatches through a type
	// whose concrete implementation is unknown at compile time.
	DynamicDispatchViolation
)

func (k ViolationKind) String() string {
	switch k {
	case AccessViolation:
		return "access-violation"
	case ThreadSafetyViolation:
		return "thread-safety-violation"
	case RecursionLimitExceeded:
		return "recursion-limit-exceeded"
	case OpaqueCallViolation:
		return "opaque-call"
	case DynamicDispatchViolation:
		return "dynamic-dispatch"
	default:
		return "unknown"
	}
}

// Violation is a single reason a type's finalizer cannot be admitted.
type Violation struct {
	Kind ViolationKind
	// Path is the chain of access-path segments from self to the
	// violating value, e.g. ["buf", "log", "*"]. Empty for violations not
	// tied to a field access (opaque calls, recursion limit).
	Path []string
	// TypeName names the violating value's type.
	TypeName string
	// Span locates the offending expression in the finalizer body.
	Span position.Span
	// Evidence is the lifetime or capability fact the rejection rests on.
	Evidence string
}

// PathString renders the access path rooted at self.
func (v Violation) PathString() string {
	if len(v.Path) == 0 {
		return "self"
	}
	return "self." + strings.Join(v.Path, ".")
}

// CheckReport is the outcome of checking one concrete type at one managed
// allocation construction site.
type CheckReport struct {
	TypeName string
	// Admitted is true when the allocation may proceed.
	Admitted bool
	// Elided is true when the type needs no finalizer registration at all:
	// neither it nor any reachable component defines one.
	Elided bool
	// Overridden is true when admission came from the explicit
	// finalizer-safe override rather than from analysis.
	Overridden bool
	// Violations holds every violation found, never just the first.
	Violations []Violation
	// AllocSite is the construction site that triggered the check.
	AllocSite position.Span
}
