package fsa

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lumen-lang/lumen/internal/position"
	"github.com/lumen-lang/lumen/internal/reachability"
	"github.com/lumen-lang/lumen/internal/typefacts"
)

// Checker decides admissibility of finalizers for managed allocations. The
// analysis for a concrete type is a pure function of the provider's facts,
// so it runs at most once per type; only the triggering allocation site
// differs between reports for the same type.
type Checker struct {
	provider typefacts.Provider
	reach    *reachability.Builder

	mu   sync.Mutex
	memo map[string]*analysis
}

type analysis struct {
	violations []Violation
	elided     bool
	overridden bool
	err        error
}

// NewChecker creates a Checker with its own reachability builder.
func NewChecker(p typefacts.Provider) *Checker {
	return &Checker{
		provider: p,
		reach:    reachability.NewBuilder(p),
		memo:     make(map[string]*analysis),
	}
}

// Reachability exposes the underlying builder so callers can share its
// memoized sets.
func (c *Checker) Reachability() *reachability.Builder { return c.reach }

// Check gates one managed-allocation construction site. A non-nil error
// means the type facts themselves are inconsistent (an internal front-end
// fault), not that the user's finalizer is unsafe.
func (c *Checker) Check(t *typefacts.TypeNode, site position.Span) (CheckReport, error) {
	c.mu.Lock()
	a, ok := c.memo[t.Name]
	c.mu.Unlock()

	if !ok {
		a = c.analyze(t)
		c.mu.Lock()
		c.memo[t.Name] = a
		c.mu.Unlock()
	}

	if a.err != nil {
		return CheckReport{}, a.err
	}
	return CheckReport{
		TypeName:   t.Name,
		Admitted:   len(a.violations) == 0,
		Elided:     a.elided,
		Overridden: a.overridden,
		Violations: a.violations,
		AllocSite:  site,
	}, nil
}

// finalizerGlue is one finalizer body that runs when a value of the root
// type is collected: the root's own finalizer, or a reachable component's.
type finalizerGlue struct {
	owner  *typefacts.TypeNode
	prefix []string // access path from the root value to the owner
	body   *typefacts.FinalizerBody
}

func (c *Checker) analyze(t *typefacts.TypeNode) *analysis {
	// The explicit override short-circuits both passes. Its claim is a
	// documented user obligation and is never re-validated.
	if c.provider.HasOverride(t) {
		return &analysis{overridden: true}
	}

	set, err := c.reach.Build(t)
	if errors.Is(err, reachability.ErrRecursionLimit) {
		return &analysis{violations: []Violation{{
			Kind:     RecursionLimitExceeded,
			TypeName: t.Name,
			Evidence: err.Error(),
		}}}
	}
	if err != nil {
		return &analysis{err: err}
	}

	glue := c.collectGlue(t, set)
	if len(glue) == 0 {
		// Fast accept: no finalizer anywhere in the reachable component
		// graph, so no registration and nothing to check.
		return &analysis{elided: true}
	}

	var violations []Violation
	for _, g := range glue {
		if g.owner != t && c.provider.HasOverride(g.owner) {
			continue
		}
		ownerSet, err := c.reach.Build(g.owner)
		if errors.Is(err, reachability.ErrRecursionLimit) {
			violations = append(violations, Violation{
				Kind:     RecursionLimitExceeded,
				Path:     g.prefix,
				TypeName: g.owner.Name,
				Evidence: err.Error(),
			})
			continue
		}
		if err != nil {
			return &analysis{err: err}
		}
		vs, err := c.checkBody(g, ownerSet)
		if err != nil {
			return &analysis{err: err}
		}
		violations = append(violations, vs...)
	}

	sortViolations(violations)
	return &analysis{violations: dedupeViolations(violations)}
}

// collectGlue gathers every finalizer body that participates in collecting
// a value of t: its own, plus those of reachable component types. Each is
// later checked against its owner's reachability set.
func (c *Checker) collectGlue(t *typefacts.TypeNode, set *reachability.Set) []finalizerGlue {
	var glue []finalizerGlue
	if body := c.provider.FinalizerOf(t); body != nil {
		glue = append(glue, finalizerGlue{owner: t, body: body})
	}
	seen := map[string]bool{t.Name: true}
	for _, e := range set.Entries {
		if seen[e.Type.Name] {
			continue
		}
		seen[e.Type.Name] = true
		if body := c.provider.FinalizerOf(e.Type); body != nil {
			glue = append(glue, finalizerGlue{owner: e.Type, prefix: e.Path, body: body})
		}
	}
	return glue
}

// checkBody runs both analysis passes over one finalizer body. Violations
// found by either pass are accumulated; the checker never stops early.
func (c *Checker) checkBody(g finalizerGlue, set *reachability.Set) ([]Violation, error) {
	var violations []Violation

	// The body executes with self in scope on the finalization thread, so
	// the owner type is subject to the thread-safety pass before any of
	// its field accesses are.
	if !c.provider.IsThreadSafe(g.owner) {
		violations = append(violations, Violation{
			Kind:     ThreadSafetyViolation,
			Path:     prefixed(g.prefix, nil),
			TypeName: g.owner.Name,
			Span:     bodySpan(g.body),
			Evidence: fmt.Sprintf("%s does not satisfy the thread-safety capability", g.owner.Name),
		})
	}

	// Locals bound from destructuring self resolve back to their
	// originating access path, so aliasing cannot defeat either pass.
	env := map[string][]string{}

	addAccess := func(expr typefacts.AccessExpr) error {
		path, err := resolveAccess(expr, env)
		if err != nil {
			return fmt.Errorf("fsa: finalizer of %s: %w", g.owner.Name, err)
		}
		vs, err := c.checkAccess(g, set, path, expr.Span)
		if err != nil {
			return err
		}
		violations = append(violations, vs...)
		return nil
	}

	for _, stmt := range g.body.Stmts {
		switch st := stmt.(type) {
		case typefacts.LetStmt:
			path, err := resolveAccess(st.Src, env)
			if err != nil {
				return nil, fmt.Errorf("fsa: finalizer of %s: %w", g.owner.Name, err)
			}
			if err := addAccess(st.Src); err != nil {
				return nil, err
			}
			env[st.Name] = path
		case typefacts.AccessStmt:
			if err := addAccess(st.Expr); err != nil {
				return nil, err
			}
		case typefacts.CallStmt:
			if !st.BodyKnown {
				violations = append(violations, Violation{
					Kind:     OpaqueCallViolation,
					TypeName: g.owner.Name,
					Span:     st.Span,
					Evidence: fmt.Sprintf("the definition of %q is not available to the analysis", st.Fn),
				})
			}
			if st.Dynamic {
				violations = append(violations, Violation{
					Kind:     DynamicDispatchViolation,
					TypeName: g.owner.Name,
					Span:     st.Span,
					Evidence: fmt.Sprintf("the concrete target of %q is unknown at compile time", st.Fn),
				})
			}
			for _, arg := range st.Args {
				if err := addAccess(arg); err != nil {
					return nil, err
				}
			}
		}
	}
	return violations, nil
}

// checkAccess applies the access-validity pass and the thread-safety pass
// to one resolved access path. Both passes walk every projection of the
// path, not just its terminal type.
func (c *Checker) checkAccess(g finalizerGlue, set *reachability.Set, path []string, span position.Span) ([]Violation, error) {
	var violations []Violation

	// Access validity: any bounded reference along the path may dangle by
	// finalization time, and any dereference of a managed pointer may
	// observe an already-finalized referent. Thread safety: the finalizer
	// runs on a dedicated thread concurrently with resumed mutators, so a
	// value projected out of a non-thread-safe container is still a race
	// even when its own type is safe; a pointer's safety is decided by its
	// referent at the following segment. Both passes are deliberately
	// conservative: they never try to prove a bounded reference happens to
	// still be valid.
	for i := 1; i <= len(path); i++ {
		entry, ok := set.Lookup(path[:i])
		if !ok {
			return nil, fmt.Errorf("fsa: finalizer of %s accesses %q which is not in its reachability graph",
				g.owner.Name, joinPath(path[:i]))
		}
		switch entry.Type.Kind {
		case typefacts.KindReference:
			if entry.Lifetime == typefacts.LifetimeBounded {
				violations = append(violations, Violation{
					Kind:     AccessViolation,
					Path:     prefixed(g.prefix, path[:i]),
					TypeName: entry.Type.Name,
					Span:     span,
					Evidence: "reference lifetime is bounded: it might not live long enough",
				})
			}
		case typefacts.KindManaged:
			if i < len(path) {
				violations = append(violations, Violation{
					Kind:     AccessViolation,
					Path:     prefixed(g.prefix, path[:i]),
					TypeName: entry.Type.Name,
					Span:     span,
					Evidence: "managed pointer referent might have already been finalized",
				})
				// The reachability graph stops at the managed boundary, so
				// the rest of the path cannot be resolved.
				return violations, nil
			}
		default:
			if !c.provider.IsThreadSafe(entry.Type) {
				violations = append(violations, Violation{
					Kind:     ThreadSafetyViolation,
					Path:     prefixed(g.prefix, path[:i]),
					TypeName: entry.Type.Name,
					Span:     span,
					Evidence: fmt.Sprintf("%s does not satisfy the thread-safety capability", entry.Type.Name),
				})
			}
		}
	}
	return violations, nil
}

// bodySpan locates a finalizer body by its first statement.
func bodySpan(b *typefacts.FinalizerBody) position.Span {
	if len(b.Stmts) == 0 {
		return position.Span{}
	}
	switch st := b.Stmts[0].(type) {
	case typefacts.LetStmt:
		return st.Span
	case typefacts.AccessStmt:
		return st.Expr.Span
	case typefacts.CallStmt:
		return st.Span
	}
	return position.Span{}
}

// prefixed joins a glue prefix and an access path into a fresh slice.
func prefixed(prefix, path []string) []string {
	out := make([]string, 0, len(prefix)+len(path))
	out = append(out, prefix...)
	return append(out, path...)
}

func resolveAccess(expr typefacts.AccessExpr, env map[string][]string) ([]string, error) {
	if expr.Root == "self" {
		return expr.Path, nil
	}
	base, ok := env[expr.Root]
	if !ok {
		return nil, fmt.Errorf("access rooted at unknown local %q", expr.Root)
	}
	return append(append([]string(nil), base...), expr.Path...), nil
}

func joinPath(path []string) string {
	out := "self"
	for _, p := range path {
		out += "." + p
	}
	return out
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start.Before(b.Span.Start)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.PathString() < b.PathString()
	})
}

func dedupeViolations(vs []Violation) []Violation {
	seen := make(map[string]bool, len(vs))
	out := vs[:0]
	for _, v := range vs {
		key := fmt.Sprintf("%d|%s|%s", v.Kind, v.PathString(), v.Span)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
