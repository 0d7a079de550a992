// Package reachability computes the set of values a type's finalizer can
// reach through ordinary field access and dereference. The walk stops at
// managed-pointer boundaries (each managed allocation gets its own
// independently checked finalizer) and at opaque foreign types, so the
// result describes exactly the state one finalizer owns.
package reachability

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lumen-lang/lumen/internal/typefacts"
)

// DefaultMaxDepth caps the field-graph walk. Type graphs cannot cycle
// without crossing a managed-pointer boundary, but pathological generic
// instantiation chains can still nest arbitrarily deep.
const DefaultMaxDepth = 128

// ErrRecursionLimit is returned when a type's field graph nests deeper
// than the configured ceiling.
var ErrRecursionLimit = errors.New("reachability: type nests too deeply")

// Entry is one reachable value: the access-path segments from the root and
// the terminal type at the end of them.
type Entry struct {
	Path     []string
	Type     *typefacts.TypeNode
	Lifetime typefacts.Lifetime // classification when Type is a reference
}

// PathString renders the entry's path relative to the root value.
func (e Entry) PathString() string {
	return strings.Join(e.Path, ".")
}

// Set is the reachability set of one concrete root type.
type Set struct {
	Root    *typefacts.TypeNode
	Entries []Entry

	byPath map[string]int
}

// Lookup resolves an access path (segments relative to the root) to its
// entry.
func (s *Set) Lookup(path []string) (Entry, bool) {
	i, ok := s.byPath[strings.Join(path, ".")]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// Builder computes and memoizes reachability sets. Sets are pure data
// depending only on the provider's facts, so each concrete type is
// computed at most once.
type Builder struct {
	provider typefacts.Provider
	maxDepth int

	mu   sync.Mutex
	memo map[string]*Set
	errs map[string]error
}

// NewBuilder creates a Builder over the given provider.
func NewBuilder(p typefacts.Provider) *Builder {
	return &Builder{
		provider: p,
		maxDepth: DefaultMaxDepth,
		memo:     make(map[string]*Set),
		errs:     make(map[string]error),
	}
}

// SetMaxDepth overrides the recursion ceiling. Intended for tests.
func (b *Builder) SetMaxDepth(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxDepth = n
}

type frontierItem struct {
	node  *typefacts.TypeNode
	path  []string
	depth int
}

// Build returns the reachability set of root, computing it on first use.
// A nesting depth beyond the ceiling yields ErrRecursionLimit; the failure
// is memoized the same way a success would be.
func (b *Builder) Build(root *typefacts.TypeNode) (*Set, error) {
	b.mu.Lock()
	if s, ok := b.memo[root.Name]; ok {
		b.mu.Unlock()
		return s, nil
	}
	if err, ok := b.errs[root.Name]; ok {
		b.mu.Unlock()
		return nil, err
	}
	maxDepth := b.maxDepth
	b.mu.Unlock()

	s, err := b.walk(root, maxDepth)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.errs[root.Name] = err
		return nil, err
	}
	b.memo[root.Name] = s
	return s, nil
}

func (b *Builder) walk(root *typefacts.TypeNode, maxDepth int) (*Set, error) {
	s := &Set{Root: root, byPath: make(map[string]int)}

	frontier := []frontierItem{{node: root, depth: 0}}
	for len(frontier) > 0 {
		item := frontier[0]
		frontier = frontier[1:]

		if item.depth > maxDepth {
			return nil, fmt.Errorf("%w: %s at %q exceeds depth %d",
				ErrRecursionLimit, root.Name, strings.Join(item.path, "."), maxDepth)
		}

		for _, edge := range b.provider.FieldsOf(item.node) {
			path := append(append([]string(nil), item.path...), edge.Label)
			entry := Entry{Path: path, Type: edge.Child}
			if edge.Child.Kind == typefacts.KindReference {
				entry.Lifetime = b.provider.LifetimeOf(edge)
			}
			s.byPath[strings.Join(path, ".")] = len(s.Entries)
			s.Entries = append(s.Entries, entry)

			// Managed pointers are opaque handles here: the referent is a
			// separate allocation with its own finalizer check. Opaque
			// foreign types are atomic leaves.
			switch edge.Child.Kind {
			case typefacts.KindManaged, typefacts.KindOpaque, typefacts.KindPrimitive:
				continue
			}
			frontier = append(frontier, frontierItem{
				node:  edge.Child,
				path:  path,
				depth: item.depth + 1,
			})
		}
	}
	return s, nil
}

// NeedsFinalizer reports whether placing a value of t in a managed
// allocation requires registering a finalizer at all: true when t or any
// type in its reachability set defines one. Types for which this is false
// are elided from finalization entirely.
func (b *Builder) NeedsFinalizer(t *typefacts.TypeNode) (bool, error) {
	if b.provider.FinalizerOf(t) != nil {
		return true, nil
	}
	s, err := b.Build(t)
	if err != nil {
		return false, err
	}
	for _, e := range s.Entries {
		if b.provider.FinalizerOf(e.Type) != nil {
			return true, nil
		}
	}
	return false, nil
}
