package typefacts

import (
	"strings"

	"github.com/lumen-lang/lumen/internal/position"
)

// AccessExpr is a field access or dereference expression inside a finalizer
// body. Root is "self" or the name of a local introduced by a LetStmt; Path
// holds the segment labels from the root to the accessed value.
type AccessExpr struct {
	Root string
	Path []string
	Span position.Span
}

// PathString renders the full access path, e.g. "self.head.*.next".
func (a AccessExpr) PathString() string {
	if len(a.Path) == 0 {
		return a.Root
	}
	return a.Root + "." + strings.Join(a.Path, ".")
}

// FinalizerStmt is one statement of a finalizer body. The front end lowers
// the body to the minimal statement forms the safety checker needs: local
// bindings of access expressions, value accesses, and calls.
type FinalizerStmt interface {
	stmt()
}

// LetStmt binds a local name to an access expression. Later accesses rooted
// at Name are resolved back to Src's access path, so destructuring cannot
// defeat the access-validity pass.
type LetStmt struct {
	Name string
	Src  AccessExpr
	Span position.Span
}

// AccessStmt evaluates an access expression for its value.
type AccessStmt struct {
	Expr AccessExpr
}

// CallStmt invokes a function from the finalizer body. BodyKnown is false
// when the callee's definition is unavailable to the analysis; Dynamic is
// true for dispatch through a type whose concrete implementation is unknown.
type CallStmt struct {
	Fn        string
	BodyKnown bool
	Dynamic   bool
	Args      []AccessExpr
	Span      position.Span
}

func (LetStmt) stmt()    {}
func (AccessStmt) stmt() {}
func (CallStmt) stmt()   {}

// FinalizerBody is the lowered expression tree of a type's finalizer
// method, in statement order.
type FinalizerBody struct {
	Stmts []FinalizerStmt
}

// Accesses returns every access expression in the body, including call
// arguments, in source order.
func (b *FinalizerBody) Accesses() []AccessExpr {
	var out []AccessExpr
	for _, s := range b.Stmts {
		switch st := s.(type) {
		case LetStmt:
			out = append(out, st.Src)
		case AccessStmt:
			out = append(out, st.Expr)
		case CallStmt:
			out = append(out, st.Args...)
		}
	}
	return out
}
