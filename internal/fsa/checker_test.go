package fsa

import (
	"reflect"
	"testing"

	"github.com/lumen-lang/lumen/internal/position"
	"github.com/lumen-lang/lumen/internal/typefacts"
)

var allocSite = position.NewSpan("main.lm", 40, 9, 7)

func span(line, col int) position.Span {
	return position.NewSpan("node.lm", line, col, 1)
}

// testUniverse models:
//
//	struct Node {
//	    id:    u64          // primitive
//	    stats: Stats        // thread-safe struct
//	    log:   &Logger      // bounded reference
//	    conf:  &Config      // unbounded reference
//	    cell:  Cell         // NOT thread-safe
//	    next:  Gc<Node>     // managed pointer
//	}
func testUniverse(t *testing.T) (*typefacts.Universe, *typefacts.TypeNode) {
	t.Helper()
	u := typefacts.NewUniverse()
	u64 := u.Define("u64", typefacts.KindPrimitive)
	node := u.Define("Node", typefacts.KindStruct)
	stats := u.Define("Stats", typefacts.KindStruct)
	logger := u.Define("Logger", typefacts.KindStruct)
	refLogger := u.Define("&Logger", typefacts.KindReference)
	config := u.Define("Config", typefacts.KindStruct)
	refConfig := u.Define("&Config", typefacts.KindReference)
	cell := u.Define("Cell", typefacts.KindStruct)
	gcNode := u.Define("Gc<Node>", typefacts.KindManaged)

	u.SetThreadSafe(node, true)
	u.SetThreadSafe(stats, true)
	u.SetThreadSafe(logger, true)
	u.SetThreadSafe(refLogger, true)
	u.SetThreadSafe(config, true)
	u.SetThreadSafe(refConfig, true)
	u.SetThreadSafe(gcNode, true)
	// Cell is deliberately not thread-safe.

	u.SetFields(refLogger, []typefacts.FieldEdge{{Label: "*", Child: logger}})
	u.SetFields(refConfig, []typefacts.FieldEdge{{Label: "*", Child: config}})
	u.SetFields(stats, []typefacts.FieldEdge{{Label: "count", Child: u64}})
	u.SetFields(cell, []typefacts.FieldEdge{{Label: "value", Child: u64}})
	u.SetFields(node, []typefacts.FieldEdge{
		{Label: "id", Child: u64},
		{Label: "stats", Child: stats},
		{Label: "log", Child: refLogger, Lifetime: typefacts.LifetimeBounded},
		{Label: "conf", Child: refConfig, Lifetime: typefacts.LifetimeUnbounded},
		{Label: "cell", Child: cell},
		{Label: "next", Child: gcNode},
	})
	return u, node
}

func access(root string, span position.Span, path ...string) typefacts.AccessExpr {
	return typefacts.AccessExpr{Root: root, Path: path, Span: span}
}

func mustCheck(t *testing.T, c *Checker, node *typefacts.TypeNode) CheckReport {
	t.Helper()
	report, err := c.Check(node, allocSite)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return report
}

func kinds(report CheckReport) []ViolationKind {
	out := make([]ViolationKind, len(report.Violations))
	for i, v := range report.Violations {
		out[i] = v.Kind
	}
	return out
}

func TestNoFinalizerFastAccept(t *testing.T) {
	u, node := testUniverse(t)
	c := NewChecker(u)

	report := mustCheck(t, c, node)
	if !report.Admitted {
		t.Fatal("type without finalizer must be admitted")
	}
	if !report.Elided {
		t.Error("type without any finalizer should be elided from registration")
	}
}

func TestSafeFinalizerAdmitted(t *testing.T) {
	u, node := testUniverse(t)
	// Only unbounded references and thread-safe values.
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "id")},
		typefacts.AccessStmt{Expr: access("self", span(4, 9), "stats", "count")},
		typefacts.AccessStmt{Expr: access("self", span(5, 9), "conf", "*")},
		typefacts.AccessStmt{Expr: access("self", span(6, 9), "next")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if !report.Admitted {
		t.Fatalf("expected admission, got violations %v", report.Violations)
	}
	if report.Elided {
		t.Error("a type with a finalizer is not elidable")
	}
}

func TestBoundedReferenceRejected(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "log", "*")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("bounded reference dereference must be rejected")
	}
	found := false
	for _, v := range report.Violations {
		if v.Kind == AccessViolation && v.PathString() == "self.log" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected AccessViolation naming self.log, got %+v", report.Violations)
	}
}

func TestTerminalBoundedReferenceRejected(t *testing.T) {
	u, node := testUniverse(t)
	// Even without a dereference, holding the bounded reference is already
	// rejected: there is no attempt to prove it happens to remain valid.
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "log")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("terminal bounded reference must be rejected")
	}
	if report.Violations[0].Kind != AccessViolation {
		t.Errorf("kind = %v, want AccessViolation", report.Violations[0].Kind)
	}
}

func TestThreadSafetyRejected(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "cell")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("non-thread-safe access must be rejected")
	}
	v := report.Violations[0]
	if v.Kind != ThreadSafetyViolation || v.TypeName != "Cell" {
		t.Errorf("unexpected violation %+v", v)
	}
}

func TestManagedDereferenceRejected(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "next", "*", "id")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("managed pointer dereference must be rejected")
	}
	v := report.Violations[0]
	if v.Kind != AccessViolation || v.PathString() != "self.next" {
		t.Errorf("unexpected violation %+v", v)
	}
}

func TestOverrideSkipsBothPasses(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "log", "*")},
		typefacts.AccessStmt{Expr: access("self", span(4, 9), "cell")},
	}})
	u.SetOverride(node, true)

	report := mustCheck(t, NewChecker(u), node)
	if !report.Admitted {
		t.Fatal("override must admit unconditionally")
	}
	if !report.Overridden {
		t.Error("report should record the override")
	}
	if len(report.Violations) != 0 {
		t.Errorf("override must skip both passes, got %v", report.Violations)
	}
}

func TestAliasTrackedThroughLet(t *testing.T) {
	u, node := testUniverse(t)
	// let l = self.log; l.*: the alias must not defeat the check.
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.LetStmt{Name: "l", Src: access("self", span(3, 13), "log"), Span: span(3, 9)},
		typefacts.AccessStmt{Expr: access("l", span(4, 9), "*")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("aliased bounded reference must still be rejected")
	}
	for _, v := range report.Violations {
		if v.Kind != AccessViolation {
			continue
		}
		if v.PathString() != "self.log" {
			t.Errorf("alias resolved to %s, want self.log", v.PathString())
		}
	}
}

func TestAllViolationsReportedTogether(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "log", "*")},
		typefacts.AccessStmt{Expr: access("self", span(4, 9), "cell")},
		typefacts.CallStmt{Fn: "ffi_release", BodyKnown: false, Span: span(5, 9)},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("expected rejection")
	}
	got := map[ViolationKind]bool{}
	for _, v := range report.Violations {
		got[v.Kind] = true
	}
	for _, want := range []ViolationKind{AccessViolation, ThreadSafetyViolation, OpaqueCallViolation} {
		if !got[want] {
			t.Errorf("missing %v in %v", want, kinds(report))
		}
	}
}

func TestDynamicDispatchRejected(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.CallStmt{Fn: "Drop::drop", BodyKnown: true, Dynamic: true, Span: span(3, 9)},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("dynamic dispatch must be rejected")
	}
	if report.Violations[0].Kind != DynamicDispatchViolation {
		t.Errorf("kind = %v", report.Violations[0].Kind)
	}
}

func TestComponentFinalizerChecked(t *testing.T) {
	u, node := testUniverse(t)
	// The root type has no finalizer of its own, but a reachable component
	// does. The body runs on the Cell itself, which is not thread-safe, so
	// the root is rejected even though value is a safe primitive.
	cell, _ := u.Lookup("Cell")
	u.SetFinalizer(cell, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(20, 9), "value")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Elided {
		t.Fatal("component finalizer means the type is not elidable")
	}
	if report.Admitted {
		t.Fatal("component finalizer on a non-thread-safe owner must reject the root")
	}
	v := report.Violations[0]
	if v.Kind != ThreadSafetyViolation || v.TypeName != "Cell" {
		t.Errorf("unexpected violation %+v", v)
	}
	if v.PathString() != "self.cell" {
		t.Errorf("component violation path = %s, want self.cell", v.PathString())
	}

	// A thread-safe component whose body reaches unsafe inner state is
	// rejected on that access instead.
	u2, node2 := testUniverse(t)
	cell2, _ := u2.Lookup("Cell")
	inner := u2.Define("InnerCell", typefacts.KindStruct)
	u2.SetThreadSafe(cell2, true)
	u2.SetFields(cell2, []typefacts.FieldEdge{{Label: "inner", Child: inner}})
	u2.SetFinalizer(cell2, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(20, 9), "inner")},
	}})

	report2 := mustCheck(t, NewChecker(u2), node2)
	if report2.Admitted {
		t.Fatal("component finalizer touching non-thread-safe state must reject the root")
	}
	v2 := report2.Violations[0]
	if v2.Kind != ThreadSafetyViolation {
		t.Errorf("kind = %v", v2.Kind)
	}
	if v2.PathString() != "self.cell.inner" {
		t.Errorf("component violation path = %s, want self.cell.inner", v2.PathString())
	}
}

func TestNonThreadSafeContainerRejected(t *testing.T) {
	u, node := testUniverse(t)
	// value is a thread-safe primitive, but reading it through Cell from
	// the finalization thread still races with mutators holding the Cell.
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "cell", "value")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.Admitted {
		t.Fatal("projection through a non-thread-safe container must be rejected")
	}
	v := report.Violations[0]
	if v.Kind != ThreadSafetyViolation || v.TypeName != "Cell" {
		t.Errorf("unexpected violation %+v", v)
	}
	if v.PathString() != "self.cell" {
		t.Errorf("violation path = %s, want self.cell", v.PathString())
	}
}

func TestCheckIdempotent(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "log", "*")},
		typefacts.AccessStmt{Expr: access("self", span(4, 9), "cell")},
	}})
	c := NewChecker(u)

	first := mustCheck(t, c, node)
	second := mustCheck(t, c, node)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ:\n%+v\n%+v", first, second)
	}
}

func TestReportCarriesAllocationSite(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "cell")},
	}})

	report := mustCheck(t, NewChecker(u), node)
	if report.AllocSite != allocSite {
		t.Errorf("alloc site = %v, want %v", report.AllocSite, allocSite)
	}

	// A second site for the same type reuses the analysis but stamps its
	// own location.
	other := position.NewSpan("other.lm", 7, 3, 7)
	c := NewChecker(u)
	mustCheck(t, c, node)
	report2, err := c.Check(node, other)
	if err != nil {
		t.Fatal(err)
	}
	if report2.AllocSite != other {
		t.Errorf("alloc site = %v, want %v", report2.AllocSite, other)
	}
}

func TestRecursionLimitRejected(t *testing.T) {
	u := typefacts.NewUniverse()
	leaf := u.Define("leaf", typefacts.KindPrimitive)
	prev := leaf
	var root *typefacts.TypeNode
	for i := 0; i < 10; i++ {
		w := u.Define("Deep"+string(rune('A'+i)), typefacts.KindStruct)
		u.SetFields(w, []typefacts.FieldEdge{{Label: "inner", Child: prev}})
		prev = w
		root = w
	}

	c := NewChecker(u)
	c.Reachability().SetMaxDepth(3)

	report := mustCheck(t, c, root)
	if report.Admitted {
		t.Fatal("pathological nesting must be rejected, not truncated")
	}
	if report.Violations[0].Kind != RecursionLimitExceeded {
		t.Errorf("kind = %v, want RecursionLimitExceeded", report.Violations[0].Kind)
	}
}

func TestUnknownAccessPathIsInternalError(t *testing.T) {
	u, node := testUniverse(t)
	u.SetFinalizer(node, &typefacts.FinalizerBody{Stmts: []typefacts.FinalizerStmt{
		typefacts.AccessStmt{Expr: access("self", span(3, 9), "missing")},
	}})

	if _, err := NewChecker(u).Check(node, allocSite); err == nil {
		t.Fatal("access outside the reachability graph must surface as an error")
	}
}
