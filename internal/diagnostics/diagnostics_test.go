package diagnostics

import (
	"strings"
	"testing"

	"github.com/lumen-lang/lumen/internal/fsa"
	"github.com/lumen-lang/lumen/internal/position"
)

func rejectedReport() fsa.CheckReport {
	return fsa.CheckReport{
		TypeName:  "Node",
		AllocSite: position.NewSpan("main.lm", 40, 9, 7),
		Violations: []fsa.Violation{
			{
				Kind:     fsa.AccessViolation,
				Path:     []string{"log"},
				TypeName: "&Logger",
				Span:     position.NewSpan("node.lm", 3, 9, 8),
				Evidence: "reference lifetime is bounded: it might not live long enough",
			},
			{
				Kind:     fsa.ThreadSafetyViolation,
				Path:     []string{"cell"},
				TypeName: "Cell",
				Span:     position.NewSpan("node.lm", 4, 9, 9),
				Evidence: "Cell does not satisfy the thread-safety capability",
			},
		},
	}
}

func TestFromReportAdmitted(t *testing.T) {
	if ds := FromReport(fsa.CheckReport{TypeName: "Plain", Admitted: true}); len(ds) != 0 {
		t.Fatalf("admitted report produced %d diagnostics", len(ds))
	}
}

func TestFromReportStructuredFields(t *testing.T) {
	ds := FromReport(rejectedReport())
	if len(ds) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(ds))
	}

	access := ds[0]
	if access.Category != CategoryAccessViolation || access.Code != "FSA001" {
		t.Errorf("unexpected category/code: %v %s", access.Category, access.Code)
	}
	if access.TypeName != "Node" {
		t.Errorf("type name = %s", access.TypeName)
	}
	if access.AccessPath != "self.log" {
		t.Errorf("access path = %s", access.AccessPath)
	}
	if !strings.Contains(access.Message, "might not live long enough") {
		t.Errorf("message = %s", access.Message)
	}
	if access.AllocSite.Start.Line != 40 {
		t.Errorf("alloc site line = %d", access.AllocSite.Start.Line)
	}

	thread := ds[1]
	if thread.Category != CategoryThreadSafetyViolation {
		t.Errorf("category = %v", thread.Category)
	}
	if !strings.Contains(thread.Message, "thread-safety capability") {
		t.Errorf("message = %s", thread.Message)
	}
}

func TestManagerAggregation(t *testing.T) {
	m := NewManager()
	for _, d := range FromReport(rejectedReport()) {
		m.Add(d)
	}

	if !m.HasErrors() || m.ErrorCount() != 2 {
		t.Fatalf("error count = %d, want 2", m.ErrorCount())
	}

	m.Sort()
	ds := m.Diagnostics()
	if ds[0].Span.Start.Line > ds[1].Span.Start.Line {
		t.Error("diagnostics are not sorted by location")
	}

	if got := m.FormatSummary(); !strings.Contains(got, "2 error(s)") {
		t.Errorf("summary = %q", got)
	}
}

func TestFormatContainsAllocationSite(t *testing.T) {
	m := NewManager()
	ds := FromReport(rejectedReport())

	out := m.Format(ds[0])
	for _, want := range []string{
		"error[FSA001]",
		"--> node.lm:3:9",
		"access path: self.log",
		"managed allocation of `Node`",
		"main.lm:40:9",
		"help:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted diagnostic missing %q:\n%s", want, out)
		}
	}
}
