package diagnostics

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/fsa"
)

// Cause texts follow the wording the safety checker's users see; the
// allocation-site note and help lines are attached uniformly.
const (
	helpThreadSafety = "finalizers run on a dedicated thread, so they must only use values whose types satisfy the thread-safety capability"
	helpLifetime     = "finalizers may run after the frame that lent this reference has returned"
	helpOverride     = "a manually verified finalizer can opt out of this check with the finalizer-safe override"
)

// FromReport expands a rejected CheckReport into one diagnostic per
// violation. An admitted report yields nothing.
func FromReport(report fsa.CheckReport) []Diagnostic {
	if report.Admitted {
		return nil
	}
	out := make([]Diagnostic, 0, len(report.Violations))
	for _, v := range report.Violations {
		out = append(out, fromViolation(report, v))
	}
	return out
}

func fromViolation(report fsa.CheckReport, v fsa.Violation) Diagnostic {
	d := Diagnostic{
		Level:      LevelError,
		TypeName:   report.TypeName,
		Span:       v.Span,
		AccessPath: v.PathString(),
		Evidence:   v.Evidence,
		AllocSite:  report.AllocSite,
	}

	switch v.Kind {
	case fsa.AccessViolation:
		d.Category = CategoryAccessViolation
		d.Message = fmt.Sprintf("the finalizer for `%s` cannot safely dereference `%s` because it might not live long enough",
			report.TypeName, v.TypeName)
		d.Help = helpLifetime + "; " + helpOverride
	case fsa.ThreadSafetyViolation:
		d.Category = CategoryThreadSafetyViolation
		d.Message = fmt.Sprintf("the finalizer for `%s` cannot safely use `%s` because it does not satisfy the thread-safety capability",
			report.TypeName, v.TypeName)
		d.Help = helpThreadSafety + "; " + helpOverride
	case fsa.RecursionLimitExceeded:
		d.Category = CategoryRecursionLimit
		d.Message = fmt.Sprintf("`%s` is too deeply nested for finalizer safety analysis", report.TypeName)
		d.AccessPath = ""
	case fsa.OpaqueCallViolation:
		d.Category = CategoryOpaqueCall
		d.Message = fmt.Sprintf("the finalizer for `%s` calls a function whose definition is unavailable", report.TypeName)
		d.AccessPath = ""
		d.Help = helpOverride
	case fsa.DynamicDispatchViolation:
		d.Category = CategoryDynamicDispatch
		d.Message = fmt.Sprintf("the finalizer for `%s` dispatches through a type whose concrete implementation is unknown", report.TypeName)
		d.AccessPath = ""
		d.Help = helpOverride
	}
	d.Code = d.Category.Code()
	return d
}
