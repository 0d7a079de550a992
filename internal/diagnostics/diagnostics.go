// Package diagnostics turns finalizer safety rejections into structured,
// human-renderable reports. It performs no analysis of its own: it is a
// formatting and aggregation layer over fsa.CheckReport.
package diagnostics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lumen-lang/lumen/internal/position"
)

// Level represents the severity of a diagnostic.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelNote
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// Category represents the category of a finalizer safety diagnostic.
type Category int

const (
	CategoryAccessViolation Category = iota
	CategoryThreadSafetyViolation
	CategoryRecursionLimit
	CategoryOpaqueCall
	CategoryDynamicDispatch
)

func (c Category) String() string {
	switch c {
	case CategoryAccessViolation:
		return "access-violation"
	case CategoryThreadSafetyViolation:
		return "thread-safety-violation"
	case CategoryRecursionLimit:
		return "recursion-limit"
	case CategoryOpaqueCall:
		return "opaque-call"
	case CategoryDynamicDispatch:
		return "dynamic-dispatch"
	default:
		return "unknown"
	}
}

// Code returns the stable diagnostic code for the category.
func (c Category) Code() string {
	switch c {
	case CategoryAccessViolation:
		return "FSA001"
	case CategoryThreadSafetyViolation:
		return "FSA002"
	case CategoryRecursionLimit:
		return "FSA003"
	case CategoryOpaqueCall:
		return "FSA004"
	case CategoryDynamicDispatch:
		return "FSA005"
	default:
		return "FSA000"
	}
}

// Label attaches a message to a secondary source location.
type Label struct {
	Message string
	Span    position.Span
}

// Diagnostic is one self-contained finalizer safety report.
type Diagnostic struct {
	Level    Level
	Category Category
	Code     string

	// TypeName is the finalizer's enclosing type.
	TypeName string
	// Message is the primary human-readable cause.
	Message string
	// Span locates the offending expression.
	Span position.Span
	// AccessPath is the chain of segments from self to the violating value.
	AccessPath string
	// Evidence is the lifetime or capability fact behind the rejection.
	Evidence string
	// AllocSite locates the managed-allocation construction that triggered
	// the check.
	AllocSite position.Span
	// Labels carries secondary annotations.
	Labels []Label
	// Help is optional remediation guidance.
	Help string
}

// Manager aggregates diagnostics for one analysis run.
type Manager struct {
	diagnostics []Diagnostic
	errorCount  int
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add appends a diagnostic.
func (m *Manager) Add(d Diagnostic) {
	if d.Code == "" {
		d.Code = d.Category.Code()
	}
	if d.Level == LevelError {
		m.errorCount++
	}
	m.diagnostics = append(m.diagnostics, d)
}

// Diagnostics returns all collected diagnostics.
func (m *Manager) Diagnostics() []Diagnostic {
	return m.diagnostics
}

// ErrorCount returns the number of error-level diagnostics.
func (m *Manager) ErrorCount() int {
	return m.errorCount
}

// HasErrors returns true if any error-level diagnostic was collected.
func (m *Manager) HasErrors() bool {
	return m.errorCount > 0
}

// Sort orders diagnostics by location, then severity.
func (m *Manager) Sort() {
	sort.SliceStable(m.diagnostics, func(i, j int) bool {
		a, b := m.diagnostics[i], m.diagnostics[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start.Before(b.Span.Start)
		}
		return a.Level < b.Level
	})
}

// Format renders one diagnostic for terminal display.
func (m *Manager) Format(d Diagnostic) string {
	var result strings.Builder

	result.WriteString(d.Level.String())
	result.WriteString("[" + d.Code + "]")
	result.WriteString(": " + d.Message)
	result.WriteString("\n  --> " + d.Span.String())

	if d.AccessPath != "" {
		result.WriteString("\n  access path: " + d.AccessPath)
	}
	if d.Evidence != "" {
		result.WriteString("\n  evidence: " + d.Evidence)
	}
	for _, label := range d.Labels {
		result.WriteString(fmt.Sprintf("\n  note: %s: %s", label.Span, label.Message))
	}
	if d.AllocSite.IsValid() {
		result.WriteString(fmt.Sprintf("\n  note: %s: caused by constructing a managed allocation of `%s` here",
			d.AllocSite, d.TypeName))
	}
	if d.Help != "" {
		result.WriteString("\n  help: " + d.Help)
	}
	return result.String()
}

// FormatSummary renders a one-line summary of the run.
func (m *Manager) FormatSummary() string {
	if len(m.diagnostics) == 0 {
		return "No diagnostics."
	}
	return fmt.Sprintf("Found %d error(s) in %d diagnostic(s).", m.errorCount, len(m.diagnostics))
}
