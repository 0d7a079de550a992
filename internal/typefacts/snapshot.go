package typefacts

import (
	"fmt"
	"os"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v2"

	"github.com/lumen-lang/lumen/internal/position"
)

// SupportedFormat is the constraint on facts snapshot format versions this
// build understands. Snapshots outside the range are refused outright
// rather than best-effort parsed.
const SupportedFormat = ">=1.0.0, <2.0.0"

// AllocationSite is one managed-allocation construction site recorded by
// the front end, naming the concrete payload type placed in the allocation.
type AllocationSite struct {
	Type *TypeNode
	Span position.Span
}

// Snapshot is a facts file decoded into a Universe plus the allocation
// sites that must be gated by the safety checker.
type Snapshot struct {
	Version  string
	Universe *Universe
	Sites    []AllocationSite
}

type snapshotDoc struct {
	FormatVersion string    `yaml:"format_version"`
	Types         []typeDoc `yaml:"types"`
	Sites         []siteDoc `yaml:"allocation_sites"`
}

type typeDoc struct {
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`
	ThreadSafe bool       `yaml:"thread_safe"`
	Override   bool       `yaml:"override"`
	Fields     []fieldDoc `yaml:"fields"`
	Finalizer  []stmtDoc  `yaml:"finalizer"`
}

type fieldDoc struct {
	Label    string `yaml:"label"`
	Type     string `yaml:"type"`
	Lifetime string `yaml:"lifetime"`
}

type stmtDoc struct {
	Access  string   `yaml:"access"`
	Let     string   `yaml:"let"`
	From    string   `yaml:"from"`
	Call    string   `yaml:"call"`
	Known   *bool    `yaml:"known"`
	Dynamic bool     `yaml:"dynamic"`
	Args    []string `yaml:"args"`
	At      spanDoc  `yaml:"at"`
}

type siteDoc struct {
	Type string  `yaml:"type"`
	At   spanDoc `yaml:"at"`
}

type spanDoc struct {
	File   string `yaml:"file"`
	Line   int    `yaml:"line"`
	Column int    `yaml:"column"`
	Length int    `yaml:"length"`
}

func (s spanDoc) span() position.Span {
	length := s.Length
	if length < 1 {
		length = 1
	}
	return position.NewSpan(s.File, s.Line, s.Column, length)
}

// LoadSnapshotFile reads and decodes a facts snapshot from disk.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("typefacts: read snapshot: %w", err)
	}
	return LoadSnapshot(data)
}

// LoadSnapshot decodes a facts snapshot, validating its format version
// against SupportedFormat before anything else is interpreted.
func LoadSnapshot(data []byte) (*Snapshot, error) {
	var doc snapshotDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("typefacts: decode snapshot: %w", err)
	}

	if err := checkFormatVersion(doc.FormatVersion); err != nil {
		return nil, err
	}

	u := NewUniverse()

	// First pass: register every node so edges can refer to any type
	// regardless of declaration order.
	for _, td := range doc.Types {
		kind, err := parseKind(td.Kind)
		if err != nil {
			return nil, fmt.Errorf("typefacts: type %q: %w", td.Name, err)
		}
		u.Define(td.Name, kind)
	}

	// Second pass: edges, capabilities and finalizer bodies.
	for _, td := range doc.Types {
		node, err := u.Lookup(td.Name)
		if err != nil {
			return nil, err
		}
		u.SetThreadSafe(node, td.ThreadSafe)
		u.SetOverride(node, td.Override)

		edges := make([]FieldEdge, 0, len(td.Fields))
		for _, fd := range td.Fields {
			child, err := u.Lookup(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("typefacts: field %s.%s: %w", td.Name, fd.Label, err)
			}
			lt, err := parseLifetime(fd.Lifetime, child)
			if err != nil {
				return nil, fmt.Errorf("typefacts: field %s.%s: %w", td.Name, fd.Label, err)
			}
			edges = append(edges, FieldEdge{Label: fd.Label, Child: child, Lifetime: lt})
		}
		if len(edges) > 0 {
			u.SetFields(node, edges)
		}

		if len(td.Finalizer) > 0 {
			body, err := parseBody(td.Finalizer)
			if err != nil {
				return nil, fmt.Errorf("typefacts: finalizer of %q: %w", td.Name, err)
			}
			u.SetFinalizer(node, body)
		}
	}

	sites := make([]AllocationSite, 0, len(doc.Sites))
	for _, sd := range doc.Sites {
		node, err := u.Lookup(sd.Type)
		if err != nil {
			return nil, fmt.Errorf("typefacts: allocation site: %w", err)
		}
		sites = append(sites, AllocationSite{Type: node, Span: sd.At.span()})
	}

	return &Snapshot{Version: doc.FormatVersion, Universe: u, Sites: sites}, nil
}

func checkFormatVersion(v string) error {
	if v == "" {
		return fmt.Errorf("typefacts: snapshot is missing format_version")
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("typefacts: bad format_version %q: %w", v, err)
	}
	con, err := semver.NewConstraint(SupportedFormat)
	if err != nil {
		return fmt.Errorf("typefacts: bad supported-format constraint: %w", err)
	}
	if !con.Check(sv) {
		return fmt.Errorf("typefacts: snapshot format %s is outside the supported range %q", v, SupportedFormat)
	}
	return nil
}

func parseKind(s string) (TypeKind, error) {
	switch s {
	case "primitive":
		return KindPrimitive, nil
	case "struct":
		return KindStruct, nil
	case "tuple":
		return KindTuple, nil
	case "array":
		return KindArray, nil
	case "slice":
		return KindSlice, nil
	case "enum":
		return KindEnum, nil
	case "reference":
		return KindReference, nil
	case "managed":
		return KindManaged, nil
	case "opaque":
		return KindOpaque, nil
	default:
		return 0, fmt.Errorf("unknown type kind %q", s)
	}
}

func parseLifetime(s string, child *TypeNode) (Lifetime, error) {
	switch s {
	case "":
		if child.Kind == KindReference {
			return 0, fmt.Errorf("reference field is missing a lifetime classification")
		}
		return LifetimeBounded, nil
	case "bounded":
		return LifetimeBounded, nil
	case "unbounded":
		return LifetimeUnbounded, nil
	default:
		return 0, fmt.Errorf("unknown lifetime %q", s)
	}
}

// ParseAccess parses a dotted access path such as "self.head.*.next" into
// an AccessExpr. "*" segments are dereferences.
func ParseAccess(s string, span position.Span) (AccessExpr, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return AccessExpr{}, fmt.Errorf("empty access expression")
	}
	for _, p := range parts[1:] {
		if p == "" {
			return AccessExpr{}, fmt.Errorf("empty segment in access expression %q", s)
		}
	}
	return AccessExpr{Root: parts[0], Path: parts[1:], Span: span}, nil
}

func parseBody(stmts []stmtDoc) (*FinalizerBody, error) {
	body := &FinalizerBody{}
	for i, sd := range stmts {
		span := sd.At.span()
		switch {
		case sd.Let != "":
			if sd.From == "" {
				return nil, fmt.Errorf("stmt %d: let %q has no source access", i, sd.Let)
			}
			src, err := ParseAccess(sd.From, span)
			if err != nil {
				return nil, fmt.Errorf("stmt %d: %w", i, err)
			}
			body.Stmts = append(body.Stmts, LetStmt{Name: sd.Let, Src: src, Span: span})
		case sd.Call != "":
			known := true
			if sd.Known != nil {
				known = *sd.Known
			}
			args := make([]AccessExpr, 0, len(sd.Args))
			for _, a := range sd.Args {
				expr, err := ParseAccess(a, span)
				if err != nil {
					return nil, fmt.Errorf("stmt %d: %w", i, err)
				}
				args = append(args, expr)
			}
			body.Stmts = append(body.Stmts, CallStmt{
				Fn: sd.Call, BodyKnown: known, Dynamic: sd.Dynamic, Args: args, Span: span,
			})
		case sd.Access != "":
			expr, err := ParseAccess(sd.Access, span)
			if err != nil {
				return nil, fmt.Errorf("stmt %d: %w", i, err)
			}
			body.Stmts = append(body.Stmts, AccessStmt{Expr: expr})
		default:
			return nil, fmt.Errorf("stmt %d: statement is neither access, let nor call", i)
		}
	}
	return body, nil
}
