package model

import (
	"fmt"
	"strings"
)

// Formula is the boolean structure of a rule's patterns.
type Formula interface {
	formula()
	String() string
}

type (
	// PatternLeaf is a single pattern text.
	PatternLeaf struct{ Pattern string }
	// AllOf holds when every child holds.
	AllOf struct{ Children []Formula }
	// AnyOf holds when some child holds.
	AnyOf struct{ Children []Formula }
	// Not negates its child.
	Not struct{ Child Formula }
	// Inside requires the match to sit within the child's match.
	Inside struct{ Child Formula }
	// MetavarRegex constrains a metavariable by a regular expression.
	MetavarRegex struct{ Name, Regex string }
	// MetavarFocus narrows the match to a metavariable.
	MetavarFocus struct{ Name string }
	// MetavarPattern constrains a metavariable by a nested formula.
	MetavarPattern struct {
		Name    string
		Formula Formula
	}
	// MetavarComparison is a metavariable-comparison condition.
	MetavarComparison struct{ Name, Comparison string }
	// PatternRegex is a regex over the source text.
	PatternRegex struct{ Pattern string }
)

func (PatternLeaf) formula()       {}
func (AllOf) formula()             {}
func (AnyOf) formula()             {}
func (Not) formula()               {}
func (Inside) formula()            {}
func (MetavarRegex) formula()      {}
func (MetavarFocus) formula()      {}
func (MetavarPattern) formula()    {}
func (MetavarComparison) formula() {}
func (PatternRegex) formula()      {}

func (f PatternLeaf) String() string  { return fmt.Sprintf("%q", f.Pattern) }
func (f AllOf) String() string        { return joinFormulas("and", f.Children) }
func (f AnyOf) String() string        { return joinFormulas("or", f.Children) }
func (f Not) String() string          { return "not(" + f.Child.String() + ")" }
func (f Inside) String() string       { return "inside(" + f.Child.String() + ")" }
func (f MetavarRegex) String() string { return fmt.Sprintf("regex(%s, %q)", f.Name, f.Regex) }
func (f MetavarFocus) String() string { return "focus(" + f.Name + ")" }
func (f MetavarComparison) String() string {
	return fmt.Sprintf("compare(%s, %q)", f.Name, f.Comparison)
}
func (f PatternRegex) String() string { return fmt.Sprintf("regex(%q)", f.Pattern) }

func (f MetavarPattern) String() string {
	return "pattern(" + f.Name + ", " + f.Formula.String() + ")"
}

func joinFormulas(op string, children []Formula) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, c.String())
	}

	return op + "(" + strings.Join(parts, ", ") + ")"
}

// ConstraintKind enumerates metavariable constraint shapes.
type ConstraintKind int

const (
	// RegexpConstraint matches the bound text against a regex.
	RegexpConstraint ConstraintKind = iota
	// ConcreteConstraint requires the bound text to equal a dotted name.
	ConcreteConstraint
	// PatternConstraint is an unresolved pattern text.
	PatternConstraint
)

// MetavarConstraint is one constraint on a metavariable.
type MetavarConstraint struct {
	Kind  ConstraintKind
	Value string
}

// ConstraintFormula combines metavariable constraints.
type ConstraintFormula interface {
	constraintFormula()
	String() string
}

type (
	// ConstraintLeaf is a single constraint.
	ConstraintLeaf struct{ Constraint MetavarConstraint }
	// ConstraintNot negates a constraint formula.
	ConstraintNot struct{ Negated ConstraintFormula }
	// ConstraintAnd is a conjunction of constraint formulas.
	ConstraintAnd struct{ Args []ConstraintFormula }
)

func (ConstraintLeaf) constraintFormula() {}
func (ConstraintNot) constraintFormula()  {}
func (ConstraintAnd) constraintFormula()  {}

func (c ConstraintLeaf) String() string {
	switch c.Constraint.Kind {
	case RegexpConstraint:
		return "re(" + c.Constraint.Value + ")"
	case ConcreteConstraint:
		return "eq(" + c.Constraint.Value + ")"
	default:
		return "pattern(" + c.Constraint.Value + ")"
	}
}

func (c ConstraintNot) String() string { return "!" + c.Negated.String() }

func (c ConstraintAnd) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}

	return "(" + strings.Join(parts, " & ") + ")"
}

// MkConstraintNot negates c, cancelling a double negation.
func MkConstraintNot(c ConstraintFormula) ConstraintFormula {
	if n, ok := c.(ConstraintNot); ok {
		return n.Negated
	}

	return ConstraintNot{Negated: c}
}

// MkConstraintAnd joins constraint formulas, dropping duplicates.
func MkConstraintAnd(args ...ConstraintFormula) ConstraintFormula {
	var unique []ConstraintFormula

	seen := make(map[string]struct{}, len(args))
	for _, a := range args {
		if _, ok := seen[a.String()]; ok {
			continue
		}

		seen[a.String()] = struct{}{}
		unique = append(unique, a)
	}

	if len(unique) == 1 {
		return unique[0]
	}

	return ConstraintAnd{Args: unique}
}

// MapConstraints rewrites every leaf of c. A mapper error aborts the walk.
func MapConstraints(c ConstraintFormula, mapper func(MetavarConstraint) (MetavarConstraint, error)) (ConstraintFormula, error) {
	switch v := c.(type) {
	case ConstraintLeaf:
		mapped, err := mapper(v.Constraint)
		if err != nil {
			return nil, err
		}

		return ConstraintLeaf{Constraint: mapped}, nil
	case ConstraintNot:
		inner, err := MapConstraints(v.Negated, mapper)
		if err != nil {
			return nil, err
		}

		return MkConstraintNot(inner), nil
	case ConstraintAnd:
		args := make([]ConstraintFormula, 0, len(v.Args))

		for _, a := range v.Args {
			mapped, err := MapConstraints(a, mapper)
			if err != nil {
				return nil, err
			}

			args = append(args, mapped)
		}

		return MkConstraintAnd(args...), nil
	}

	panic(fmt.Sprintf("unexpected constraint formula %T", c))
}

// MetavarInfo carries the focus set and constraints of one normalized rule.
type MetavarInfo struct {
	Focus       []string
	Constraints map[string]ConstraintFormula
}

// Clone returns a copy whose maps and slices can be modified freely.
func (i MetavarInfo) Clone() MetavarInfo {
	out := MetavarInfo{
		Focus:       append([]string(nil), i.Focus...),
		Constraints: make(map[string]ConstraintFormula, len(i.Constraints)),
	}

	for k, v := range i.Constraints {
		out.Constraints[k] = v
	}

	return out
}

// PatternGroups holds the four pattern roles of a normalized rule.
type PatternGroups[T any] struct {
	Patterns   []T
	Nots       []T
	Insides    []T
	NotInsides []T
}

// RawRule is a normalized rule still holding pattern text.
type RawRule = PatternGroups[string]

// NormalizedRule is a normalized rule holding parsed patterns.
type NormalizedRule = PatternGroups[Node]

// ActionListRule is a normalized rule whose patterns are action lists.
type ActionListRule = PatternGroups[ActionList]

// MapGroups converts every pattern of g. A mapper failure drops the whole
// rule and reports false.
func MapGroups[T, R any](g PatternGroups[T], mapper func(T) (R, bool)) (PatternGroups[R], bool) {
	var out PatternGroups[R]

	groups := []struct {
		src []T
		dst *[]R
	}{
		{g.Patterns, &out.Patterns},
		{g.Nots, &out.Nots},
		{g.Insides, &out.Insides},
		{g.NotInsides, &out.NotInsides},
	}

	for _, grp := range groups {
		for _, item := range grp.src {
			mapped, ok := mapper(item)
			if !ok {
				return PatternGroups[R]{}, false
			}

			*grp.dst = append(*grp.dst, mapped)
		}
	}

	return out, true
}

// WithMetavars pairs a rule representation with its metavariable info.
type WithMetavars[T any] struct {
	Rule T
	Info MetavarInfo
}

// RuleMode is the kind of a rule.
type RuleMode string

const (
	// SearchMode matches a formula.
	SearchMode RuleMode = "search"
	// TaintMode tracks data from sources to sinks.
	TaintMode RuleMode = "taint"
)

// TaintSource is one pattern-sources entry.
type TaintSource[T any] struct {
	Label    string
	Requires string
	Pattern  T
}

// TaintSink is one pattern-sinks entry.
type TaintSink[T any] struct {
	Requires string
	Pattern  T
}

// TaintPropagator is one pattern-propagators entry.
type TaintPropagator[T any] struct {
	From    string
	To      string
	Pattern T
}

// RuleSpec is a rule's pattern sets in some representation T.
type RuleSpec[T any] struct {
	Mode        RuleMode
	Matching    []T
	Sources     []TaintSource[T]
	Sinks       []TaintSink[T]
	Propagators []TaintPropagator[T]
	Sanitizers  []T
}

// FlatMapRule replaces every pattern of r by zero or more derived patterns,
// keeping each entry's annotations.
func FlatMapRule[T, R any](r RuleSpec[T], fn func(T) []R) RuleSpec[R] {
	out := RuleSpec[R]{Mode: r.Mode}

	for _, p := range r.Matching {
		out.Matching = append(out.Matching, fn(p)...)
	}

	for _, s := range r.Sources {
		for _, p := range fn(s.Pattern) {
			out.Sources = append(out.Sources, TaintSource[R]{Label: s.Label, Requires: s.Requires, Pattern: p})
		}
	}

	for _, s := range r.Sinks {
		for _, p := range fn(s.Pattern) {
			out.Sinks = append(out.Sinks, TaintSink[R]{Requires: s.Requires, Pattern: p})
		}
	}

	for _, s := range r.Propagators {
		for _, p := range fn(s.Pattern) {
			out.Propagators = append(out.Propagators, TaintPropagator[R]{From: s.From, To: s.To, Pattern: p})
		}
	}

	for _, p := range r.Sanitizers {
		out.Sanitizers = append(out.Sanitizers, fn(p)...)
	}

	return out
}

// Size returns the number of patterns across all roles.
func (r RuleSpec[T]) Size() int {
	return len(r.Matching) + len(r.Sources) + len(r.Sinks) + len(r.Propagators) + len(r.Sanitizers)
}

// Severity is the reported severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// ParseSeverity maps a rule's severity text onto Severity.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "high", "critical", "error":
		return SeverityError
	case "medium", "warning":
		return SeverityWarning
	default:
		return SeverityNote
	}
}

// Rule is a loaded rule ready for compilation.
type Rule struct {
	ID        string // <rule-set>:<id>
	IDInFile  string
	RuleSet   string
	Languages []string
	Message   string
	Severity  Severity
	CWE       []int
	Spec      RuleSpec[Formula]
}

// RuleID joins a rule-set name and an in-file id.
func RuleID(ruleSet, id string) string {
	return ruleSet + ":" + id
}

// RuleSet is the decoded content of one rule file.
type RuleSet struct {
	Name  string
	Path  Path
	Rules []Rule
	// Skipped holds the diagnostics of rules that were not loaded.
	Skipped []RuleDiagnostics
}
