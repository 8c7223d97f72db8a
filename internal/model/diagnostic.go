package model

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is the compiler stage a diagnostic belongs to.
type Step string

const (
	StepLoadRuleset          Step = "LOAD_RULESET"
	StepConvertToRawRule     Step = "BUILD_CONVERT_TO_RAW_RULE"
	StepParsePattern         Step = "BUILD_PARSE_SEMGREP_RULE"
	StepMetavarResolving     Step = "BUILD_META_VAR_RESOLVING"
	StepActionListConversion Step = "BUILD_ACTION_LIST_CONVERSION"
	StepTransformToAutomata  Step = "BUILD_TRANSFORM_TO_AUTOMATA"
	StepAutomataToTaintRule  Step = "AUTOMATA_TO_TAINT_RULE"
)

// Reason classifies a diagnostic.
type Reason string

const (
	ReasonError          Reason = "ERROR"
	ReasonWarning        Reason = "WARNING"
	ReasonNotImplemented Reason = "NOT_IMPLEMENTED"
)

// Diagnostic is one compiler message with optional nested causes.
type Diagnostic struct {
	Step     Step         `json:"step"`
	Reason   Reason       `json:"reason"`
	Level    slog.Level   `json:"level"`
	Message  string       `json:"message"`
	Children []Diagnostic `json:"children,omitempty"`
}

// NewDiagnostic returns a diagnostic logged at the level its reason implies.
func NewDiagnostic(step Step, reason Reason, message string) Diagnostic {
	return Diagnostic{Step: step, Reason: reason, Level: reason.level(), Message: message}
}

// Errorf returns an ERROR diagnostic.
func Errorf(step Step, format string, args ...any) Diagnostic {
	return NewDiagnostic(step, ReasonError, fmt.Sprintf(format, args...))
}

// Warnf returns a WARNING diagnostic.
func Warnf(step Step, format string, args ...any) Diagnostic {
	return NewDiagnostic(step, ReasonWarning, fmt.Sprintf(format, args...))
}

// NotImplementedf returns a NOT_IMPLEMENTED diagnostic.
func NotImplementedf(step Step, format string, args ...any) Diagnostic {
	return NewDiagnostic(step, ReasonNotImplemented, fmt.Sprintf(format, args...))
}

func (r Reason) level() slog.Level {
	switch r {
	case ReasonError:
		return slog.LevelError
	case ReasonWarning:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

func (d Diagnostic) key() string {
	return fmt.Sprintf("%#v", d)
}

// Diagnostics accumulates messages for one scope. The zero value is ready to
// use.
type Diagnostics struct {
	Items []Diagnostic `json:"items,omitempty"`
}

// Add appends d and logs it.
func (ds *Diagnostics) Add(d Diagnostic) {
	ds.Items = append(ds.Items, d)
	slog.Log(context.Background(), d.Level, d.Message, "step", d.Step, "reason", d.Reason)
}

// Merge appends every item of other without logging them again.
func (ds *Diagnostics) Merge(other Diagnostics) {
	ds.Items = append(ds.Items, other.Items...)
}

// Len returns the number of top-level items.
func (ds *Diagnostics) Len() int {
	return len(ds.Items)
}

// Phase collects the failures of one compiler stage for a rule.
type Phase struct {
	Step     Step
	Message  string
	Failures int
	Diagnostics
}

// NewPhase starts collecting failures for a stage.
func NewPhase(step Step, message string) *Phase {
	return &Phase{Step: step, Message: message}
}

// Fail counts one dropped alternative.
func (p *Phase) Fail() {
	p.Failures++
}

// RuleDiagnostics is the diagnostics tree of one rule.
type RuleDiagnostics struct {
	RuleID   string `json:"ruleId"`
	IDInFile string `json:"idInFile"`
	Diagnostics
}

// HandlePhase records a summary WARNING for a stage that failed or produced
// messages. Child messages are de-duplicated.
func (r *RuleDiagnostics) HandlePhase(p *Phase) {
	if p.Failures == 0 && len(p.Items) == 0 {
		return
	}

	message := p.Message
	if p.Failures > 0 {
		message = fmt.Sprintf("%s: %d times", message, p.Failures)
	}

	summary := Warnf(p.Step, "%s", message)
	summary.Children = distinct(p.Items)
	r.Add(summary)
}

// HandleRepeated adds each distinct diagnostic once, suffixing repeated
// messages with their count.
func (r *RuleDiagnostics) HandleRepeated(items []Diagnostic) {
	counts := make(map[string]int, len(items))
	for _, d := range items {
		counts[d.key()]++
	}

	for _, d := range distinct(items) {
		if n := counts[d.key()]; n > 1 {
			d.Message = fmt.Sprintf("%s: %d times", d.Message, n)
		}

		r.Add(d)
	}
}

func distinct(items []Diagnostic) []Diagnostic {
	var out []Diagnostic

	seen := make(map[string]struct{}, len(items))
	for _, d := range items {
		k := d.key()
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		out = append(out, d)
	}

	return out
}

// FileDiagnostics is the diagnostics document of one rule file.
type FileDiagnostics struct {
	Session string            `json:"session,omitempty"`
	Path    string            `json:"path"`
	RuleSet string            `json:"ruleSet"`
	Rules   []RuleDiagnostics `json:"rules,omitempty"`
	Diagnostics
}

// Count returns the number of diagnostics with the given reason across the
// whole tree, nested children included.
func (f FileDiagnostics) Count(reason Reason) int {
	n := countReason(f.Items, reason)
	for _, r := range f.Rules {
		n += countReason(r.Items, reason)
	}

	return n
}

func countReason(items []Diagnostic, reason Reason) int {
	n := 0

	for _, d := range items {
		if d.Reason == reason {
			n++
		}

		n += countReason(d.Children, reason)
	}

	return n
}
