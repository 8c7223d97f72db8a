package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// ErrMalformedRuleSet is returned when a rule file is not a valid rule set
// document.
var ErrMalformedRuleSet = errors.New("malformed rule set")

var cweRegex = regexp.MustCompile(`(?i)^CWE-(\d+).*$`)

// RuleLoader decodes rule files.
type RuleLoader interface {
	// Load decodes content as the rule set called name. Rules for other
	// languages or with an unusable shape are reported in RuleSet.Skipped.
	Load(path model.Path, name string, content []byte) (model.RuleSet, error)
}

type yamlRuleLoader struct{}

// NewYAMLRuleLoader returns a RuleLoader for semgrep-style YAML rule files.
func NewYAMLRuleLoader() RuleLoader {
	return yamlRuleLoader{}
}

type yamlRuleSet struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID                 string               `yaml:"id"`
	Languages          []string             `yaml:"languages"`
	Pattern            *string              `yaml:"pattern"`
	Mode               string               `yaml:"mode"`
	Patterns           []yamlComplexPattern `yaml:"patterns"`
	PatternEither      []yamlComplexPattern `yaml:"pattern-either"`
	Message            string               `yaml:"message"`
	Severity           string               `yaml:"severity"`
	Metadata           yaml.Node            `yaml:"metadata"`
	PatternSources     []yamlSource         `yaml:"pattern-sources"`
	PatternSinks       []yamlSink           `yaml:"pattern-sinks"`
	PatternPropagators []yamlPropagator     `yaml:"pattern-propagators"`
	PatternSanitizers  []yamlComplexPattern `yaml:"pattern-sanitizers"`
}

type yamlComplexPattern struct {
	PatternEither          []yamlComplexPattern        `yaml:"pattern-either"`
	Pattern                *string                     `yaml:"pattern"`
	Patterns               []yamlComplexPattern        `yaml:"patterns"`
	PatternInside          yaml.Node                   `yaml:"pattern-inside"`
	PatternNot             yaml.Node                   `yaml:"pattern-not"`
	PatternNotInside       yaml.Node                   `yaml:"pattern-not-inside"`
	MetavariablePattern    *yamlMetavariablePattern    `yaml:"metavariable-pattern"`
	MetavariableRegex      *yamlMetavariableRegex      `yaml:"metavariable-regex"`
	MetavariableComparison *yamlMetavariableComparison `yaml:"metavariable-comparison"`
	PatternRegex           *string                     `yaml:"pattern-regex"`
	PatternNotRegex        *string                     `yaml:"pattern-not-regex"`
	FocusMetavariable      yaml.Node                   `yaml:"focus-metavariable"`
}

type yamlMetavariablePattern struct {
	Metavariable       string `yaml:"metavariable"`
	yamlComplexPattern `yaml:",inline"`
}

type yamlMetavariableRegex struct {
	Metavariable string `yaml:"metavariable"`
	Regex        string `yaml:"regex"`
}

type yamlMetavariableComparison struct {
	Metavariable string `yaml:"metavariable"`
	Comparison   string `yaml:"comparison"`
}

type yamlSource struct {
	Label              string `yaml:"label"`
	Requires           string `yaml:"requires"`
	yamlComplexPattern `yaml:",inline"`
}

type yamlSink struct {
	Requires           string `yaml:"requires"`
	yamlComplexPattern `yaml:",inline"`
}

type yamlPropagator struct {
	From               string `yaml:"from"`
	To                 string `yaml:"to"`
	yamlComplexPattern `yaml:",inline"`
}

func (yamlRuleLoader) Load(path model.Path, name string, content []byte) (model.RuleSet, error) {
	var doc yamlRuleSet
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return model.RuleSet{}, fmt.Errorf("%w %q: %w", ErrMalformedRuleSet, name, err)
	}

	set := model.RuleSet{Name: name, Path: path}

	for _, r := range doc.Rules {
		ruleID := model.RuleID(name, r.ID)

		if !isJavaRule(r) {
			set.Skipped = append(set.Skipped, skippedRule(ruleID, r.ID, "Unsupported rule"))
			continue
		}

		spec, err := ruleSpec(r)
		if err != nil {
			slog.Warn("Failed to convert rule", "rule", ruleID, "error", err)
			set.Skipped = append(set.Skipped, skippedRule(ruleID, r.ID, fmt.Sprintf("Failed to convert rule %s: %v", ruleID, err)))

			continue
		}

		set.Rules = append(set.Rules, model.Rule{
			ID:        ruleID,
			IDInFile:  r.ID,
			RuleSet:   name,
			Languages: r.Languages,
			Message:   r.Message,
			Severity:  model.ParseSeverity(r.Severity),
			CWE:       cweInfo(&r.Metadata),
			Spec:      spec,
		})
	}

	if len(set.Skipped) > 0 {
		slog.Warn("Found unsupported rules", "ruleSet", name, "count", len(set.Skipped))
	}

	slog.Info("Loaded rules", "ruleSet", name, "count", len(set.Rules))

	return set, nil
}

func skippedRule(ruleID, idInFile, message string) model.RuleDiagnostics {
	rd := model.RuleDiagnostics{RuleID: ruleID, IDInFile: idInFile}
	rd.Add(model.Errorf(model.StepLoadRuleset, "%s", message))

	return rd
}

func isJavaRule(r yamlRule) bool {
	for _, lang := range r.Languages {
		if strings.EqualFold(lang, "java") {
			return true
		}
	}

	return false
}

func ruleSpec(r yamlRule) (model.RuleSpec[model.Formula], error) {
	if r.Mode == string(model.TaintMode) {
		return taintSpec(r)
	}

	f, err := matchingFormula(r)
	if err != nil {
		return model.RuleSpec[model.Formula]{}, err
	}

	return model.RuleSpec[model.Formula]{Mode: model.SearchMode, Matching: []model.Formula{f}}, nil
}

func taintSpec(r yamlRule) (model.RuleSpec[model.Formula], error) {
	spec := model.RuleSpec[model.Formula]{Mode: model.TaintMode}

	for _, s := range r.PatternSources {
		f, err := s.formula()
		if err != nil {
			return spec, fmt.Errorf("pattern-sources: %w", err)
		}

		spec.Sources = append(spec.Sources, model.TaintSource[model.Formula]{Label: s.Label, Requires: s.Requires, Pattern: f})
	}

	for _, s := range r.PatternSinks {
		f, err := s.formula()
		if err != nil {
			return spec, fmt.Errorf("pattern-sinks: %w", err)
		}

		spec.Sinks = append(spec.Sinks, model.TaintSink[model.Formula]{Requires: s.Requires, Pattern: f})
	}

	for _, p := range r.PatternPropagators {
		f, err := p.formula()
		if err != nil {
			return spec, fmt.Errorf("pattern-propagators: %w", err)
		}

		if p.From == "" || p.To == "" {
			return spec, errors.New("pattern-propagators: from and to are required")
		}

		spec.Propagators = append(spec.Propagators, model.TaintPropagator[model.Formula]{From: p.From, To: p.To, Pattern: f})
	}

	for _, s := range r.PatternSanitizers {
		f, err := s.formula()
		if err != nil {
			return spec, fmt.Errorf("pattern-sanitizers: %w", err)
		}

		spec.Sanitizers = append(spec.Sanitizers, f)
	}

	return spec, nil
}

func matchingFormula(r yamlRule) (model.Formula, error) {
	switch {
	case r.Pattern != nil:
		return model.PatternLeaf{Pattern: *r.Pattern}, nil
	case len(r.Patterns) > 0:
		children, err := formulas(r.Patterns)
		if err != nil {
			return nil, err
		}

		return model.AllOf{Children: children}, nil
	case len(r.PatternEither) > 0:
		children, err := formulas(r.PatternEither)
		if err != nil {
			return nil, err
		}

		return model.AnyOf{Children: children}, nil
	}

	return nil, errors.New("rule has no pattern, patterns or pattern-either")
}

func formulas(patterns []yamlComplexPattern) ([]model.Formula, error) {
	out := make([]model.Formula, 0, len(patterns))

	for _, p := range patterns {
		f, err := p.formula()
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, nil
}

// formula converts the first key present, in a fixed order.
func (p *yamlComplexPattern) formula() (model.Formula, error) {
	switch {
	case len(p.PatternEither) > 0:
		children, err := formulas(p.PatternEither)
		if err != nil {
			return nil, err
		}

		return model.AnyOf{Children: children}, nil
	case p.Pattern != nil:
		return model.PatternLeaf{Pattern: *p.Pattern}, nil
	case len(p.Patterns) > 0:
		children, err := formulas(p.Patterns)
		if err != nil {
			return nil, err
		}

		return model.AllOf{Children: children}, nil
	case p.PatternInside.Kind != 0:
		f, err := simpleOrComplex(&p.PatternInside)
		if err != nil {
			return nil, fmt.Errorf("pattern-inside: %w", err)
		}

		return model.Inside{Child: f}, nil
	case p.PatternNot.Kind != 0:
		f, err := simpleOrComplex(&p.PatternNot)
		if err != nil {
			return nil, fmt.Errorf("pattern-not: %w", err)
		}

		return model.Not{Child: f}, nil
	case p.PatternNotInside.Kind != 0:
		f, err := simpleOrComplex(&p.PatternNotInside)
		if err != nil {
			return nil, fmt.Errorf("pattern-not-inside: %w", err)
		}

		return model.Not{Child: model.Inside{Child: f}}, nil
	case p.MetavariablePattern != nil:
		nested, err := p.MetavariablePattern.formula()
		if err != nil {
			return nil, fmt.Errorf("metavariable-pattern: %w", err)
		}

		return model.MetavarPattern{Name: p.MetavariablePattern.Metavariable, Formula: nested}, nil
	case p.MetavariableRegex != nil:
		return model.MetavarRegex{Name: p.MetavariableRegex.Metavariable, Regex: p.MetavariableRegex.Regex}, nil
	case p.MetavariableComparison != nil:
		return model.MetavarComparison{
			Name:       p.MetavariableComparison.Metavariable,
			Comparison: p.MetavariableComparison.Comparison,
		}, nil
	case p.PatternRegex != nil:
		return model.PatternRegex{Pattern: *p.PatternRegex}, nil
	case p.PatternNotRegex != nil:
		return model.Not{Child: model.PatternRegex{Pattern: *p.PatternNotRegex}}, nil
	case p.FocusMetavariable.Kind != 0:
		names, err := stringsOf(&p.FocusMetavariable)
		if err != nil {
			return nil, fmt.Errorf("focus-metavariable: %w", err)
		}

		children := make([]model.Formula, 0, len(names))
		for _, n := range names {
			children = append(children, model.MetavarFocus{Name: n})
		}

		return model.AllOf{Children: children}, nil
	}

	return nil, errors.New("empty pattern")
}

func simpleOrComplex(node *yaml.Node) (model.Formula, error) {
	if node.Kind == yaml.ScalarNode {
		return model.PatternLeaf{Pattern: node.Value}, nil
	}

	var p yamlComplexPattern
	if err := node.Decode(&p); err != nil {
		return nil, err
	}

	return p.formula()
}

func stringsOf(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, err
		}

		return out, nil
	}

	return nil, fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}

// cweInfo extracts CWE ids from metadata.cwe. Unrecognized entries are
// skipped.
func cweInfo(metadata *yaml.Node) []int {
	if metadata.Kind != yaml.MappingNode {
		return nil
	}

	var raw []string

	for i := 0; i+1 < len(metadata.Content); i += 2 {
		if !strings.EqualFold(metadata.Content[i].Value, "cwe") {
			continue
		}

		value := metadata.Content[i+1]

		switch value.Kind {
		case yaml.ScalarNode:
			raw = append(raw, value.Value)
		case yaml.SequenceNode:
			for _, item := range value.Content {
				if item.Kind == yaml.ScalarNode {
					raw = append(raw, item.Value)
				}
			}
		}

		break
	}

	var cwes []int

	for _, s := range raw {
		m := cweRegex.FindStringSubmatch(s)
		if m == nil {
			continue
		}

		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		cwes = append(cwes, id)
	}

	return cwes
}
