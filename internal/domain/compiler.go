package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"semtaint.dev/pkg/semtaint/internal/domain/automata"
	"semtaint.dev/pkg/semtaint/internal/domain/rewrite"
	"semtaint.dev/pkg/semtaint/internal/domain/taint"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// DefaultRuleTimeout bounds the automaton and taint construction of one
// rule alternative.
const DefaultRuleTimeout = time.Second

var errUnresolvedConstraint = errors.New("metavariable pattern is not a concrete name")

// Compiler turns one loaded rule into analyzer rules.
type Compiler interface {
	Compile(ctx context.Context, rule model.Rule) model.RuleOutcome
}

type compiler struct {
	session *Session
	timeout time.Duration
}

// NewCompiler returns a Compiler sharing the caches of session. A
// non-positive timeout selects DefaultRuleTimeout.
func NewCompiler(session *Session, timeout time.Duration) Compiler {
	if timeout <= 0 {
		timeout = DefaultRuleTimeout
	}

	return &compiler{session: session, timeout: timeout}
}

type (
	rawRule        = model.WithMetavars[model.RawRule]
	normalizedRule = model.WithMetavars[model.NormalizedRule]
	actionListRule = model.WithMetavars[model.ActionListRule]
)

func (c *compiler) Compile(ctx context.Context, rule model.Rule) model.RuleOutcome {
	out := model.RuleOutcome{
		RuleSet:     rule.RuleSet,
		Diagnostics: model.RuleDiagnostics{RuleID: rule.ID, IDInFile: rule.IDInFile},
	}

	spec, ok := c.buildAutomata(ctx, rule, &out)
	if !ok {
		return out
	}

	if out.Stats.IsFailure() {
		slog.Debug("Rule automata build issues", "rule", rule.ID, "stats", out.Stats.String())
	}

	if automataCount(spec) == 0 {
		return out
	}

	cfg, ok := c.convert(ctx, rule, spec, &out.Diagnostics)
	if !ok {
		return out
	}

	out.Config = cfg
	slog.Debug("Compiled rule", "rule", rule.ID, "rules", cfg.Len())

	return out
}

// buildAutomata runs every phase up to the automata. A panic here is a
// compiler bug confined to this rule.
func (c *compiler) buildAutomata(ctx context.Context, rule model.Rule, out *model.RuleOutcome) (spec model.RuleSpec[taint.Automaton], ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Failed to build rule automata", "rule", rule.ID, "panic", r)
			out.Diagnostics.Add(model.Errorf(model.StepLoadRuleset, "Failed to build rule automata: %s", rule.ID))

			spec, ok = model.RuleSpec[taint.Automaton]{}, false
		}
	}()

	b := &ruleBuild{compiler: c, ctx: ctx, diags: &out.Diagnostics, stats: &out.Stats}

	return b.run(rule.Spec), true
}

func (c *compiler) convert(ctx context.Context, rule model.Rule, spec model.RuleSpec[taint.Automaton], diags *model.RuleDiagnostics) (cfg model.TaintConfig, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Failed to create taint rules", "rule", rule.ID, "panic", r)
			diags.Add(model.Errorf(model.StepAutomataToTaintRule, "Failed to create taint rules: %s", rule.ID))

			cfg, ok = model.TaintConfig{}, false
		}
	}()

	meta := model.SinkMeta{CWE: rule.CWE, Note: rule.Message, Severity: rule.Severity}

	cfg, err := taint.Convert(ctx, taint.Rule{ID: rule.ID, Meta: meta, Spec: spec}, c.timeout, &diags.Diagnostics)
	if err != nil {
		failure := model.Errorf(model.StepAutomataToTaintRule, "Failed to create taint rules: %s", rule.ID)
		failure.Children = []model.Diagnostic{model.Errorf(model.StepAutomataToTaintRule, "%v", err)}
		diags.Add(failure)

		return model.TaintConfig{}, false
	}

	return cfg, true
}

func automataCount(spec model.RuleSpec[taint.Automaton]) int {
	return len(spec.Matching) + len(spec.Sources) + len(spec.Sinks) + len(spec.Propagators) + len(spec.Sanitizers)
}

// ruleBuild holds the per-rule state of the phases.
type ruleBuild struct {
	*compiler
	ctx   context.Context
	diags *model.RuleDiagnostics
	stats *model.Stats
}

func (b *ruleBuild) run(spec model.RuleSpec[model.Formula]) model.RuleSpec[taint.Automaton] {
	raw := b.toRaw(spec)
	raw = b.dropWithoutPatterns(raw)
	parsed := b.parse(raw)
	resolved := b.resolveMetavars(parsed)
	rewritten := b.rewrite(resolved)
	lists := b.actionLists(rewritten)
	lists = dedupSpec(lists)

	return b.automata(lists)
}

func (b *ruleBuild) toRaw(spec model.RuleSpec[model.Formula]) model.RuleSpec[rawRule] {
	phase := model.NewPhase(model.StepConvertToRawRule, "Error during converting to raw rule")

	raw := model.FlatMapRule(spec, func(f model.Formula) []rawRule {
		return NormalizeFormula(f, &phase.Diagnostics)
	})

	b.diags.HandlePhase(phase)

	return raw
}

func (b *ruleBuild) dropWithoutPatterns(spec model.RuleSpec[rawRule]) model.RuleSpec[rawRule] {
	phase := model.NewPhase(model.StepConvertToRawRule, "Empty patterns after conversion to raw rule")

	out := model.FlatMapRule(spec, func(r rawRule) []rawRule {
		if len(r.Rule.Patterns) == 0 {
			phase.Fail()
			return nil
		}

		return []rawRule{r}
	})

	b.stats.RuleWithoutPattern += phase.Failures
	b.diags.HandlePhase(phase)

	return out
}

func (b *ruleBuild) parse(spec model.RuleSpec[rawRule]) model.RuleSpec[normalizedRule] {
	phase := model.NewPhase(model.StepParsePattern, "Failed parse normalized rule")

	out := model.FlatMapRule(spec, func(r rawRule) []normalizedRule {
		rule, ok := model.MapGroups(r.Rule, func(text string) (model.Node, bool) {
			node, err := b.session.Parse(text)
			if err != nil {
				phase.Add(model.Errorf(model.StepParsePattern, "Pattern parsing failed: %v", err))
				return nil, false
			}

			return node, true
		})
		if !ok {
			phase.Fail()
			return nil
		}

		return []normalizedRule{{Rule: rule, Info: r.Info}}
	})

	b.stats.RuleParsingFailure += phase.Failures
	b.diags.HandlePhase(phase)

	return out
}

// resolveMetavars turns metavariable-pattern constraints into concrete
// dotted names. Regex constraints pass through unchanged.
func (b *ruleBuild) resolveMetavars(spec model.RuleSpec[normalizedRule]) model.RuleSpec[normalizedRule] {
	phase := model.NewPhase(model.StepMetavarResolving, "Failed resolve MetaVar")

	out := model.FlatMapRule(spec, func(r normalizedRule) []normalizedRule {
		if len(r.Info.Constraints) == 0 {
			return []normalizedRule{r}
		}

		info := r.Info.Clone()

		for _, name := range constraintNames(r.Info) {
			resolved, err := model.MapConstraints(r.Info.Constraints[name], func(mc model.MetavarConstraint) (model.MetavarConstraint, error) {
				if mc.Kind != model.PatternConstraint {
					return mc, nil
				}

				return b.concreteConstraint(mc.Value, phase)
			})
			if err != nil {
				phase.Fail()
				return nil
			}

			info.Constraints[name] = resolved
		}

		return []normalizedRule{{Rule: r.Rule, Info: info}}
	})

	b.stats.MetavarResolvingFailure += phase.Failures
	b.diags.HandlePhase(phase)

	return out
}

func (b *ruleBuild) concreteConstraint(pattern string, phase *model.Phase) (model.MetavarConstraint, error) {
	node, err := b.session.Parse(pattern)
	if err != nil {
		phase.Add(model.Errorf(model.StepMetavarResolving, "Pattern parsing failed: %v", err))
		return model.MetavarConstraint{}, err
	}

	parts := rewrite.DottedParts(node)

	names, ok := rewrite.ConcreteNames(parts)
	if !ok || len(parts) == 0 {
		return model.MetavarConstraint{}, fmt.Errorf("%w: %s", errUnresolvedConstraint, pattern)
	}

	return model.MetavarConstraint{Kind: model.ConcreteConstraint, Value: strings.Join(names, ".")}, nil
}

func (b *ruleBuild) rewrite(spec model.RuleSpec[normalizedRule]) model.RuleSpec[normalizedRule] {
	phase := model.NewPhase(model.StepMetavarResolving, "Failed rewrite type name")

	out := model.FlatMapRule(spec, func(r normalizedRule) []normalizedRule {
		rules, err := rewrite.Rule(r)
		if err != nil {
			phase.Add(model.NotImplementedf(model.StepMetavarResolving, "%v", err))
			phase.Fail()

			return nil
		}

		return rules
	})

	b.stats.MetavarResolvingFailure += phase.Failures
	b.diags.HandlePhase(phase)

	return out
}

func (b *ruleBuild) actionLists(spec model.RuleSpec[normalizedRule]) model.RuleSpec[actionListRule] {
	phase := model.NewPhase(model.StepActionListConversion, "Failed to convert to action list")

	out := model.FlatMapRule(spec, func(r normalizedRule) []actionListRule {
		rule, ok := model.MapGroups(r.Rule, func(n model.Node) (model.ActionList, bool) {
			list, err := b.session.ActionList(n)
			if err != nil {
				phase.Add(model.Errorf(model.StepActionListConversion, "%v", err))
				return model.ActionList{}, false
			}

			return list, true
		})
		if !ok {
			phase.Fail()
			return nil
		}

		return []actionListRule{{Rule: rule, Info: r.Info}}
	})

	b.stats.ActionListConversionFailure += phase.Failures
	b.diags.HandlePhase(phase)

	return out
}

func (b *ruleBuild) automata(spec model.RuleSpec[actionListRule]) model.RuleSpec[taint.Automaton] {
	var failures []model.Diagnostic

	empty := model.NewPhase(model.StepTransformToAutomata, "Empty accepting state")

	out := model.FlatMapRule(spec, func(r actionListRule) []taint.Automaton {
		a, err := automata.Build(b.ctx, r.Rule, r.Info, b.timeout)
		if err != nil {
			slog.Debug("Failed to build automaton", "rule", b.diags.RuleID, "error", err)
			failures = append(failures, model.Errorf(model.StepTransformToAutomata, "%v", err))

			return nil
		}

		if !a.ContainsAccept() {
			empty.Fail()
			return nil
		}

		return []taint.Automaton{{Rule: a, Info: r.Info}}
	})

	b.diags.HandleRepeated(failures)
	b.stats.EmptyAutomata += empty.Failures
	b.diags.HandlePhase(empty)

	return out
}

// dedupSpec drops structurally identical alternatives within each role.
func dedupSpec(spec model.RuleSpec[actionListRule]) model.RuleSpec[actionListRule] {
	out := model.RuleSpec[actionListRule]{Mode: spec.Mode}

	seen := make(map[string]struct{})
	keep := func(role string, r actionListRule) bool {
		k := role + "\x00" + actionRuleKey(r)
		if _, ok := seen[k]; ok {
			return false
		}

		seen[k] = struct{}{}

		return true
	}

	for _, r := range spec.Matching {
		if keep("matching", r) {
			out.Matching = append(out.Matching, r)
		}
	}

	for _, s := range spec.Sources {
		if keep("source|"+s.Label+"|"+s.Requires, s.Pattern) {
			out.Sources = append(out.Sources, s)
		}
	}

	for _, s := range spec.Sinks {
		if keep("sink|"+s.Requires, s.Pattern) {
			out.Sinks = append(out.Sinks, s)
		}
	}

	for _, p := range spec.Propagators {
		if keep("propagator|"+p.From+"|"+p.To, p.Pattern) {
			out.Propagators = append(out.Propagators, p)
		}
	}

	for _, r := range spec.Sanitizers {
		if keep("sanitizer", r) {
			out.Sanitizers = append(out.Sanitizers, r)
		}
	}

	return out
}

func actionRuleKey(r actionListRule) string {
	var b strings.Builder

	groups := [][]model.ActionList{r.Rule.Patterns, r.Rule.Nots, r.Rule.Insides, r.Rule.NotInsides}
	for _, g := range groups {
		for _, l := range g {
			b.WriteString(l.Key())
			b.WriteByte(';')
		}

		b.WriteByte('|')
	}

	b.WriteString(strings.Join(r.Info.Focus, ","))

	for _, name := range constraintNames(r.Info) {
		b.WriteString("|" + name + "=" + r.Info.Constraints[name].String())
	}

	return b.String()
}

func constraintNames(info model.MetavarInfo) []string {
	names := make([]string, 0, len(info.Constraints))
	for name := range info.Constraints {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
