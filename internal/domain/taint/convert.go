package taint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"semtaint.dev/pkg/semtaint/internal/domain/automata"
	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// ErrNoRules is returned when a matching rule yields no rule group at all.
var ErrNoRules = errors.New("no taint rules generated")

// Automaton is a rule automaton with the metavariable info it was built
// under.
type Automaton = model.WithMetavars[*automata.Automaton]

// Rule is a compiled rule ready for conversion.
type Rule struct {
	ID   string
	Meta model.SinkMeta
	Spec model.RuleSpec[Automaton]
}

type converter struct {
	ctx     context.Context
	timeout time.Duration
	ruleID  string
	meta    model.SinkMeta
	diags   *model.Diagnostics
	cancel  *formula.Cancelation
}

// Convert turns the automata of one rule into analyzer rules. Failures of
// single automata are recorded in diags and do not stop the others.
func Convert(ctx context.Context, rule Rule, timeout time.Duration, diags *model.Diagnostics) (model.TaintConfig, error) {
	c := &converter{ctx: ctx, timeout: timeout, ruleID: rule.ID, meta: rule.Meta, diags: diags}

	var (
		cfg model.TaintConfig
		err error
	)

	if rule.Spec.Mode == model.TaintMode {
		cfg = c.convertTaint(rule.Spec)
	} else {
		cfg, err = c.convertMatching(rule.Spec.Matching)
	}

	if err != nil {
		return model.TaintConfig{}, err
	}

	cfg.RuleIDs = []string{rule.ID}
	cfg.Dedup()

	return cfg, nil
}

// safely runs one conversion unit under a fresh deadline. A conversion
// failure is recorded and reported as !ok; anything else is a bug and keeps
// panicking.
func (c *converter) safely(name string, fn func() model.TaintConfig) (cfg model.TaintConfig, ok bool) {
	c.cancel = formula.NewCancelation(c.ctx, c.timeout)

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		ce, isConversion := r.(conversionError)
		if !isConversion {
			panic(r)
		}

		c.diags.Add(model.Errorf(model.StepAutomataToTaintRule,
			"Failed to convert to taint rule for %s: %v", name, ce.err))

		cfg, ok = model.TaintConfig{}, false
	}()

	return fn(), true
}

// prepare splits a rule automaton into register automata and removes the
// helper transitions.
func (c *converter) prepare(w Automaton) []*registerAutomaton {
	if !w.Rule.Deterministic {
		c.fail("NFA not supported")
	}

	regs := c.registerAutomata(w.Rule, w.Info)
	for i, ra := range regs {
		regs[i] = c.eliminateHelpers(ra)
	}

	return regs
}

func (c *converter) generate(a *registerAutomaton, info model.MetavarInfo, uid string, acceptLive []model.MetavarAtom) *generationCtx {
	a = c.simulate(a)
	a = c.removeUnreachable(a)
	a = c.eliminateDeadVariables(a, acceptLive)
	a = c.removeSubsumedStates(a)
	a = c.tryRemoveEndEdge(a)

	return c.generateTaintEdges(a, info, uid)
}

func (c *converter) convertMatching(list []Automaton) (model.TaintConfig, error) {
	if len(list) == 0 {
		return model.TaintConfig{}, fmt.Errorf("rule %s: %w", c.ruleID, ErrNoRules)
	}

	var (
		cfg    model.TaintConfig
		groups int
	)

	for idx, w := range list {
		uid := fmt.Sprintf("%s#%d", c.ruleID, idx)

		group, ok := c.safely(uid, func() model.TaintConfig {
			var out model.TaintConfig

			for _, ra := range c.prepare(w) {
				g := c.generate(ra, w.Info, uid, nil)
				out.Append(g.sinkRules(c.keepMatching))
			}

			return out
		})
		if !ok {
			continue
		}

		groups++

		cfg.Append(group)
	}

	if groups == 0 {
		return model.TaintConfig{}, fmt.Errorf("rule %s: %w", c.ruleID, ErrNoRules)
	}

	return cfg, nil
}

func (c *converter) keepMatching(fn model.FunctionMatcher, cond model.Condition) bool {
	if fn.MatchesAnything() && cond.IsTrue() {
		c.diags.Add(model.Warnf(model.StepAutomataToTaintRule, "Rule %s match anything", c.ruleID))
		return false
	}

	return true
}

func (c *converter) keepTaintSink(_ model.FunctionMatcher, cond model.Condition) bool {
	if cond.IsTrue() {
		c.diags.Add(model.Warnf(model.StepAutomataToTaintRule, "Taint rule %s match anything", c.ruleID))
		return false
	}

	return true
}

func focusVars(info model.MetavarInfo) []model.MetavarAtom {
	out := make([]model.MetavarAtom, 0, len(info.Focus))
	for _, f := range info.Focus {
		out = append(out, model.NewMetavar(f))
	}

	return out
}

func (c *converter) convertTaint(spec model.RuleSpec[Automaton]) model.TaintConfig {
	mark := c.ruleID + "|taint"

	var cfg model.TaintConfig

	for i, src := range spec.Sources {
		if src.Label != "" {
			c.diags.Add(model.Warnf(model.StepAutomataToTaintRule, "Rule %s: source label ignored", c.ruleID))
		}

		if src.Requires != "" {
			c.diags.Add(model.Warnf(model.StepAutomataToTaintRule, "Rule %s: source requires ignored", c.ruleID))
		}

		uid := fmt.Sprintf("%s#source_%d", c.ruleID, i)

		rules, _ := c.safely(fmt.Sprintf("%s: source #%d", c.ruleID, i), func() model.TaintConfig {
			var out model.TaintConfig

			for _, ra := range c.prepare(src.Pattern) {
				ra, vars := c.ensureSourceStateVars(ra, focusVars(src.Pattern.Info))
				g := c.generate(ra, src.Pattern.Info, uid, vars)
				out.Append(g.sourceRules(g.assignedOnAccept(vars), mark))
			}

			return out
		})

		cfg.Append(rules)
	}

	for i, sink := range spec.Sinks {
		if sink.Requires != "" {
			c.diags.Add(model.Warnf(model.StepAutomataToTaintRule, "Rule %s: sink requires ignored", c.ruleID))
		}

		uid := fmt.Sprintf("%s#sink_%d", c.ruleID, i)

		rules, _ := c.safely(fmt.Sprintf("%s: sink #%d", c.ruleID, i), func() model.TaintConfig {
			var out model.TaintConfig

			for _, ra := range c.prepare(sink.Pattern) {
				ra, vars := c.ensureSinkStateVars(ra, focusVars(sink.Pattern.Info))

				initial := ra.stateID(ra.initial)
				ra = ra.replaceInitial(State{Node: ra.initial.Node, Register: registerOf(vars, initial)})

				g := c.generate(ra, sink.Pattern.Info, uid, nil).withTaint(vars, initial, mark)
				out.Append(g.sinkRules(c.keepTaintSink))
			}

			return out
		})

		cfg.Append(rules)
	}

	for i, pass := range spec.Propagators {
		uid := fmt.Sprintf("%s#pass_%d", c.ruleID, i)
		from, to := model.NewMetavar(pass.From), model.NewMetavar(pass.To)

		rules, _ := c.safely(fmt.Sprintf("%s: pass #%d", c.ruleID, i), func() model.TaintConfig {
			var out model.TaintConfig

			for _, ra := range c.prepare(pass.Pattern) {
				initial := ra.stateID(ra.initial)
				ra = ra.replaceInitial(State{Node: ra.initial.Node, Register: registerOf([]model.MetavarAtom{from}, initial)})

				g := c.generate(ra, pass.Pattern.Info, uid, []model.MetavarAtom{to}).
					withTaint([]model.MetavarAtom{from}, initial, mark)
				out.Append(g.passThroughRules([]model.MetavarAtom{to}, mark))
			}

			return out
		})

		cfg.Append(rules)
	}

	if len(spec.Sanitizers) > 0 {
		c.diags.Add(model.NotImplementedf(model.StepAutomataToTaintRule,
			"Rule %s: sanitizers are not supported yet", c.ruleID))
	}

	return cfg
}

func registerOf(vars []model.MetavarAtom, node int) Register {
	m := make(map[model.MetavarAtom]int, len(vars))
	for _, v := range vars {
		m[v] = node
	}

	return newRegister(m)
}

// assignedOnAccept returns the vars bound when an accepting state is
// entered.
func (g *generationCtx) assignedOnAccept(vars []model.MetavarAtom) []model.MetavarAtom {
	var out []model.MetavarAtom

	for _, m := range vars {
		for _, e := range g.finals {
			if !g.a.isAccept(e.to) {
				continue
			}

			if _, ok := e.to.Register.lookup(m); ok {
				out = append(out, m)
				break
			}
		}
	}

	return out
}

var (
	sourceVar = model.NewMetavar("generated_source")
	sinkVar   = model.NewMetavar("generated_sink_requirement")
)

// ensureSourceStateVars binds the result of every call entering an accept
// state when the source names no focus metavariable.
func (c *converter) ensureSourceStateVars(a *registerAutomaton, focus []model.MetavarAtom) (*registerAutomaton, []model.MetavarAtom) {
	if len(focus) > 0 {
		return a, focus
	}

	preds := a.predecessors()

	var replacements []edgeReplacement

	for _, dst := range a.final.sorted() {
		if !a.isAccept(dst) {
			continue
		}

		for _, p := range preds[dst] {
			if p.edge.kind != callEdge {
				continue
			}

			positive, ok := p.edge.cond.positivePredicate()
			if !ok {
				continue
			}

			assign := p.edge.effect.assign.clone()
			assign[sourceVar] = []methodPredicate{{predicate: formula.Predicate{
				Signature:  positive.Signature,
				Constraint: formula.ParamConstraint{Position: formula.Result, Condition: model.IsMetavar{Metavar: sourceVar}},
			}}}

			replacements = append(replacements, edgeReplacement{
				from:    p.from,
				to:      dst,
				old:     p.edge,
				updated: edge{kind: callEdge, cond: p.edge.cond, effect: effect{assign: assign}},
			})
		}
	}

	return a.replaceEdges(replacements), []model.MetavarAtom{sourceVar}
}

// ensureSinkStateVars requires a tainted argument on some call of every
// path when the sink names no focus metavariable. Each call gets a variant
// carrying the check; the rest of the path after it is forked off so that
// only checked paths reach the accept states.
func (c *converter) ensureSinkStateVars(a *registerAutomaton, focus []model.MetavarAtom) (*registerAutomaton, []model.MetavarAtom) {
	if len(focus) > 0 {
		return a, focus
	}

	nodes := a.nodes.clone()
	succ := transitions{}
	final := stateSet{}
	forked := make(map[State]State)

	var fork func(st State) State

	fork = func(st State) State {
		if f, ok := forked[st]; ok {
			return f
		}

		f := State{Node: nodes.add(a.isAccept(st)), Register: st.Register}
		forked[st] = f

		if a.final.has(st) {
			final.add(f)
		}

		list, ok := a.successors[st]
		if !ok {
			return f
		}

		succ.touch(f)

		for _, t := range list {
			succ.add(f, transition{edge: t.edge, to: fork(t.to)})
		}

		return f
	}

	keeps := func(st State) bool {
		_, hasSucc := a.successors[st]
		return hasSucc && !a.final.has(st)
	}

	processed := stateSet{}

	var insert func(st State) bool

	insert = func(st State) bool {
		if !processed.add(st) {
			return keeps(st)
		}

		if !keeps(st) {
			return false
		}

		succ.touch(st)

		for _, t := range a.successors[st] {
			if insert(t.to) {
				succ.add(st, transition{edge: t.edge, to: t.to})
			}

			if t.edge.kind != callEdge {
				continue
			}

			positive, ok := t.edge.cond.positivePredicate()
			if !ok {
				continue
			}

			dst := fork(t.to)

			for _, pos := range taintedArguments(t.edge) {
				read := t.edge.cond.read.clone()
				read[sinkVar] = []methodPredicate{{predicate: formula.Predicate{
					Signature:  positive.Signature,
					Constraint: formula.ParamConstraint{Position: pos, Condition: model.IsMetavar{Metavar: sinkVar}},
				}}}

				checked := edge{kind: callEdge, cond: condition{read: read, other: t.edge.cond.other}, effect: t.edge.effect}
				succ.add(st, transition{edge: checked, to: dst})
			}
		}

		return true
	}

	if !insert(a.initial) {
		c.fail("unable to insert taint check")
	}

	return &registerAutomaton{nodes: nodes, initial: a.initial, final: final, successors: succ}, []model.MetavarAtom{sinkVar}
}

// taintedArguments lists the positions a sink checks for taint: every
// argument when the arity is fixed, some argument otherwise.
func taintedArguments(e edge) []formula.Position {
	for _, p := range e.cond.other {
		n, ok := p.predicate.Constraint.(formula.NumberOfArgs)
		if !ok || p.negated || n.N == 0 {
			continue
		}

		out := make([]formula.Position, 0, n.N)
		for i := 0; i < n.N; i++ {
			out = append(out, formula.Argument(model.ConcretePosition(i)))
		}

		return out
	}

	return []formula.Position{formula.Argument(model.AnyPosition("tainted"))}
}
