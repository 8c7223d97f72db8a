package taint

import (
	"semtaint.dev/pkg/semtaint/internal/model"
)

// acceptFunc emits the rules of a transition into an accepting state.
// cfg holds everything generated so far.
type acceptFunc func(cfg *model.TaintConfig, re ruleEdge, ev evaluated, fn model.FunctionMatcher, cond model.Condition)

func conditionRef(c model.Condition) *model.Condition {
	if c.IsTrue() {
		return nil
	}

	return &c
}

func isReturnValue(fn model.FunctionMatcher) bool {
	return fn.Name.Kind == model.SimpleMatcher && fn.Name.Value == model.GeneratedReturnValue
}

// generateTaintRules emits mark assignments for intermediate transitions,
// mark cleaning for transitions into rejecting final states and whatever
// accept produces for accepting ones.
func (g *generationCtx) generateTaintRules(accept acceptFunc) model.TaintConfig {
	var cfg model.TaintConfig

	memo := make(map[string]evaluated)
	evaluate := func(re ruleEdge) evaluated {
		k := re.from.String() + "#" + re.edge.key()

		ev, ok := memo[k]
		if !ok {
			ev = g.evaluate(re.edge, re.from)
			memo[k] = ev
		}

		return g.addStateCheck(ev, re.checkGlobal, re.from)
	}

	for _, re := range g.edges {
		g.conv.check()

		ev := evaluate(re)
		cfg.StaticFieldSource = append(cfg.StaticFieldSource, ev.fields...)

		node := g.a.stateID(re.to)

		var actions []model.MarkAction

		for _, b := range re.to.Register.bindings() {
			for _, pos := range ev.positions[b.metavar] {
				actions = append(actions,
					model.MarkAction{Mark: g.stateMark(b.metavar, node), Pos: pos},
					model.MarkAction{Mark: g.valueMark(b.metavar), Pos: pos},
				)
			}
		}

		if g.globals.has(re.to) {
			actions = append(actions, model.MarkAction{Mark: g.globalMark(re.to), Pos: g.statePosition()})
		}

		if len(actions) == 0 {
			continue
		}

		g.appendAssign(&cfg, re.edge.kind, ev.rule, actions)
	}

	for _, re := range g.finals {
		g.conv.check()

		ev := evaluate(re)
		cfg.StaticFieldSource = append(cfg.StaticFieldSource, ev.fields...)

		if g.a.isAccept(re.to) {
			accept(&cfg, re, ev, ev.rule.function, ev.rule.cond)
			continue
		}

		var cleans []model.MarkAction

		for _, m := range ev.boundVars() {
			value, ok := re.from.Register.lookup(m)
			if !ok {
				continue
			}

			for _, pos := range ev.positions[m] {
				cleans = append(cleans,
					model.MarkAction{Mark: g.stateMark(m, value), Pos: pos},
					model.MarkAction{Mark: g.valueMark(m), Pos: pos},
				)
			}
		}

		if g.globals.has(re.from) {
			cleans = append(cleans, model.MarkAction{Mark: g.globalMark(re.from), Pos: g.statePosition()})
		}

		if len(cleans) == 0 {
			continue
		}

		if re.edge.kind != callEdge {
			g.conv.fail("mark cleaning on %s transition", re.edge.kind)
		}

		if isReturnValue(ev.rule.function) {
			g.conv.fail("return value helper was not eliminated")
		}

		cfg.Cleaner = append(cfg.Cleaner, model.TaintRule{
			Function:  ev.rule.function,
			Overrides: true,
			Condition: conditionRef(ev.rule.cond),
			Cleans:    cleans,
		})
	}

	return cfg
}

// appendAssign emits a rule assigning marks: a source for calls and an
// entry point for method entries.
func (g *generationCtx) appendAssign(cfg *model.TaintConfig, kind edgeKind, rc ruleCondition, actions []model.MarkAction) {
	if isReturnValue(rc.function) {
		g.conv.fail("return value helper was not eliminated")
	}

	rule := model.TaintRule{Function: rc.function, Condition: conditionRef(rc.cond), Taint: actions}

	switch kind {
	case callEdge:
		rule.Overrides = true
		cfg.Source = append(cfg.Source, rule)
	case enterEdge:
		cfg.EntryPoint = append(cfg.EntryPoint, rule)
	default:
		g.conv.fail("mark assignment on %s transition", kind)
	}
}

// addStateCheck requires the marks proving that the call site continues
// the path through st.
func (g *generationCtx) addStateCheck(ev evaluated, checkGlobal bool, st State) evaluated {
	var checks []model.Condition

	if checkGlobal {
		checks = append(checks, model.ContainsMark(g.globalMark(st), g.statePosition()))
	} else {
		for _, b := range st.Register.bindings() {
			mark := g.stateMark(b.metavar, b.node)

			for _, pos := range ev.positions[b.metavar] {
				checks = append(checks, model.ContainsMark(mark, pos))
			}
		}
	}

	if len(checks) == 0 {
		return ev
	}

	ev.rule.cond = model.AndOf(model.OrOf(checks...), ev.rule.cond)

	return ev
}

// sinkRules emits one sink per accepting transition. keep filters out
// sinks that would match too much.
func (g *generationCtx) sinkRules(keep func(model.FunctionMatcher, model.Condition) bool) model.TaintConfig {
	return g.generateTaintRules(func(cfg *model.TaintConfig, re ruleEdge, _ evaluated, fn model.FunctionMatcher, cond model.Condition) {
		if !keep(fn, cond) {
			return
		}

		if isReturnValue(fn) || re.edge.kind == endEdge {
			g.appendEndSinks(cfg, cond)
			return
		}

		rule := model.TaintRule{Function: fn, Condition: conditionRef(cond), ID: g.conv.ruleID, Meta: g.sinkMeta()}

		if re.edge.kind == enterEdge {
			cfg.MethodEntrySink = append(cfg.MethodEntrySink, rule)
			return
		}

		rule.Overrides = true
		cfg.Sink = append(cfg.Sink, rule)
	})
}

func (g *generationCtx) sinkMeta() *model.SinkMeta {
	meta := g.conv.meta
	return &meta
}

// appendEndSinks checks cond when a method returns. Without entry points
// every analyzed method qualifies, so the check happens at analysis end.
func (g *generationCtx) appendEndSinks(cfg *model.TaintConfig, cond model.Condition) {
	end := endCondition(cond)

	if len(cfg.EntryPoint) == 0 {
		cfg.AnalysisEndSink = append(cfg.AnalysisEndSink, model.TaintRule{
			Function:  model.AnyFunction(),
			Condition: conditionRef(end),
			ID:        g.conv.ruleID,
			Meta:      g.sinkMeta(),
		})

		return
	}

	for _, ep := range cfg.EntryPoint {
		entry := model.True()
		if ep.Condition != nil {
			entry = *ep.Condition
		}

		cfg.MethodExitSink = append(cfg.MethodExitSink, model.TaintRule{
			Function:  ep.Function,
			Overrides: ep.Overrides,
			Condition: conditionRef(model.AndOf(entry, end)),
			ID:        g.conv.ruleID,
			Meta:      g.sinkMeta(),
		})
	}
}

// endCondition moves argument checks to the returned value. Arity checks
// are dropped.
func endCondition(c model.Condition) model.Condition {
	switch c.Type {
	case model.CondTypeAnd:
		args := make([]model.Condition, 0, len(c.AllOf))
		for _, a := range c.AllOf {
			args = append(args, endCondition(a))
		}

		return model.AndOf(args...)
	case model.CondTypeOr:
		args := make([]model.Condition, 0, len(c.AnyOf))
		for _, a := range c.AnyOf {
			args = append(args, endCondition(a))
		}

		return model.OrOf(args...)
	case model.CondTypeNot:
		return model.NotOf(endCondition(*c.Not))
	case model.CondTypeNumberOfArgs:
		return model.True()
	}

	return c.MapPositions(func(p model.Position) model.Position {
		if p.Base == model.PosArgument || p.Base == model.PosAnyArgument {
			return model.ResultPosition
		}

		return p
	})
}

// sourceRules assigns mark at every position of vars on accepting
// transitions.
func (g *generationCtx) sourceRules(vars []model.MetavarAtom, mark string) model.TaintConfig {
	return g.generateTaintRules(func(cfg *model.TaintConfig, re ruleEdge, ev evaluated, fn model.FunctionMatcher, cond model.Condition) {
		var actions []model.MarkAction

		for _, m := range vars {
			for _, pos := range ev.positions[m] {
				actions = append(actions, model.MarkAction{Mark: mark, Pos: pos})
			}
		}

		if len(actions) == 0 {
			return
		}

		g.appendAssign(cfg, re.edge.kind, ruleCondition{function: fn, cond: cond}, actions)
	})
}

// passThroughRules is sourceRules for propagators: the accepting call moves
// mark from one value to vars.
func (g *generationCtx) passThroughRules(vars []model.MetavarAtom, mark string) model.TaintConfig {
	return g.generateTaintRules(func(cfg *model.TaintConfig, re ruleEdge, ev evaluated, fn model.FunctionMatcher, cond model.Condition) {
		var actions []model.MarkAction

		for _, m := range vars {
			for _, pos := range ev.positions[m] {
				actions = append(actions, model.MarkAction{Mark: mark, Pos: pos})
			}
		}

		if len(actions) == 0 {
			return
		}

		if re.edge.kind != callEdge {
			g.conv.fail("propagator on %s transition", re.edge.kind)
		}

		cfg.PassThrough = append(cfg.PassThrough, model.TaintRule{
			Function:  fn,
			Overrides: false,
			Condition: conditionRef(cond),
			Taint:     actions,
		})
	})
}
