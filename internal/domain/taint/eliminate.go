package taint

import (
	"slices"
	"sort"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

type eliminationKind int

const (
	unchanged eliminationKind = iota
	replaced
	eliminated
)

type elimination[C any] struct {
	kind eliminationKind
	edge edge
	ctx  C
}

type keyed interface{ key() string }

// eliminator decides what happens to one transition given the context
// accumulated on the path leading to it.
type eliminator[C keyed] func(e edge, ctx C) elimination[C]

type pendingElimination[C keyed] struct {
	state State
	ctx   C
}

// eliminateEdges removes the transitions of generated helper calls. An
// eliminated transition is contracted: the successors of its target are
// attached to its source.
func eliminateEdges[C keyed](c *converter, a *registerAutomaton, elim eliminator[C], initial C) *registerAutomaton {
	succ := transitions{}
	final := a.final.clone()
	removed := stateSet{}

	var accepted []int

	stack := []pendingElimination[C]{{state: a.initial, ctx: initial}}
	visited := make(map[string]struct{})

	var contract func(st State, ctx C, from State, seen stateSet)

	contract = func(st State, ctx C, from State, seen stateSet) {
		for _, t := range a.successors[st] {
			var res elimination[C]
			if t.edge.kind == endEdge {
				res = elimination[C]{kind: unchanged}
			} else {
				res = elim(t.edge, ctx)
			}

			switch res.kind {
			case unchanged:
				succ.add(from, t)
				stack = append(stack, pendingElimination[C]{state: t.to, ctx: ctx})
			case replaced:
				succ.add(from, transition{edge: res.edge, to: t.to})
				stack = append(stack, pendingElimination[C]{state: t.to, ctx: res.ctx})
			case eliminated:
				if final.has(t.to) {
					if len(a.successors[t.to]) != 0 {
						c.fail("eliminated transition leads to final state with successors")
					}

					removed.add(t.to)
					final.add(from)

					if a.isAccept(t.to) {
						accepted = append(accepted, from.Node)
					}
				}

				if t.to == st || seen.has(t.to) {
					continue
				}

				next := seen.clone()
				next.add(t.to)

				contract(t.to, res.ctx, from, next)
			}
		}
	}

	for len(stack) > 0 {
		c.check()

		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		k := p.state.String() + "#" + p.ctx.key()
		if _, ok := visited[k]; ok {
			continue
		}

		visited[k] = struct{}{}

		succ.touch(p.state)
		contract(p.state, p.ctx, p.state, stateSet{p.state: {}})
	}

	for st := range removed {
		delete(final, st)
		delete(succ, st)
	}

	for st := range final {
		delete(succ, st)
	}

	out := a.with(a.initial, final, succ)
	for _, n := range accepted {
		out.nodes.markAccept(n)
	}

	return out
}

func isHelper(sig formula.Signature, name string) bool {
	return sig.Name.Kind == model.ConcreteMethodName && sig.Name.Name == name
}

// anyValueCtx remembers the constraints of values produced by the any-value
// helper until the metavariable holding them is consumed.
type anyValueCtx struct {
	constraints map[model.MetavarAtom][]model.Atom
}

func (c anyValueCtx) key() string {
	keys := make([]string, 0, len(c.constraints))
	for m, atoms := range c.constraints {
		parts := make([]string, 0, len(atoms))
		for _, a := range atoms {
			parts = append(parts, a.String())
		}

		keys = append(keys, m.String()+"="+strings.Join(parts, ","))
	}

	sort.Strings(keys)

	return strings.Join(keys, ";")
}

func (c anyValueCtx) with(m model.MetavarAtom, atoms []model.Atom) anyValueCtx {
	out := anyValueCtx{constraints: make(map[model.MetavarAtom][]model.Atom, len(c.constraints)+1)}
	for k, v := range c.constraints {
		out.constraints[k] = v
	}

	out.constraints[m] = atoms

	return out
}

func (c *converter) eliminateAnyValue(e edge, ctx anyValueCtx) elimination[anyValueCtx] {
	generated := false

	for _, p := range e.effect.assign.all() {
		if isHelper(p.predicate.Signature, model.GeneratedAnyValue) {
			generated = true
		}
	}

	if generated {
		keys := e.effect.assign.keys()
		if len(keys) != 1 {
			c.fail("value generator with multiple metavariables")
		}

		mv := keys[0]

		pc, ok := e.effect.assign[mv][0].predicate.Constraint.(formula.ParamConstraint)
		if !ok || pc.Position.Kind != formula.ResultPos {
			c.fail("unexpected value generator binding %s", e.effect.assign[mv][0].predicate)
		}

		for _, read := range e.cond.read.keys() {
			if read != mv {
				c.fail("value generator reads %s", read)
			}
		}

		var atoms []model.Atom

		for _, p := range e.cond.other {
			switch pc := p.predicate.Constraint.(type) {
			case formula.NumberOfArgs:
			case formula.ParamConstraint:
				if pc.Position.Kind != formula.ResultPos {
					c.fail("unexpected value generator constraint %s", pc)
				}

				if _, ok := pc.Condition.(model.IsMetavar); ok {
					c.fail("unexpected value generator condition %s", pc)
				}

				atoms = append(atoms, pc.Condition)
			case nil:
				c.fail("value generator without constraints")
			default:
				c.fail("unexpected value generator constraint %s", pc)
			}
		}

		return elimination[anyValueCtx]{kind: eliminated, ctx: ctx.with(mv, atoms)}
	}

	cond := e.cond
	next := ctx
	changed := false

	keys := make([]model.MetavarAtom, 0, len(ctx.constraints))
	for m := range ctx.constraints {
		keys = append(keys, m)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, mv := range keys {
		binding, ok := e.effect.assign[mv]
		if !ok {
			continue
		}

		read := cond.read.clone()
		delete(read, mv)

		other := slices.Clone(cond.other)

		for _, mp := range binding {
			pc, ok := mp.predicate.Constraint.(formula.ParamConstraint)
			if !ok {
				continue
			}

			if pc.Condition != (model.IsMetavar{Metavar: mv}) {
				c.fail("unexpected binding of %s: %s", mv, pc)
			}

			for _, atom := range ctx.constraints[mv] {
				other = append(other, methodPredicate{predicate: formula.Predicate{
					Signature:  mp.predicate.Signature,
					Constraint: formula.ParamConstraint{Position: pc.Position, Condition: atom},
				}})
			}
		}

		cond = condition{read: read, other: other}

		if !changed {
			next = anyValueCtx{constraints: make(map[model.MetavarAtom][]model.Atom, len(ctx.constraints))}
			for k, v := range ctx.constraints {
				next.constraints[k] = v
			}
		}

		delete(next.constraints, mv)

		changed = true
	}

	if !changed {
		return elimination[anyValueCtx]{kind: unchanged}
	}

	return elimination[anyValueCtx]{kind: replaced, edge: e.withCondition(cond), ctx: next}
}

var stringConcatSignature = formula.Signature{
	Name:  model.ConcreteSignatureName("concat"),
	Class: model.FullyQualified("java.lang.String"),
}

// concatCtx maps metavariables produced by the string-concatenation helper
// to the operand metavariables they were built from.
type concatCtx struct {
	mapping map[model.MetavarAtom][]model.MetavarAtom
}

func (c concatCtx) key() string {
	keys := make([]string, 0, len(c.mapping))
	for m, vars := range c.mapping {
		parts := make([]string, 0, len(vars))
		for _, v := range vars {
			parts = append(parts, v.String())
		}

		keys = append(keys, m.String()+"="+strings.Join(parts, ","))
	}

	sort.Strings(keys)

	return strings.Join(keys, ";")
}

func (c concatCtx) with(updates map[model.MetavarAtom][]model.MetavarAtom) concatCtx {
	out := concatCtx{mapping: make(map[model.MetavarAtom][]model.MetavarAtom, len(c.mapping)+len(updates))}
	for k, v := range c.mapping {
		out.mapping[k] = v
	}

	for k, v := range updates {
		out.mapping[k] = v
	}

	return out
}

func (c concatCtx) targets(m model.MetavarAtom) []model.MetavarAtom {
	if vars, ok := c.mapping[m]; ok {
		return vars
	}

	return []model.MetavarAtom{m}
}

func (c concatCtx) transformMap(conv *converter, preds predicateMap) predicateMap {
	out := predicateMap{}

	for _, prev := range preds.keys() {
		for _, mv := range c.targets(prev) {
			narrowed := c.with(map[model.MetavarAtom][]model.MetavarAtom{prev: {mv}})

			for _, p := range preds[prev] {
				out[mv] = append(out[mv], narrowed.transformPredicate(conv, p)...)
			}
		}
	}

	return out
}

func (c concatCtx) transformPredicate(conv *converter, mp methodPredicate) []methodPredicate {
	p := mp.predicate

	sig := p.Signature
	position := func(pos formula.Position) formula.Position { return pos }

	if isHelper(sig, model.GeneratedStringConcat) {
		sig = stringConcatSignature
		position = func(pos formula.Position) formula.Position {
			if pos.Kind != formula.ArgumentPos {
				return pos
			}

			if pos.Arg.IsAny() || pos.Arg.Index < 0 || pos.Arg.Index > 1 {
				conv.fail("invalid string concatenation operand %s", pos)
			}

			if pos.Arg.Index == 0 {
				return formula.Object
			}

			return formula.Argument(model.ConcretePosition(0))
		}
	}

	pc, ok := p.Constraint.(formula.ParamConstraint)
	if !ok {
		return []methodPredicate{{predicate: formula.Predicate{Signature: sig, Constraint: p.Constraint}, negated: mp.negated}}
	}

	var out []methodPredicate

	for _, atom := range c.transformAtom(pc.Condition) {
		out = append(out, methodPredicate{
			predicate: formula.Predicate{
				Signature:  sig,
				Constraint: formula.ParamConstraint{Position: position(pc.Position), Condition: atom},
			},
			negated: mp.negated,
		})
	}

	return out
}

func (c concatCtx) transformAtom(a model.Atom) []model.Atom {
	switch v := a.(type) {
	case model.IsMetavar:
		vars, ok := c.mapping[v.Metavar]
		if !ok {
			return []model.Atom{a}
		}

		out := make([]model.Atom, 0, len(vars)+1)
		for _, m := range vars {
			out = append(out, model.IsMetavar{Metavar: m})
		}

		if !slices.Contains(vars, v.Metavar) || len(vars) > 1 {
			out = append(out, model.TypeIs{Type: model.FullyQualified("java.lang.String")})
		}

		return out
	case model.StringValueMetavar:
		vars, ok := c.mapping[v.Metavar]
		if !ok {
			return []model.Atom{a}
		}

		out := make([]model.Atom, 0, len(vars))
		for _, m := range vars {
			out = append(out, model.StringValueMetavar{Metavar: m})
		}

		return out
	}

	return []model.Atom{a}
}

func (c concatCtx) transformEdge(conv *converter, e edge) elimination[concatCtx] {
	var other []methodPredicate
	for _, p := range e.cond.other {
		other = append(other, c.transformPredicate(conv, p)...)
	}

	updated := edge{
		kind:   e.kind,
		cond:   condition{read: c.transformMap(conv, e.cond.read), other: other},
		effect: effect{assign: c.transformMap(conv, e.effect.assign)},
	}

	if updated.key() == e.key() {
		return elimination[concatCtx]{kind: unchanged}
	}

	return elimination[concatCtx]{kind: replaced, edge: updated, ctx: c}
}

// concatOperand returns the condition a helper predicate places on the
// given position kind.
func concatOperand(p methodPredicate, kind formula.PositionKind) (model.Atom, bool) {
	if !isHelper(p.predicate.Signature, model.GeneratedStringConcat) {
		return nil, false
	}

	pc, ok := p.predicate.Constraint.(formula.ParamConstraint)
	if !ok || pc.Position.Kind != kind {
		return nil, false
	}

	return pc.Condition, true
}

func (c *converter) eliminateStringConcat(e edge, ctx concatCtx) elimination[concatCtx] {
	var generated []model.MetavarAtom

	for _, mv := range e.effect.assign.keys() {
		for _, p := range e.effect.assign[mv] {
			cond, ok := concatOperand(p, formula.ResultPos)
			if !ok {
				continue
			}

			if cond != (model.IsMetavar{Metavar: mv}) {
				c.fail("unexpected concatenation result %s", cond)
			}

			generated = append(generated, mv)

			break
		}
	}

	if len(generated) == 0 {
		return ctx.transformEdge(c, e)
	}

	var operands []model.MetavarAtom

	for _, mv := range e.cond.read.keys() {
		for _, p := range e.cond.read[mv] {
			cond, ok := concatOperand(p, formula.ArgumentPos)
			if !ok {
				continue
			}

			if cond != (model.IsMetavar{Metavar: mv}) {
				c.fail("unexpected concatenation operand %s", cond)
			}

			for _, target := range ctx.targets(mv) {
				if !slices.Contains(operands, target) {
					operands = append(operands, target)
				}
			}

			break
		}
	}

	var literals []model.Atom

	for _, p := range e.cond.other {
		if cond, ok := concatOperand(p, formula.ArgumentPos); ok {
			literals = append(literals, cond)
		}
	}

	if len(literals) > 1 || (len(literals) == 1 && literals[0] != (model.AnyStringLiteral{})) {
		return ctx.transformEdge(c, e)
	}

	sort.Slice(operands, func(i, j int) bool { return operands[i].String() < operands[j].String() })

	if len(operands) == 1 && len(generated) == 1 && operands[0] == generated[0] {
		return elimination[concatCtx]{kind: eliminated, ctx: ctx}
	}

	updates := make(map[model.MetavarAtom][]model.MetavarAtom, len(generated))
	for _, mv := range generated {
		updates[mv] = operands
	}

	return elimination[concatCtx]{kind: eliminated, ctx: ctx.with(updates)}
}

// eliminateHelpers removes any-value and string-concatenation helper
// transitions, in that order.
func (c *converter) eliminateHelpers(a *registerAutomaton) *registerAutomaton {
	a = eliminateEdges(c, a, c.eliminateAnyValue, anyValueCtx{})
	return eliminateEdges(c, a, c.eliminateStringConcat, concatCtx{})
}
