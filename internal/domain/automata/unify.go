package automata

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// unifyContext maps basic metavariables to the atom they were fused into.
// Contexts are immutable.
type unifyContext struct {
	mappings map[string]model.MetavarAtom
}

func (c unifyContext) key() string {
	names := make([]string, 0, len(c.mappings))
	for name := range c.mappings {
		names = append(names, name)
	}

	sort.Strings(names)

	var sb strings.Builder

	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(c.mappings[name].String())
		sb.WriteByte(';')
	}

	return sb.String()
}

func (c unifyContext) transform(m model.MetavarAtom) model.MetavarAtom {
	if m.IsBasic() {
		if mapped, ok := c.mappings[m.String()]; ok {
			return mapped
		}

		return m
	}

	var result *model.MetavarAtom

	for _, basic := range m.Basics() {
		mapped, ok := c.mappings[basic]
		if !ok || (result != nil && *result != mapped) {
			panic("automata: ambiguous transform for metavar " + m.String())
		}

		result = &mapped
	}

	return *result
}

func (c unifyContext) unify(metavars []model.MetavarAtom) unifyContext {
	if len(metavars) == 0 || (len(metavars) == 1 && metavars[0].IsBasic()) {
		return c
	}

	var input []string
	for _, m := range metavars {
		input = append(input, m.Basics()...)
	}

	slices.Sort(input)
	input = slices.Compact(input)

	var basics []model.MetavarAtom

	for _, name := range input {
		for _, b := range c.transform(model.NewMetavar(name)).Basics() {
			atom := model.NewMetavar(b)
			if !slices.Contains(basics, atom) {
				basics = append(basics, atom)
			}
		}
	}

	unified := model.NewComplexMetavar(basics...)
	if c.transform(basics[0]) == unified {
		return c
	}

	out := unifyContext{mappings: make(map[string]model.MetavarAtom, len(c.mappings)+len(basics))}
	for k, v := range c.mappings {
		out.mappings[k] = v
	}

	for _, b := range basics {
		out.mappings[b.String()] = unified
	}

	return out
}

func (c unifyContext) intersect(other unifyContext) unifyContext {
	out := unifyContext{mappings: make(map[string]model.MetavarAtom)}

	for name, mine := range c.mappings {
		theirs, ok := other.mappings[name]
		if !ok {
			continue
		}

		var common []model.MetavarAtom

		for _, b := range mine.Basics() {
			if slices.Contains(theirs.Basics(), b) {
				common = append(common, model.NewMetavar(b))
			}
		}

		if len(common) > 1 {
			out.mappings[name] = model.NewComplexMetavar(common...)
		}
	}

	return out
}

type unifyState struct {
	node int
	ctx  unifyContext
	id   int
}

// unifyMetavars splits nodes by the set of metavariables that the path to
// them forces to be equal, and rewrites edge formulas accordingly. Edges
// whose rewritten formula is unsatisfiable are dropped.
func (b *builder) unifyMetavars(a *Automaton) *Automaton {
	out := New(a.Manager, a.Deterministic, a.HasMethodEnter, a.HasEndEdges)

	ids := make(map[string]int)
	stateKey := func(node int, ctx unifyContext) string {
		return strconv.Itoa(node) + "|" + ctx.key()
	}

	empty := unifyContext{}
	root := out.AddNode(false)
	out.Initial = []int{root}
	ids[stateKey(a.Root(), empty)] = root

	queue := []unifyState{{node: a.Root(), ctx: empty, id: root}}

	// Edges to the source dead node land on a plain rejecting sink, not on
	// the result's dead node.
	staleDead := -1
	sink := func() int {
		if staleDead < 0 {
			staleDead = out.newDeadNode()
		}

		return staleDead
	}

	for len(queue) > 0 {
		b.check()

		s := queue[0]
		queue = queue[1:]

		out.Nodes[s.id].Accept = a.Nodes[s.node].Accept

		changed := false

		for _, e := range a.Nodes[s.node].Edges {
			t, ctx, ok := b.transformEdge(e.Type, s.ctx)
			if !ok {
				continue
			}

			if t.Key() != e.Type.Key() {
				changed = true
			}

			key := stateKey(e.To, ctx)

			to, seen := ids[key]
			if !seen {
				to = out.AddNode(false)
				ids[key] = to
				queue = append(queue, unifyState{node: e.To, ctx: ctx, id: to})
			}

			out.AddEdge(s.id, t, to)
		}

		if !changed {
			continue
		}

		if t, ok := b.callEdgeToDead(a, s.node); ok {
			out.AddEdge(s.id, t, sink())
		}

		if a.HasMethodEnter {
			if t, ok := b.enterEdgeToDead(a, s.node); ok {
				out.AddEdge(s.id, t, sink())
			}
		}
	}

	return out
}

func (b *builder) transformEdge(t EdgeType, ctx unifyContext) (EdgeType, unifyContext, bool) {
	if !t.HasFormula() {
		return t, ctx, true
	}

	next := b.extendByFormula(ctx, t.Formula)
	f := b.transformFormula(t.Formula, next)

	if f.String() == t.Formula.String() && next.key() == ctx.key() {
		return t, ctx, true
	}

	if !b.sat(f) {
		return EdgeType{}, ctx, false
	}

	return EdgeType{Kind: t.Kind, Formula: f}, next, true
}

func (b *builder) transformFormula(f formula.Formula, ctx unifyContext) formula.Formula {
	return formula.MapPredicates(f, func(id int) int {
		p := b.m.Predicate(id)

		mapped, ok := transformPredicate(p, ctx)
		if !ok {
			return id
		}

		return b.m.PredicateID(mapped)
	})
}

func transformPredicate(p formula.Predicate, ctx unifyContext) (formula.Predicate, bool) {
	pc, ok := p.Constraint.(formula.ParamConstraint)
	if !ok {
		return p, false
	}

	var cond model.Atom

	switch c := pc.Condition.(type) {
	case model.IsMetavar:
		cond = model.IsMetavar{Metavar: ctx.transform(c.Metavar)}
	case model.StringValueMetavar:
		cond = model.StringValueMetavar{Metavar: ctx.transform(c.Metavar)}
	default:
		return p, false
	}

	if cond == pc.Condition {
		return p, false
	}

	return formula.Predicate{
		Signature:  p.Signature,
		Constraint: formula.ParamConstraint{Position: pc.Position, Condition: cond},
	}, true
}

type positionedMetavar struct {
	metavar  model.MetavarAtom
	position formula.Position
}

func metavarWithPosition(p formula.Predicate) (positionedMetavar, bool) {
	pc, ok := p.Constraint.(formula.ParamConstraint)
	if !ok {
		return positionedMetavar{}, false
	}

	switch c := pc.Condition.(type) {
	case model.IsMetavar:
		return positionedMetavar{metavar: c.Metavar, position: pc.Position}, true
	case model.StringValueMetavar:
		return positionedMetavar{metavar: c.Metavar, position: pc.Position}, true
	}

	return positionedMetavar{}, false
}

// groupByPosition groups the metavariables of the given predicates by the
// call-site position they are bound at, in first-seen order.
func (b *builder) groupByPosition(ids []int) [][]model.MetavarAtom {
	var groups [][]model.MetavarAtom

	index := make(map[formula.Position]int)

	for _, id := range ids {
		pm, ok := metavarWithPosition(b.m.Predicate(id))
		if !ok {
			continue
		}

		i, seen := index[pm.position]
		if !seen {
			i = len(groups)
			index[pm.position] = i
			groups = append(groups, nil)
		}

		groups[i] = append(groups[i], pm.metavar)
	}

	return groups
}

func (b *builder) extendByFormula(ctx unifyContext, f formula.Formula) unifyContext {
	pos, neg := formula.Predicates(f)

	extended := ctx

	var seen []model.MetavarAtom

	for _, id := range append(append([]int(nil), pos...), neg...) {
		pm, ok := metavarWithPosition(b.m.Predicate(id))
		if !ok || slices.Contains(seen, pm.metavar) {
			continue
		}

		seen = append(seen, pm.metavar)
		extended = extended.unify([]model.MetavarAtom{pm.metavar})
	}

	conflict := false

	for _, group := range b.groupByPosition(pos) {
		for _, m := range group[1:] {
			if m != group[0] {
				conflict = true
			}
		}
	}

	if !conflict {
		return extended
	}

	// Metavariables bound at the same position in one cube are equal; only
	// equalities shared by every cube hold for the whole edge.
	var result *unifyContext

	for _, cube := range b.cubes(f) {
		var ids []int

		for i, ok := cube.Pos.NextSet(0); ok; i, ok = cube.Pos.NextSet(i + 1) {
			ids = append(ids, int(i))
		}

		cubeCtx := extended
		for _, group := range b.groupByPosition(ids) {
			cubeCtx = cubeCtx.unify(group)
		}

		if result == nil {
			result = &cubeCtx
		} else {
			merged := result.intersect(cubeCtx)
			result = &merged
		}
	}

	if result == nil {
		return extended
	}

	return *result
}
