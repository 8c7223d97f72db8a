package automata

import (
	"github.com/bits-and-blooms/bitset"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
)

// subsetState is a node of the determinized automaton together with the
// set of source nodes it stands for.
type subsetState struct {
	set *bitset.BitSet
	id  int
}

type subsetConstruction struct {
	src   *Automaton
	out   *Automaton
	ids   map[string]int
	queue []subsetState
}

func (c *subsetConstruction) node(set *bitset.BitSet) int {
	key := set.String()
	if id, ok := c.ids[key]; ok {
		return id
	}

	accept := false
	forEachNode(set, func(n int) { accept = accept || c.src.Nodes[n].Accept })

	id := c.out.AddNode(accept)
	c.ids[key] = id
	c.queue = append(c.queue, subsetState{set: set, id: id})

	return id
}

func forEachNode(set *bitset.BitSet, fn func(int)) {
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		fn(int(i))
	}
}

// determinize runs the subset construction. Edges with formulas are split
// into the satisfiable combinations of the outgoing formulas of each
// subset, so the resulting edges are pairwise disjoint.
func (b *builder) determinize(a *Automaton, simplify bool) *Automaton {
	if a.Deterministic {
		return a
	}

	if simplify {
		b.simplifyEdges(a)
	}

	c := &subsetConstruction{
		src: a,
		out: New(a.Manager, true, false, false),
		ids: make(map[string]int),
	}

	initial := bitset.New(uint(len(a.Nodes)))
	for _, id := range a.Initial {
		initial.Set(uint(id))
	}

	c.out.Initial = []int{c.node(initial)}

	for len(c.queue) > 0 {
		b.check()

		s := c.queue[0]
		c.queue = c.queue[1:]

		var edges []Edge

		forEachNode(s.set, func(n int) { edges = append(edges, a.Nodes[n].Edges...) })

		for _, kind := range []EdgeKind{End, PatternStart, PatternEnd} {
			targets := bitset.New(uint(len(a.Nodes)))

			for _, e := range edges {
				if e.Type.Kind == kind {
					targets.Set(uint(e.To))
				}
			}

			if targets.None() {
				continue
			}

			if kind == End {
				c.out.HasEndEdges = true
			}

			c.out.AddEdge(s.id, EdgeType{Kind: kind}, c.node(targets))
		}

		b.splitEdges(c, s.id, edges, MethodCall)

		if b.splitEdges(c, s.id, edges, MethodEnter) {
			c.out.HasMethodEnter = true
		}
	}

	c.out.removeDeadNodes()

	return c.out
}

type formulaGroup struct {
	formula formula.Formula
	targets *bitset.BitSet
}

type maskGroup struct {
	targets *bitset.BitSet
	masks   []int
}

// splitEdges adds the deterministic edges of one formula kind and reports
// whether any was added.
func (b *builder) splitEdges(c *subsetConstruction, from int, edges []Edge, kind EdgeKind) bool {
	var groups []formulaGroup

	index := make(map[string]int)

	for _, e := range edges {
		if e.Type.Kind != kind {
			continue
		}

		key := e.Type.Formula.String()

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, formulaGroup{formula: e.Type.Formula, targets: bitset.New(uint(len(c.src.Nodes)))})
		}

		groups[i].targets.Set(uint(e.To))
	}

	if len(groups) == 0 {
		return false
	}

	if len(groups) > maxSplitFormulas {
		b.fail(ErrStateExplosion)
	}

	var byTargets []*maskGroup

	targetIndex := make(map[string]*maskGroup)

	for mask := 1; mask < 1<<len(groups); mask++ {
		targets := bitset.New(uint(len(c.src.Nodes)))

		for i, g := range groups {
			if mask&(1<<i) != 0 {
				targets.InPlaceUnion(g.targets)
			}
		}

		key := targets.String()

		mg, ok := targetIndex[key]
		if !ok {
			mg = &maskGroup{targets: targets}
			targetIndex[key] = mg
			byTargets = append(byTargets, mg)
		}

		mg.masks = append(mg.masks, mask)
	}

	added := false

	for _, mg := range byTargets {
		var formulas []formula.Formula

		for _, mask := range mg.masks {
			b.check()

			lits := make([]formula.Formula, len(groups))

			for i, g := range groups {
				if mask&(1<<i) != 0 {
					lits[i] = g.formula
				} else {
					lits[i] = g.formula.Complement()
				}
			}

			f := b.m.MkAnd(lits...)
			if b.sat(f) {
				formulas = append(formulas, f)
			}
		}

		if len(formulas) == 0 {
			continue
		}

		c.out.AddEdge(from, EdgeType{Kind: kind, Formula: b.m.MkOr(formulas...)}, c.node(mg.targets))
		added = true
	}

	return added
}

func (b *builder) simplifyEdges(a *Automaton) {
	a.Traverse(func(id int) {
		for i, e := range a.Nodes[id].Edges {
			if e.Type.HasFormula() {
				a.Nodes[id].Edges[i].Type.Formula = b.trySimplify(e.Type.Formula)
			}
		}
	})
}

// brzozowski minimizes by determinizing twice over the reversed automaton.
func (b *builder) brzozowski(a *Automaton) *Automaton {
	if a.Deterministic {
		return a
	}

	reversed := b.determinize(a.reverse(), false)
	res := b.determinize(reversed.reverse(), true)

	return b.unifyMetavars(res)
}
