package automata

import "semtaint.dev/pkg/semtaint/internal/domain/formula"

type nodePair struct{ first, second int }

// intersection builds the product automaton. Formula edges of the same kind
// are conjoined and dropped when unsatisfiable.
func (b *builder) intersection(a1, a2 *Automaton) *Automaton {
	if a1.Manager != a2.Manager {
		panic("automata: intersection across formula managers")
	}

	out := New(a1.Manager,
		a1.Deterministic && a2.Deterministic,
		a1.HasMethodEnter && a2.HasMethodEnter,
		a1.HasEndEdges && a2.HasEndEdges,
	)

	ids := make(map[nodePair]int)

	var queue []nodePair

	node := func(p nodePair) int {
		if id, ok := ids[p]; ok {
			return id
		}

		id := out.AddNode(a1.Nodes[p.first].Accept && a2.Nodes[p.second].Accept)
		ids[p] = id
		queue = append(queue, p)

		return id
	}

	out.Initial = []int{node(nodePair{a1.Root(), a2.Root()})}

	for len(queue) > 0 {
		b.check()

		p := queue[0]
		queue = queue[1:]
		from := ids[p]

		for _, e1 := range a1.Nodes[p.first].Edges {
			for _, e2 := range a2.Nodes[p.second].Edges {
				t, ok := b.intersectTypes(e1.Type, e2.Type)
				if !ok {
					continue
				}

				out.AddEdge(from, t, node(nodePair{e1.To, e2.To}))
			}
		}
	}

	res := b.unifyMetavars(out)
	res.removeDeadNodes()

	return res
}

func (b *builder) intersectTypes(t1, t2 EdgeType) (EdgeType, bool) {
	if t1.Kind != t2.Kind {
		return EdgeType{}, false
	}

	if !t1.HasFormula() {
		return t1, true
	}

	f := b.m.MkAnd(t1.Formula, t2.Formula)
	if !b.sat(f) {
		return EdgeType{}, false
	}

	return EdgeType{Kind: t1.Kind, Formula: f}, true
}

// totalizeCalls adds to every node a call edge into the dead node covering
// the calls no other edge takes.
func (b *builder) totalizeCalls(a *Automaton) {
	b.totalize(a, func(id int) (EdgeType, bool) {
		return b.callEdgeToDead(a, id)
	})
}

// totalizeEnters does the same for method enter edges, which only leave the
// root.
func (b *builder) totalizeEnters(a *Automaton) {
	a.HasMethodEnter = true

	b.totalize(a, func(id int) (EdgeType, bool) {
		return b.enterEdgeToDead(a, id)
	})
}

func (b *builder) totalize(a *Automaton, edgeToDead func(id int) (EdgeType, bool)) {
	if !a.Deterministic {
		panic("automata: totalize of NFA")
	}

	a.Traverse(func(id int) {
		if id == a.Dead {
			return
		}

		if t, ok := edgeToDead(id); ok {
			a.AddEdge(id, t, a.Dead)
		}
	})
}

func (b *builder) callEdgeToDead(a *Automaton, id int) (EdgeType, bool) {
	b.check()

	for _, e := range a.Nodes[id].Edges {
		if e.Type.Kind == MethodCall && e.To == a.Dead {
			return EdgeType{}, false
		}
	}

	f, ok := b.negation(a.Nodes[id].Edges, MethodCall)
	if !ok {
		return EdgeType{}, false
	}

	return Call(f), true
}

func (b *builder) enterEdgeToDead(a *Automaton, id int) (EdgeType, bool) {
	if id != a.Root() {
		for _, e := range a.Nodes[id].Edges {
			if e.Type.Kind == MethodEnter {
				panic("automata: method enter edge outside the root")
			}
		}

		return EdgeType{}, false
	}

	for _, e := range a.Nodes[id].Edges {
		if e.Type.Kind == MethodEnter && e.To == a.Dead {
			return EdgeType{}, false
		}
	}

	f, ok := b.negation(a.Nodes[id].Edges, MethodEnter)
	if !ok {
		return EdgeType{}, false
	}

	return Enter(f), true
}

// negation conjoins the complements of every edge formula of kind and
// reports whether the result is satisfiable.
func (b *builder) negation(edges []Edge, kind EdgeKind) (formula.Formula, bool) {
	var fs []formula.Formula

	for _, e := range edges {
		if e.Type.Kind == kind {
			fs = append(fs, e.Type.Formula.Complement())
		}
	}

	f := b.m.MkAnd(fs...)

	return f, b.sat(f)
}
