package automata

import "semtaint.dev/pkg/semtaint/internal/domain/formula"

// acceptPrefix makes the automaton accept every extension of an accepted
// word: edges into accept nodes are redirected to a fresh accept sink.
func (a *Automaton) acceptPrefix() {
	sink := a.AddNode(true)
	a.AddEdge(sink, Call(formula.True), sink)

	a.Traverse(func(id int) {
		if id == sink {
			return
		}

		var kept, redirected []Edge

		for _, e := range a.Nodes[id].Edges {
			if a.Nodes[e.To].Accept {
				redirected = append(redirected, Edge{Type: e.Type, To: sink})
			} else {
				kept = append(kept, e)
			}
		}

		if len(redirected) > 0 {
			a.Nodes[id].Edges = append(kept, redirected...)
		}
	})
}

// acceptSuffix lets an accepted word be preceded by any calls.
func (a *Automaton) acceptSuffix() {
	if a.HasMethodEnter {
		panic("automata: accept suffix with method enter")
	}

	root := a.Root()
	a.AddEdge(root, Call(formula.True), root)
	a.Deterministic = false
}

// addEndEdges moves acceptance behind an explicit End edge.
func (a *Automaton) addEndEdges() {
	if a.HasEndEdges {
		return
	}

	a.HasEndEdges = true

	end := EdgeType{Kind: End}

	accept := a.AddNode(true)
	a.AddEdge(accept, end, accept)

	reject := a.AddNode(false)
	a.AddEdge(reject, end, reject)

	a.Traverse(func(id int) {
		if id == accept || id == reject {
			return
		}

		if a.Nodes[id].Accept {
			a.Nodes[id].Accept = false
			a.AddEdge(id, end, accept)
		} else {
			a.AddEdge(id, end, reject)
		}
	})
}

// withDummyMethodEnter returns a copy whose words start with entering any
// method.
func (a *Automaton) withDummyMethodEnter() *Automaton {
	if a.HasMethodEnter {
		panic("automata: method enter is already present")
	}

	out := a.Clone()
	root := out.AddNode(false)
	out.AddEdge(root, Enter(formula.True), a.Root())
	out.Initial = []int{root}
	out.HasMethodEnter = true

	return out
}

func (a *Automaton) addPatternStartAndEndOnEveryNode() {
	a.Traverse(func(id int) {
		a.AddEdge(id, EdgeType{Kind: PatternStart}, id)
		a.AddEdge(id, EdgeType{Kind: PatternEnd}, id)
	})
}

// removePatternStartAndEnd drops border edges one at a time, copying the
// border target's edges onto the source.
func (a *Automaton) removePatternStartAndEnd() {
	for {
		from, idx := -1, -1

		for _, id := range a.Reachable() {
			for i, e := range a.Nodes[id].Edges {
				if e.Type.Kind == PatternStart || e.Type.Kind == PatternEnd {
					from, idx = id, i
					break
				}
			}

			if from >= 0 {
				break
			}
		}

		if from < 0 {
			break
		}

		edges := a.Nodes[from].Edges
		to := edges[idx].To
		a.Nodes[from].Edges = append(edges[:idx:idx], edges[idx+1:]...)
		a.Nodes[from].Edges = append(a.Nodes[from].Edges, append([]Edge(nil), a.Nodes[to].Edges...)...)
		a.Deterministic = false
	}

	a.removeDeadNodes()
}

// complement flips acceptance of a total DFA.
func (a *Automaton) complement() {
	if !a.Deterministic {
		panic("automata: complement of NFA")
	}

	a.Traverse(func(id int) {
		a.Nodes[id].Accept = !a.Nodes[id].Accept
	})

	a.Dead = a.newDeadNode()
}

// removeDeadNodes drops edges into nodes that cannot reach acceptance. The
// dead node itself stays reachable.
func (a *Automaton) removeDeadNodes() {
	reachable := a.Reachable()

	reverse := make(map[int][]int, len(reachable))
	for _, id := range reachable {
		for _, e := range a.Nodes[id].Edges {
			reverse[e.To] = append(reverse[e.To], id)
		}
	}

	live := make(map[int]bool, len(reachable))

	var queue []int

	for _, id := range reachable {
		if a.Nodes[id].Accept {
			live[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, from := range reverse[id] {
			if !live[from] {
				live[from] = true
				queue = append(queue, from)
			}
		}
	}

	for _, id := range reachable {
		edges := a.Nodes[id].Edges[:0]

		for _, e := range a.Nodes[id].Edges {
			if live[e.To] || e.To == a.Dead {
				edges = append(edges, e)
			}
		}

		a.Nodes[id].Edges = edges
	}
}

// reverse returns the automaton of reversed words. Accept nodes become
// initial and initial nodes accept.
func (a *Automaton) reverse() *Automaton {
	out := New(a.Manager, false, a.HasMethodEnter, a.HasEndEdges)

	reachable := a.Reachable()
	ids := make(map[int]int, len(reachable))

	initial := make(map[int]bool, len(a.Initial))
	for _, id := range a.Initial {
		initial[id] = true
	}

	for _, id := range reachable {
		ids[id] = out.AddNode(initial[id])

		if a.Nodes[id].Accept {
			out.Initial = append(out.Initial, ids[id])
		}
	}

	for _, id := range reachable {
		for _, e := range a.Nodes[id].Edges {
			out.AddEdge(ids[e.To], e.Type, ids[id])
		}
	}

	return out
}
