package taint

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"semtaint.dev/pkg/semtaint/internal/model"
)

type simulation struct {
	original State
	state    State
	path     map[State]State
}

// simulate replaces the empty registers of a freshly built automaton with
// the bindings each path accumulates.
func (c *converter) simulate(a *registerAutomaton) *registerAutomaton {
	final := stateSet{}
	succ := transitions{}

	stack := []simulation{{
		original: a.initial,
		state:    a.initial,
		path:     map[State]State{a.initial: a.initial},
	}}

	for len(stack) > 0 {
		c.check()

		sim := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if a.final.has(sim.original) {
			final.add(sim.state)
			continue
		}

		for _, t := range a.successors[sim.original] {
			if loopStart, ok := sim.path[t.to]; ok {
				if loopStart.Register == sim.state.Register {
					continue
				}

				c.fail("loop assigns metavariables")
			}

			e := rewriteComplexMetavars(t.edge, sim.state.Register)
			if e.kind != endEdge && e.cond.unsatisfiable(sim.state.Register) {
				continue
			}

			next := State{Node: t.to.Node, Register: simulateEffect(e, a.stateID(t.to), sim.state.Register)}

			succ.add(sim.state, transition{edge: e, to: next})

			path := make(map[State]State, len(sim.path)+1)
			for k, v := range sim.path {
				path[k] = v
			}

			path[t.to] = next

			stack = append(stack, simulation{original: t.to, state: next, path: path})
		}
	}

	return a.with(a.initial, final, succ)
}

// rewriteComplexMetavars reads a fused metavariable through the register
// entries it was assembled from.
func rewriteComplexMetavars(e edge, reg Register) edge {
	if e.kind == endEdge {
		return e
	}

	vars := reg.vars()
	read := predicateMap{}

	for _, mv := range e.cond.read.keys() {
		preds := e.cond.read[mv]

		if _, bound := vars[mv]; mv.IsBasic() || bound {
			read[mv] = preds
			continue
		}

		var inputs []model.MetavarAtom

		covered := 0

		for _, b := range reg.bindings() {
			in := b.metavar
			if !in.Overlaps(mv) {
				continue
			}

			if !mv.Contains(in) {
				panic(fmt.Sprintf("taint: register metavar %s overlaps %s", in, mv))
			}

			for _, other := range inputs {
				if other.Overlaps(in) {
					panic("taint: register contains overlapping metavars")
				}
			}

			inputs = append(inputs, in)
			covered += len(in.Basics())
		}

		if len(inputs) == 0 {
			read[mv] = preds
			continue
		}

		if covered != len(mv.Basics()) {
			panic(fmt.Sprintf("taint: cannot assemble %s from register", mv))
		}

		for _, in := range inputs {
			replaced := make([]methodPredicate, 0, len(preds))
			for _, p := range preds {
				replaced = append(replaced, p.replaceMetavar(func(model.MetavarAtom) model.MetavarAtom { return in }))
			}

			read[in] = replaced
		}
	}

	return e.withCondition(condition{read: read, other: e.cond.other})
}

// simulateEffect binds every assigned metavariable to node. Narrower atoms
// overlapping a newly bound one are dropped.
func simulateEffect(e edge, node int, reg Register) Register {
	if e.kind == endEdge {
		return ""
	}

	if len(e.effect.assign) == 0 {
		return reg
	}

	vars := reg.vars()
	for mv := range e.effect.assign {
		vars[mv] = node
	}

	for mv := range e.effect.assign {
		for other := range vars {
			if other.Overlaps(mv) && len(other.Basics()) < len(mv.Basics()) {
				delete(vars, other)
			}
		}
	}

	return newRegister(vars)
}

// removeUnreachable drops states from which no final state can be reached.
// Transitions into them are redirected to a fresh non-accepting final state
// so the rules generated later clean the marks of abandoned paths.
func (c *converter) removeUnreachable(a *registerAutomaton) *registerAutomaton {
	preds := a.predecessors()

	live := stateSet{}
	stack := a.final.sorted()

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !live.add(st) {
			continue
		}

		for _, p := range preds[st] {
			stack = append(stack, p.from)
		}
	}

	if !live.has(a.initial) {
		c.fail("initial state is unreachable")
	}

	var cleaner *State

	nodes := a.nodes.clone()
	succ := transitions{}
	stack = []State{a.initial}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, done := succ[st]; done || !live.has(st) {
			continue
		}

		succ.touch(st)

		for _, t := range a.successors[st] {
			if live.has(t.to) {
				succ.add(st, t)
				stack = append(stack, t.to)

				continue
			}

			if cleaner == nil {
				cleaner = &State{Node: nodes.add(false)}
			}

			succ.add(st, transition{edge: t.edge, to: *cleaner})
		}
	}

	final := a.final
	if cleaner != nil {
		final = a.final.clone()
		final.add(*cleaner)
	}

	return &registerAutomaton{nodes: nodes, initial: a.initial, final: final, successors: succ}
}

type liveEntry struct {
	state State
	live  *bitset.BitSet
}

// eliminateDeadVariables drops register entries that no later transition
// reads before rebinding them. Accepting states keep acceptLive alive.
func (c *converter) eliminateDeadVariables(a *registerAutomaton, acceptLive []model.MetavarAtom) *registerAutomaton {
	preds := a.predecessors()

	index := make(map[model.MetavarAtom]uint)
	idx := func(m model.MetavarAtom) uint {
		i, ok := index[m]
		if !ok {
			i = uint(len(index))
			index[m] = i
		}

		return i
	}

	var queue []liveEntry

	for _, st := range a.final.sorted() {
		set := bitset.New(0)

		if a.isAccept(st) {
			for _, m := range acceptLive {
				set.Set(idx(m))
			}
		}

		queue = append(queue, liveEntry{state: st, live: set})
	}

	stateLive := make(map[State]*bitset.BitSet)

	for len(queue) > 0 {
		c.check()

		entry := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		current, seen := stateLive[entry.state]

		union := entry.live
		if seen {
			union = current.Union(entry.live)
			if union.Equal(current) {
				continue
			}
		}

		stateLive[entry.state] = union

		for _, p := range preds[entry.state] {
			next := union.Clone()

			if p.edge.kind != endEdge {
				for _, m := range p.edge.effect.assign.keys() {
					next.Clear(idx(m))
				}

				for _, m := range p.edge.cond.read.keys() {
					next.Set(idx(m))
				}
			}

			queue = append(queue, liveEntry{state: p.from, live: next})
		}
	}

	mapping := make(map[State]State)

	for _, st := range a.allStates() {
		live, ok := stateLive[st]
		if !ok {
			continue
		}

		kept := make(map[model.MetavarAtom]int)

		for _, b := range st.Register.bindings() {
			if i, known := index[b.metavar]; known && live.Test(i) {
				kept[b.metavar] = b.node
			}
		}

		if reg := newRegister(kept); reg != st.Register {
			mapping[st] = State{Node: st.Node, Register: reg}
		}
	}

	if len(mapping) == 0 {
		return a
	}

	remap := func(st State) State {
		if m, ok := mapping[st]; ok {
			return m
		}

		return st
	}

	succ := transitions{}

	for _, st := range a.successors.states() {
		from := remap(st)
		succ.touch(from)

		for _, t := range a.successors[st] {
			succ.add(from, transition{edge: t.edge, to: remap(t.to)})
		}
	}

	final := stateSet{}
	for st := range a.final {
		final.add(remap(st))
	}

	return a.with(remap(a.initial), final, succ)
}

// removeSubsumedStates drops states that behave like the initial state.
// Rules leaving the initial state need no marks, so a state with the same
// empty register whose transitions all leave the initial state too adds
// nothing but global marks.
func (c *converter) removeSubsumedStates(a *registerAutomaton) *registerAutomaton {
	if !a.initial.Register.empty() {
		return a
	}

	fromInitial := make(map[string]struct{}, len(a.successors[a.initial]))
	for _, t := range a.successors[a.initial] {
		fromInitial[t.key()] = struct{}{}
	}

	subsumed := stateSet{}

	for _, st := range a.successors.states() {
		if st == a.initial || !st.Register.empty() || a.final.has(st) {
			continue
		}

		covered := true

		for _, t := range a.successors[st] {
			if t.to == st {
				continue
			}

			if _, ok := fromInitial[t.key()]; !ok {
				covered = false
				break
			}
		}

		if covered {
			subsumed.add(st)
		}
	}

	if len(subsumed) == 0 {
		return a
	}

	succ := transitions{}

	for _, st := range a.successors.states() {
		if subsumed.has(st) {
			continue
		}

		succ.touch(st)

		for _, t := range a.successors[st] {
			if !subsumed.has(t.to) {
				succ.add(st, t)
			}
		}
	}

	return a.with(a.initial, a.final, succ)
}

// tryRemoveEndEdge turns a lone end-of-analysis transition into acceptance
// of its source state when that source has no other way forward.
func (c *converter) tryRemoveEndEdge(a *registerAutomaton) *registerAutomaton {
	preds := a.predecessors()

	type replacement struct{ old, updated State }

	var replacements []replacement

	for _, st := range a.final.sorted() {
		in := preds[st]
		if len(in) != 1 || in[0].edge.kind != endEdge {
			continue
		}

		if len(a.successors[in[0].from]) != 1 {
			continue
		}

		replacements = append(replacements, replacement{old: st, updated: in[0].from})
	}

	if len(replacements) == 0 {
		return a
	}

	succ := a.successors.clone()
	final := a.final.clone()

	var accepted []int

	for _, r := range replacements {
		delete(succ, r.old)
		succ[r.updated] = nil

		delete(final, r.old)

		if a.isAccept(r.old) {
			accepted = append(accepted, r.updated.Node)
		}

		final.add(r.updated)
	}

	out := a.with(a.initial, final, succ)
	for _, n := range accepted {
		out.nodes.markAccept(n)
	}

	return out
}
