package taint

import (
	"errors"
	"fmt"

	"semtaint.dev/pkg/semtaint/internal/domain/automata"
	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// conversionError aborts the conversion of one automaton. It is raised with
// panic and recovered only by converter.safely.
type conversionError struct{ err error }

func (c *converter) fail(format string, args ...any) {
	panic(conversionError{err: fmt.Errorf(format, args...)})
}

func (c *converter) check() {
	if err := c.cancel.Check(); err != nil {
		panic(conversionError{err: err})
	}
}

// registerAutomata splits the edges of a deterministic automaton into one
// register transition per simplified cube and returns one register automaton
// per initial state from which an accept state is reachable.
func (c *converter) registerAutomata(a *automata.Automaton, info model.MetavarInfo) []*registerAutomaton {
	sim := &formula.Simplifier{Manager: a.Manager, Info: info, Cancel: c.cancel}

	nodes := &nodeTable{}
	for _, n := range a.Nodes {
		nodes.add(n.Accept)
	}

	type prevEdge struct {
		from State
		edge edge
	}

	type pending struct {
		state State
		prev  *prevEdge
	}

	final := stateSet{}
	succ := transitions{}

	start := State{Node: a.Root()}
	initials := []State{start}

	processed := stateSet{}
	stack := []pending{{state: start}}

	for len(stack) > 0 {
		c.check()

		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !processed.add(p.state) {
			continue
		}

		if nodes.isAccept(p.state.Node) {
			final.add(p.state)
			continue
		}

		for _, e := range a.Nodes[p.state.Node].Edges {
			for _, se := range c.registerEdges(sim, e.Type) {
				next := State{Node: e.To}

				if se.epsilon() {
					if p.prev != nil {
						succ.add(p.prev.from, transition{edge: p.prev.edge, to: next})
					} else {
						initials = append(initials, next)
					}

					stack = append(stack, pending{state: next, prev: p.prev})

					continue
				}

				succ.add(p.state, transition{edge: se, to: next})
				stack = append(stack, pending{state: next, prev: &prevEdge{from: p.state, edge: se}})
			}
		}
	}

	if len(final) == 0 {
		c.fail("automaton has no accept state")
	}

	unique := stateSet{}

	var out []*registerAutomaton

	for _, init := range initials {
		if !unique.add(init) {
			continue
		}

		ra := &registerAutomaton{nodes: nodes.clone(), initial: init, final: final, successors: succ}
		if len(initials) > 1 && !ra.acceptReachable() {
			continue
		}

		out = append(out, ra)
	}

	return out
}

func (a *registerAutomaton) acceptReachable() bool {
	visited := stateSet{}
	stack := []State{a.initial}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if a.isAccept(st) {
			return true
		}

		if !visited.add(st) {
			continue
		}

		for _, t := range a.successors[st] {
			stack = append(stack, t.to)
		}
	}

	return false
}

func (c *converter) registerEdges(sim *formula.Simplifier, t automata.EdgeType) []edge {
	var kind edgeKind

	switch t.Kind {
	case automata.MethodCall:
		kind = callEdge
	case automata.MethodEnter:
		kind = enterEdge
	case automata.End:
		return []edge{{kind: endEdge}}
	default:
		panic(fmt.Sprintf("taint: unexpected %v edge", t.Kind))
	}

	cubes, err := sim.Cubes(t.Formula, true)
	if err != nil {
		if errors.Is(err, formula.ErrCanceled) {
			panic(conversionError{err: err})
		}

		c.fail("simplify edge formula: %w", err)
	}

	out := make([]edge, 0, len(cubes))
	for _, cube := range cubes {
		out = append(out, cubeEdge(kind, cube, sim.Manager))
	}

	return out
}

// cubeEdge splits the literals of a cube into what the edge binds and what
// it reads. A positive metavariable literal both binds and reads.
func cubeEdge(kind edgeKind, cube formula.Cube, m *formula.Manager) edge {
	var preds []methodPredicate

	for i, ok := cube.Pos.NextSet(0); ok; i, ok = cube.Pos.NextSet(i + 1) {
		preds = append(preds, methodPredicate{predicate: m.Predicate(int(i))})
	}

	for i, ok := cube.Neg.NextSet(0); ok; i, ok = cube.Neg.NextSet(i + 1) {
		preds = append(preds, methodPredicate{predicate: m.Predicate(int(i)), negated: true})
	}

	e := edge{
		kind:   kind,
		cond:   condition{read: predicateMap{}},
		effect: effect{assign: predicateMap{}},
	}

	for _, p := range preds {
		mv, ok := p.metavar()
		if !ok {
			e.cond.other = append(e.cond.other, p)
			continue
		}

		if !p.negated {
			e.effect.assign[mv] = append(e.effect.assign[mv], p)
		}

		e.cond.read[mv] = append(e.cond.read[mv], p)
	}

	return e
}
