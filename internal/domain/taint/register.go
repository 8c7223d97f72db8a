// Package taint turns rule automata into analyzer taint rules. Each
// automaton is simulated with a register recording where every metavariable
// was last bound, cleaned up, and then every transition that changes the
// register becomes a mark-assigning rule.
package taint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// Register maps each bound metavariable to the node where it was last bound.
// It is kept in canonical text form so that states stay comparable.
type Register string

type binding struct {
	metavar model.MetavarAtom
	node    int
}

func newRegister(vars map[model.MetavarAtom]int) Register {
	if len(vars) == 0 {
		return ""
	}

	bs := make([]binding, 0, len(vars))
	for m, n := range vars {
		bs = append(bs, binding{metavar: m, node: n})
	}

	sort.Slice(bs, func(i, j int) bool { return bs[i].metavar.String() < bs[j].metavar.String() })

	var sb strings.Builder

	for _, b := range bs {
		sb.WriteString(b.metavar.String())
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(b.node))
		sb.WriteByte(';')
	}

	return Register(sb.String())
}

// bindings returns the entries ordered by metavariable name.
func (r Register) bindings() []binding {
	if r == "" {
		return nil
	}

	var out []binding

	for _, entry := range strings.Split(strings.TrimSuffix(string(r), ";"), ";") {
		i := strings.LastIndexByte(entry, '=')

		n, err := strconv.Atoi(entry[i+1:])
		if err != nil {
			panic(fmt.Sprintf("taint: malformed register %q", r))
		}

		out = append(out, binding{metavar: model.NewMetavar(entry[:i]), node: n})
	}

	return out
}

func (r Register) vars() map[model.MetavarAtom]int {
	out := make(map[model.MetavarAtom]int)
	for _, b := range r.bindings() {
		out[b.metavar] = b.node
	}

	return out
}

func (r Register) lookup(m model.MetavarAtom) (int, bool) {
	for _, b := range r.bindings() {
		if b.metavar == m {
			return b.node, true
		}
	}

	return 0, false
}

func (r Register) empty() bool { return r == "" }

// State is a node of the register automaton.
type State struct {
	Node     int
	Register Register
}

func (s State) String() string {
	return fmt.Sprintf("%d{%s}", s.Node, s.Register)
}

func lessState(a, b State) bool {
	if a.Node != b.Node {
		return a.Node < b.Node
	}

	return a.Register < b.Register
}

type stateSet map[State]struct{}

func (s stateSet) add(st State) bool {
	if _, ok := s[st]; ok {
		return false
	}

	s[st] = struct{}{}

	return true
}

func (s stateSet) has(st State) bool {
	_, ok := s[st]
	return ok
}

func (s stateSet) clone() stateSet {
	out := make(stateSet, len(s))
	for st := range s {
		out[st] = struct{}{}
	}

	return out
}

func (s stateSet) sorted() []State {
	out := make([]State, 0, len(s))
	for st := range s {
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return lessState(out[i], out[j]) })

	return out
}

type methodPredicate struct {
	predicate formula.Predicate
	negated   bool
}

func (p methodPredicate) key() string {
	return fmt.Sprintf("%t:%#v", p.negated, p.predicate)
}

// metavar returns the metavariable a predicate binds, if any.
func (p methodPredicate) metavar() (model.MetavarAtom, bool) {
	pc, ok := p.predicate.Constraint.(formula.ParamConstraint)
	if !ok {
		return model.MetavarAtom{}, false
	}

	mv, ok := pc.Condition.(model.IsMetavar)

	return mv.Metavar, ok
}

func (p methodPredicate) replaceMetavar(fn func(model.MetavarAtom) model.MetavarAtom) methodPredicate {
	pc, ok := p.predicate.Constraint.(formula.ParamConstraint)
	if !ok {
		return p
	}

	switch c := pc.Condition.(type) {
	case model.IsMetavar:
		pc.Condition = model.IsMetavar{Metavar: fn(c.Metavar)}
	case model.StringValueMetavar:
		pc.Condition = model.StringValueMetavar{Metavar: fn(c.Metavar)}
	default:
		return p
	}

	return methodPredicate{predicate: formula.Predicate{Signature: p.predicate.Signature, Constraint: pc}, negated: p.negated}
}

type predicateMap map[model.MetavarAtom][]methodPredicate

func (m predicateMap) keys() []model.MetavarAtom {
	out := make([]model.MetavarAtom, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })

	return out
}

func (m predicateMap) clone() predicateMap {
	out := make(predicateMap, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func (m predicateMap) all() []methodPredicate {
	var out []methodPredicate
	for _, k := range m.keys() {
		out = append(out, m[k]...)
	}

	return out
}

func (m predicateMap) key() string {
	var sb strings.Builder

	for _, k := range m.keys() {
		sb.WriteString(k.String())
		sb.WriteByte('{')

		for _, p := range m[k] {
			sb.WriteString(p.key())
			sb.WriteByte(',')
		}

		sb.WriteByte('}')
	}

	return sb.String()
}

// condition is what a transition reads: predicates over bound metavariables
// and everything else.
type condition struct {
	read  predicateMap
	other []methodPredicate
}

func (c condition) isTrue() bool { return len(c.read) == 0 && len(c.other) == 0 }

func (c condition) key() string {
	var sb strings.Builder

	sb.WriteString(c.read.key())
	sb.WriteByte('|')

	for _, p := range c.other {
		sb.WriteString(p.key())
		sb.WriteByte(',')
	}

	return sb.String()
}

// unsatisfiable reports whether no call can meet c while reg holds. A
// negated check of an unbound metavariable is false, and so is a negated
// literal implied by a positive one.
func (c condition) unsatisfiable(reg Register) bool {
	all := append(c.read.all(), c.other...)

	positive := make(map[string]struct{})
	signatures := make(map[formula.Signature]struct{})

	for _, p := range all {
		if !p.negated {
			positive[p.key()] = struct{}{}
			signatures[p.predicate.Signature] = struct{}{}
		}
	}

	for _, p := range all {
		if !p.negated {
			continue
		}

		if mv, ok := p.metavar(); ok {
			if _, bound := reg.lookup(mv); !bound {
				return true
			}
		}

		if _, ok := positive[methodPredicate{predicate: p.predicate}.key()]; ok {
			return true
		}

		if _, ok := signatures[p.predicate.Signature]; ok && p.predicate.Constraint == nil {
			return true
		}
	}

	return false
}

func (c condition) positivePredicate() (formula.Predicate, bool) {
	for _, p := range c.other {
		if !p.negated {
			return p.predicate, true
		}
	}

	for _, p := range c.read.all() {
		if !p.negated {
			return p.predicate, true
		}
	}

	return formula.Predicate{}, false
}

// effect is what a transition binds.
type effect struct {
	assign predicateMap
}

type edgeKind int

const (
	callEdge edgeKind = iota
	enterEdge
	endEdge
)

func (k edgeKind) String() string {
	switch k {
	case callEdge:
		return "call"
	case enterEdge:
		return "enter"
	default:
		return "end"
	}
}

type edge struct {
	kind   edgeKind
	cond   condition
	effect effect
}

func (e edge) key() string {
	if e.kind == endEdge {
		return "end"
	}

	return e.kind.String() + "(" + e.cond.key() + ")->(" + e.effect.assign.key() + ")"
}

// epsilon reports whether the edge matches any call and binds nothing.
func (e edge) epsilon() bool {
	return e.kind != endEdge && e.cond.isTrue() && len(e.effect.assign) == 0
}

func (e edge) withCondition(c condition) edge {
	return edge{kind: e.kind, cond: c, effect: e.effect}
}

type transition struct {
	edge edge
	to   State
}

func (t transition) key() string {
	return t.edge.key() + "=>" + t.to.String()
}

// transitions is an adjacency map. A key with a nil slice marks a state
// that was visited but has no outgoing transitions.
type transitions map[State][]transition

func (ts transitions) add(from State, t transition) {
	k := t.key()
	for _, existing := range ts[from] {
		if existing.key() == k {
			return
		}
	}

	ts[from] = append(ts[from], t)
}

func (ts transitions) touch(st State) {
	if _, ok := ts[st]; !ok {
		ts[st] = nil
	}
}

func (ts transitions) clone() transitions {
	out := make(transitions, len(ts))
	for st, list := range ts {
		out[st] = append([]transition(nil), list...)
	}

	return out
}

func (ts transitions) states() []State {
	out := make([]State, 0, len(ts))
	for st := range ts {
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return lessState(out[i], out[j]) })

	return out
}

type predecessor struct {
	edge edge
	from State
}

// nodeTable holds the accept flag of every node. Every register automaton
// owns its table; derived automata start from a copy.
type nodeTable struct {
	accept []bool
}

func (t *nodeTable) clone() *nodeTable {
	return &nodeTable{accept: append([]bool(nil), t.accept...)}
}

func (t *nodeTable) add(accept bool) int {
	t.accept = append(t.accept, accept)
	return len(t.accept) - 1
}

func (t *nodeTable) isAccept(n int) bool { return t.accept[n] }

func (t *nodeTable) markAccept(n int) { t.accept[n] = true }

type registerAutomaton struct {
	nodes      *nodeTable
	initial    State
	final      stateSet
	successors transitions
}

func (a *registerAutomaton) isAccept(st State) bool { return a.nodes.isAccept(st.Node) }

// stateID is the id used in state marks.
func (a *registerAutomaton) stateID(st State) int { return st.Node }

func (a *registerAutomaton) predecessors() map[State][]predecessor {
	preds := make(map[State][]predecessor)

	for _, st := range a.successors.states() {
		for _, t := range a.successors[st] {
			preds[t.to] = append(preds[t.to], predecessor{edge: t.edge, from: st})
		}
	}

	return preds
}

func (a *registerAutomaton) allStates() []State {
	all := stateSet{}
	all.add(a.initial)

	for st := range a.final {
		all.add(st)
	}

	for st := range a.successors {
		all.add(st)
	}

	return all.sorted()
}

func (a *registerAutomaton) with(initial State, final stateSet, successors transitions) *registerAutomaton {
	return &registerAutomaton{nodes: a.nodes.clone(), initial: initial, final: final, successors: successors}
}

type edgeReplacement struct {
	from, to     State
	old, updated edge
}

func (a *registerAutomaton) replaceEdges(replacements []edgeReplacement) *registerAutomaton {
	if len(replacements) == 0 {
		return a
	}

	succ := a.successors.clone()

	for _, r := range replacements {
		list, ok := succ[r.from]
		if !ok {
			continue
		}

		oldKey := transition{edge: r.old, to: r.to}.key()

		var kept []transition

		for _, t := range list {
			if t.key() != oldKey {
				kept = append(kept, t)
			}
		}

		succ[r.from] = kept
		succ.add(r.from, transition{edge: r.updated, to: r.to})
	}

	return a.with(a.initial, a.final, succ)
}

func (a *registerAutomaton) replaceInitial(initial State) *registerAutomaton {
	final := a.final.clone()
	if final.has(a.initial) {
		delete(final, a.initial)
		final.add(initial)
	}

	succ := make(transitions, len(a.successors))

	for st, list := range a.successors {
		mapped := make([]transition, 0, len(list))

		for _, t := range list {
			if t.to == a.initial {
				t.to = initial
			}

			mapped = append(mapped, t)
		}

		if st == a.initial {
			st = initial
		}

		succ[st] = mapped
	}

	return a.with(initial, final, succ)
}
