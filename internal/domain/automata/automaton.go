// Package automata builds call-sequence automata from action lists. Nodes
// live in an arena and are addressed by index; operations that restructure
// an automaton produce a new arena.
package automata

import (
	"fmt"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
)

// EdgeKind enumerates automaton transitions.
type EdgeKind int

const (
	// MethodCall consumes one call site matching the edge formula.
	MethodCall EdgeKind = iota
	// MethodEnter consumes entering a method matching the edge formula.
	MethodEnter
	// End consumes the end of the analyzed method.
	End
	// PatternStart marks the start of a pattern-inside region.
	PatternStart
	// PatternEnd marks the end of a pattern-inside region.
	PatternEnd
)

func (k EdgeKind) String() string {
	switch k {
	case MethodCall:
		return "call"
	case MethodEnter:
		return "enter"
	case End:
		return "end"
	case PatternStart:
		return "pattern-start"
	default:
		return "pattern-end"
	}
}

// EdgeType labels an edge. Formula is set for MethodCall and MethodEnter.
type EdgeType struct {
	Kind    EdgeKind
	Formula formula.Formula
}

// Call returns a MethodCall label.
func Call(f formula.Formula) EdgeType { return EdgeType{Kind: MethodCall, Formula: f} }

// Enter returns a MethodEnter label.
func Enter(f formula.Formula) EdgeType { return EdgeType{Kind: MethodEnter, Formula: f} }

// HasFormula reports whether the label carries a formula.
func (t EdgeType) HasFormula() bool {
	return t.Kind == MethodCall || t.Kind == MethodEnter
}

// Key returns a structural identity for the label.
func (t EdgeType) Key() string {
	if !t.HasFormula() {
		return t.Kind.String()
	}

	return t.Kind.String() + ":" + t.Formula.String()
}

func (t EdgeType) String() string { return t.Key() }

// Edge is an outgoing transition.
type Edge struct {
	Type EdgeType
	To   int
}

// Node is an automaton state.
type Node struct {
	Accept bool
	Edges  []Edge
}

// Automaton is an arena of nodes sharing one formula manager.
type Automaton struct {
	Manager        *formula.Manager
	Nodes          []Node
	Initial        []int
	Dead           int
	Deterministic  bool
	HasMethodEnter bool
	HasEndEdges    bool
}

// New returns an automaton holding only its dead node.
func New(m *formula.Manager, deterministic, hasMethodEnter, hasEndEdges bool) *Automaton {
	a := &Automaton{
		Manager:        m,
		Deterministic:  deterministic,
		HasMethodEnter: hasMethodEnter,
		HasEndEdges:    hasEndEdges,
	}
	a.Dead = a.newDeadNode()

	return a
}

// newDeadNode adds a rejecting node that loops on every call.
func (a *Automaton) newDeadNode() int {
	id := a.AddNode(false)
	a.AddEdge(id, Call(formula.True), id)

	return id
}

// AddNode appends a node and returns its id.
func (a *Automaton) AddNode(accept bool) int {
	a.Nodes = append(a.Nodes, Node{Accept: accept})
	return len(a.Nodes) - 1
}

// AddEdge appends an edge.
func (a *Automaton) AddEdge(from int, t EdgeType, to int) {
	a.Nodes[from].Edges = append(a.Nodes[from].Edges, Edge{Type: t, To: to})
}

// Root returns the single initial node; it panics when there are several.
func (a *Automaton) Root() int {
	if len(a.Initial) != 1 {
		panic(fmt.Sprintf("automaton has %d initial nodes", len(a.Initial)))
	}

	return a.Initial[0]
}

// Traverse calls fn once for every node reachable from the initial nodes,
// in depth-first preorder. Edges fn adds to the visited node are followed.
func (a *Automaton) Traverse(fn func(id int)) {
	visited := make(map[int]bool, len(a.Nodes))
	stack := make([]int, 0, len(a.Initial))

	for i := len(a.Initial) - 1; i >= 0; i-- {
		stack = append(stack, a.Initial[i])
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			continue
		}

		visited[id] = true
		fn(id)

		edges := a.Nodes[id].Edges
		for i := len(edges) - 1; i >= 0; i-- {
			if !visited[edges[i].To] {
				stack = append(stack, edges[i].To)
			}
		}
	}
}

// Reachable returns the reachable node ids in traversal order.
func (a *Automaton) Reachable() []int {
	var ids []int

	a.Traverse(func(id int) { ids = append(ids, id) })

	return ids
}

// ContainsAccept reports whether an accept node is reachable.
func (a *Automaton) ContainsAccept() bool {
	for _, id := range a.Reachable() {
		if a.Nodes[id].Accept {
			return true
		}
	}

	return false
}

// Clone returns an independent copy sharing the formula manager.
func (a *Automaton) Clone() *Automaton {
	out := *a
	out.Nodes = make([]Node, len(a.Nodes))

	for i, n := range a.Nodes {
		out.Nodes[i] = Node{Accept: n.Accept, Edges: append([]Edge(nil), n.Edges...)}
	}

	out.Initial = append([]int(nil), a.Initial...)

	return &out
}

// String renders the reachable part, one node per line.
func (a *Automaton) String() string {
	var b strings.Builder

	for _, id := range a.Reachable() {
		n := a.Nodes[id]
		fmt.Fprintf(&b, "%d", id)

		if n.Accept {
			b.WriteString(" (accept)")
		}

		if id == a.Dead {
			b.WriteString(" (dead)")
		}

		b.WriteString(":")

		for _, e := range n.Edges {
			fmt.Fprintf(&b, " %s->%d", e.Type, e.To)
		}

		b.WriteByte('\n')
	}

	return b.String()
}
