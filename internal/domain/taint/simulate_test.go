package taint

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

func newConverter() *converter {
	return &converter{
		ctx:     context.Background(),
		timeout: time.Second,
		ruleID:  "java:test",
		diags:   &model.Diagnostics{},
		cancel:  formula.NewCancelation(context.Background(), time.Second),
	}
}

var fSignature = formula.Signature{Name: model.ConcreteSignatureName("f"), Class: model.AnyTypeName}

func atPosition(pos formula.Position, name string, negated bool) methodPredicate {
	return methodPredicate{
		predicate: formula.Predicate{
			Signature: fSignature,
			Constraint: formula.ParamConstraint{
				Position:  pos,
				Condition: metavar(name),
			},
		},
		negated: negated,
	}
}

// language lists the edge-key sequences of every simple path from the
// initial state to a final state.
func language(a *registerAutomaton) []string {
	var (
		out  []string
		walk func(st State, seen stateSet, path []string)
	)

	walk = func(st State, seen stateSet, path []string) {
		if a.final.has(st) {
			out = append(out, strings.Join(path, " "))
		}

		for _, t := range a.successors[st] {
			if seen.has(t.to) {
				continue
			}

			next := seen.clone()
			next.add(t.to)
			walk(t.to, next, append(append([]string(nil), path...), t.edge.key()))
		}
	}

	walk(a.initial, stateSet{a.initial: {}}, nil)
	sort.Strings(out)

	return out
}

func TestCondition_Unsatisfiable(t *testing.T) {
	x := model.NewMetavar("$X")
	bound := registerOf([]model.MetavarAtom{x}, 1)

	tests := []struct {
		name string
		cond condition
		reg  Register
		want bool
	}{
		{
			name: "negated read of an unbound metavariable",
			cond: condition{read: predicateMap{x: {atPosition(formula.Object, "$X", true)}}},
			want: true,
		},
		{
			name: "negated read of a bound metavariable",
			cond: condition{read: predicateMap{x: {atPosition(formula.Object, "$X", true)}}},
			reg:  bound,
			want: false,
		},
		{
			name: "literal and its negation",
			cond: condition{read: predicateMap{x: {
				atPosition(formula.Object, "$X", false),
				atPosition(formula.Object, "$X", true),
			}}},
			reg:  bound,
			want: true,
		},
		{
			name: "negated call of a required signature",
			cond: condition{
				read:  predicateMap{x: {atPosition(formula.Object, "$X", false)}},
				other: []methodPredicate{{predicate: formula.Predicate{Signature: fSignature}, negated: true}},
			},
			reg:  bound,
			want: true,
		},
		{
			name: "positive reads only",
			cond: condition{read: predicateMap{x: {atPosition(formula.Object, "$X", false)}}},
			want: false,
		},
		{
			name: "empty condition",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.unsatisfiable(tt.reg))
		})
	}
}

func TestRegisterAutomaton_AssignedValue(t *testing.T) {
	anyValue := call(model.GeneratedAnyValue, model.ConcreteParams{Params: []model.ParamCondition{}})
	anyValue.Result = metavar("$X")

	getName := call("getName", model.ConcreteParams{Params: []model.ParamCondition{}})
	getName.Object = metavar("$X")

	w := build(t, anyValue, getName)
	c := newConverter()

	regs := c.registerAutomata(w.Rule, w.Info)
	require.NotEmpty(t, regs)

	for _, ra := range regs {
		simulated := c.removeUnreachable(c.simulate(ra))
		cleaned := c.eliminateDeadVariables(simulated, nil)

		t.Run("dead variable elimination keeps the language", func(t *testing.T) {
			assert.Equal(t, language(simulated), language(cleaned))
		})

		t.Run("only the value between the calls is live", func(t *testing.T) {
			var bound []State

			for _, st := range cleaned.allStates() {
				if !st.Register.empty() {
					bound = append(bound, st)
				}
			}

			require.Len(t, bound, 1)

			bs := bound[0].Register.bindings()
			require.Len(t, bs, 1)
			assert.Equal(t, "$X", bs[0].metavar.String())

			for st := range cleaned.final {
				if cleaned.isAccept(st) {
					assert.True(t, st.Register.empty(), "accepting state %s keeps a binding", st)
				}
			}
		})
	}

	assert.Empty(t, c.diags.Items)
}

func TestEliminateDeadVariables_Rebinding(t *testing.T) {
	x := model.NewMetavar("$X")

	assignX := edge{kind: callEdge, effect: effect{assign: predicateMap{x: {atPosition(formula.Result, "$X", false)}}}}
	readX := edge{kind: callEdge, cond: condition{read: predicateMap{x: {
		atPosition(formula.Argument(model.ConcretePosition(0)), "$X", false),
	}}}}

	s0 := State{Node: 0}
	s1 := State{Node: 1, Register: registerOf([]model.MetavarAtom{x}, 1)}
	s2 := State{Node: 2, Register: registerOf([]model.MetavarAtom{x}, 2)}
	s3 := State{Node: 3}

	succ := transitions{}
	succ.add(s0, transition{edge: assignX, to: s1})
	succ.add(s1, transition{edge: assignX, to: s2})
	succ.add(s2, transition{edge: readX, to: s3})
	succ.touch(s3)

	a := &registerAutomaton{
		nodes:      &nodeTable{accept: []bool{false, false, false, true}},
		initial:    s0,
		final:      stateSet{s3: {}},
		successors: succ,
	}

	out := newConverter().eliminateDeadVariables(a, nil)

	states := out.allStates()
	assert.Contains(t, states, State{Node: 1})
	assert.NotContains(t, states, s1)
	assert.Contains(t, states, s2)
	assert.Equal(t, language(a), language(out))
}

func TestTryRemoveEndEdge_NodeTables(t *testing.T) {
	s0, s1, s2 := State{Node: 0}, State{Node: 1}, State{Node: 2}

	succ := transitions{}
	succ.add(s0, transition{edge: edge{kind: callEdge}, to: s1})
	succ.add(s1, transition{edge: edge{kind: endEdge}, to: s2})
	succ.touch(s2)

	a := &registerAutomaton{
		nodes:      &nodeTable{accept: []bool{false, false, true}},
		initial:    s0,
		final:      stateSet{s2: {}},
		successors: succ,
	}

	out := newConverter().tryRemoveEndEdge(a)

	assert.True(t, out.final.has(s1))
	assert.True(t, out.isAccept(s1))
	assert.False(t, a.isAccept(s1), "input automaton was modified")
	assert.NotSame(t, a.nodes, a.with(a.initial, a.final, a.successors).nodes)
}

func TestRemoveSubsumedStates(t *testing.T) {
	x := model.NewMetavar("$X")
	fCall := edge{kind: callEdge, cond: condition{other: []methodPredicate{{predicate: formula.Predicate{Signature: fSignature}}}}}
	assignX := edge{kind: callEdge, effect: effect{assign: predicateMap{x: {atPosition(formula.Result, "$X", false)}}}}

	s0, s1, s2 := State{Node: 0}, State{Node: 1}, State{Node: 2}
	s3 := State{Node: 3, Register: registerOf([]model.MetavarAtom{x}, 3)}

	succ := transitions{}
	succ.add(s0, transition{edge: fCall, to: s2})
	succ.add(s0, transition{edge: assignX, to: s1})
	succ.add(s1, transition{edge: fCall, to: s2})
	succ.add(s0, transition{edge: assignX, to: s3})
	succ.add(s3, transition{edge: fCall, to: s2})
	succ.touch(s2)

	a := &registerAutomaton{
		nodes:      &nodeTable{accept: []bool{false, false, true, false}},
		initial:    s0,
		final:      stateSet{s2: {}},
		successors: succ,
	}

	out := newConverter().removeSubsumedStates(a)
	states := out.allStates()

	assert.NotContains(t, states, s1)
	assert.Contains(t, states, s3)
	assert.Len(t, out.successors[s0], 2)
}
