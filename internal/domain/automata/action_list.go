package automata

import (
	"slices"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// constructorName is the method name of constructor calls.
const constructorName = "<init>"

// FromActionList builds the deterministic automaton of one action list:
// one edge per action with a complement self-loop on intermediate states
// standing for the ellipsis between actions.
func FromActionList(m *formula.Manager, list model.ActionList) *Automaton {
	a := New(m, true, false, false)
	root := a.AddNode(false)
	a.Initial = []int{root}

	last, beforeLast := root, -1

	var (
		lastFormula formula.Formula
		loop        bool
	)

	actions := list.Actions

	if len(actions) > 0 {
		if sig, ok := actions[0].(model.MethodSignature); ok {
			if list.EllipsisAtStart {
				panic("automata: method signature after leading ellipsis")
			}

			f := signatureFormula(m, sig)
			next := a.AddNode(false)
			a.AddEdge(last, Enter(f), next)
			beforeLast, lastFormula, last = last, f, next
			a.HasMethodEnter = true
			actions = actions[1:]
		}
	}

	for _, action := range actions {
		f := actionFormula(m, action)

		if last != root || list.EllipsisAtStart {
			a.AddEdge(last, Call(f.Complement()), last)
			loop = true
		}

		next := a.AddNode(false)
		a.AddEdge(last, Call(f), next)
		beforeLast, lastFormula, last = last, f, next
	}

	a.Nodes[last].Accept = true

	switch {
	case list.EllipsisAtEnd:
		a.AddEdge(last, Call(formula.True), last)
	case lastFormula != nil && loop:
		a.AddEdge(last, Call(lastFormula), last)
		a.AddEdge(last, Call(lastFormula.Complement()), beforeLast)
	}

	return a
}

type formulaBuilder struct {
	m               *formula.Manager
	signature       formula.Signature
	params          []formula.ParamConstraint
	numberOfArgs    int
	methodModifiers []model.SignatureModifier
	classModifiers  []model.SignatureModifier
}

func (b *formulaBuilder) addParams(params model.ParamConstraint) {
	switch p := params.(type) {
	case model.ConcreteParams:
		b.numberOfArgs = len(p.Params)

		for i, c := range p.Params {
			b.addCondition(formula.Argument(model.ConcretePosition(i)), c)
		}
	case model.PartialParams:
		for _, pp := range p.Params {
			b.addCondition(formula.Argument(pp.Position), pp.Condition)
		}
	}
}

func (b *formulaBuilder) addCondition(pos formula.Position, cond model.ParamCondition) {
	pending := []model.ParamCondition{cond}

	for len(pending) > 0 {
		c := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		switch v := c.(type) {
		case model.CondAnd:
			pending = append(pending, v.Conds...)
		case model.CondTrue, nil:
		case model.Atom:
			pc := formula.ParamConstraint{Position: pos, Condition: v}
			if !slices.Contains(b.params, pc) {
				b.params = append(b.params, pc)
			}
		}
	}
}

func (b *formulaBuilder) build() formula.Formula {
	var constraints []formula.Constraint

	for _, p := range b.params {
		constraints = append(constraints, p)
	}

	if b.numberOfArgs >= 0 {
		constraints = append(constraints, formula.NumberOfArgs{N: b.numberOfArgs})
	}

	for _, mod := range b.methodModifiers {
		constraints = append(constraints, formula.MethodModifier{Modifier: mod})
	}

	for _, mod := range b.classModifiers {
		constraints = append(constraints, formula.ClassModifier{Modifier: mod})
	}

	if len(constraints) == 0 {
		return formula.Literal{Predicate: b.m.PredicateID(formula.Predicate{Signature: b.signature})}
	}

	literals := make([]formula.Formula, 0, len(constraints))
	for _, c := range constraints {
		literals = append(literals, formula.Literal{Predicate: b.m.PredicateID(formula.Predicate{Signature: b.signature, Constraint: c})})
	}

	return b.m.MkAnd(literals...)
}

func actionFormula(m *formula.Manager, action model.Action) formula.Formula {
	b := &formulaBuilder{m: m, numberOfArgs: -1}

	switch a := action.(type) {
	case model.MethodCall:
		b.addParams(a.Params)

		if a.Object != nil {
			b.addCondition(formula.Object, a.Object)
		}

		if a.Result != nil {
			b.addCondition(formula.Result, a.Result)
		}

		b.signature = formula.Signature{Name: a.Method, Class: a.EnclosingClass}
	case model.ConstructorCall:
		b.addParams(a.Params)

		if a.Result != nil {
			b.addCondition(formula.Object, a.Result)
		}

		b.signature = formula.Signature{Name: model.ConcreteSignatureName(constructorName), Class: a.Class}
	default:
		panic("automata: unexpected action " + action.String())
	}

	return b.build()
}

func signatureFormula(m *formula.Manager, sig model.MethodSignature) formula.Formula {
	b := &formulaBuilder{m: m, numberOfArgs: -1}
	b.addParams(sig.Params)
	b.methodModifiers = sig.Modifiers
	b.classModifiers = sig.ClassModifiers
	b.signature = formula.Signature{Name: sig.Method, Class: model.AnyTypeName}

	return b.build()
}
