package automata

import (
	"context"
	"errors"
	"time"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

var (
	// ErrNoPattern is returned for rules without a positive pattern.
	ErrNoPattern = errors.New("at least one positive pattern must be given")
	// ErrStateExplosion is returned when a determinization step would have
	// to split more than maxSplitFormulas distinct edge formulas.
	ErrStateExplosion = errors.New("determinization failure: state explosion")
)

const maxSplitFormulas = 16

// buildError carries an error out of deeply nested automaton operations.
// It is only ever recovered by Build.
type buildError struct{ err error }

type builder struct {
	m *formula.Manager
	s *formula.Simplifier
}

// Build compiles a normalized rule into a minimal total DFA over call
// events. Every operation is bounded by timeout and by ctx; running out of
// either yields an error wrapping formula.ErrCanceled.
func Build(ctx context.Context, rule model.ActionListRule, info model.MetavarInfo, timeout time.Duration) (a *Automaton, err error) {
	if len(rule.Patterns) == 0 {
		return nil, ErrNoPattern
	}

	m := formula.NewManager()
	b := &builder{
		m: m,
		s: &formula.Simplifier{Manager: m, Info: info, Cancel: formula.NewCancelation(ctx, timeout)},
	}

	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(buildError)
			if !ok {
				panic(r)
			}

			a, err = nil, be.err
		}
	}()

	return b.build(rule), nil
}

func (b *builder) fail(err error) {
	panic(buildError{err: err})
}

func (b *builder) check() {
	if err := b.s.Cancel.Check(); err != nil {
		b.fail(err)
	}
}

func (b *builder) sat(f formula.Formula) bool {
	ok, err := b.s.Sat(f)
	if err != nil {
		b.fail(err)
	}

	return ok
}

func (b *builder) trySimplify(f formula.Formula) formula.Formula {
	out, err := b.s.TrySimplify(f)
	if err != nil {
		b.fail(err)
	}

	return out
}

func (b *builder) cubes(f formula.Formula) []formula.Cube {
	out, err := b.s.Cubes(f, false)
	if err != nil {
		b.fail(err)
	}

	return out
}

func (b *builder) build(rule model.ActionListRule) *Automaton {
	last := rule.Patterns[len(rule.Patterns)-1]
	rule.Patterns = rule.Patterns[:len(rule.Patterns)-1]

	res := b.brzozowski(b.transform(rule, FromActionList(b.m, last)))
	res.acceptPrefix()

	b.totalizeCalls(res)

	if res.HasMethodEnter {
		b.totalizeEnters(res)
	}

	return res
}

func (b *builder) transform(rule model.ActionListRule, cur *Automaton) *Automaton {
	for {
		switch {
		case len(rule.Patterns) > 0:
			last := rule.Patterns[len(rule.Patterns)-1]
			rule.Patterns = rule.Patterns[:len(rule.Patterns)-1]
			cur = b.addPositive(cur, last)
		case len(rule.Nots) > 0:
			last := rule.Nots[len(rule.Nots)-1]
			rule.Nots = rule.Nots[:len(rule.Nots)-1]
			cur = b.addNegative(cur, last)
		case len(rule.Insides) > 0 || len(rule.NotInsides) > 0:
			if cur.HasMethodEnter {
				// Inside a method body, the enclosing patterns are plain conjuncts.
				rule = model.ActionListRule{Patterns: rule.Insides, Nots: rule.NotInsides}
				continue
			}

			return b.addInsides(rule, cur)
		default:
			return cur
		}
	}
}

func (b *builder) addInsides(rule model.ActionListRule, cur *Automaton) *Automaton {
	if cur.HasEndEdges {
		panic("automata: pattern-inside over automaton with end edges")
	}

	bordered := b.addPatternStartAndEnd(cur)

	var parts []*Automaton

	for _, list := range rule.Insides {
		parts = append(parts, b.addPatternInside(bordered.Clone(), list))
	}

	for _, list := range rule.NotInsides {
		parts = append(parts, b.addPatternNotInside(bordered.Clone(), list))
	}

	for _, p := range parts {
		if !p.HasMethodEnter {
			p.acceptSuffix()
		}

		p.acceptPrefix()
		p.addEndEdges()
	}

	res := parts[0]

	for _, next := range parts[1:] {
		a1, a2 := res, next

		if a1.HasMethodEnter && !a2.HasMethodEnter {
			a2 = a2.withDummyMethodEnter()
		}

		if !a1.HasMethodEnter && a2.HasMethodEnter {
			a1 = a1.withDummyMethodEnter()
		}

		res = b.brzozowski(b.intersection(a1, a2))
	}

	res.removePatternStartAndEnd()

	return res
}

func (b *builder) addPositive(cur *Automaton, list model.ActionList) *Automaton {
	return b.brzozowski(b.intersection(cur, FromActionList(b.m, list)))
}

func (b *builder) addNegative(cur *Automaton, list model.ActionList) *Automaton {
	neg := FromActionList(b.m, list)
	if neg.HasMethodEnter != cur.HasMethodEnter {
		return cur
	}

	b.totalizeCalls(neg)

	if neg.HasMethodEnter {
		b.totalizeEnters(neg)
		neg.addEndEdges()
		cur.addEndEdges()
	}

	neg.complement()

	return b.brzozowski(b.intersection(cur, neg))
}

// ellipses reports which sides of a pattern-inside region are open.
func ellipses(list model.ActionList) (prefix, suffix bool) {
	sig := startsWithSignature(list)
	prefix = sig || list.EllipsisAtEnd || !list.EllipsisAtStart
	suffix = sig || list.EllipsisAtStart || !list.EllipsisAtEnd

	return prefix, suffix
}

func startsWithSignature(list model.ActionList) bool {
	if len(list.Actions) == 0 {
		return false
	}

	_, ok := list.Actions[0].(model.MethodSignature)

	return ok
}

func (b *builder) addPatternInside(cur *Automaton, list model.ActionList) *Automaton {
	if cur.HasMethodEnter {
		return b.addPositive(cur, list)
	}

	prefix, suffix := ellipses(list)

	if suffix {
		cur.acceptPrefix()
	}

	if prefix {
		cur.acceptSuffix()
		cur.AddEdge(cur.Root(), Enter(formula.True), cur.Root())
	}

	inside := FromActionList(b.m, list)
	inside.addPatternStartAndEndOnEveryNode()

	return b.brzozowski(b.intersection(inside, cur))
}

func (b *builder) addPatternNotInside(cur *Automaton, list model.ActionList) *Automaton {
	if cur.HasMethodEnter {
		return b.addNegative(cur, list)
	}

	prefix, suffix := ellipses(list)

	if prefix && !startsWithSignature(list) {
		// A method enter edge goes in front, so the list may start anywhere.
		list.EllipsisAtStart = true
	}

	notInside := FromActionList(b.m, list)
	notInside.addPatternStartAndEndOnEveryNode()

	if prefix {
		cur.acceptSuffix()

		if !notInside.HasMethodEnter {
			notInside = notInside.withDummyMethodEnter()
		}
	}

	if suffix {
		cur.acceptPrefix()
		cur.addEndEdges()

		notInside.acceptPrefix()
		notInside.addEndEdges()
	}

	main := cur
	if prefix {
		main = cur.withDummyMethodEnter()
	}

	b.totalizeCalls(notInside)

	if notInside.HasMethodEnter {
		b.totalizeEnters(notInside)
	}

	notInside.complement()

	return b.brzozowski(b.intersection(main, notInside))
}

// addPatternStartAndEnd brackets every accepted word with PatternStart and
// PatternEnd so that pattern-inside regions can be aligned with it.
func (b *builder) addPatternStartAndEnd(a *Automaton) *Automaton {
	if a.HasMethodEnter || a.HasEndEdges {
		panic("automata: borders over automaton with method enter or end edges")
	}

	root := a.Root()
	a.AddEdge(root, EdgeType{Kind: PatternStart}, root)

	a.Traverse(func(id int) {
		if a.Nodes[id].Accept {
			a.AddEdge(id, EdgeType{Kind: PatternEnd}, id)
		}
	})

	return b.intersection(a, patternBorders(a.Manager))
}

func patternBorders(m *formula.Manager) *Automaton {
	a := New(m, true, false, false)
	root := a.AddNode(false)
	middle := a.AddNode(false)
	terminal := a.AddNode(true)

	a.AddEdge(root, EdgeType{Kind: PatternStart}, middle)
	a.AddEdge(middle, Call(formula.True), middle)
	a.AddEdge(middle, EdgeType{Kind: PatternEnd}, terminal)
	a.Initial = []int{root}

	return a
}
