package domain

import (
	"fmt"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// Literal is a possibly negated leaf of a formula in negation normal form.
type Literal struct {
	Formula model.Formula
	Negated bool
}

func (l Literal) String() string {
	if l.Negated {
		return "!" + l.Formula.String()
	}

	return l.Formula.String()
}

// Cube is a conjunction of literals.
type Cube []Literal

// Formula turns the cube back into a formula.
func (c Cube) Formula() model.Formula {
	args := make([]model.Formula, 0, len(c))
	for _, l := range c {
		if l.Negated {
			args = append(args, model.Not{Child: l.Formula})
		} else {
			args = append(args, l.Formula)
		}
	}

	if len(args) == 1 {
		return args[0]
	}

	return model.AllOf{Children: args}
}

func (c Cube) String() string {
	parts := make([]string, 0, len(c))
	for _, l := range c {
		parts = append(parts, l.String())
	}

	return strings.Join(parts, " & ")
}

type nnf interface{ nnf() }

type (
	nnfLiteral Literal
	nnfAnd     []nnf
	nnfOr      []nnf
)

func (nnfLiteral) nnf() {}
func (nnfAnd) nnf()     {}
func (nnfOr) nnf()      {}

// toNNF pushes negations down to the leaves. A positive metavariable-pattern
// is itself expanded to DNF so that each alternative becomes a literal.
func toNNF(f model.Formula, negated bool) nnf {
	switch v := f.(type) {
	case model.Not:
		return toNNF(v.Child, !negated)
	case model.AllOf:
		children := make([]nnf, 0, len(v.Children))
		for _, c := range v.Children {
			children = append(children, toNNF(c, negated))
		}

		if negated {
			return nnfOr(children)
		}

		return nnfAnd(children)
	case model.AnyOf:
		children := make([]nnf, 0, len(v.Children))
		for _, c := range v.Children {
			children = append(children, toNNF(c, negated))
		}

		if negated {
			return nnfAnd(children)
		}

		return nnfOr(children)
	case model.MetavarPattern:
		if negated {
			return nnfLiteral{Formula: v, Negated: true}
		}

		cubes := DNF(v.Formula)
		alternatives := make([]nnf, 0, len(cubes))

		for _, c := range cubes {
			alternatives = append(alternatives, nnfLiteral{Formula: model.MetavarPattern{Name: v.Name, Formula: c.Formula()}})
		}

		return nnfOr(alternatives)
	}

	return nnfLiteral{Formula: f, Negated: negated}
}

func (n nnfLiteral) dnf() []Cube { return []Cube{{Literal(n)}} }

func toDNF(n nnf) []Cube {
	switch v := n.(type) {
	case nnfLiteral:
		return v.dnf()
	case nnfOr:
		var out []Cube
		for _, c := range v {
			out = append(out, toDNF(c)...)
		}

		return out
	case nnfAnd:
		out := []Cube{nil}

		for _, c := range v {
			child := toDNF(c)
			next := make([]Cube, 0, len(out)*len(child))

			for _, prefix := range out {
				for _, suffix := range child {
					cube := make(Cube, 0, len(prefix)+len(suffix))
					cube = append(cube, prefix...)
					cube = append(cube, suffix...)
					next = append(next, cube)
				}
			}

			out = next
		}

		return out
	}

	panic(fmt.Sprintf("unexpected normal form %T", n))
}

// DNF returns the disjunctive normal form of f as a list of cubes.
func DNF(f model.Formula) []Cube {
	return toDNF(toNNF(f, false))
}

// NormalizeFormula splits f into one raw rule per DNF cube. Cubes using
// unsupported constructs are dropped with a diagnostic in diags.
func NormalizeFormula(f model.Formula, diags *model.Diagnostics) []model.WithMetavars[model.RawRule] {
	var out []model.WithMetavars[model.RawRule]

	for _, cube := range DNF(f) {
		if r, ok := normalizeCube(cube, diags); ok {
			out = append(out, r)
		}
	}

	return out
}

func notImplemented(diags *model.Diagnostics, what string) {
	diags.Add(model.NotImplementedf(model.StepConvertToRawRule, "Not implemented %s", what))
}

func normalizeCube(cube Cube, diags *model.Diagnostics) (model.WithMetavars[model.RawRule], bool) {
	var (
		rule   model.RawRule
		focus  []string
		seen   = make(map[string]bool)
		consts = make(map[string][]model.ConstraintFormula)
		order  []string
	)

	addConstraint := func(name string, c model.ConstraintFormula, negated bool) {
		if negated {
			c = model.MkConstraintNot(c)
		}

		if _, ok := consts[name]; !ok {
			order = append(order, name)
		}

		consts[name] = append(consts[name], c)
	}

	for _, lit := range cube {
		switch f := lit.Formula.(type) {
		case model.PatternLeaf:
			if lit.Negated {
				rule.Nots = append(rule.Nots, f.Pattern)
			} else {
				rule.Patterns = append(rule.Patterns, f.Pattern)
			}
		case model.Inside:
			leaf, ok := f.Child.(model.PatternLeaf)
			if !ok {
				notImplemented(diags, "nested inside formula")
				return model.WithMetavars[model.RawRule]{}, false
			}

			if lit.Negated {
				rule.NotInsides = append(rule.NotInsides, leaf.Pattern)
			} else {
				rule.Insides = append(rule.Insides, leaf.Pattern)
			}
		case model.MetavarFocus:
			if lit.Negated {
				notImplemented(diags, "negated MetavarFocus")
				return model.WithMetavars[model.RawRule]{}, false
			}

			if !seen[f.Name] {
				seen[f.Name] = true
				focus = append(focus, f.Name)
			}
		case model.MetavarComparison:
			notImplemented(diags, "MetavarCond")
			return model.WithMetavars[model.RawRule]{}, false
		case model.MetavarPattern:
			c, ok := patternConstraint(f.Formula)
			if !ok {
				notImplemented(diags, "complex MetavarPattern")
				return model.WithMetavars[model.RawRule]{}, false
			}

			addConstraint(f.Name, c, lit.Negated)
		case model.MetavarRegex:
			addConstraint(f.Name, model.ConstraintLeaf{
				Constraint: model.MetavarConstraint{Kind: model.RegexpConstraint, Value: f.Regex},
			}, lit.Negated)
		case model.PatternRegex:
			notImplemented(diags, "Regex")
			return model.WithMetavars[model.RawRule]{}, false
		default:
			panic(fmt.Sprintf("unexpected formula in dnf: %s", lit.Formula))
		}
	}

	info := model.MetavarInfo{Focus: focus, Constraints: make(map[string]model.ConstraintFormula, len(order))}
	for _, name := range order {
		info.Constraints[name] = model.MkConstraintAnd(consts[name]...)
	}

	return model.WithMetavars[model.RawRule]{Rule: rule, Info: info}, true
}

// patternConstraint expresses the body of a metavariable-pattern as a
// constraint over the bound text.
func patternConstraint(f model.Formula) (model.ConstraintFormula, bool) {
	switch v := f.(type) {
	case model.PatternLeaf:
		return model.ConstraintLeaf{Constraint: model.MetavarConstraint{Kind: model.PatternConstraint, Value: v.Pattern}}, true
	case model.PatternRegex:
		return model.ConstraintLeaf{Constraint: model.MetavarConstraint{Kind: model.RegexpConstraint, Value: v.Pattern}}, true
	case model.Not:
		inner, ok := patternConstraint(v.Child)
		if !ok {
			return nil, false
		}

		return model.MkConstraintNot(inner), true
	case model.AllOf:
		args := make([]model.ConstraintFormula, 0, len(v.Children))

		for _, c := range v.Children {
			inner, ok := patternConstraint(c)
			if !ok {
				return nil, false
			}

			args = append(args, inner)
		}

		return model.MkConstraintAnd(args...), true
	}

	return nil, false
}
