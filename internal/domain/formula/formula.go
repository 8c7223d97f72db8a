package formula

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Formula is a propositional formula over predicate ids.
type Formula interface {
	// Complement returns the negation, pushed one level down.
	Complement() Formula
	// Eval evaluates the formula under a partial model.
	Eval(model Cube) int
	String() string
}

type (
	// Or holds when some child holds.
	Or struct{ Any []Formula }
	// And holds when every child holds.
	And struct{ All []Formula }
	// Literal is a possibly negated predicate.
	Literal struct {
		Predicate int
		Negated   bool
	}
	// CubeFormula is a possibly negated cube.
	CubeFormula struct {
		Cube    Cube
		Negated bool
	}
	// TrueFormula always holds.
	TrueFormula struct{}
	// FalseFormula never holds.
	FalseFormula struct{}
)

var (
	True  Formula = TrueFormula{}
	False Formula = FalseFormula{}
)

func (f Or) Complement() Formula {
	out := make([]Formula, len(f.Any))
	for i, a := range f.Any {
		out[i] = a.Complement()
	}

	return And{All: out}
}

func (f And) Complement() Formula {
	out := make([]Formula, len(f.All))
	for i, a := range f.All {
		out[i] = a.Complement()
	}

	return Or{Any: out}
}

func (f Literal) Complement() Formula     { return Literal{Predicate: f.Predicate, Negated: !f.Negated} }
func (f CubeFormula) Complement() Formula { return CubeFormula{Cube: f.Cube, Negated: !f.Negated} }
func (TrueFormula) Complement() Formula   { return False }
func (FalseFormula) Complement() Formula  { return True }

func (f Or) Eval(model Cube) int {
	result := FalseValue

	for _, a := range f.Any {
		switch a.Eval(model) {
		case TrueValue:
			return TrueValue
		case UnknownValue:
			result = UnknownValue
		}
	}

	return result
}

func (f And) Eval(model Cube) int {
	result := TrueValue

	for _, a := range f.All {
		switch a.Eval(model) {
		case FalseValue:
			return FalseValue
		case UnknownValue:
			result = UnknownValue
		}
	}

	return result
}

func (f Literal) Eval(model Cube) int {
	return evalLiteral(f.Predicate, f.Negated, model)
}

func (f CubeFormula) Eval(model Cube) int {
	v := evalCube(f.Cube, model)
	if f.Negated {
		return -v
	}

	return v
}

func (TrueFormula) Eval(Cube) int  { return TrueValue }
func (FalseFormula) Eval(Cube) int { return FalseValue }

func evalLiteral(id int, negated bool, model Cube) int {
	v := model.Value(id)
	if negated {
		return -v
	}

	return v
}

func evalCube(cube, model Cube) int {
	if intersects(cube.Pos, model.Neg) || intersects(cube.Neg, model.Pos) {
		return FalseValue
	}

	if !model.ContainsAll(cube) {
		return UnknownValue
	}

	return TrueValue
}

func (f Or) String() string  { return joinFormulas(" | ", f.Any) }
func (f And) String() string { return joinFormulas(" & ", f.All) }

func (f Literal) String() string {
	if f.Negated {
		return "!" + strconv.Itoa(f.Predicate)
	}

	return strconv.Itoa(f.Predicate)
}

func (f CubeFormula) String() string {
	if f.Negated {
		return "!" + f.Cube.String()
	}

	return f.Cube.String()
}

func (TrueFormula) String() string  { return "T" }
func (FalseFormula) String() string { return "F" }

func joinFormulas(sep string, fs []Formula) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}

	return "(" + strings.Join(parts, sep) + ")"
}

// Predicates returns the ids f uses positively and negatively, after
// pushing negations of cubes down to their literals.
func Predicates(f Formula) (pos, neg []int) {
	p, n := NewCube().Pos, NewCube().Neg
	collectPredicates(f, p, n)

	forEach(p, func(i int) { pos = append(pos, i) })
	forEach(n, func(i int) { neg = append(neg, i) })

	return pos, neg
}

func collectPredicates(f Formula, pos, neg *bitset.BitSet) {
	switch v := f.(type) {
	case And:
		for _, a := range v.All {
			collectPredicates(a, pos, neg)
		}
	case Or:
		for _, a := range v.Any {
			collectPredicates(a, pos, neg)
		}
	case Literal:
		if v.Negated {
			neg.Set(uint(v.Predicate))
		} else {
			pos.Set(uint(v.Predicate))
		}
	case CubeFormula:
		if v.Negated {
			neg.InPlaceUnion(v.Cube.Pos)
			pos.InPlaceUnion(v.Cube.Neg)
		} else {
			pos.InPlaceUnion(v.Cube.Pos)
			neg.InPlaceUnion(v.Cube.Neg)
		}
	}
}

// MapPredicates rewrites every predicate id of f through fn.
func MapPredicates(f Formula, fn func(id int) int) Formula {
	switch v := f.(type) {
	case And:
		all := make([]Formula, len(v.All))
		for i, a := range v.All {
			all[i] = MapPredicates(a, fn)
		}

		return And{All: all}
	case Or:
		anyOf := make([]Formula, len(v.Any))
		for i, a := range v.Any {
			anyOf[i] = MapPredicates(a, fn)
		}

		return Or{Any: anyOf}
	case Literal:
		return Literal{Predicate: fn(v.Predicate), Negated: v.Negated}
	case CubeFormula:
		c := NewCube()
		forEach(v.Cube.Pos, func(i int) { c.Pos.Set(uint(fn(i))) })
		forEach(v.Cube.Neg, func(i int) { c.Neg.Set(uint(fn(i))) })

		return CubeFormula{Cube: c, Negated: v.Negated}
	default:
		return f
	}
}
