// Package formula implements the call-site predicate algebra used on
// automaton edges, together with the DNF engine that reduces edge formulas
// to minimal unions of conflict-free cubes.
package formula

import (
	"fmt"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// PositionKind enumerates call-site value locations.
type PositionKind int

const (
	// ArgumentPos is a method argument.
	ArgumentPos PositionKind = iota
	// ObjectPos is the receiver.
	ObjectPos
	// ResultPos is the returned value.
	ResultPos
)

// Position is a value location at a call site.
type Position struct {
	Kind PositionKind
	Arg  model.ParamPosition
}

var (
	// Object is the receiver position.
	Object = Position{Kind: ObjectPos}
	// Result is the return value position.
	Result = Position{Kind: ResultPos}
)

// Argument returns the position of argument p.
func Argument(p model.ParamPosition) Position {
	return Position{Kind: ArgumentPos, Arg: p}
}

func (p Position) String() string {
	switch p.Kind {
	case ObjectPos:
		return "this"
	case ResultPos:
		return "result"
	default:
		return "arg" + p.Arg.String()
	}
}

// Constraint is an optional refinement of a predicate.
type Constraint interface {
	constraint()
	String() string
}

type (
	// ParamConstraint requires an atom to hold at a position.
	ParamConstraint struct {
		Position  Position
		Condition model.Atom
	}
	// NumberOfArgs requires an exact arity.
	NumberOfArgs struct{ N int }
	// ClassModifier requires an annotation on the enclosing class.
	ClassModifier struct{ Modifier model.SignatureModifier }
	// MethodModifier requires an annotation on the method.
	MethodModifier struct{ Modifier model.SignatureModifier }
)

func (ParamConstraint) constraint() {}
func (NumberOfArgs) constraint()    {}
func (ClassModifier) constraint()   {}
func (MethodModifier) constraint()  {}

func (c ParamConstraint) String() string { return c.Position.String() + "=" + c.Condition.String() }
func (c NumberOfArgs) String() string    { return fmt.Sprintf("args=%d", c.N) }
func (c ClassModifier) String() string   { return "class" + c.Modifier.String() }
func (c MethodModifier) String() string  { return "method" + c.Modifier.String() }

// Signature identifies the called method.
type Signature struct {
	Name  model.SignatureName
	Class model.TypeNamePattern
}

func (s Signature) String() string {
	return s.Class.String() + "#" + s.Name.String()
}

// Predicate is a propositional variable: a call to a method with the given
// signature, optionally refined by a constraint. Predicates are comparable.
type Predicate struct {
	Signature  Signature
	Constraint Constraint
}

func (p Predicate) String() string {
	if p.Constraint == nil {
		return p.Signature.String()
	}

	return p.Signature.String() + "[" + p.Constraint.String() + "]"
}
