package model

import (
	"strings"
)

// Name is a single identifier position in a pattern: either a concrete
// identifier or a metavariable.
type Name interface {
	isName()
	String() string
}

// ConcreteName is a plain identifier.
type ConcreteName struct {
	Value string
}

// MetavarName is a metavariable occupying an identifier position.
type MetavarName struct {
	Value string
}

func (ConcreteName) isName() {}
func (MetavarName) isName()  {}

func (n ConcreteName) String() string { return n.Value }
func (n MetavarName) String() string  { return n.Value }

// TypeName is a dotted type reference with optional type arguments.
type TypeName struct {
	Parts    []Name
	TypeArgs []TypeName
}

// Simple returns a TypeName made of the given concrete parts.
func Simple(parts ...string) TypeName {
	names := make([]Name, 0, len(parts))
	for _, p := range parts {
		names = append(names, ConcreteName{Value: p})
	}

	return TypeName{Parts: names}
}

func (t TypeName) String() string {
	var b strings.Builder

	for i, p := range t.Parts {
		if i > 0 {
			b.WriteByte('.')
		}

		b.WriteString(p.String())
	}

	if len(t.TypeArgs) > 0 {
		b.WriteByte('<')

		for i, a := range t.TypeArgs {
			if i > 0 {
				b.WriteString(", ")
			}

			b.WriteString(a.String())
		}

		b.WriteByte('>')
	}

	return b.String()
}

// HasMetavar reports whether any dotted part is a metavariable.
func (t TypeName) HasMetavar() bool {
	for _, p := range t.Parts {
		if _, ok := p.(MetavarName); ok {
			return true
		}
	}

	return false
}

// Node is a pattern AST node. The set of implementations is closed.
type Node interface {
	Children() []Node
	String() string
	node()
}

// Args is the argument list of a call, declaration or annotation. It is a
// cons list so an ellipsis may appear at any position.
type Args interface {
	Node
	args()
}

type (
	// Metavar is `$X`.
	Metavar struct{ Name string }
	// EllipsisMetavar is `$...X`.
	EllipsisMetavar struct{ Name string }
	// TypedMetavar is `(Type $X)`.
	TypedMetavar struct {
		Name string
		Type TypeName
	}
	// Ellipsis is `...` in statement or expression position.
	Ellipsis struct{}
	// Identifier is a bare identifier.
	Identifier struct{ Name string }
	// This is the `this` expression.
	This struct{}
	// EmptySequence is an empty statement list.
	EmptySequence struct{}
	// Sequence joins two statements.
	Sequence struct{ First, Second Node }
	// ArrayAccess is `obj[index]`.
	ArrayAccess struct{ Object, Index Node }
	// FieldAccess is `obj.field`; a nil Object means `super.field`.
	FieldAccess struct {
		Field  Name
		Object Node
	}
	// StaticFieldAccess is `Type.FIELD`.
	StaticFieldAccess struct {
		Field Name
		Class TypeName
	}
	// MethodInvocation is `obj.name(args)`; Object may be nil.
	MethodInvocation struct {
		Method Name
		Object Node
		Args   Args
	}
	// EllipsisMethodInvocations is `obj. ... `, a chain of unknown calls.
	EllipsisMethodInvocations struct{ Object Node }
	// AddExpr is `left + right`.
	AddExpr struct{ Left, Right Node }
	// Return is `return value;`; Value may be nil.
	Return struct{ Value Node }
	// VariableAssignment is `Type var = value;`; Type and Value may be nil.
	VariableAssignment struct {
		Type     *TypeName
		Variable Node
		Value    Node
	}
	// StringLiteral is a quoted string; its content may be a metavariable.
	StringLiteral struct{ Content Name }
	// IntLiteral is an integer literal kept verbatim.
	IntLiteral struct{ Value string }
	// NullLiteral is `null`.
	NullLiteral struct{}
	// StringEllipsis is `"..."`.
	StringEllipsis struct{}
	// BoolLiteral is `true` or `false`.
	BoolLiteral struct{ Value bool }
	// ObjectCreation is `new Type(args)`.
	ObjectCreation struct {
		Type TypeName
		Args Args
	}
	// MethodDeclaration is a method or constructor declaration.
	MethodDeclaration struct {
		Name       Name
		ReturnType *TypeName
		Args       Args
		Body       Node
		Modifiers  []Annotation
	}
	// FormalArgument is a declared method parameter.
	FormalArgument struct {
		Name      Name
		Type      TypeName
		Modifiers []Annotation
	}
	// NamedValue is `name = value` inside an annotation.
	NamedValue struct {
		Name  Name
		Value Node
	}
	// ClassDeclaration is `class Name extends X implements Y { body }`.
	ClassDeclaration struct {
		Name       Name
		Extends    *TypeName
		Implements []TypeName
		Modifiers  []Annotation
		Body       Node
	}
	// Import is an import statement; Concrete is false for `.*` imports.
	Import struct {
		Parts    []Name
		Concrete bool
	}
	// Catch is a catch clause.
	Catch struct {
		Types    []TypeName
		Variable Name
		Handler  Node
	}
	// DeepExpr is `<... expr ...>`.
	DeepExpr struct{ Expr Node }
	// Annotation is `@Name(args)`.
	Annotation struct {
		Name TypeName
		Args Args
	}

	// NoArgs terminates an argument list.
	NoArgs struct{}
	// EllipsisArgs is `..., rest`.
	EllipsisArgs struct{ Rest Args }
	// ArgPrefix is `arg, rest`.
	ArgPrefix struct {
		Arg  Node
		Rest Args
	}
)

func (Metavar) node()                   {}
func (EllipsisMetavar) node()           {}
func (TypedMetavar) node()              {}
func (Ellipsis) node()                  {}
func (Identifier) node()                {}
func (This) node()                      {}
func (EmptySequence) node()             {}
func (Sequence) node()                  {}
func (ArrayAccess) node()               {}
func (FieldAccess) node()               {}
func (StaticFieldAccess) node()         {}
func (MethodInvocation) node()          {}
func (EllipsisMethodInvocations) node() {}
func (AddExpr) node()                   {}
func (Return) node()                    {}
func (VariableAssignment) node()        {}
func (StringLiteral) node()             {}
func (IntLiteral) node()                {}
func (NullLiteral) node()               {}
func (StringEllipsis) node()            {}
func (BoolLiteral) node()               {}
func (ObjectCreation) node()            {}
func (MethodDeclaration) node()         {}
func (FormalArgument) node()            {}
func (NamedValue) node()                {}
func (ClassDeclaration) node()          {}
func (Import) node()                    {}
func (Catch) node()                     {}
func (DeepExpr) node()                  {}
func (Annotation) node()                {}
func (NoArgs) node()                    {}
func (EllipsisArgs) node()              {}
func (ArgPrefix) node()                 {}

func (NoArgs) args()       {}
func (EllipsisArgs) args() {}
func (ArgPrefix) args()    {}

func (Metavar) Children() []Node           { return nil }
func (EllipsisMetavar) Children() []Node   { return nil }
func (TypedMetavar) Children() []Node      { return nil }
func (Ellipsis) Children() []Node          { return nil }
func (Identifier) Children() []Node        { return nil }
func (This) Children() []Node              { return nil }
func (EmptySequence) Children() []Node     { return nil }
func (n Sequence) Children() []Node        { return []Node{n.First, n.Second} }
func (n ArrayAccess) Children() []Node     { return []Node{n.Index, n.Object} }
func (StaticFieldAccess) Children() []Node { return nil }
func (n AddExpr) Children() []Node         { return []Node{n.Left, n.Right} }
func (StringLiteral) Children() []Node     { return nil }
func (IntLiteral) Children() []Node        { return nil }
func (NullLiteral) Children() []Node       { return nil }
func (StringEllipsis) Children() []Node    { return nil }
func (BoolLiteral) Children() []Node       { return nil }
func (n ObjectCreation) Children() []Node  { return []Node{n.Args} }
func (FormalArgument) Children() []Node    { return nil }
func (n NamedValue) Children() []Node      { return []Node{n.Value} }
func (Import) Children() []Node            { return nil }
func (n Catch) Children() []Node           { return []Node{n.Handler} }
func (n DeepExpr) Children() []Node        { return []Node{n.Expr} }
func (n Annotation) Children() []Node      { return []Node{n.Args} }
func (NoArgs) Children() []Node            { return nil }
func (n EllipsisArgs) Children() []Node    { return []Node{n.Rest} }
func (n ArgPrefix) Children() []Node       { return []Node{n.Arg, n.Rest} }

func (n EllipsisMethodInvocations) Children() []Node { return []Node{n.Object} }

func (n FieldAccess) Children() []Node {
	if n.Object == nil {
		return nil
	}

	return []Node{n.Object}
}

func (n MethodInvocation) Children() []Node {
	if n.Object == nil {
		return []Node{n.Args}
	}

	return []Node{n.Args, n.Object}
}

func (n Return) Children() []Node {
	if n.Value == nil {
		return nil
	}

	return []Node{n.Value}
}

func (n VariableAssignment) Children() []Node {
	if n.Value == nil {
		return []Node{n.Variable}
	}

	return []Node{n.Variable, n.Value}
}

func (n MethodDeclaration) Children() []Node {
	children := []Node{n.Args, n.Body}
	for _, m := range n.Modifiers {
		children = append(children, m)
	}

	return children
}

func (n ClassDeclaration) Children() []Node {
	children := []Node{n.Body}
	for _, m := range n.Modifiers {
		children = append(children, m)
	}

	return children
}

// ArgList flattens an argument cons list. Ellipsis positions are reported as
// Ellipsis nodes.
func ArgList(args Args) []Node {
	var result []Node

	for args != nil {
		switch a := args.(type) {
		case NoArgs:
			return result
		case EllipsisArgs:
			result = append(result, Ellipsis{})
			args = a.Rest
		case ArgPrefix:
			result = append(result, a.Arg)
			args = a.Rest
		}
	}

	return result
}

// MakeArgs builds an argument cons list. Consecutive ellipses collapse.
func MakeArgs(nodes ...Node) Args {
	var rest Args = NoArgs{}

	for i := len(nodes) - 1; i >= 0; i-- {
		if _, ok := nodes[i].(Ellipsis); ok {
			if _, dup := rest.(EllipsisArgs); dup {
				continue
			}

			rest = EllipsisArgs{Rest: rest}

			continue
		}

		rest = ArgPrefix{Arg: nodes[i], Rest: rest}
	}

	return rest
}

// MakeSequence folds statements left to right into nested sequences.
func MakeSequence(nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return EmptySequence{}
	case 1:
		return nodes[0]
	}

	result := nodes[0]
	for _, n := range nodes[1:] {
		result = Sequence{First: result, Second: n}
	}

	return result
}
