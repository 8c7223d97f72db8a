package model

import (
	"strconv"
	"strings"
)

func (n Metavar) String() string         { return n.Name }
func (n EllipsisMetavar) String() string { return n.Name }
func (n TypedMetavar) String() string    { return "(" + n.Type.String() + " " + n.Name + ")" }
func (Ellipsis) String() string          { return "..." }
func (n Identifier) String() string      { return n.Name }
func (This) String() string              { return "this" }
func (EmptySequence) String() string     { return "" }
func (n Sequence) String() string        { return n.First.String() + "; " + n.Second.String() }
func (n ArrayAccess) String() string     { return n.Object.String() + "[" + n.Index.String() + "]" }
func (n AddExpr) String() string         { return n.Left.String() + " + " + n.Right.String() }
func (n IntLiteral) String() string      { return n.Value }
func (NullLiteral) String() string       { return "null" }
func (StringEllipsis) String() string    { return `"..."` }
func (n BoolLiteral) String() string     { return strconv.FormatBool(n.Value) }
func (n DeepExpr) String() string        { return "<... " + n.Expr.String() + " ...>" }
func (n NamedValue) String() string      { return n.Name.String() + " = " + n.Value.String() }
func (NoArgs) String() string            { return "" }

func (n StaticFieldAccess) String() string {
	return n.Class.String() + "." + n.Field.String()
}

func (n FieldAccess) String() string {
	if n.Object == nil {
		return "super." + n.Field.String()
	}

	return n.Object.String() + "." + n.Field.String()
}

func (n MethodInvocation) String() string {
	call := n.Method.String() + "(" + n.Args.String() + ")"
	if n.Object == nil {
		return call
	}

	return n.Object.String() + "." + call
}

func (n EllipsisMethodInvocations) String() string {
	return n.Object.String() + ". ..."
}

func (n Return) String() string {
	if n.Value == nil {
		return "return"
	}

	return "return " + n.Value.String()
}

func (n VariableAssignment) String() string {
	var b strings.Builder

	if n.Type != nil {
		b.WriteString(n.Type.String())
		b.WriteByte(' ')
	}

	b.WriteString(n.Variable.String())

	if n.Value != nil {
		b.WriteString(" = ")
		b.WriteString(n.Value.String())
	}

	return b.String()
}

func (n StringLiteral) String() string {
	return strconv.Quote(n.Content.String())
}

func (n ObjectCreation) String() string {
	return "new " + n.Type.String() + "(" + n.Args.String() + ")"
}

func (n MethodDeclaration) String() string {
	var b strings.Builder

	writeAnnotations(&b, n.Modifiers)

	if n.ReturnType != nil {
		b.WriteString(n.ReturnType.String())
		b.WriteByte(' ')
	}

	b.WriteString(n.Name.String())
	b.WriteString("(")
	b.WriteString(n.Args.String())
	b.WriteString(") { ")
	b.WriteString(n.Body.String())
	b.WriteString(" }")

	return b.String()
}

func (n FormalArgument) String() string {
	var b strings.Builder

	writeAnnotations(&b, n.Modifiers)
	b.WriteString(n.Type.String())
	b.WriteByte(' ')
	b.WriteString(n.Name.String())

	return b.String()
}

func (n ClassDeclaration) String() string {
	var b strings.Builder

	writeAnnotations(&b, n.Modifiers)
	b.WriteString("class ")
	b.WriteString(n.Name.String())

	if n.Extends != nil {
		b.WriteString(" extends ")
		b.WriteString(n.Extends.String())
	}

	if len(n.Implements) > 0 {
		b.WriteString(" implements ")

		for i, t := range n.Implements {
			if i > 0 {
				b.WriteString(", ")
			}

			b.WriteString(t.String())
		}
	}

	b.WriteString(" { ")
	b.WriteString(n.Body.String())
	b.WriteString(" }")

	return b.String()
}

func (n Import) String() string {
	parts := make([]string, 0, len(n.Parts)+1)
	for _, p := range n.Parts {
		parts = append(parts, p.String())
	}

	if !n.Concrete {
		parts = append(parts, "*")
	}

	return "import " + strings.Join(parts, ".")
}

func (n Catch) String() string {
	types := make([]string, 0, len(n.Types))
	for _, t := range n.Types {
		types = append(types, t.String())
	}

	return "catch (" + strings.Join(types, " | ") + " " + n.Variable.String() + ") { " + n.Handler.String() + " }"
}

func (n Annotation) String() string {
	if _, ok := n.Args.(NoArgs); ok {
		return "@" + n.Name.String()
	}

	return "@" + n.Name.String() + "(" + n.Args.String() + ")"
}

func (n EllipsisArgs) String() string {
	if _, ok := n.Rest.(NoArgs); ok {
		return "..."
	}

	return "..., " + n.Rest.String()
}

func (n ArgPrefix) String() string {
	if _, ok := n.Rest.(NoArgs); ok {
		return n.Arg.String()
	}

	return n.Arg.String() + ", " + n.Rest.String()
}

func writeAnnotations(b *strings.Builder, annotations []Annotation) {
	for _, a := range annotations {
		b.WriteString(a.String())
		b.WriteByte(' ')
	}
}
