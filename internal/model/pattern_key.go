package model

import (
	"fmt"
	"strings"
)

// NodeKey renders a structural identity for a pattern node. Two nodes have
// the same key exactly when they are structurally equal, so the key is safe
// to use for content-addressed caches.
func NodeKey(n Node) string {
	var b strings.Builder
	writeKey(&b, n)

	return b.String()
}

func writeKey(b *strings.Builder, n Node) {
	if n == nil {
		b.WriteString("nil")
		return
	}

	fmt.Fprintf(b, "%T(", n)

	switch v := n.(type) {
	case Metavar:
		b.WriteString(v.Name)
	case EllipsisMetavar:
		b.WriteString(v.Name)
	case TypedMetavar:
		b.WriteString(v.Name)
		writeTypeKey(b, &v.Type)
	case Identifier:
		b.WriteString(v.Name)
	case FieldAccess:
		writeNameKey(b, v.Field)
		writeKey(b, v.Object)
	case StaticFieldAccess:
		writeNameKey(b, v.Field)
		writeTypeKey(b, &v.Class)
	case MethodInvocation:
		writeNameKey(b, v.Method)
		writeKey(b, v.Object)
		writeKey(b, v.Args)
	case VariableAssignment:
		writeTypeKey(b, v.Type)
		writeKey(b, v.Variable)
		writeKey(b, v.Value)
	case Return:
		writeKey(b, v.Value)
	case StringLiteral:
		writeNameKey(b, v.Content)
	case IntLiteral:
		b.WriteString(v.Value)
	case BoolLiteral:
		fmt.Fprint(b, v.Value)
	case ObjectCreation:
		writeTypeKey(b, &v.Type)
		writeKey(b, v.Args)
	case MethodDeclaration:
		writeNameKey(b, v.Name)
		writeTypeKey(b, v.ReturnType)
		writeAnnotationKeys(b, v.Modifiers)
	case FormalArgument:
		writeNameKey(b, v.Name)
		writeTypeKey(b, &v.Type)
		writeAnnotationKeys(b, v.Modifiers)
	case NamedValue:
		writeNameKey(b, v.Name)
	case ClassDeclaration:
		writeNameKey(b, v.Name)
		writeTypeKey(b, v.Extends)

		for i := range v.Implements {
			writeTypeKey(b, &v.Implements[i])
		}

		writeAnnotationKeys(b, v.Modifiers)
	case Import:
		for _, p := range v.Parts {
			writeNameKey(b, p)
		}

		fmt.Fprint(b, v.Concrete)
	case Catch:
		writeNameKey(b, v.Variable)

		for i := range v.Types {
			writeTypeKey(b, &v.Types[i])
		}
	case Annotation:
		writeTypeKey(b, &v.Name)
	}

	switch n.(type) {
	case FieldAccess, MethodInvocation, VariableAssignment, Return, ObjectCreation:
		// children written above
	case MethodDeclaration, ClassDeclaration, Annotation:
		for _, c := range n.Children() {
			if _, ok := c.(Annotation); !ok {
				writeKey(b, c)
			}
		}
	default:
		for _, c := range n.Children() {
			writeKey(b, c)
		}
	}

	b.WriteByte(')')
}

func writeNameKey(b *strings.Builder, n Name) {
	switch v := n.(type) {
	case ConcreteName:
		b.WriteString("c:" + v.Value + ";")
	case MetavarName:
		b.WriteString("m:" + v.Value + ";")
	default:
		b.WriteString("-;")
	}
}

func writeTypeKey(b *strings.Builder, t *TypeName) {
	if t == nil {
		b.WriteString("T-;")
		return
	}

	b.WriteString("T[")

	for _, p := range t.Parts {
		writeNameKey(b, p)
	}

	for i := range t.TypeArgs {
		writeTypeKey(b, &t.TypeArgs[i])
	}

	b.WriteString("];")
}

func writeAnnotationKeys(b *strings.Builder, annotations []Annotation) {
	for _, a := range annotations {
		writeKey(b, a)
	}
}
