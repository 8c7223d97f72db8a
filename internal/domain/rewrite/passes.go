package rewrite

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// ErrUnsupportedTypeName is returned when a type name with metavariables
// refers to a metavariable whose constraint cannot be expressed as one
// regular expression.
var ErrUnsupportedTypeName = errors.New("type name metavariable with multiple constraints")

const (
	objectMetavarPrefix = "__OBJ#"
	typeMetavarPrefix   = "__TYPE#"
	generatedSuffix     = "__"
)

// IsObjectMetavar reports whether name was minted for a hoisted call
// qualifier.
func IsObjectMetavar(name string) bool {
	return strings.HasPrefix(name, objectMetavarPrefix)
}

func helperCall(name string, args ...model.Node) model.MethodInvocation {
	return model.MethodInvocation{Method: model.ConcreteName{Value: name}, Args: model.MakeArgs(args...)}
}

// StringConcat turns every `a + b` into a call of the string concatenation
// helper.
func StringConcat() *Pass {
	return &Pass{After: func(n model.Node) []model.Node {
		if add, ok := n.(model.AddExpr); ok {
			return []model.Node{helperCall(model.GeneratedStringConcat, add.Left, add.Right)}
		}

		return []model.Node{n}
	}}
}

// AssignEllipsis turns `$X = ...` into an assignment from the any-value
// helper.
func AssignEllipsis() *Pass {
	return &Pass{After: func(n model.Node) []model.Node {
		if a, ok := n.(model.VariableAssignment); ok {
			if _, ellipsis := a.Value.(model.Ellipsis); ellipsis {
				a.Value = helperCall(model.GeneratedAnyValue)
			}

			return []model.Node{a}
		}

		return []model.Node{n}
	}}
}

// ObjectQualifier replaces a capitalized dotted call qualifier such as
// `Runtime` in `Runtime.getRuntime()` by a typed metavariable. Equal
// qualifiers share one metavariable.
func ObjectQualifier() *Pass {
	names := make(map[string]string)

	hoist := func(obj model.Node) model.Node {
		if obj == nil {
			return nil
		}

		parts := DottedParts(obj)
		if len(parts) == 0 {
			return obj
		}

		if last, ok := parts[len(parts)-1].(model.ConcreteName); ok && !startsNonLower(last.Value) {
			return obj
		}

		typ := model.TypeName{Parts: parts}

		name, ok := names[typ.String()]
		if !ok {
			name = fmt.Sprintf("%s%d%s", objectMetavarPrefix, len(names), generatedSuffix)
			names[typ.String()] = name
		}

		return model.TypedMetavar{Name: name, Type: typ}
	}

	return &Pass{After: func(n model.Node) []model.Node {
		switch v := n.(type) {
		case model.MethodInvocation:
			v.Object = hoist(v.Object)
			return []model.Node{v}
		case model.EllipsisMethodInvocations:
			v.Object = hoist(v.Object)
			return []model.Node{v}
		}

		return []model.Node{n}
	}}
}

// StaticFieldAccess reclassifies `Type.FIELD` and `pkg.Type.field` as static
// field reads.
func StaticFieldAccess() *Pass {
	return &Pass{Before: func(n model.Node) ([]model.Node, bool) {
		fa, ok := n.(model.FieldAccess)
		if !ok {
			return nil, false
		}

		if fa.Object == nil {
			return []model.Node{fa}, true
		}

		parts := DottedParts(fa.Object)
		if parts == nil || !probablyStaticField(fa.Field, parts) {
			return []model.Node{fa}, true
		}

		return []model.Node{model.StaticFieldAccess{Field: fa.Field, Class: model.TypeName{Parts: parts}}}, true
	}}
}

func probablyStaticField(field model.Name, qualifier []model.Name) bool {
	if c, ok := field.(model.ConcreteName); ok && allCaps(c.Value) {
		return true
	}

	if c, ok := qualifier[len(qualifier)-1].(model.ConcreteName); ok && startsUpper(c.Value) {
		return true
	}

	return false
}

// ReturnValue turns `return x` into a call of the return-value helper.
func ReturnValue() *Pass {
	return &Pass{After: func(n model.Node) []model.Node {
		if r, ok := n.(model.Return); ok && r.Value != nil {
			return []model.Node{helperCall(model.GeneratedReturnValue, r.Value)}
		}

		return []model.Node{n}
	}}
}

// EllipsisCalls splits `obj. ...` into the receiver itself and one more
// unknown call on it.
func EllipsisCalls() *Pass {
	return &Pass{After: func(n model.Node) []model.Node {
		if e, ok := n.(model.EllipsisMethodInvocations); ok {
			return []model.Node{e.Object, e}
		}

		return []model.Node{n}
	}}
}

// TypeNames replaces dotted type names containing metavariables, such as
// `$P.Foo`, by fresh metavariables constrained with an equivalent regular
// expression.
func TypeNames(rule model.NormalizedRule, info model.MetavarInfo) ([]model.NormalizedRule, model.MetavarInfo, error) {
	generated := make(map[string]string)

	var order []model.TypeName

	pass := &Pass{TypeName: func(t model.TypeName) model.TypeName {
		if len(t.Parts) < 2 || !t.HasMetavar() {
			return t
		}

		key := model.TypeName{Parts: t.Parts}.String()

		name, ok := generated[key]
		if !ok {
			name = fmt.Sprintf("%s%d%s", typeMetavarPrefix, len(generated), generatedSuffix)
			generated[key] = name
			order = append(order, model.TypeName{Parts: t.Parts})
		}

		return model.TypeName{Parts: []model.Name{model.MetavarName{Value: name}}, TypeArgs: t.TypeArgs}
	}}

	rewritten := pass.Rule(rule)
	if len(generated) == 0 {
		return []model.NormalizedRule{rule}, info, nil
	}

	out := info.Clone()

	for _, t := range order {
		pattern, err := typeNameRegex(t, info)
		if err != nil {
			return nil, info, err
		}

		out.Constraints[generated[t.String()]] = model.ConstraintLeaf{
			Constraint: model.MetavarConstraint{Kind: model.RegexpConstraint, Value: pattern},
		}
	}

	return rewritten, out, nil
}

func typeNameRegex(t model.TypeName, info model.MetavarInfo) (string, error) {
	last := len(t.Parts) - 1
	parts := make([]string, 0, len(t.Parts))

	for i, p := range t.Parts {
		switch name := p.(type) {
		case model.ConcreteName:
			parts = append(parts, name.Value)
		case model.MetavarName:
			c, ok := info.Constraints[name.Value]
			if !ok {
				parts = append(parts, ".*")
				continue
			}

			leaf, ok := c.(model.ConstraintLeaf)
			if !ok || leaf.Constraint.Kind == model.PatternConstraint {
				return "", fmt.Errorf("%w: %s", ErrUnsupportedTypeName, name.Value)
			}

			if leaf.Constraint.Kind == model.ConcreteConstraint {
				parts = append(parts, leaf.Constraint.Value)
				continue
			}

			re := leaf.Constraint.Value

			switch i {
			case 0:
				re = strings.TrimRight(re, "$")
			case last:
				re = strings.TrimLeft(re, "^")
			default:
				re = strings.TrimLeft(strings.TrimRight(re, "$"), "^")
			}

			parts = append(parts, re)
		}
	}

	return strings.Join(parts, `\.`), nil
}

// pipeline lists the structural passes in the order they must run.
var pipeline = []func() *Pass{
	StringConcat,
	AssignEllipsis,
	ObjectQualifier,
	StaticFieldAccess,
	ReturnValue,
	EllipsisCalls,
}

// Rule runs every pass over r and then replaces metavariable type names.
// Each pass keeps its memo per input rule.
func Rule(r model.WithMetavars[model.NormalizedRule]) ([]model.WithMetavars[model.NormalizedRule], error) {
	rules := []model.NormalizedRule{r.Rule}

	for _, newPass := range pipeline {
		var next []model.NormalizedRule

		for _, rule := range rules {
			next = append(next, newPass().Rule(rule)...)
		}

		rules = next
	}

	var out []model.WithMetavars[model.NormalizedRule]

	for _, rule := range rules {
		rewritten, info, err := TypeNames(rule, r.Info)
		if err != nil {
			return nil, err
		}

		for _, rw := range rewritten {
			out = append(out, model.WithMetavars[model.NormalizedRule]{Rule: rw, Info: info})
		}
	}

	return out, nil
}

// DottedParts returns the parts of a dotted name such as `a.$B.c`. A lone
// metavariable is not a dotted name.
func DottedParts(n model.Node) []model.Name {
	if _, ok := n.(model.Metavar); ok {
		return nil
	}

	return dottedParts(n)
}

func dottedParts(n model.Node) []model.Name {
	switch v := n.(type) {
	case model.Identifier:
		return []model.Name{model.ConcreteName{Value: v.Name}}
	case model.Metavar:
		return []model.Name{model.MetavarName{Value: v.Name}}
	case model.FieldAccess:
		if v.Object == nil {
			return nil
		}

		prefix := dottedParts(v.Object)
		if prefix == nil {
			return nil
		}

		return append(prefix, v.Field)
	}

	return nil
}

// ConcreteNames returns the text of every part, or false when one of them
// is a metavariable.
func ConcreteNames(parts []model.Name) ([]string, bool) {
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		c, ok := p.(model.ConcreteName)
		if !ok {
			return nil, false
		}

		out = append(out, c.Value)
	}

	return out, true
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}

	return false
}

func startsNonLower(s string) bool {
	for _, r := range s {
		return !unicode.IsLower(r)
	}

	return false
}

func allCaps(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}

	return true
}
