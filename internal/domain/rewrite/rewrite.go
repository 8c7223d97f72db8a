// Package rewrite provides the desugaring passes applied to parsed patterns
// before they are linearized into action lists.
package rewrite

import (
	"fmt"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// Pass is one rewrite over a pattern tree. Every hook may be nil, in which
// case the node is rebuilt from its rewritten children unchanged.
type Pass struct {
	// Before replaces a node without visiting its children when it reports
	// true.
	Before func(model.Node) ([]model.Node, bool)
	// After maps a node whose children have already been rewritten to its
	// alternatives.
	After func(model.Node) []model.Node
	// TypeName maps every type reference after its type arguments.
	TypeName func(model.TypeName) model.TypeName
}

// Node returns every alternative rewrite of n.
func (p *Pass) Node(n model.Node) []model.Node {
	if p.Before != nil {
		if out, ok := p.Before(n); ok {
			return out
		}
	}

	var rebuilt []model.Node

	switch v := n.(type) {
	case model.Metavar, model.EllipsisMetavar, model.Ellipsis, model.Identifier, model.This,
		model.EmptySequence, model.IntLiteral, model.NullLiteral, model.StringEllipsis, model.BoolLiteral,
		model.StringLiteral, model.Import:
		rebuilt = []model.Node{n}
	case model.TypedMetavar:
		rebuilt = []model.Node{model.TypedMetavar{Name: v.Name, Type: p.typeName(v.Type)}}
	case model.Sequence:
		for _, first := range p.Node(v.First) {
			for _, second := range p.Node(v.Second) {
				rebuilt = append(rebuilt, model.Sequence{First: first, Second: second})
			}
		}
	case model.ArrayAccess:
		for _, obj := range p.Node(v.Object) {
			for _, idx := range p.Node(v.Index) {
				rebuilt = append(rebuilt, model.ArrayAccess{Object: obj, Index: idx})
			}
		}
	case model.FieldAccess:
		for _, obj := range p.optional(v.Object) {
			rebuilt = append(rebuilt, model.FieldAccess{Field: v.Field, Object: obj})
		}
	case model.StaticFieldAccess:
		rebuilt = []model.Node{model.StaticFieldAccess{Field: v.Field, Class: p.typeName(v.Class)}}
	case model.MethodInvocation:
		for _, obj := range p.optional(v.Object) {
			for _, args := range p.Args(v.Args) {
				rebuilt = append(rebuilt, model.MethodInvocation{Method: v.Method, Object: obj, Args: args})
			}
		}
	case model.EllipsisMethodInvocations:
		for _, obj := range p.Node(v.Object) {
			rebuilt = append(rebuilt, model.EllipsisMethodInvocations{Object: obj})
		}
	case model.AddExpr:
		for _, left := range p.Node(v.Left) {
			for _, right := range p.Node(v.Right) {
				rebuilt = append(rebuilt, model.AddExpr{Left: left, Right: right})
			}
		}
	case model.Return:
		for _, value := range p.optional(v.Value) {
			rebuilt = append(rebuilt, model.Return{Value: value})
		}
	case model.VariableAssignment:
		typ := p.optionalType(v.Type)

		for _, variable := range p.Node(v.Variable) {
			for _, value := range p.optional(v.Value) {
				rebuilt = append(rebuilt, model.VariableAssignment{Type: typ, Variable: variable, Value: value})
			}
		}
	case model.ObjectCreation:
		typ := p.typeName(v.Type)

		for _, args := range p.Args(v.Args) {
			rebuilt = append(rebuilt, model.ObjectCreation{Type: typ, Args: args})
		}
	case model.MethodDeclaration:
		ret := p.optionalType(v.ReturnType)

		for _, args := range p.Args(v.Args) {
			for _, body := range p.Node(v.Body) {
				for _, mods := range p.annotations(v.Modifiers) {
					rebuilt = append(rebuilt, model.MethodDeclaration{
						Name: v.Name, ReturnType: ret, Args: args, Body: body, Modifiers: mods,
					})
				}
			}
		}
	case model.FormalArgument:
		typ := p.typeName(v.Type)

		for _, mods := range p.annotations(v.Modifiers) {
			rebuilt = append(rebuilt, model.FormalArgument{Name: v.Name, Type: typ, Modifiers: mods})
		}
	case model.NamedValue:
		for _, value := range p.Node(v.Value) {
			rebuilt = append(rebuilt, model.NamedValue{Name: v.Name, Value: value})
		}
	case model.ClassDeclaration:
		ext := p.optionalType(v.Extends)

		impl := make([]model.TypeName, 0, len(v.Implements))
		for _, t := range v.Implements {
			impl = append(impl, p.typeName(t))
		}

		for _, mods := range p.annotations(v.Modifiers) {
			for _, body := range p.Node(v.Body) {
				rebuilt = append(rebuilt, model.ClassDeclaration{
					Name: v.Name, Extends: ext, Implements: impl, Modifiers: mods, Body: body,
				})
			}
		}
	case model.Catch:
		types := make([]model.TypeName, 0, len(v.Types))
		for _, t := range v.Types {
			types = append(types, p.typeName(t))
		}

		for _, handler := range p.Node(v.Handler) {
			rebuilt = append(rebuilt, model.Catch{Types: types, Variable: v.Variable, Handler: handler})
		}
	case model.DeepExpr:
		for _, expr := range p.Node(v.Expr) {
			rebuilt = append(rebuilt, model.DeepExpr{Expr: expr})
		}
	case model.Annotation:
		for _, a := range p.annotation(v) {
			rebuilt = append(rebuilt, a)
		}

		return rebuilt
	case model.Args:
		for _, a := range p.Args(v) {
			rebuilt = append(rebuilt, a)
		}

		return rebuilt
	default:
		panic(fmt.Sprintf("rewrite: unexpected node %T", n))
	}

	if p.After == nil {
		return rebuilt
	}

	var out []model.Node
	for _, r := range rebuilt {
		out = append(out, p.After(r)...)
	}

	return out
}

// Args returns every alternative rewrite of an argument list.
func (p *Pass) Args(a model.Args) []model.Args {
	switch v := a.(type) {
	case model.NoArgs:
		return []model.Args{v}
	case model.EllipsisArgs:
		var out []model.Args
		for _, rest := range p.Args(v.Rest) {
			out = append(out, model.EllipsisArgs{Rest: rest})
		}

		return out
	case model.ArgPrefix:
		var out []model.Args

		for _, arg := range p.Node(v.Arg) {
			for _, rest := range p.Args(v.Rest) {
				out = append(out, model.ArgPrefix{Arg: arg, Rest: rest})
			}
		}

		return out
	}

	panic(fmt.Sprintf("rewrite: unexpected arguments %T", a))
}

func (p *Pass) optional(n model.Node) []model.Node {
	if n == nil {
		return []model.Node{nil}
	}

	return p.Node(n)
}

func (p *Pass) typeName(t model.TypeName) model.TypeName {
	out := model.TypeName{Parts: t.Parts}

	for _, arg := range t.TypeArgs {
		out.TypeArgs = append(out.TypeArgs, p.typeName(arg))
	}

	if p.TypeName != nil {
		return p.TypeName(out)
	}

	return out
}

func (p *Pass) optionalType(t *model.TypeName) *model.TypeName {
	if t == nil {
		return nil
	}

	out := p.typeName(*t)

	return &out
}

func (p *Pass) annotation(a model.Annotation) []model.Annotation {
	name := p.typeName(a.Name)

	var out []model.Annotation

	for _, args := range p.Args(a.Args) {
		rebuilt := model.Annotation{Name: name, Args: args}
		if p.After == nil {
			out = append(out, rebuilt)
			continue
		}

		for _, r := range p.After(rebuilt) {
			ann, ok := r.(model.Annotation)
			if !ok {
				panic(fmt.Sprintf("rewrite: annotation rewritten to %T", r))
			}

			out = append(out, ann)
		}
	}

	return out
}

func (p *Pass) annotations(mods []model.Annotation) [][]model.Annotation {
	options := make([][]model.Annotation, 0, len(mods))
	for _, m := range mods {
		options = append(options, p.annotation(m))
	}

	return cartesian(options)
}

// Rule rewrites every pattern of r. Positive patterns and insides multiply
// into their cartesian product; negated patterns are unioned.
func (p *Pass) Rule(r model.NormalizedRule) []model.NormalizedRule {
	patterns := cartesian(p.each(r.Patterns))
	insides := cartesian(p.each(r.Insides))

	var nots, notInsides []model.Node

	for _, n := range r.Nots {
		nots = append(nots, p.Node(n)...)
	}

	for _, n := range r.NotInsides {
		notInsides = append(notInsides, p.Node(n)...)
	}

	out := make([]model.NormalizedRule, 0, len(patterns)*len(insides))

	for _, ps := range patterns {
		for _, ins := range insides {
			out = append(out, model.NormalizedRule{
				Patterns:   ps,
				Nots:       nots,
				Insides:    ins,
				NotInsides: notInsides,
			})
		}
	}

	return out
}

func (p *Pass) each(nodes []model.Node) [][]model.Node {
	out := make([][]model.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, p.Node(n))
	}

	return out
}

// cartesian picks one element from every option list in order. No lists
// give a single empty combination.
func cartesian[T any](options [][]T) [][]T {
	out := [][]T{nil}

	for _, opts := range options {
		next := make([][]T, 0, len(out)*len(opts))

		for _, prefix := range out {
			for _, o := range opts {
				combo := make([]T, 0, len(prefix)+1)
				combo = append(combo, prefix...)
				combo = append(combo, o)
				next = append(next, combo)
			}
		}

		out = next
	}

	return out
}
