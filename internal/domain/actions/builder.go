// Package actions linearizes rewritten pattern trees into action lists: the
// calls, constructor calls and method signatures a match has to pass
// through, in order.
package actions

import (
	"fmt"
	"strings"
	"unicode"

	"semtaint.dev/pkg/semtaint/internal/domain/rewrite"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// TransformationError reports a pattern shape without an action-list form.
// Reason is stable across runs and is used to count failures by kind.
type TransformationError struct {
	Reason string
}

func (e *TransformationError) Error() string {
	return "failed transformation to action list: " + e.Reason
}

type transformationFailed struct{ reason string }

func fail(format string, args ...any) {
	panic(transformationFailed{reason: fmt.Sprintf(format, args...)})
}

var primitiveTypes = map[string]bool{
	"byte": true, "short": true, "char": true, "int": true, "long": true,
	"float": true, "double": true, "boolean": true,
}

// Builder converts patterns to action lists. Nested calls are bound to
// fresh artificial metavariables whose numbering is local to the builder.
// A Builder is not safe for concurrent use.
type Builder struct {
	nextArtificial int
	failures       map[string]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{failures: make(map[string]int)}
}

// Failures returns the number of failed conversions per reason.
func (b *Builder) Failures() map[string]int {
	out := make(map[string]int, len(b.failures))
	for k, v := range b.failures {
		out[k] = v
	}

	return out
}

// Build linearizes n. Unsupported shapes yield a *TransformationError.
func (b *Builder) Build(n model.Node) (list model.ActionList, err error) {
	defer func() {
		if r := recover(); r != nil {
			tf, ok := r.(transformationFailed)
			if !ok {
				panic(r)
			}

			b.failures[tf.reason]++
			list, err = model.ActionList{}, &TransformationError{Reason: tf.reason}
		}
	}()

	return b.pattern(n, true), nil
}

func (b *Builder) artificialMetavar() model.MetavarAtom {
	name := fmt.Sprintf("$<ARTIFICIAL>_%d", b.nextArtificial)
	b.nextArtificial++

	return model.NewMetavar(name)
}

func nodeKind(n model.Node) string {
	name := fmt.Sprintf("%T", n)
	return name[strings.LastIndex(name, ".")+1:]
}

func (b *Builder) pattern(n model.Node, root bool) model.ActionList {
	switch v := n.(type) {
	case model.Ellipsis:
		return model.ActionList{EllipsisAtStart: true, EllipsisAtEnd: true}
	case model.Sequence:
		first := b.pattern(v.First, false)
		second := b.pattern(v.Second, false)

		return model.ActionList{
			Actions:         append(append([]model.Action(nil), first.Actions...), second.Actions...),
			EllipsisAtStart: first.EllipsisAtStart,
			EllipsisAtEnd:   second.EllipsisAtEnd,
		}
	case model.MethodInvocation:
		return b.methodInvocation(v)
	case model.ObjectCreation:
		return b.objectCreation(v)
	case model.VariableAssignment:
		return b.variableAssignment(v)
	case model.MethodDeclaration:
		return b.methodDeclaration(v)
	case model.ClassDeclaration:
		return b.classDeclaration(v)
	case model.EllipsisMethodInvocations:
		return b.ellipsisMethodInvocations(v)
	}

	if root {
		fail("Root pattern is: %s", nodeKind(n))
	}

	fail("%s", nodeKind(n))

	return model.ActionList{}
}

// paramCondition expresses n directly as a condition on a value, or returns
// nil when n needs actions of its own.
func (b *Builder) paramCondition(n model.Node) model.ParamCondition {
	switch v := n.(type) {
	case model.BoolLiteral:
		return model.BoolValue{Value: v.Value}
	case model.StringLiteral:
		switch c := v.Content.(type) {
		case model.ConcreteName:
			return model.StringValue{Value: c.Value}
		case model.MetavarName:
			return model.StringValueMetavar{Metavar: model.NewMetavar(c.Value)}
		}
	case model.StringEllipsis:
		return model.AnyStringLiteral{}
	case model.Metavar:
		return model.IsMetavar{Metavar: model.NewMetavar(v.Name)}
	case model.TypedMetavar:
		if rewrite.IsObjectMetavar(v.Name) {
			return model.CondTrue{}
		}

		return model.MkAnd(model.IsMetavar{Metavar: model.NewMetavar(v.Name)}, model.TypeIs{Type: typeName(v.Type)})
	case model.StaticFieldAccess:
		field, ok := v.Field.(model.ConcreteName)
		if !ok {
			fail("Static field name is metavar")
		}

		return model.StaticFieldValue{Field: field.Value, Class: typeName(v.Class)}
	}

	return nil
}

// paramConditionWithActions is paramCondition extended to nested calls: the
// last action of the nested list is bound to an artificial metavariable
// that becomes the condition. A nil condition means "any value".
func (b *Builder) paramConditionWithActions(n model.Node) ([]model.Action, model.ParamCondition) {
	if c := b.paramCondition(n); c != nil {
		return nil, c
	}

	nested := b.pattern(n, false)
	if len(nested.Actions) == 0 {
		return nil, nil
	}

	mv := model.IsMetavar{Metavar: b.artificialMetavar()}

	out := append([]model.Action(nil), nested.Actions[:len(nested.Actions)-1]...)
	out = append(out, withResult(nested.Actions[len(nested.Actions)-1], mv))

	return out, mv
}

func withResult(a model.Action, c model.ParamCondition) model.Action {
	if _, ok := a.(model.MethodSignature); ok {
		fail("MethodSignature_result")
	}

	if a.ResultCondition() != nil {
		fail("Result_already_bound")
	}

	return a.WithResult(c)
}

func typeName(t model.TypeName) model.TypeNamePattern {
	if len(t.TypeArgs) > 0 {
		fail("TypeName_with_type_args")
	}

	if len(t.Parts) == 1 {
		if mv, ok := t.Parts[0].(model.MetavarName); ok {
			return model.TypeMetavar(mv.Value)
		}
	}

	names, ok := rewrite.ConcreteNames(t.Parts)
	if !ok {
		fail("TypeName_non_concrete_unsupported")
	}

	if len(names) > 1 {
		return model.FullyQualified(strings.Join(names, "."))
	}

	name := names[0]

	switch {
	case startsUpper(name):
		return model.ClassName(name)
	case primitiveTypes[name]:
		return model.Primitive(name)
	}

	fail("TypeName_concrete_unexpected")

	return model.TypeNamePattern{}
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}

	return false
}

func objectClass(obj model.Node) (model.TypeNamePattern, bool) {
	tm, ok := obj.(model.TypedMetavar)
	if !ok {
		return model.TypeNamePattern{}, false
	}

	return typeName(tm.Type), true
}

func (b *Builder) methodInvocation(n model.MethodInvocation) model.ActionList {
	var method model.SignatureName

	switch name := n.Method.(type) {
	case model.ConcreteName:
		method = model.ConcreteSignatureName(name.Value)
	case model.MetavarName:
		method = model.MetavarSignatureName(name.Value)
	}

	var (
		list   []model.Action
		object model.ParamCondition
		class  = model.AnyTypeName
	)

	if n.Object != nil {
		if c, ok := objectClass(n.Object); ok {
			class = c
		}

		actions, cond := b.receiver(n.Object)
		list = append(list, actions...)
		object = cond
	}

	argActions, params := b.params(n.Args)
	list = append(list, argActions...)

	list = append(list, model.MethodCall{
		Method:         method,
		Params:         params,
		Object:         object,
		EnclosingClass: class,
	})

	return model.ActionList{Actions: list}
}

// receiver converts the object of a call. A plain local variable name
// cannot be bound to a value, so it leaves the receiver unconstrained.
func (b *Builder) receiver(obj model.Node) ([]model.Action, model.ParamCondition) {
	switch obj.(type) {
	case model.Ellipsis:
		fail("MethodInvocation_obj: %s", nodeKind(obj))
	case model.Identifier:
		return nil, nil
	}

	return b.paramConditionWithActions(obj)
}

func (b *Builder) ellipsisMethodInvocations(n model.EllipsisMethodInvocations) model.ActionList {
	class := model.AnyTypeName
	if c, ok := objectClass(n.Object); ok {
		class = c
	}

	actions, object := b.receiver(n.Object)

	list := append([]model.Action(nil), actions...)
	list = append(list, model.MethodCall{
		Method:         model.AnySignatureName,
		Params:         model.PartialParams{},
		Object:         object,
		EnclosingClass: class,
	})

	return model.ActionList{Actions: list}
}

// params walks an argument list. Positions are concrete until the first
// ellipsis; after it they become "some argument" and the constraint turns
// partial.
func (b *Builder) params(args model.Args) ([]model.Action, model.ParamConstraint) {
	var (
		actions  []model.Action
		patterns []model.ParamPattern
		concrete = true
	)

	for i, arg := range model.ArgList(args) {
		if _, ok := arg.(model.Ellipsis); ok {
			concrete = false
			continue
		}

		if _, ok := arg.(model.EllipsisMetavar); ok {
			fail("ParamCondition: %s", nodeKind(arg))
		}

		argActions, cond := b.paramConditionWithActions(arg)
		actions = append(actions, argActions...)

		pos := model.ConcretePosition(i)
		if !concrete {
			pos = model.AnyPosition(fmt.Sprintf("*-%d", i))
		}

		if cond == nil {
			cond = model.CondTrue{}
		}

		if _, isTrue := cond.(model.CondTrue); isTrue && pos.IsAny() {
			continue
		}

		patterns = append(patterns, model.ParamPattern{Position: pos, Condition: cond})
	}

	if concrete {
		conds := make([]model.ParamCondition, 0, len(patterns))
		for _, p := range patterns {
			conds = append(conds, p.Condition)
		}

		return actions, model.ConcreteParams{Params: conds}
	}

	anyCount := 0

	for _, p := range patterns {
		if p.Position.IsAny() {
			anyCount++
		}
	}

	if anyCount > 1 {
		fail("Multiple any params")
	}

	return actions, model.PartialParams{Params: patterns}
}

func (b *Builder) variableAssignment(n model.VariableAssignment) model.ActionList {
	if _, ok := n.Variable.(model.Ellipsis); ok {
		fail("VariableAssignment_ellipsis_variable")
	}

	var conds []model.ParamCondition

	if n.Type != nil {
		conds = append(conds, model.TypeIs{Type: typeName(*n.Type)})
	}

	switch v := n.Variable.(type) {
	case model.Metavar:
		conds = append(conds, model.IsMetavar{Metavar: model.NewMetavar(v.Name)})
	case model.TypedMetavar:
		conds = append(conds,
			model.IsMetavar{Metavar: model.NewMetavar(v.Name)},
			model.TypeIs{Type: typeName(v.Type)},
		)
	default:
		fail("VariableAssignment_variable_not_metavar")
	}

	if n.Value == nil {
		fail("VariableAssignment_nothing_to_assign")
	}

	value := b.pattern(n.Value, false)
	if len(value.Actions) == 0 {
		fail("VariableAssignment_nothing_to_assign")
	}

	last := len(value.Actions) - 1

	list := append([]model.Action(nil), value.Actions[:last]...)
	list = append(list, withResult(value.Actions[last], model.MkAnd(conds...)))

	return model.ActionList{Actions: list}
}

func (b *Builder) objectCreation(n model.ObjectCreation) model.ActionList {
	class := typeName(n.Type)
	actions, params := b.params(n.Args)

	list := append([]model.Action(nil), actions...)
	list = append(list, model.ConstructorCall{Class: class, Params: params})

	return model.ActionList{Actions: list}
}

func (b *Builder) classDeclaration(n model.ClassDeclaration) model.ActionList {
	if _, ok := n.Body.(model.Ellipsis); !ok {
		fail("ClassDeclaration_non-empty_class_declaration")
	}

	if n.Extends != nil {
		fail("ClassDeclaration_non-null_extends")
	}

	if len(n.Implements) > 0 {
		fail("ClassDeclaration_non-empty_implements")
	}

	name, ok := n.Name.(model.MetavarName)
	if !ok {
		fail("ClassDeclaration_name_is_not_metavar")
	}

	return model.ActionList{
		Actions: []model.Action{model.MethodSignature{
			Method:         model.AnySignatureName,
			Params:         model.PartialParams{},
			ClassMetavar:   name.Value,
			ClassModifiers: modifiers(n.Modifiers),
		}},
		EllipsisAtEnd: true,
	}
}

func (b *Builder) methodDeclaration(n model.MethodDeclaration) model.ActionList {
	body := b.pattern(n.Body, false)

	name, ok := n.Name.(model.MetavarName)
	if !ok {
		fail("MethodDeclaration_name_not_metavar")
	}

	var returnType string

	if n.ReturnType != nil {
		if len(n.ReturnType.TypeArgs) > 0 {
			fail("MethodDeclaration_return_type_with_type_args")
		}

		mv, isMetavar := n.ReturnType.Parts[0].(model.MetavarName)
		if len(n.ReturnType.Parts) != 1 || !isMetavar {
			fail("MethodDeclaration_return_type_not_metavar")
		}

		returnType = mv.Value
	}

	var (
		params   []model.ParamPattern
		concrete = true
	)

	for i, p := range model.ArgList(n.Args) {
		switch arg := p.(type) {
		case model.Ellipsis:
			concrete = false
		case model.FormalArgument:
			pos := model.ConcretePosition(i)
			if !concrete {
				pos = model.AnyPosition(fmt.Sprintf("*-%d", i))
			}

			for _, m := range modifiers(arg.Modifiers) {
				params = append(params, model.ParamPattern{Position: pos, Condition: model.ParamModifier{Modifier: m}})
			}

			paramName, isMetavar := arg.Name.(model.MetavarName)
			if !isMetavar {
				fail("MethodDeclaration_param_name_not_metavar")
			}

			params = append(params,
				model.ParamPattern{Position: pos, Condition: model.IsMetavar{Metavar: model.NewMetavar(paramName.Value)}},
				model.ParamPattern{Position: pos, Condition: model.TypeIs{Type: typeName(arg.Type)}},
			)
		default:
			fail("MethodDeclaration_parameters_not_extracted")
		}
	}

	signature := model.MethodSignature{
		Method:            model.MetavarSignatureName(name.Value),
		ReturnTypeMetavar: returnType,
		Params:            model.PartialParams{Params: params},
		Modifiers:         modifiers(n.Modifiers),
	}

	return model.ActionList{
		Actions:       append([]model.Action{signature}, body.Actions...),
		EllipsisAtEnd: body.EllipsisAtEnd,
	}
}

func modifiers(annotations []model.Annotation) []model.SignatureModifier {
	if len(annotations) == 0 {
		return nil
	}

	out := make([]model.SignatureModifier, 0, len(annotations))
	for _, a := range annotations {
		out = append(out, annotation(a))
	}

	return out
}

func annotation(a model.Annotation) model.SignatureModifier {
	m := model.SignatureModifier{Type: typeName(a.Name)}
	args := model.ArgList(a.Args)

	switch len(args) {
	case 0:
		m.Value = model.ModifierValue{Kind: model.NoModifierValue}
	case 1:
		switch arg := args[0].(type) {
		case model.NamedValue:
			param, ok := arg.Name.(model.ConcreteName)
			if !ok {
				fail("Annotation_argument_parameter_is_not_concrete")
			}

			m.Value = annotationValue(arg.Value, param.Value)
		case model.Ellipsis:
			m.Value = model.ModifierValue{Kind: model.AnyModifierValue}
		default:
			m.Value = annotationValue(arg, "value")
		}
	default:
		fail("Annotation_multiple_args")
	}

	return m
}

func annotationValue(n model.Node, param string) model.ModifierValue {
	switch v := n.(type) {
	case model.StringLiteral:
		c, ok := v.Content.(model.ConcreteName)
		if !ok {
			fail("Annotation_argument_is_string_with_meta_var")
		}

		return model.ModifierValue{Kind: model.StringModifierValue, Param: param, Value: c.Value}
	case model.StringEllipsis:
		return model.ModifierValue{Kind: model.PatternModifierValue, Param: param, Value: ".*"}
	case model.Metavar:
		return model.ModifierValue{Kind: model.MetavarModifierValue, Param: param, Value: v.Name}
	}

	fail("Annotation_argument_is_not_string_or_metavar")

	return model.ModifierValue{}
}
