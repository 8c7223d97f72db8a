package actions

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func concrete(s string) model.Name { return model.ConcreteName{Value: s} }

func call(obj model.Node, method string, args ...model.Node) model.MethodInvocation {
	return model.MethodInvocation{Method: concrete(method), Object: obj, Args: model.MakeArgs(args...)}
}

func isMetavar(name string) model.IsMetavar {
	return model.IsMetavar{Metavar: model.NewMetavar(name)}
}

func TestBuilder_Build(t *testing.T) {
	x := model.Metavar{Name: "$X"}
	y := model.Metavar{Name: "$Y"}

	tests := []struct {
		name string
		in   model.Node
		want model.ActionList
	}{
		{
			name: "call on metavariable with fixed arity",
			in:   call(x, "equals", y),
			want: model.ActionList{Actions: []model.Action{model.MethodCall{
				Method:         model.ConcreteSignatureName("equals"),
				Params:         model.ConcreteParams{Params: []model.ParamCondition{isMetavar("$Y")}},
				Object:         isMetavar("$X"),
				EnclosingClass: model.AnyTypeName,
			}}},
		},
		{
			name: "local variable receiver is unconstrained",
			in:   call(model.Identifier{Name: "request"}, "getParameter", model.Ellipsis{}),
			want: model.ActionList{Actions: []model.Action{model.MethodCall{
				Method:         model.ConcreteSignatureName("getParameter"),
				Params:         model.PartialParams{},
				EnclosingClass: model.AnyTypeName,
			}}},
		},
		{
			name: "ellipsis alone",
			in:   model.Ellipsis{},
			want: model.ActionList{EllipsisAtStart: true, EllipsisAtEnd: true},
		},
		{
			name: "sequence keeps outer ellipsis flags",
			in: model.Sequence{
				First:  model.Sequence{First: model.Ellipsis{}, Second: call(nil, "f")},
				Second: call(nil, "g"),
			},
			want: model.ActionList{
				Actions: []model.Action{
					model.MethodCall{
						Method:         model.ConcreteSignatureName("f"),
						Params:         model.ConcreteParams{Params: []model.ParamCondition{}},
						EnclosingClass: model.AnyTypeName,
					},
					model.MethodCall{
						Method:         model.ConcreteSignatureName("g"),
						Params:         model.ConcreteParams{Params: []model.ParamCondition{}},
						EnclosingClass: model.AnyTypeName,
					},
				},
				EllipsisAtStart: true,
			},
		},
		{
			name: "arguments after an ellipsis are unanchored",
			in:   call(nil, "exec", model.Ellipsis{}, model.StringLiteral{Content: concrete("sh")}),
			want: model.ActionList{Actions: []model.Action{model.MethodCall{
				Method: model.ConcreteSignatureName("exec"),
				Params: model.PartialParams{Params: []model.ParamPattern{
					{Position: model.AnyPosition("*-1"), Condition: model.StringValue{Value: "sh"}},
				}},
				EnclosingClass: model.AnyTypeName,
			}}},
		},
		{
			name: "hoisted qualifier sets the enclosing class",
			in: call(model.TypedMetavar{Name: "__OBJ#0__", Type: model.Simple("java", "lang", "Runtime")},
				"getRuntime"),
			want: model.ActionList{Actions: []model.Action{model.MethodCall{
				Method:         model.ConcreteSignatureName("getRuntime"),
				Params:         model.ConcreteParams{Params: []model.ParamCondition{}},
				Object:         model.CondTrue{},
				EnclosingClass: model.FullyQualified("java.lang.Runtime"),
			}}},
		},
		{
			name: "nested call is bound to an artificial metavariable",
			in:   call(nil, "exec", call(x, "getParameter")),
			want: model.ActionList{Actions: []model.Action{
				model.MethodCall{
					Method:         model.ConcreteSignatureName("getParameter"),
					Result:         isMetavar("$<ARTIFICIAL>_0"),
					Params:         model.ConcreteParams{Params: []model.ParamCondition{}},
					Object:         isMetavar("$X"),
					EnclosingClass: model.AnyTypeName,
				},
				model.MethodCall{
					Method:         model.ConcreteSignatureName("exec"),
					Params:         model.ConcreteParams{Params: []model.ParamCondition{isMetavar("$<ARTIFICIAL>_0")}},
					EnclosingClass: model.AnyTypeName,
				},
			}},
		},
		{
			name: "assignment binds the result of the value",
			in:   model.VariableAssignment{Variable: x, Value: call(nil, model.GeneratedAnyValue)},
			want: model.ActionList{Actions: []model.Action{model.MethodCall{
				Method:         model.ConcreteSignatureName(model.GeneratedAnyValue),
				Result:         isMetavar("$X"),
				Params:         model.ConcreteParams{Params: []model.ParamCondition{}},
				EnclosingClass: model.AnyTypeName,
			}}},
		},
		{
			name: "constructor call",
			in:   model.ObjectCreation{Type: model.Simple("File"), Args: model.MakeArgs(model.StringEllipsis{})},
			want: model.ActionList{Actions: []model.Action{model.ConstructorCall{
				Class:  model.ClassName("File"),
				Params: model.ConcreteParams{Params: []model.ParamCondition{model.AnyStringLiteral{}}},
			}}},
		},
		{
			name: "class declaration",
			in: model.ClassDeclaration{
				Name:      model.MetavarName{Value: "$C"},
				Modifiers: []model.Annotation{{Name: model.Simple("Controller"), Args: model.NoArgs{}}},
				Body:      model.Ellipsis{},
			},
			want: model.ActionList{
				Actions: []model.Action{model.MethodSignature{
					Method:       model.AnySignatureName,
					Params:       model.PartialParams{},
					ClassMetavar: "$C",
					ClassModifiers: []model.SignatureModifier{{
						Type:  model.ClassName("Controller"),
						Value: model.ModifierValue{Kind: model.NoModifierValue},
					}},
				}},
				EllipsisAtEnd: true,
			},
		},
		{
			name: "method declaration with annotated parameter",
			in: model.MethodDeclaration{
				Name:       model.MetavarName{Value: "$M"},
				ReturnType: &model.TypeName{Parts: []model.Name{model.MetavarName{Value: "$RET"}}},
				Args: model.MakeArgs(
					model.FormalArgument{
						Name: model.MetavarName{Value: "$P"},
						Type: model.Simple("String"),
						Modifiers: []model.Annotation{{
							Name: model.Simple("RequestParam"),
							Args: model.MakeArgs(model.StringLiteral{Content: concrete("id")}),
						}},
					},
					model.Ellipsis{},
				),
				Body: model.Ellipsis{},
			},
			want: model.ActionList{
				Actions: []model.Action{model.MethodSignature{
					Method:            model.MetavarSignatureName("$M"),
					ReturnTypeMetavar: "$RET",
					Params: model.PartialParams{Params: []model.ParamPattern{
						{Position: model.ConcretePosition(0), Condition: model.ParamModifier{Modifier: model.SignatureModifier{
							Type:  model.ClassName("RequestParam"),
							Value: model.ModifierValue{Kind: model.StringModifierValue, Param: "value", Value: "id"},
						}}},
						{Position: model.ConcretePosition(0), Condition: isMetavar("$P")},
						{Position: model.ConcretePosition(0), Condition: model.TypeIs{Type: model.ClassName("String")}},
					}},
				}},
				EllipsisAtEnd: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBuilder().Build(tt.in)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Build mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuilder_Build_Failures(t *testing.T) {
	x := model.Metavar{Name: "$X"}

	tests := []struct {
		name   string
		in     model.Node
		reason string
	}{
		{name: "bare metavariable root", in: x, reason: "Root pattern is: Metavar"},
		{name: "field read inside call", in: call(nil, "f", model.FieldAccess{Field: concrete("a"), Object: x}), reason: "FieldAccess"},
		{name: "assignment to field", in: model.VariableAssignment{
			Variable: model.FieldAccess{Field: concrete("a"), Object: x}, Value: call(nil, "f"),
		}, reason: "VariableAssignment_variable_not_metavar"},
		{name: "assignment from metavariable", in: model.VariableAssignment{Variable: x, Value: model.Metavar{Name: "$Y"}}, reason: "Metavar"},
		{name: "class with concrete name", in: model.ClassDeclaration{Name: concrete("Foo"), Body: model.Ellipsis{}}, reason: "ClassDeclaration_name_is_not_metavar"},
		{name: "class with body", in: model.ClassDeclaration{Name: model.MetavarName{Value: "$C"}, Body: call(nil, "f")}, reason: "ClassDeclaration_non-empty_class_declaration"},
		{name: "generic type", in: model.ObjectCreation{
			Type: model.TypeName{Parts: []model.Name{concrete("List")}, TypeArgs: []model.TypeName{model.Simple("String")}},
			Args: model.NoArgs{},
		}, reason: "TypeName_with_type_args"},
		{name: "lowercase simple type", in: model.ObjectCreation{Type: model.Simple("foo"), Args: model.NoArgs{}}, reason: "TypeName_concrete_unexpected"},
		{name: "annotation with two arguments", in: model.ClassDeclaration{
			Name:      model.MetavarName{Value: "$C"},
			Modifiers: []model.Annotation{{Name: model.Simple("A"), Args: model.MakeArgs(x, x)}},
			Body:      model.Ellipsis{},
		}, reason: "Annotation_multiple_args"},
		{name: "two unanchored arguments", in: call(nil, "f", model.Ellipsis{}, x, model.Metavar{Name: "$Y"}), reason: "Multiple any params"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()

			_, err := b.Build(tt.in)
			require.Error(t, err)

			var terr *TransformationError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.reason, terr.Reason)
			assert.Equal(t, map[string]int{tt.reason: 1}, b.Failures())
		})
	}
}

func TestBuilder_ArtificialMetavarsAreFresh(t *testing.T) {
	x := model.Metavar{Name: "$X"}
	b := NewBuilder()

	first, err := b.Build(call(nil, "f", call(x, "a")))
	require.NoError(t, err)

	second, err := b.Build(call(nil, "g", call(x, "b")))
	require.NoError(t, err)

	assert.Equal(t, isMetavar("$<ARTIFICIAL>_0"), first.Actions[0].ResultCondition())
	assert.Equal(t, isMetavar("$<ARTIFICIAL>_1"), second.Actions[0].ResultCondition())
}
