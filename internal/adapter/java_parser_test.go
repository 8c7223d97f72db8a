package adapter

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func concrete(s string) model.Name { return model.ConcreteName{Value: s} }

func mv(s string) model.Name { return model.MetavarName{Value: s} }

func TestJavaPatternParser_Parse(t *testing.T) {
	stringType := model.Simple("String")

	tests := []struct {
		name string
		text string
		want model.Node
	}{
		{
			name: "method call on metavariable",
			text: "$X.equals($Y)",
			want: model.MethodInvocation{
				Method: concrete("equals"),
				Object: model.Metavar{Name: "$X"},
				Args:   model.MakeArgs(model.Metavar{Name: "$Y"}),
			},
		},
		{
			name: "ellipsis arguments",
			text: "request.getParameter(...)",
			want: model.MethodInvocation{
				Method: concrete("getParameter"),
				Object: model.Identifier{Name: "request"},
				Args:   model.EllipsisArgs{Rest: model.NoArgs{}},
			},
		},
		{
			name: "assignment from ellipsis then call",
			text: "$X = ...;\n$X.getName();",
			want: model.Sequence{
				First: model.VariableAssignment{Variable: model.Metavar{Name: "$X"}, Value: model.Ellipsis{}},
				Second: model.MethodInvocation{
					Method: concrete("getName"),
					Object: model.Metavar{Name: "$X"},
					Args:   model.NoArgs{},
				},
			},
		},
		{
			name: "ellipsis line between statements",
			text: "foo();\n...\nbar();",
			want: model.Sequence{
				First: model.Sequence{
					First:  model.MethodInvocation{Method: concrete("foo"), Args: model.NoArgs{}},
					Second: model.Ellipsis{},
				},
				Second: model.MethodInvocation{Method: concrete("bar"), Args: model.NoArgs{}},
			},
		},
		{
			name: "ellipsis line after assignment",
			text: "$X = ...;\n...\n$X.getName();",
			want: model.Sequence{
				First: model.Sequence{
					First:  model.VariableAssignment{Variable: model.Metavar{Name: "$X"}, Value: model.Ellipsis{}},
					Second: model.Ellipsis{},
				},
				Second: model.MethodInvocation{
					Method: concrete("getName"),
					Object: model.Metavar{Name: "$X"},
					Args:   model.NoArgs{},
				},
			},
		},
		{
			name: "typed declaration",
			text: "String $S = $A + \"x\";",
			want: model.VariableAssignment{
				Type:     &stringType,
				Variable: model.Metavar{Name: "$S"},
				Value: model.AddExpr{
					Left:  model.Metavar{Name: "$A"},
					Right: model.StringLiteral{Content: concrete("x")},
				},
			},
		},
		{
			name: "typed metavariable argument",
			text: "foo((String $X), ...)",
			want: model.MethodInvocation{
				Method: concrete("foo"),
				Args: model.MakeArgs(
					model.TypedMetavar{Name: "$X", Type: stringType},
					model.Ellipsis{},
				),
			},
		},
		{
			name: "object creation and string ellipsis",
			text: `new java.io.File("...")`,
			want: model.ObjectCreation{
				Type: model.Simple("java", "io", "File"),
				Args: model.MakeArgs(model.StringEllipsis{}),
			},
		},
		{
			name: "deep expression and return",
			text: "return <... $X ...>;",
			want: model.Return{Value: model.DeepExpr{Expr: model.Metavar{Name: "$X"}}},
		},
		{
			name: "chained ellipsis call",
			text: "$B. ... .build()",
			want: model.MethodInvocation{
				Method: concrete("build"),
				Object: model.EllipsisMethodInvocations{Object: model.Metavar{Name: "$B"}},
				Args:   model.NoArgs{},
			},
		},
		{
			name: "annotated method declaration",
			text: "@RequestMapping(...)\npublic $RET $M(@RequestParam String $P, ...) { ... }",
			want: model.MethodDeclaration{
				Name:       mv("$M"),
				ReturnType: &model.TypeName{Parts: []model.Name{mv("$RET")}},
				Args: model.MakeArgs(
					model.FormalArgument{
						Name: mv("$P"),
						Type: stringType,
						Modifiers: []model.Annotation{
							{Name: model.Simple("RequestParam"), Args: model.NoArgs{}},
						},
					},
					model.Ellipsis{},
				),
				Body: model.Ellipsis{},
				Modifiers: []model.Annotation{
					{Name: model.Simple("RequestMapping"), Args: model.EllipsisArgs{Rest: model.NoArgs{}}},
				},
			},
		},
		{
			name: "class declaration",
			text: "class $C extends HttpServlet { ... }",
			want: model.ClassDeclaration{
				Name:    mv("$C"),
				Extends: &model.TypeName{Parts: []model.Name{concrete("HttpServlet")}},
				Body:    model.Ellipsis{},
			},
		},
		{
			name: "wildcard import",
			text: "import java.sql.*;",
			want: model.Import{Parts: []model.Name{concrete("java"), concrete("sql")}, Concrete: false},
		},
		{
			name: "metavariable string content",
			text: `$LOG.info("$MSG")`,
			want: model.MethodInvocation{
				Method: concrete("info"),
				Object: model.Metavar{Name: "$LOG"},
				Args:   model.MakeArgs(model.StringLiteral{Content: mv("$MSG")}),
			},
		},
	}

	parser := NewJavaPatternParser()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.Parse(tt.text)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestJavaPatternParser_Parse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		msg  string
	}{
		{name: "unbalanced call", text: "foo($X", msg: "expected"},
		{name: "control flow", text: "if ($X) { foo(); }", msg: "control flow"},
		{name: "binary comparison", text: "$X == null", msg: "unsupported operator"},
		{name: "unterminated string", text: `foo("abc)`, msg: "unterminated"},
		{name: "lambda", text: "$X -> foo()", msg: "unsupported operator"},
		{name: "stray character", text: "foo(#)", msg: "unexpected"},
	}

	parser := NewJavaPatternParser()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens, err := tokenize("<... $X.foo($...ARGS) ...> // trailing")
	require.NoError(t, err)

	kinds := make([]tokenKind, 0, len(tokens))
	for _, tok := range tokens {
		kinds = append(kinds, tok.kind)
	}

	assert.Equal(t, []tokenKind{
		tokDeepOpen, tokMetavar, tokPunct, tokIdent, tokPunct, tokEllipsisMetavar, tokPunct, tokDeepClose, tokEOF,
	}, kinds)
	assert.Equal(t, "$...ARGS", tokens[5].text)
}
