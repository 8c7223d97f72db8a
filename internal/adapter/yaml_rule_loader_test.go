package adapter

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

const taintRuleSet = `
rules:
  - id: sqli
    languages: [Java]
    mode: taint
    message: SQL injection
    severity: ERROR
    metadata:
      cwe:
        - "CWE-89: Improper Neutralization of Special Elements used in an SQL Command"
        - "not a cwe"
    pattern-sources:
      - label: USER
        pattern: request.getParameter(...)
    pattern-sinks:
      - requires: USER
        patterns:
          - pattern: $STMT.execute($Q)
          - focus-metavariable: $Q
    pattern-propagators:
      - from: $A
        to: $B
        pattern: $B.append($A)
    pattern-sanitizers:
      - pattern: escape(...)
  - id: go-only
    languages: [go]
    message: ignored
    severity: INFO
    pattern: foo()
`

func TestYAMLRuleLoader_Load_Taint(t *testing.T) {
	set, err := NewYAMLRuleLoader().Load("rules/java/sqli.yaml", "java/sqli", []byte(taintRuleSet))
	require.NoError(t, err)

	require.Len(t, set.Rules, 1)
	require.Len(t, set.Skipped, 1)

	rule := set.Rules[0]
	assert.Equal(t, "java/sqli:sqli", rule.ID)
	assert.Equal(t, "sqli", rule.IDInFile)
	assert.Equal(t, model.SeverityError, rule.Severity)
	assert.Equal(t, []int{89}, rule.CWE)

	want := model.RuleSpec[model.Formula]{
		Mode: model.TaintMode,
		Sources: []model.TaintSource[model.Formula]{
			{Label: "USER", Pattern: model.PatternLeaf{Pattern: "request.getParameter(...)"}},
		},
		Sinks: []model.TaintSink[model.Formula]{
			{Requires: "USER", Pattern: model.AllOf{Children: []model.Formula{
				model.PatternLeaf{Pattern: "$STMT.execute($Q)"},
				model.AllOf{Children: []model.Formula{model.MetavarFocus{Name: "$Q"}}},
			}}},
		},
		Propagators: []model.TaintPropagator[model.Formula]{
			{From: "$A", To: "$B", Pattern: model.PatternLeaf{Pattern: "$B.append($A)"}},
		},
		Sanitizers: []model.Formula{model.PatternLeaf{Pattern: "escape(...)"}},
	}

	if diff := cmp.Diff(want, rule.Spec); diff != "" {
		t.Errorf("Spec mismatch (-want +got):\n%s", diff)
	}

	skipped := set.Skipped[0]
	assert.Equal(t, "java/sqli:go-only", skipped.RuleID)
	require.Len(t, skipped.Items, 1)
	assert.Equal(t, model.StepLoadRuleset, skipped.Items[0].Step)
	assert.Equal(t, model.ReasonError, skipped.Items[0].Reason)
	assert.Equal(t, "Unsupported rule", skipped.Items[0].Message)
}

func TestYAMLRuleLoader_Load_ComplexPatterns(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want model.Formula
	}{
		{
			name: "single pattern",
			yaml: `pattern: $X.equals($Y)`,
			want: model.PatternLeaf{Pattern: "$X.equals($Y)"},
		},
		{
			name: "either",
			yaml: "pattern-either:\n  - pattern: a()\n  - pattern: b()",
			want: model.AnyOf{Children: []model.Formula{model.PatternLeaf{Pattern: "a()"}, model.PatternLeaf{Pattern: "b()"}}},
		},
		{
			name: "inside, not and not-inside",
			yaml: `patterns:
  - pattern-inside: |
      class $C { ... }
  - pattern-not:
      pattern: safe($X)
  - pattern-not-inside: if (...) { ... }
  - pattern: sink($X)`,
			want: model.AllOf{Children: []model.Formula{
				model.Inside{Child: model.PatternLeaf{Pattern: "class $C { ... }\n"}},
				model.Not{Child: model.PatternLeaf{Pattern: "safe($X)"}},
				model.Not{Child: model.Inside{Child: model.PatternLeaf{Pattern: "if (...) { ... }"}}},
				model.PatternLeaf{Pattern: "sink($X)"},
			}},
		},
		{
			name: "scalar inside and focus",
			yaml: "patterns:\n  - pattern-inside: foo()\n  - pattern: bar($Q)\n  - focus-metavariable: $Q",
			want: model.AllOf{Children: []model.Formula{
				model.Inside{Child: model.PatternLeaf{Pattern: "foo()"}},
				model.PatternLeaf{Pattern: "bar($Q)"},
				model.AllOf{Children: []model.Formula{model.MetavarFocus{Name: "$Q"}}},
			}},
		},
		{
			name: "metavariable constraints",
			yaml: `patterns:
  - pattern: $T.exec($X)
  - metavariable-pattern:
      metavariable: $T
      pattern: java.lang.Runtime
  - metavariable-regex:
      metavariable: $X
      regex: ^cmd
  - metavariable-comparison:
      metavariable: $X
      comparison: $X > 1
  - pattern-not-regex: test
  - focus-metavariable: [$X, $T]`,
			want: model.AllOf{Children: []model.Formula{
				model.PatternLeaf{Pattern: "$T.exec($X)"},
				model.MetavarPattern{Name: "$T", Formula: model.PatternLeaf{Pattern: "java.lang.Runtime"}},
				model.MetavarRegex{Name: "$X", Regex: "^cmd"},
				model.MetavarComparison{Name: "$X", Comparison: "$X > 1"},
				model.Not{Child: model.PatternRegex{Pattern: "test"}},
				model.AllOf{Children: []model.Formula{model.MetavarFocus{Name: "$X"}, model.MetavarFocus{Name: "$T"}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "rules:\n  - id: r\n    languages: [java]\n    message: m\n    severity: WARNING\n" + indent(tt.yaml, "    ")

			set, err := NewYAMLRuleLoader().Load("r.yaml", "r", []byte(content))
			require.NoError(t, err)
			require.Len(t, set.Rules, 1)

			spec := set.Rules[0].Spec
			assert.Equal(t, model.SearchMode, spec.Mode)
			assert.Equal(t, model.SeverityWarning, set.Rules[0].Severity)

			require.Len(t, spec.Matching, 1)

			if diff := cmp.Diff(tt.want, spec.Matching[0]); diff != "" {
				t.Errorf("formula mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestYAMLRuleLoader_Load_Errors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := NewYAMLRuleLoader().Load("bad.yaml", "bad", []byte("rules: [\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedRuleSet))
	})

	t.Run("rule without pattern is skipped", func(t *testing.T) {
		content := "rules:\n  - id: empty\n    languages: [java]\n    message: m\n    severity: INFO\n"

		set, err := NewYAMLRuleLoader().Load("e.yaml", "e", []byte(content))
		require.NoError(t, err)
		assert.Empty(t, set.Rules)
		require.Len(t, set.Skipped, 1)
		assert.Contains(t, set.Skipped[0].Items[0].Message, "no pattern")
	})
}

func TestCWEInfo(t *testing.T) {
	content := "rules:\n  - id: r\n    languages: [java]\n    message: m\n    severity: low\n    pattern: a()\n    metadata:\n      CWE: cwe-78 OS command injection\n"

	set, err := NewYAMLRuleLoader().Load("r.yaml", "r", []byte(content))
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)

	assert.Equal(t, []int{78}, set.Rules[0].CWE)
	assert.Equal(t, model.SeverityNote, set.Rules[0].Severity)
}

func indent(s, prefix string) string {
	out := prefix
	for _, r := range s {
		out += string(r)
		if r == '\n' {
			out += prefix
		}
	}

	return out + "\n"
}
