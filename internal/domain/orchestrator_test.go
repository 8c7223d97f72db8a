package domain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/model"
)

func writeRuleFile(t *testing.T, dir, name, content string) adapter.RuleFile {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)

	return adapter.RuleFile{Path: model.Path(path), RuleSet: filepath.ToSlash(rel[:len(rel)-len(filepath.Ext(rel))])}
}

func newTestOrchestrator() (Orchestrator, *Session) {
	session := NewSession(adapter.NewJavaPatternParser())
	compiler := NewCompiler(session, DefaultRuleTimeout)

	return NewOrchestrator(adapter.NewLocalRuleFSAdapter(), adapter.NewYAMLRuleLoader(), compiler, session), session
}

func TestOrchestrator_CompileFile(t *testing.T) {
	t.Run("broken rule does not affect siblings", func(t *testing.T) {
		file := writeRuleFile(t, t.TempDir(), "java/mixed.yaml", compilerRuleSet)
		orchestrator, session := newTestOrchestrator()

		result, err := orchestrator.CompileFile(context.Background(), file)
		require.NoError(t, err)

		require.Len(t, result.Outcomes, 3)
		assert.Equal(t, session.ID, result.Config.Session)
		assert.Equal(t, session.ID, result.Diagnostics.Session)
		assert.Equal(t, "java/mixed", result.Diagnostics.RuleSet)

		compiled := map[string]bool{}
		for _, o := range result.Outcomes {
			assert.Equal(t, "java/mixed", o.RuleSet)
			compiled[o.Diagnostics.IDInFile] = o.Compiled()
		}

		assert.Equal(t, map[string]bool{"equals": true, "broken": false, "sqli": true}, compiled)
		assert.ElementsMatch(t, []string{"java/mixed:equals", "java/mixed:sqli"}, result.Config.RuleIDs)

		require.Len(t, result.Diagnostics.Rules, 3)
		assert.NotEmpty(t, findDiagnostics(result.Diagnostics.Rules[1].Items, model.StepParsePattern, model.ReasonError))
	})

	t.Run("non-java rules are skipped", func(t *testing.T) {
		const content = `
rules:
  - id: go-only
    languages: [go]
    message: ignored
    severity: INFO
    pattern: foo()
`

		file := writeRuleFile(t, t.TempDir(), "go.yaml", content)
		orchestrator, _ := newTestOrchestrator()

		result, err := orchestrator.CompileFile(context.Background(), file)
		require.NoError(t, err)

		assert.Empty(t, result.Outcomes)
		assert.Zero(t, result.Config.Len())
		require.Len(t, result.Diagnostics.Rules, 1)
		assert.Equal(t, "go:go-only", result.Diagnostics.Rules[0].RuleID)
	})

	t.Run("malformed yaml is a file-level error", func(t *testing.T) {
		file := writeRuleFile(t, t.TempDir(), "bad.yaml", "rules: [\n")
		orchestrator, _ := newTestOrchestrator()

		result, err := orchestrator.CompileFile(context.Background(), file)
		require.NoError(t, err)

		require.Len(t, result.Diagnostics.Items, 1)
		d := result.Diagnostics.Items[0]
		assert.Equal(t, model.StepLoadRuleset, d.Step)
		assert.Equal(t, model.ReasonError, d.Reason)
		assert.Contains(t, d.Message, `Failed to load rule set from yaml "bad"`)
		assert.Empty(t, result.Diagnostics.Rules)
	})

	t.Run("missing file returns error", func(t *testing.T) {
		orchestrator, _ := newTestOrchestrator()

		_, err := orchestrator.CompileFile(context.Background(), adapter.RuleFile{
			Path:    model.Path(filepath.Join(t.TempDir(), "missing.yaml")),
			RuleSet: "missing",
		})
		require.Error(t, err)
	})

	t.Run("canceled context stops compilation", func(t *testing.T) {
		file := writeRuleFile(t, t.TempDir(), "rules.yaml", compilerRuleSet)
		orchestrator, _ := newTestOrchestrator()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := orchestrator.CompileFile(ctx, file)
		require.ErrorIs(t, err, context.Canceled)
	})
}
