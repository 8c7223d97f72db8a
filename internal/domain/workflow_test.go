package domain

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/controller"
	controllermocks "semtaint.dev/pkg/semtaint/internal/controller/mocks"
	"semtaint.dev/pkg/semtaint/internal/model"
)

const secondRuleSet = `
rules:
  - id: exec
    languages: [java]
    message: command execution
    severity: ERROR
    pattern: $R.exec($CMD)
`

func newTestWorkflow(t *testing.T, ui controller.UI) Workflow {
	t.Helper()

	fs := adapter.NewLocalRuleFSAdapter()
	session := NewSession(adapter.NewJavaPatternParser())
	orchestrator := NewOrchestrator(fs, adapter.NewYAMLRuleLoader(), NewCompiler(session, DefaultRuleTimeout), session)

	return NewWorkflow(fs, adapter.NewJSONConfigStore(fs), ui, orchestrator, session)
}

func newSimpleUI() (controller.UI, *bytes.Buffer) {
	var out bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	return controller.NewSimpleUI(cmd), &out
}

func TestWorkflow_Compile(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := t.TempDir()
	writeRuleFile(t, rules, "java/mixed.yaml", compilerRuleSet)
	writeRuleFile(t, rules, "java/exec.yml", secondRuleSet)
	writeRuleFile(t, rules, "skip/ignored.yaml", secondRuleSet)

	output := t.TempDir()
	ui, buf := newSimpleUI()
	wf := newTestWorkflow(t, ui)

	summary, err := wf.Compile(context.Background(), CompileArgs{
		Paths:    []model.Path{model.Path(rules + "/...")},
		Exclude:  []string{"skip/*"},
		Output:   model.Path(output),
		Parallel: 2,
		SpillDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.Session)
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 4, summary.Rules)
	assert.Equal(t, 3, summary.Compiled)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, 1, summary.Stats.RuleParsingFailure)
	assert.Positive(t, summary.TaintRules)
	assert.Positive(t, summary.Errors)

	for _, name := range []string{
		"java.mixed.config.json", "java.mixed.diagnostics.json",
		"java.exec.config.json", "java.exec.diagnostics.json",
	} {
		assert.FileExists(t, filepath.Join(output, name))
	}

	assert.NoFileExists(t, filepath.Join(output, "skip.ignored.config.json"))

	store := adapter.NewJSONConfigStore(adapter.NewLocalRuleFSAdapter())

	cfg, err := store.LoadConfig(model.Path(filepath.Join(output, "java.mixed.config.json")))
	require.NoError(t, err)
	assert.Equal(t, summary.Session, cfg.Session)
	assert.ElementsMatch(t, []string{"java/mixed:equals", "java/mixed:sqli"}, cfg.RuleIDs)

	diags, err := store.LoadDiagnostics(model.Path(filepath.Join(output, "java.mixed.diagnostics.json")))
	require.NoError(t, err)
	assert.Equal(t, "java/mixed", diags.RuleSet)
	assert.Len(t, diags.Rules, 3)

	assert.Contains(t, buf.String(), "Compiling 2 rule file(s) with 2 worker(s)")
	assert.Contains(t, buf.String(), "Rules: 3 compiled, 1 without output, 0 skipped")
}

func TestWorkflow_Compile_NoRuleFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	ui := controllermocks.NewMockUI(t)
	wf := newTestWorkflow(t, ui)

	_, err := wf.Compile(context.Background(), CompileArgs{
		Paths:  []model.Path{model.Path(t.TempDir())},
		Output: model.Path(t.TempDir()),
	})

	require.ErrorIs(t, err, adapter.ErrNoRuleFiles)
}

func TestWorkflow_Compile_UICalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := t.TempDir()
	writeRuleFile(t, rules, "exec.yaml", secondRuleSet)

	ui := controllermocks.NewMockUI(t)
	ui.On("Start", mock.Anything, mock.Anything).Return(nil).Once()
	ui.On("DisplayCompileInfo", mock.Anything, 1, 1, mock.AnythingOfType("string")).Once()
	ui.On("DisplayStartingFile", mock.Anything, "exec").Once()
	ui.On("DisplayCompletedFile", mock.Anything, mock.MatchedBy(func(d model.FileDiagnostics) bool {
		return d.RuleSet == "exec"
	}), mock.AnythingOfType("int")).Once()
	ui.On("DisplaySummary", mock.Anything, mock.MatchedBy(func(s model.CompileSummary) bool {
		return s.Files == 1 && s.Rules == 1 && s.Compiled == 1
	})).Once()
	ui.On("Wait", mock.Anything).Once()
	ui.On("Close", mock.Anything).Once()

	wf := newTestWorkflow(t, ui)

	_, err := wf.Compile(context.Background(), CompileArgs{
		Paths:  []model.Path{model.Path(rules)},
		Output: model.Path(t.TempDir()),
	})
	require.NoError(t, err)
}

func TestWorkflow_Compile_UnwritableOutput(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := t.TempDir()
	writeRuleFile(t, rules, "exec.yaml", secondRuleSet)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	ui := controllermocks.NewMockUI(t)
	ui.On("Start", mock.Anything, mock.Anything).Return(nil)
	ui.On("DisplayCompileInfo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ui.On("DisplayStartingFile", mock.Anything, mock.Anything)
	ui.On("Close", mock.Anything).Once()

	wf := newTestWorkflow(t, ui)

	_, err := wf.Compile(context.Background(), CompileArgs{
		Paths:  []model.Path{model.Path(rules)},
		Output: model.Path(filepath.Join(blocker, "out")),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save config")
}

func TestWorkflow_List(t *testing.T) {
	rules := t.TempDir()
	writeRuleFile(t, rules, "java/mixed.yaml", compilerRuleSet)
	writeRuleFile(t, rules, "broken.yaml", "rules: [\n")

	t.Run("shows rules and skips malformed files", func(t *testing.T) {
		ui, buf := newSimpleUI()
		wf := newTestWorkflow(t, ui)

		err := wf.List(context.Background(), ListArgs{Paths: []model.Path{model.Path(rules + "/...")}})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "java/mixed:equals")
		assert.Contains(t, out, "java/mixed:sqli")
		assert.Contains(t, out, "taint")
	})

	t.Run("missing path fails", func(t *testing.T) {
		ui, buf := newSimpleUI()
		wf := newTestWorkflow(t, ui)

		err := wf.List(context.Background(), ListArgs{Paths: []model.Path{model.Path(filepath.Join(rules, "nope"))}})
		require.Error(t, err)
		assert.Contains(t, buf.String(), "list error")
	})
}

func TestWorkflow_ViewAndMerge(t *testing.T) {
	rules := t.TempDir()
	writeRuleFile(t, rules, "mixed.yaml", compilerRuleSet)
	writeRuleFile(t, rules, "exec.yaml", secondRuleSet)

	output := t.TempDir()
	ui, buf := newSimpleUI()
	wf := newTestWorkflow(t, ui)

	_, err := wf.Compile(context.Background(), CompileArgs{
		Paths:  []model.Path{model.Path(rules)},
		Output: model.Path(output),
	})
	require.NoError(t, err)

	mixed := model.Path(filepath.Join(output, "mixed.config.json"))
	exec := model.Path(filepath.Join(output, "exec.config.json"))

	t.Run("view lists diagnostics per step", func(t *testing.T) {
		buf.Reset()

		require.NoError(t, wf.View(context.Background(), ViewArgs{Output: model.Path(output)}))
		assert.Contains(t, buf.String(), string(model.StepParsePattern))
		assert.Contains(t, buf.String(), "mixed")
	})

	t.Run("diff of identical configs", func(t *testing.T) {
		buf.Reset()

		require.NoError(t, wf.View(context.Background(), ViewArgs{Diff: []model.Path{mixed, mixed}}))
		assert.Contains(t, buf.String(), "configs are identical")
	})

	t.Run("diff of different configs", func(t *testing.T) {
		buf.Reset()

		require.NoError(t, wf.View(context.Background(), ViewArgs{Diff: []model.Path{mixed, exec}}))
		assert.Contains(t, buf.String(), "@@")
	})

	t.Run("diff needs two configs", func(t *testing.T) {
		require.Error(t, wf.View(context.Background(), ViewArgs{Diff: []model.Path{mixed}}))
	})

	t.Run("merge combines rule ids", func(t *testing.T) {
		buf.Reset()

		merged := model.Path(filepath.Join(t.TempDir(), "merged.json"))
		require.NoError(t, wf.Merge(context.Background(), MergeArgs{Inputs: []model.Path{mixed, exec, mixed}, Output: merged}))

		cfg, err := adapter.NewJSONConfigStore(adapter.NewLocalRuleFSAdapter()).LoadConfig(merged)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"mixed:equals", "mixed:sqli", "exec:exec"}, cfg.RuleIDs)
		assert.Contains(t, buf.String(), "Merged 3 config(s)")
	})

	t.Run("merge without inputs fails", func(t *testing.T) {
		require.Error(t, wf.Merge(context.Background(), MergeArgs{Output: "out.json"}))
	})
}
