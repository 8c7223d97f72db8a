package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func sampleConfig(ruleID, method string) model.TaintConfig {
	cond := model.ContainsMark(ruleID+"|taint", model.ArgumentPosition(0))

	return model.TaintConfig{
		Session: "s-1",
		RuleIDs: []string{ruleID},
		Source: []model.TaintRule{{
			Function: model.FunctionMatcher{Name: model.SimpleName("getParameter")},
			Taint:    []model.MarkAction{{Mark: ruleID + "|taint", Pos: model.ResultPosition}},
		}},
		Sink: []model.TaintRule{{
			Function:  model.FunctionMatcher{Name: model.SimpleName(method)},
			Condition: &cond,
			ID:        ruleID,
			Meta:      &model.SinkMeta{CWE: []int{89}, Note: "sqli", Severity: model.SeverityError},
		}},
	}
}

func TestJSONConfigStore_Config(t *testing.T) {
	store := NewJSONConfigStore(NewLocalRuleFSAdapter())
	dir := t.TempDir()

	t.Run("save flattens the rule set name", func(t *testing.T) {
		cfg := sampleConfig("java/sqli:sqli", "execute")

		path, err := store.SaveConfig(model.Path(dir), "java/sqli", cfg)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "java.sqli.config.json"), string(path))

		loaded, err := store.LoadConfig(path)
		require.NoError(t, err)

		if diff := cmp.Diff(cfg, loaded); diff != "" {
			t.Errorf("LoadConfig mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("load missing file", func(t *testing.T) {
		_, err := store.LoadConfig(model.Path(filepath.Join(dir, "missing.json")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read")
	})

	t.Run("load invalid json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

		_, err := store.LoadConfig(model.Path(path))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode")
	})
}

func TestJSONConfigStore_Diagnostics(t *testing.T) {
	store := NewJSONConfigStore(NewLocalRuleFSAdapter())
	dir := t.TempDir()

	parse := model.Warnf(model.StepParsePattern, "Failed parse normalized rule: 1 times")
	parse.Children = []model.Diagnostic{model.Errorf(model.StepParsePattern, "Pattern parsing failed: boom")}

	diags := model.FileDiagnostics{
		Path:    "rules/java/sqli.yaml",
		RuleSet: "java/sqli",
		Rules: []model.RuleDiagnostics{{
			RuleID:      "java/sqli:broken",
			IDInFile:    "broken",
			Diagnostics: model.Diagnostics{Items: []model.Diagnostic{parse}},
		}},
	}

	path, err := store.SaveDiagnostics(model.Path(dir), diags)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "java.sqli.diagnostics.json"), string(path))

	_, err = store.SaveConfig(model.Path(dir), "java/sqli", sampleConfig("java/sqli:broken", "execute"))
	require.NoError(t, err)

	listed, err := store.ListDiagnostics(model.Path(dir))
	require.NoError(t, err)
	require.Len(t, listed, 1)

	if diff := cmp.Diff(diags, listed[0]); diff != "" {
		t.Errorf("ListDiagnostics mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, listed[0].Count(model.ReasonError))
}

func TestJSONConfigStore_MergeAndDiff(t *testing.T) {
	store := NewJSONConfigStore(NewLocalRuleFSAdapter())
	dir := t.TempDir()

	a, err := store.SaveConfig(model.Path(dir), "a", sampleConfig("a:r", "execute"))
	require.NoError(t, err)

	b, err := store.SaveConfig(model.Path(dir), "b", sampleConfig("b:r", "executeQuery"))
	require.NoError(t, err)

	t.Run("merge de-duplicates identical rules", func(t *testing.T) {
		merged, err := store.Merge([]model.Path{a, b, a})
		require.NoError(t, err)

		assert.Equal(t, []string{"a:r", "b:r"}, merged.RuleIDs)
		assert.Len(t, merged.Sink, 2)
		assert.Len(t, merged.Source, 2)
	})

	t.Run("merge fails on missing input", func(t *testing.T) {
		_, err := store.Merge([]model.Path{a, model.Path(filepath.Join(dir, "nope.json"))})
		require.Error(t, err)
	})

	t.Run("diff ignores session", func(t *testing.T) {
		other := sampleConfig("a:r", "execute")
		other.Session = "s-2"

		c, err := store.SaveConfig(model.Path(dir), "c", other)
		require.NoError(t, err)

		diff, err := store.Diff(a, c)
		require.NoError(t, err)
		assert.Empty(t, diff)
	})

	t.Run("diff shows changed method", func(t *testing.T) {
		diff, err := store.Diff(a, b)
		require.NoError(t, err)

		assert.Contains(t, diff, "--- "+string(a))
		assert.Contains(t, diff, "+++ "+string(b))
		assert.Contains(t, diff, "executeQuery")
	})
}
