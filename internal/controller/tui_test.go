package controller

import (
	"bytes"
	"context"
	"testing"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func TestProgressModel(t *testing.T) {
	var m tea.Model = newProgressModel()

	m, _ = m.Update(compileInfoMsg{files: 2, workers: 1, session: "abc"})
	m, _ = m.Update(fileStartedMsg{ruleSet: "java/a"})
	m, _ = m.Update(fileStartedMsg{ruleSet: "java/b"})
	m, _ = m.Update(fileCompletedMsg{ruleSet: "java/a", taintRules: 3, errors: 1})

	view := m.View()
	assert.Contains(t, view, "2 rule file(s), 1 worker(s)")
	assert.Contains(t, view, "java/a: 3 taint rule(s), 1 error(s), 0 warning(s)")
	assert.Contains(t, view, "java/b")

	progress, ok := m.(progressModel)
	require.True(t, ok)
	assert.Equal(t, []string{"java/b"}, progress.running)

	m, cmd := m.Update(summaryMsg(model.CompileSummary{Rules: 2, Compiled: 1, TaintRules: 3, Errors: 1}))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Rules: 1 compiled, 1 without output, 0 skipped")
}

func TestTableModel(t *testing.T) {
	m := newTableModel(
		[]table.Column{{Title: "Rule", Width: 20}},
		[]table.Row{{"java/a:one"}, {"java/a:two"}},
		"2 rule(s)",
	)

	assert.Contains(t, m.View(), "java/a:one")
	assert.Contains(t, m.View(), "java/a:two")
	assert.Contains(t, m.staticView(), "java/a:two")
	assert.Contains(t, m.View(), "q: quit")
	assert.NotContains(t, m.staticView(), "q: quit")

	for _, key := range []string{"q", "esc"} {
		var msg tea.KeyMsg
		if key == "esc" {
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}

		_, cmd := m.Update(msg)
		require.NotNil(t, cmd, key)
		assert.IsType(t, tea.QuitMsg{}, cmd(), key)
	}
}

func TestTUI_StaticOutput(t *testing.T) {
	ctx := context.Background()

	t.Run("small rule table is printed directly", func(t *testing.T) {
		var out bytes.Buffer

		ui := NewTUI(&out)
		require.NoError(t, ui.Start(ctx, WithListMode()))
		require.NoError(t, ui.DisplayRuleSets(ctx, sampleRuleSets(), nil))
		ui.Wait(ctx)
		ui.Close(ctx)

		assert.Contains(t, out.String(), "java/sqli:sqli")
		assert.Contains(t, out.String(), "java/sqli:equals")
		assert.Contains(t, out.String(), "java/sqli:go-only")
		assert.Contains(t, out.String(), "2 rule(s), 1 skipped")
	})

	t.Run("identical diff", func(t *testing.T) {
		var out bytes.Buffer

		require.NoError(t, NewTUI(&out).DisplayDiff(ctx, ""))
		assert.Contains(t, out.String(), "configs are identical")
	})

	t.Run("events before start are dropped", func(t *testing.T) {
		var out bytes.Buffer

		ui := NewTUI(&out)
		ui.DisplayStartingFile(ctx, "java/a")
		ui.DisplaySummary(ctx, model.CompileSummary{})
		ui.Close(ctx)

		assert.Empty(t, out.String())
	})
}
