package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"semtaint.dev/pkg/semtaint/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	tableBorder  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	helpFooter   = faintStyle.Render("↑/k: up | ↓/j: down | q: quit")
	title        = titleStyle.Render("semtaint")
	maxTableRows = 20
	headerLines  = 2
)

// TUI implements UI using Bubble Tea. Compilation progress runs as a
// background program fed with messages; tables are shown in a blocking
// program the user closes.
type TUI struct {
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
	quit    sync.Once
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the progress view in compile mode.
func (t *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if startConfig(options).mode != ModeCompile {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.program = tea.NewProgram(newProgressModel(), tea.WithOutput(t.output), tea.WithContext(ctx))
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)

		if _, err := t.program.Run(); err != nil {
			slog.Error("Failed to run progress view", "error", err)
		}
	}()

	return nil
}

// Close stops the progress view.
func (t *TUI) Close(context.Context) {
	t.mu.Lock()
	program, done := t.program, t.done
	t.mu.Unlock()

	if program == nil {
		return
	}

	t.quit.Do(program.Quit)
	<-done
}

// Wait blocks until the progress view exits on its own.
func (t *TUI) Wait(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (t *TUI) send(msg tea.Msg) {
	t.mu.Lock()
	program := t.program
	t.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

// DisplayRuleSets shows the rules found per file.
func (t *TUI) DisplayRuleSets(ctx context.Context, sets []model.RuleSet, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err != nil {
		_, _ = fmt.Fprintln(t.output, errorStyle.Render("list error: "+err.Error()))
		return err
	}

	columns := []table.Column{
		{Title: "Rule", Width: 48},
		{Title: "Mode", Width: 8},
		{Title: "Severity", Width: 10},
		{Title: "Languages", Width: 16},
	}

	var (
		rows          []table.Row
		rules, failed int
	)

	for _, set := range sets {
		for _, r := range set.Rules {
			rows = append(rows, table.Row{r.ID, string(r.Spec.Mode), string(r.Severity), strings.Join(r.Languages, ",")})
			rules++
		}

		for _, r := range set.Skipped {
			rows = append(rows, table.Row{r.RuleID, "-", "-", "skipped"})
			failed++
		}
	}

	summary := fmt.Sprintf("%d file(s), %d rule(s), %d skipped", len(sets), rules, failed)

	return t.showTable(ctx, columns, rows, summary)
}

// DisplayCompileInfo forwards the run settings to the progress view.
func (t *TUI) DisplayCompileInfo(_ context.Context, files int, workers int, session string) {
	t.send(compileInfoMsg{files: files, workers: workers, session: session})
}

// DisplayStartingFile forwards a started file to the progress view.
func (t *TUI) DisplayStartingFile(_ context.Context, file string) {
	t.send(fileStartedMsg{ruleSet: file})
}

// DisplayCompletedFile forwards a completed file to the progress view.
func (t *TUI) DisplayCompletedFile(_ context.Context, diags model.FileDiagnostics, taintRules int) {
	t.send(fileCompletedMsg{
		ruleSet:    diags.RuleSet,
		taintRules: taintRules,
		errors:     diags.Count(model.ReasonError),
		warnings:   diags.Count(model.ReasonWarning),
	})
}

// DisplaySummary shows the totals and lets the progress view exit.
func (t *TUI) DisplaySummary(_ context.Context, summary model.CompileSummary) {
	t.send(summaryMsg(summary))
}

// DisplayDiagnostics shows diagnostic counts per file and step.
func (t *TUI) DisplayDiagnostics(ctx context.Context, files []model.FileDiagnostics) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	columns := []table.Column{
		{Title: "Rule Set", Width: 40},
		{Title: "Step", Width: 30},
		{Title: "Errors", Width: 8},
		{Title: "Warnings", Width: 8},
		{Title: "Not Impl.", Width: 9},
	}

	rows := make([]table.Row, 0, len(files))
	errors := 0

	for _, row := range diagnosticRows(files) {
		rows = append(rows, table.Row{
			row.ruleSet, string(row.step),
			fmt.Sprint(row.errors), fmt.Sprint(row.warnings), fmt.Sprint(row.notImplemented),
		})
		errors += row.errors
	}

	return t.showTable(ctx, columns, rows, fmt.Sprintf("%d file(s), %d error(s)", len(files), errors))
}

// DisplayDiff prints a colored unified diff.
func (t *TUI) DisplayDiff(ctx context.Context, diff string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if diff == "" {
		_, err := fmt.Fprintln(t.output, okStyle.Render("configs are identical"))
		return err
	}

	var b strings.Builder

	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			b.WriteString(faintStyle.Render(strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "+"):
			b.WriteString(okStyle.Render(strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "-"):
			b.WriteString(errorStyle.Render(strings.TrimSuffix(line, "\n")) + "\n")
		default:
			b.WriteString(line)
		}
	}

	_, err := fmt.Fprint(t.output, b.String())

	return err
}

// DisplayMerged reports a merge result.
func (t *TUI) DisplayMerged(_ context.Context, output string, inputs int, taintRules int) {
	_, _ = fmt.Fprintln(t.output, okStyle.Render(
		fmt.Sprintf("Merged %d config(s) into %s (%d taint rules)", inputs, output, taintRules)))
}

// showTable prints small tables directly and pages larger ones.
func (t *TUI) showTable(ctx context.Context, columns []table.Column, rows []table.Row, summary string) error {
	m := newTableModel(columns, rows, summary)

	if len(rows) <= maxTableRows {
		_, err := fmt.Fprint(t.output, m.staticView())
		return err
	}

	program := tea.NewProgram(m, tea.WithOutput(t.output), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	return nil
}

type tableModel struct {
	table   table.Model
	summary string
}

func newTableModel(columns []table.Column, rows []table.Row, summary string) tableModel {
	height := len(rows)
	if height > maxTableRows {
		height = maxTableRows
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	tbl.SetStyles(styles)
	// The height covers the header row and its bottom border.
	tbl.SetHeight(height + headerLines)

	return tableModel{table: tbl, summary: summary}
}

func (m tableModel) Init() tea.Cmd {
	return nil
}

func (m tableModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m tableModel) View() string {
	return title + "\n" + tableBorder.Render(m.table.View()) + "\n  " + m.summary + "\n  " + helpFooter + "\n"
}

// staticView renders the table without selection or navigation help.
func (m tableModel) staticView() string {
	m.table.Blur()
	return title + "\n" + tableBorder.Render(m.table.View()) + "\n  " + m.summary + "\n"
}

type (
	compileInfoMsg struct {
		files, workers int
		session        string
	}
	fileStartedMsg   struct{ ruleSet string }
	fileCompletedMsg struct {
		ruleSet                      string
		taintRules, errors, warnings int
	}
	summaryMsg model.CompileSummary
)

type progressModel struct {
	spinner   spinner.Model
	info      compileInfoMsg
	running   []string
	completed []fileCompletedMsg
	summary   *model.CompileSummary
}

func newProgressModel() progressModel {
	return progressModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle.UnsetMarginBottom())),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case compileInfoMsg:
		m.info = msg
	case fileStartedMsg:
		m.running = append(m.running, msg.ruleSet)
	case fileCompletedMsg:
		m.running = remove(m.running, msg.ruleSet)
		m.completed = append(m.completed, msg)
	case summaryMsg:
		summary := model.CompileSummary(msg)
		m.summary = &summary

		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func remove(list []string, item string) []string {
	out := list[:0]

	for _, s := range list {
		if s != item {
			out = append(out, s)
		}
	}

	return out
}

func (m progressModel) View() string {
	var b strings.Builder

	b.WriteString(title + "\n")

	if m.info.files > 0 {
		fmt.Fprintf(&b, "  %d rule file(s), %d worker(s), session %s\n\n", m.info.files, m.info.workers, faintStyle.Render(m.info.session))
	}

	for _, c := range m.completed {
		status := okStyle.Render("✓")
		if c.errors > 0 {
			status = errorStyle.Render("✗")
		} else if c.warnings > 0 {
			status = warnStyle.Render("!")
		}

		fmt.Fprintf(&b, "  %s %s: %d taint rule(s), %d error(s), %d warning(s)\n",
			status, c.ruleSet, c.taintRules, c.errors, c.warnings)
	}

	for _, r := range m.running {
		fmt.Fprintf(&b, "  %s %s\n", m.spinner.View(), r)
	}

	if m.summary != nil {
		s := m.summary
		fmt.Fprintf(&b, "\n  Rules: %d compiled, %d without output, %d skipped\n", s.Compiled, s.Rules-s.Compiled, s.Skipped)
		fmt.Fprintf(&b, "  Taint rules: %d | %s | %s\n", s.TaintRules,
			errorStyle.Render(fmt.Sprintf("Errors: %d", s.Errors)),
			warnStyle.Render(fmt.Sprintf("Warnings: %d", s.Warnings)))
	}

	return b.String()
}
