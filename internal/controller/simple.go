package controller

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	return ctx.Err()
}

// Close finalizes the UI.
func (s *SimpleUI) Close(context.Context) {}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(context.Context) {}

// DisplayRuleSets prints the rules found in each file.
func (s *SimpleUI) DisplayRuleSets(ctx context.Context, sets []model.RuleSet, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err != nil {
		s.printf("list error: %v\n", err)
		return err
	}

	s.printf("\n%s", renderRuleSetTable(sets))

	return nil
}

func renderRuleSetTable(sets []model.RuleSet) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Rule", "Mode", "Severity", "Languages"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	rules, skipped := 0, 0

	for _, set := range sets {
		for _, r := range set.Rules {
			table.Append([]string{r.ID, string(r.Spec.Mode), string(r.Severity), strings.Join(r.Languages, ",")})

			rules++
		}

		for _, r := range set.Skipped {
			table.Append([]string{r.RuleID, "-", "-", "skipped"})

			skipped++
		}
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(sets)),
		fmt.Sprintf("%d rules", rules),
		fmt.Sprintf("%d skipped", skipped),
		"",
	})

	table.Render()

	return tableBuffer.String()
}

// DisplayCompileInfo shows the run settings.
func (s *SimpleUI) DisplayCompileInfo(ctx context.Context, files int, workers int, session string) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Compiling %d rule file(s) with %d worker(s) (session %s)\n", files, workers, session)
}

// DisplayStartingFile shows a rule file being picked up.
func (s *SimpleUI) DisplayStartingFile(ctx context.Context, file string) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Compiling %s\n", file)
}

// DisplayCompletedFile shows the result of one rule file.
func (s *SimpleUI) DisplayCompletedFile(ctx context.Context, diags model.FileDiagnostics, taintRules int) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Compiled %s -> %d taint rule(s), %d error(s), %d warning(s)\n",
		diags.RuleSet, taintRules, diags.Count(model.ReasonError), diags.Count(model.ReasonWarning))
}

// DisplaySummary prints the totals of a compile run.
func (s *SimpleUI) DisplaySummary(ctx context.Context, summary model.CompileSummary) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Rules: %d compiled, %d without output, %d skipped | Taint rules: %d | Errors: %d | Warnings: %d\n",
		summary.Compiled, summary.Rules-summary.Compiled, summary.Skipped,
		summary.TaintRules, summary.Errors, summary.Warnings)

	if summary.Stats.IsFailure() {
		s.printf("%s\n", summary.Stats)
	}
}

// DisplayDiagnostics renders diagnostic counts per file and step.
func (s *SimpleUI) DisplayDiagnostics(ctx context.Context, files []model.FileDiagnostics) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderDiagnosticsTable(files))

	return nil
}

func renderDiagnosticsTable(files []model.FileDiagnostics) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Rule Set", "Step", "Errors", "Warnings", "Not Implemented"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
	})

	var total stepCounts

	for _, row := range diagnosticRows(files) {
		table.Append([]string{
			row.ruleSet, string(row.step),
			fmt.Sprintf("%d", row.errors), fmt.Sprintf("%d", row.warnings), fmt.Sprintf("%d", row.notImplemented),
		})

		total.errors += row.errors
		total.warnings += row.warnings
		total.notImplemented += row.notImplemented
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(files)), "",
		fmt.Sprintf("%d", total.errors), fmt.Sprintf("%d", total.warnings), fmt.Sprintf("%d", total.notImplemented),
	})

	table.Render()

	return tableBuffer.String()
}

type stepCounts struct {
	ruleSet        string
	step           model.Step
	errors         int
	warnings       int
	notImplemented int
}

// diagnosticRows counts every diagnostic of the trees, nested ones
// included, grouped by rule set and step.
func diagnosticRows(files []model.FileDiagnostics) []stepCounts {
	index := make(map[string]*stepCounts)

	var rows []*stepCounts

	var visit func(ruleSet string, items []model.Diagnostic)
	visit = func(ruleSet string, items []model.Diagnostic) {
		for _, d := range items {
			key := ruleSet + "\x00" + string(d.Step)

			row, ok := index[key]
			if !ok {
				row = &stepCounts{ruleSet: ruleSet, step: d.Step}
				index[key] = row
				rows = append(rows, row)
			}

			switch d.Reason {
			case model.ReasonError:
				row.errors++
			case model.ReasonWarning:
				row.warnings++
			case model.ReasonNotImplemented:
				row.notImplemented++
			}

			visit(ruleSet, d.Children)
		}
	}

	for _, f := range files {
		visit(f.RuleSet, f.Items)

		for _, r := range f.Rules {
			visit(f.RuleSet, r.Items)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ruleSet != rows[j].ruleSet {
			return rows[i].ruleSet < rows[j].ruleSet
		}

		return rows[i].step < rows[j].step
	})

	out := make([]stepCounts, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}

	return out
}

// DisplayDiff prints a unified diff.
func (s *SimpleUI) DisplayDiff(ctx context.Context, diff string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if diff == "" {
		s.printf("configs are identical\n")
		return nil
	}

	s.printf("%s", diff)

	return nil
}

// DisplayMerged reports a merge result.
func (s *SimpleUI) DisplayMerged(ctx context.Context, output string, inputs int, taintRules int) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Merged %d config(s) into %s (%d taint rules)\n", inputs, output, taintRules)
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
