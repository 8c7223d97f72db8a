package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/controller"
	"semtaint.dev/pkg/semtaint/internal/model"
	"semtaint.dev/pkg/semtaint/pkg"
)

// CompileArgs contains the arguments for compiling rule files.
type CompileArgs struct {
	Paths    []model.Path
	Exclude  []string
	Output   model.Path
	Parallel int
	// SpillDir holds the temporary outcome stream. Empty means the system
	// temporary directory.
	SpillDir string
}

// ListArgs contains the arguments for listing rules.
type ListArgs struct {
	Paths   []model.Path
	Exclude []string
}

// ViewArgs contains the arguments for viewing compile results. When Diff
// holds two configs their unified diff is shown instead of diagnostics.
type ViewArgs struct {
	Output model.Path
	Diff   []model.Path
}

// MergeArgs contains the arguments for merging configs.
type MergeArgs struct {
	Inputs []model.Path
	Output model.Path
}

// Workflow drives the semtaint commands over many rule files.
type Workflow interface {
	Compile(ctx context.Context, args CompileArgs) (model.CompileSummary, error)
	List(ctx context.Context, args ListArgs) error
	View(ctx context.Context, args ViewArgs) error
	Merge(ctx context.Context, args MergeArgs) error
}

type workflow struct {
	adapter.RuleFSAdapter
	adapter.ConfigStore
	controller.UI
	Orchestrator
	session *Session
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
func NewWorkflow(
	fsAdapter adapter.RuleFSAdapter,
	store adapter.ConfigStore,
	ui controller.UI,
	orchestrator Orchestrator,
	session *Session,
) Workflow {
	return &workflow{
		RuleFSAdapter: fsAdapter,
		ConfigStore:   store,
		UI:            ui,
		Orchestrator:  orchestrator,
		session:       session,
	}
}

// Compile compiles every rule file found under args.Paths, writing one
// config and one diagnostics document per file into args.Output.
func (w *workflow) Compile(ctx context.Context, args CompileArgs) (model.CompileSummary, error) {
	files, err := w.Find(args.Paths, args.Exclude)
	if err != nil {
		slog.Error("Failed to find rule files", "paths", args.Paths, "error", err)
		return model.CompileSummary{}, fmt.Errorf("find rule files: %w", err)
	}

	if err := w.Start(ctx, controller.WithCompileMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return model.CompileSummary{}, err
	}

	workers := args.Parallel
	if workers < 1 {
		workers = 1
	}

	w.DisplayCompileInfo(ctx, len(files), workers, w.session.ID)

	summary, err := w.compileFiles(ctx, files, args, workers)
	if err != nil {
		w.Close(ctx)
		return model.CompileSummary{}, err
	}

	w.DisplaySummary(ctx, summary)
	w.Wait(ctx)
	w.Close(ctx)

	return summary, nil
}

func (w *workflow) compileFiles(ctx context.Context, files []adapter.RuleFile, args CompileArgs, workers int) (model.CompileSummary, error) {
	outcomes, err := pkg.NewFileSpill[model.RuleOutcome](args.SpillDir)
	if err != nil {
		return model.CompileSummary{}, fmt.Errorf("create outcome spill: %w", err)
	}

	defer func() {
		if err := outcomes.Remove(); err != nil {
			slog.Warn("Failed to remove outcome spill", "path", outcomes.Path(), "error", err)
		}
	}()

	summary := model.CompileSummary{Session: w.session.ID, Files: len(files)}

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, file := range files {
		group.Go(func() error {
			w.DisplayStartingFile(groupCtx, file.RuleSet)

			result, err := w.compileFile(groupCtx, file, args.Output)
			if err != nil {
				return err
			}

			if err := outcomes.AppendBatch(result.Outcomes); err != nil {
				return fmt.Errorf("spill outcomes of %s: %w", file.RuleSet, err)
			}

			mu.Lock()
			summary.Skipped += len(result.Diagnostics.Rules) - len(result.Outcomes)
			summary.TaintRules += result.Config.Len()
			summary.Errors += result.Diagnostics.Count(model.ReasonError)
			summary.Warnings += result.Diagnostics.Count(model.ReasonWarning)
			mu.Unlock()

			w.DisplayCompletedFile(groupCtx, result.Diagnostics, result.Config.Len())

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		slog.Error("Failed to compile rule files", "error", err)
		return model.CompileSummary{}, err
	}

	if err := outcomes.Close(); err != nil {
		return model.CompileSummary{}, fmt.Errorf("close outcome spill: %w", err)
	}

	err = outcomes.Range(func(_ uint64, outcome model.RuleOutcome) error {
		summary.Rules++
		summary.Stats.Add(outcome.Stats)

		if outcome.Compiled() {
			summary.Compiled++
		}

		return nil
	})
	if err != nil {
		return model.CompileSummary{}, fmt.Errorf("read outcomes: %w", err)
	}

	slog.Info("Compile finished",
		"session", summary.Session,
		"files", summary.Files,
		"rules", summary.Rules,
		"compiled", summary.Compiled,
		"taintRules", summary.TaintRules,
		"errors", summary.Errors)

	return summary, nil
}

func (w *workflow) compileFile(ctx context.Context, file adapter.RuleFile, output model.Path) (FileResult, error) {
	result, err := w.CompileFile(ctx, file)
	if err != nil {
		slog.Error("Failed to compile rule file", "path", file.Path, "error", err)
		return FileResult{}, fmt.Errorf("compile %s: %w", file.Path, err)
	}

	if _, err := w.SaveConfig(output, file.RuleSet, result.Config); err != nil {
		slog.Error("Failed to save config", "ruleSet", file.RuleSet, "error", err)
		return FileResult{}, fmt.Errorf("save config: %w", err)
	}

	if _, err := w.SaveDiagnostics(output, result.Diagnostics); err != nil {
		slog.Error("Failed to save diagnostics", "ruleSet", file.RuleSet, "error", err)
		return FileResult{}, fmt.Errorf("save diagnostics: %w", err)
	}

	return result, nil
}

// List loads every rule file and shows the rules it declares. Malformed
// files are listed with no rules.
func (w *workflow) List(ctx context.Context, args ListArgs) error {
	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return err
	}
	defer w.Close(ctx)

	sets, loadErr := w.loadRuleSets(ctx, args)

	if err := w.DisplayRuleSets(ctx, sets, loadErr); err != nil {
		slog.Error("Failed to display rule sets", "error", err)
		return fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	return nil
}

func (w *workflow) loadRuleSets(ctx context.Context, args ListArgs) ([]model.RuleSet, error) {
	files, err := w.Find(args.Paths, args.Exclude)
	if err != nil {
		return nil, fmt.Errorf("find rule files: %w", err)
	}

	sets := make([]model.RuleSet, 0, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		set, err := w.LoadFile(file)
		if errors.Is(err, adapter.ErrMalformedRuleSet) {
			slog.Warn("Skipping malformed rule file", "path", file.Path, "error", err)

			set = model.RuleSet{Name: file.RuleSet, Path: file.Path}
		} else if err != nil {
			return nil, err
		}

		sets = append(sets, set)
	}

	return sets, nil
}

// View shows the diagnostics stored in args.Output, or the diff of two
// configs.
func (w *workflow) View(ctx context.Context, args ViewArgs) error {
	if err := w.Start(ctx, controller.WithViewMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return err
	}
	defer w.Close(ctx)

	if len(args.Diff) > 0 {
		if len(args.Diff) != 2 {
			return fmt.Errorf("diff needs exactly two configs, got %d", len(args.Diff))
		}

		diff, err := w.Diff(args.Diff[0], args.Diff[1])
		if err != nil {
			slog.Error("Failed to diff configs", "error", err)
			return fmt.Errorf("diff: %w", err)
		}

		return w.DisplayDiff(ctx, diff)
	}

	files, err := w.ListDiagnostics(args.Output)
	if err != nil {
		slog.Error("Failed to load diagnostics", "output", args.Output, "error", err)
		return fmt.Errorf("load diagnostics: %w", err)
	}

	if err := w.DisplayDiagnostics(ctx, files); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	return nil
}

// Merge combines several configs into args.Output.
func (w *workflow) Merge(ctx context.Context, args MergeArgs) error {
	if len(args.Inputs) == 0 {
		return errors.New("merge needs at least one config")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	merged, err := w.ConfigStore.Merge(args.Inputs)
	if err != nil {
		slog.Error("Failed to merge configs", "inputs", args.Inputs, "error", err)
		return fmt.Errorf("merge: %w", err)
	}

	merged.Session = w.session.ID

	if err := w.WriteConfig(args.Output, merged); err != nil {
		slog.Error("Failed to write merged config", "output", args.Output, "error", err)
		return fmt.Errorf("write merged config: %w", err)
	}

	w.DisplayMerged(ctx, string(args.Output), len(args.Inputs), merged.Len())

	return nil
}
