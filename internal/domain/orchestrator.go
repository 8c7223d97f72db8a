package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// FileResult is the compiled form of one rule file.
type FileResult struct {
	File        adapter.RuleFile
	Config      model.TaintConfig
	Diagnostics model.FileDiagnostics
	Outcomes    []model.RuleOutcome
}

// Orchestrator compiles a single rule file: it reads and decodes the file,
// compiles each rule in order and gathers the per-rule results into one
// config and one diagnostics document.
type Orchestrator interface {
	CompileFile(ctx context.Context, file adapter.RuleFile) (FileResult, error)
	LoadFile(file adapter.RuleFile) (model.RuleSet, error)
}

type orchestrator struct {
	fsAdapter adapter.RuleFSAdapter
	loader    adapter.RuleLoader
	compiler  Compiler
	session   *Session
}

// NewOrchestrator constructs an Orchestrator backed by the provided
// filesystem adapter, rule loader and compiler.
func NewOrchestrator(fsAdapter adapter.RuleFSAdapter, loader adapter.RuleLoader, compiler Compiler, session *Session) Orchestrator {
	return &orchestrator{
		fsAdapter: fsAdapter,
		loader:    loader,
		compiler:  compiler,
		session:   session,
	}
}

func (o *orchestrator) LoadFile(file adapter.RuleFile) (model.RuleSet, error) {
	content, err := o.fsAdapter.ReadFile(file.Path)
	if err != nil {
		slog.Error("Failed to read rule file", "path", file.Path, "error", err)
		return model.RuleSet{}, fmt.Errorf("failed to read rule file %s: %w", file.Path, err)
	}

	return o.loader.Load(file.Path, file.RuleSet, content)
}

func (o *orchestrator) CompileFile(ctx context.Context, file adapter.RuleFile) (FileResult, error) {
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}

	result := FileResult{
		File: file,
		Diagnostics: model.FileDiagnostics{
			Session: o.session.ID,
			Path:    string(file.Path),
			RuleSet: file.RuleSet,
		},
		Config: model.TaintConfig{Session: o.session.ID},
	}

	set, err := o.LoadFile(file)
	if errors.Is(err, adapter.ErrMalformedRuleSet) {
		result.Diagnostics.Add(model.Errorf(model.StepLoadRuleset,
			"Failed to load rule set from yaml %q: %v", file.RuleSet, err))

		return result, nil
	}

	if err != nil {
		return FileResult{}, err
	}

	result.Diagnostics.Rules = append(result.Diagnostics.Rules, set.Skipped...)

	for _, rule := range set.Rules {
		if err := ctx.Err(); err != nil {
			return FileResult{}, err
		}

		outcome := o.compiler.Compile(ctx, rule)
		outcome.RuleSet = file.RuleSet

		result.Outcomes = append(result.Outcomes, outcome)
		result.Diagnostics.Rules = append(result.Diagnostics.Rules, outcome.Diagnostics)
		result.Config.Append(outcome.Config)
	}

	result.Config.Dedup()

	slog.Info("Compiled rule set",
		"ruleSet", file.RuleSet,
		"rules", len(set.Rules),
		"taintRules", result.Config.Len(),
		"errors", result.Diagnostics.Count(model.ReasonError))

	return result, nil
}
