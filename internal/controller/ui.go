// Package controller provides output adapters for displaying compilation
// results.
package controller

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeList StartMode = iota
	ModeCompile
	ModeView
)

// StartOption is a functional option for Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// WithListMode sets the UI to rule listing mode.
func WithListMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeList
	}
}

// WithCompileMode sets the UI to compilation mode.
func WithCompileMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeCompile
	}
}

// WithViewMode sets the UI to diagnostics viewing mode.
func WithViewMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeView
	}
}

func startConfig(options []StartOption) StartConfig {
	cfg := StartConfig{mode: ModeCompile}
	for _, opt := range options {
		opt(&cfg)
	}

	return cfg
}

// UI defines how the workflow reports progress and results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for UI to finish (user closes it)
	DisplayRuleSets(ctx context.Context, sets []model.RuleSet, err error) error
	DisplayCompileInfo(ctx context.Context, files int, workers int, session string)
	DisplayStartingFile(ctx context.Context, file string)
	DisplayCompletedFile(ctx context.Context, diags model.FileDiagnostics, taintRules int)
	DisplaySummary(ctx context.Context, summary model.CompileSummary)
	DisplayDiagnostics(ctx context.Context, files []model.FileDiagnostics) error
	DisplayDiff(ctx context.Context, diff string) error
	DisplayMerged(ctx context.Context, output string, inputs int, taintRules int)
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewUI picks the interactive TUI for terminals and SimpleUI otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}
