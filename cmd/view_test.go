package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/domain"
	domainmocks "semtaint.dev/pkg/semtaint/internal/domain/mocks"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

// withMockWorkflow swaps the shared workflow for a mock for one test.
func withMockWorkflow(t *testing.T) *domainmocks.MockWorkflow {
	t.Helper()

	mockWorkflow := domainmocks.NewMockWorkflow(t)

	originalWorkflow := workflow
	workflow = mockWorkflow

	t.Cleanup(func() { workflow = originalWorkflow })

	return mockWorkflow
}

func newTestRootCmd(sub *cobra.Command) *cobra.Command {
	cmd := newRootCmd()
	cmd.AddCommand(sub)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	return cmd
}

func TestViewCmd_UsesRootOutputFlagByDefault(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newViewCmd())

	mockWorkflow.On("View", mock.Anything, mock.MatchedBy(func(args domain.ViewArgs) bool {
		return args.Output == m.Path(".semtaint") && args.Diff == nil
	})).Return(nil)

	cmd.SetArgs([]string{"view"})
	require.NoError(t, cmd.Execute())
}

func TestViewCmd_RootOutputFlagIsPassedThrough(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newViewCmd())

	mockWorkflow.On("View", mock.Anything, mock.MatchedBy(func(args domain.ViewArgs) bool {
		return args.Output == m.Path("./out-dir")
	})).Return(nil)

	cmd.SetArgs([]string{"view", "--output", "./out-dir"})
	require.NoError(t, cmd.Execute())
}

func TestViewCmd_PositionalDirWins(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newViewCmd())

	mockWorkflow.On("View", mock.Anything, mock.MatchedBy(func(args domain.ViewArgs) bool {
		return args.Output == m.Path("./custom")
	})).Return(nil)

	cmd.SetArgs([]string{"view", "./custom"})
	require.NoError(t, cmd.Execute())
}

func TestViewCmd_Diff(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newViewCmd())

	mockWorkflow.On("View", mock.Anything, domain.ViewArgs{
		Diff: []m.Path{"a.config.json", "b.config.json"},
	}).Return(nil)

	cmd.SetArgs([]string{"view", "--diff", "a.config.json", "b.config.json"})
	require.NoError(t, cmd.Execute())
}

func TestViewCmd_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"two dirs", []string{"view", "a", "b"}},
		{"diff with one file", []string{"view", "--diff", "a.json"}},
		{"diff with three files", []string{"view", "--diff", "a.json", "b.json", "c.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withMockWorkflow(t)
			cmd := newTestRootCmd(newViewCmd())

			cmd.SetArgs(tt.args)
			require.Error(t, cmd.Execute())
		})
	}
}
