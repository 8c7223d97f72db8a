package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/domain"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

func TestCompileCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		match func(domain.CompileArgs) bool
	}{
		{
			name: "defaults",
			args: []string{"compile"},
			match: func(args domain.CompileArgs) bool {
				return len(args.Paths) == 0 && args.Parallel == 1 && args.Output == m.Path(".semtaint")
			},
		},
		{
			name: "parallel and paths",
			args: []string{"compile", "--parallel", "4", "rules/...", "extra.yaml"},
			match: func(args domain.CompileArgs) bool {
				return args.Parallel == 4 &&
					len(args.Paths) == 2 && args.Paths[0] == "rules/..." && args.Paths[1] == "extra.yaml"
			},
		},
		{
			name: "output and exclude",
			args: []string{"compile", "-o", "build", "-x", "*_test.yaml", "-x", "legacy/*", "rules"},
			match: func(args domain.CompileArgs) bool {
				return args.Output == "build" &&
					len(args.Exclude) == 2 && args.Exclude[0] == "*_test.yaml" && args.Exclude[1] == "legacy/*"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockWorkflow := withMockWorkflow(t)
			cmd := newTestRootCmd(newCompileCmd())

			mockWorkflow.On("Compile", mock.Anything, mock.MatchedBy(tt.match)).Return(m.CompileSummary{}, nil)

			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
		})
	}
}

func TestCompileCmd_Error(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newCompileCmd())

	mockWorkflow.On("Compile", mock.Anything, mock.Anything).Return(m.CompileSummary{}, errors.New("no rule files"))

	cmd.SetArgs([]string{"compile", "nowhere"})
	require.EqualError(t, cmd.Execute(), "no rule files")
}

func TestListCmd(t *testing.T) {
	mockWorkflow := withMockWorkflow(t)
	cmd := newTestRootCmd(newListCmd())

	mockWorkflow.On("List", mock.Anything, mock.MatchedBy(func(args domain.ListArgs) bool {
		return len(args.Paths) == 1 && args.Paths[0] == "rules/..."
	})).Return(nil)

	cmd.SetArgs([]string{"list", "rules/..."})
	require.NoError(t, cmd.Execute())
}
