package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"semtaint.dev/pkg/semtaint/internal/domain"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

var viewDiffFlag bool

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view [output-dir] | --diff a.json b.json",
		Short: "View compile diagnostics or diff two configs",
		Long: `View the diagnostics stored in an output directory (default: the --output
directory), counted per rule file, step and severity. With --diff, print a
unified diff of two config files instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if viewDiffFlag {
				return cobra.ExactArgs(2)(cmd, args)
			}

			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if viewDiffFlag {
				return workflow.View(cmd.Context(), domain.ViewArgs{Diff: parsePaths(args)})
			}

			output := m.Path(viper.GetString(outputFlagName))
			if len(args) == 1 {
				output = m.Path(args[0])
			}

			return workflow.View(cmd.Context(), domain.ViewArgs{Output: output})
		},
	}

	cmd.Flags().BoolVar(&viewDiffFlag, diffFlagName, false, "diff two config files")

	return cmd
}
