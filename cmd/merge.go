package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"semtaint.dev/pkg/semtaint/internal/domain"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

// mergeOutputFlag shadows the root --output flag: merge writes a file, not
// a directory.
var mergeOutputFlag string

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge config.json... [-o merged.json]",
		Short: "Merge several taint configs into one",
		Long: `Concatenate the rule lists of several config files, dropping identical
rules. Without -o the result is written to merged.config.json in the output
directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := mergeOutputFlag
			if output == "" {
				output = filepath.Join(viper.GetString(outputFlagName), defaultMergedFileName)
			}

			return workflow.Merge(cmd.Context(), domain.MergeArgs{
				Inputs: parsePaths(args),
				Output: m.Path(output),
			})
		},
	}

	cmd.Flags().StringVarP(&mergeOutputFlag, outputFlagName, "o", "", "merged config file")

	return cmd
}
