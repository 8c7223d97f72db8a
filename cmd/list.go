package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"semtaint.dev/pkg/semtaint/internal/domain"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [paths...]",
		Short: "List rule files and their rules",
		Long:  listLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow.List(cmd.Context(), domain.ListArgs{
				Paths:   rulePaths(args),
				Exclude: viper.GetStringSlice(excludeConfigKey),
			})
		},
	}
}
