package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"semtaint.dev/pkg/semtaint/internal/domain"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

var compileParallelFlag int

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [paths...]",
		Short: "Compile rule files into taint configs",
		Long:  compileLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := workflow.Compile(cmd.Context(), domain.CompileArgs{
				Paths:    rulePaths(args),
				Exclude:  viper.GetStringSlice(excludeConfigKey),
				Output:   m.Path(viper.GetString(outputFlagName)),
				Parallel: viper.GetInt(compileParallelConfigKey),
			})

			return err
		},
	}

	configureCompileFlags(cmd)

	return cmd
}

func configureCompileFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&compileParallelFlag, compileParallelFlagName, "p", viper.GetInt(compileParallelConfigKey), "number of rule files compiled in parallel")
	bindFlagToConfig(cmd.Flags().Lookup(compileParallelFlagName), compileParallelConfigKey)
}
