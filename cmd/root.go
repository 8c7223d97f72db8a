// Package cmd provides the root command and CLI setup for semtaint.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/controller"
	"semtaint.dev/pkg/semtaint/internal/domain"
	m "semtaint.dev/pkg/semtaint/internal/model"
)

var fsAdapter adapter.RuleFSAdapter
var ruleLoader adapter.RuleLoader
var patternParser adapter.PatternParser
var configStore adapter.ConfigStore
var session *domain.Session
var compiler domain.Compiler
var orchestrator domain.Orchestrator
var workflow domain.Workflow
var ui controller.UI

// outputDirFlag is a root-level flag shared by commands that read/write
// compile outputs.
var outputDirFlag string

// excludePatterns is a root-level flag that filters rule files.
var excludePatterns []string

var verboseFlag bool

func init() {
	rootCmd = newRootCmd()
	rootCmd.AddCommand(
		newCompileCmd(),
		newListCmd(),
		newViewCmd(),
		newMergeCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	fsAdapter = adapter.NewLocalRuleFSAdapter()
	ruleLoader = adapter.NewYAMLRuleLoader()
	patternParser = adapter.NewJavaPatternParser()
	configStore = adapter.NewJSONConfigStore(fsAdapter)
	session = domain.NewSession(patternParser)
	compiler = domain.NewCompiler(session, compileTimeout())
	orchestrator = domain.NewOrchestrator(fsAdapter, ruleLoader, compiler, session)
	workflow = domain.NewWorkflow(
		fsAdapter,
		configStore,
		ui,
		orchestrator,
		session,
	)
}

const pathPatternsHelp = `Supports Go-style path patterns:
  - rules/...          recursively scan the rules directory
  - rules/java         scan one directory
  - rules/a.yaml b.yml pick single rule files`

const rootLongDescription = `semtaint compiles semgrep-style Java rules into a taint configuration
for an interprocedural taint analyzer. Every rule file produces a config
and a diagnostics document describing what could not be compiled.

` + pathPatternsHelp

const compileLongDescription = `Compile rule files for the given paths (default: current directory).

` + pathPatternsHelp

const listLongDescription = `List rule files and the rules they declare without compiling them.

` + pathPatternsHelp

// rootCmd represents the base command when called without any subcommands.
// It is built in init, after the config defaults are registered.
var rootCmd *cobra.Command

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semtaint",
		Short: "Semgrep rule to taint config compiler",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger("", viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	configureRootFlags(cmd)

	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVarP(
			&outputDirFlag, outputFlagName, "o",
			viper.GetString(outputFlagName),
			"output directory for configs and diagnostics",
		)
	bindFlagToConfig(cmd.PersistentFlags().Lookup(outputFlagName), outputFlagName)

	cmd.PersistentFlags().StringArrayVarP(&excludePatterns, excludeFlagName, "x", viper.GetStringSlice(excludeConfigKey), "exclude rule files matching glob (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(excludeFlagName), excludeConfigKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

// rulePaths falls back to the configured rule roots when no path is given.
func rulePaths(args []string) []m.Path {
	if len(args) == 0 {
		args = viper.GetStringSlice(rulesConfigKey)
	}

	return parsePaths(args)
}

func parsePaths(args []string) []m.Path {
	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(arg))
	}

	return paths
}
