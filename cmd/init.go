package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const forceFlagName = "force"

// projectConfig is the layout of semtaint.yaml.
type projectConfig struct {
	Version int           `yaml:"version"`
	Output  string        `yaml:"output"`
	Paths   pathsConfig   `yaml:"paths"`
	Compile compileConfig `yaml:"compile"`
	Log     logConfig     `yaml:"log"`
}

type pathsConfig struct {
	Rules   []string `yaml:"rules"`
	Exclude []string `yaml:"exclude"`
}

type compileConfig struct {
	Parallel int    `yaml:"parallel"`
	Timeout  string `yaml:"timeout"`
}

type logConfig struct {
	Level      string `yaml:"level"`
	Verbose    bool   `yaml:"verbose"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// currentProjectConfig snapshots the effective settings. Rule roots default
// to the current directory.
func currentProjectConfig(roots []string) projectConfig {
	if len(roots) == 0 {
		roots = viper.GetStringSlice(rulesConfigKey)
	}

	if len(roots) == 0 {
		roots = []string{"."}
	}

	exclude := viper.GetStringSlice(excludeConfigKey)
	if exclude == nil {
		exclude = []string{}
	}

	return projectConfig{
		Version: currentConfigVersion,
		Output:  viper.GetString(outputFlagName),
		Paths:   pathsConfig{Rules: roots, Exclude: exclude},
		Compile: compileConfig{
			Parallel: viper.GetInt(compileParallelConfigKey),
			Timeout:  compileTimeout().String(),
		},
		Log: logConfig{
			Level:      viper.GetString(logLevelKey),
			Verbose:    viper.GetBool(logVerboseKey),
			MaxSize:    viper.GetInt(logMaxSizeKey),
			MaxBackups: viper.GetInt(logMaxBackupsKey),
			MaxAge:     viper.GetInt(logMaxAgeKey),
			Compress:   viper.GetBool(logCompressKey),
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [rule roots...]",
		Short: "Generate a semtaint.yaml project configuration",
		Long: `Create a semtaint.yaml in the current working directory. The given rule
roots are compiled when compile or list run without paths. Output, compile
and log settings are taken from the current flags and environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targetPath := filepath.Join(configFolderPath, configFileName)

			data, err := yaml.Marshal(currentProjectConfig(args))
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}

			f, err := os.OpenFile(targetPath, flags, 0o644)
			if err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			if _, err := f.Write(data); err != nil {
				_ = f.Close()
				return fmt.Errorf("failed to write config file: %w", err)
			}

			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cmd.Println("wrote", targetPath)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, forceFlagName, "f", false, "overwrite an existing config file")

	return cmd
}
