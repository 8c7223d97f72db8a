package cmd

import (
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const unknownVersion = "unknown"

// buildVersion describes the running binary.
type buildVersion struct {
	module   string
	revision string
	goVer    string
}

func readBuildVersion() buildVersion {
	v := buildVersion{module: unknownVersion, revision: unknownVersion, goVer: unknownVersion}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}

	v.goVer = info.GoVersion
	if info.Main.Version != "" {
		v.module = info.Main.Version
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			v.revision = s.Value
		}
	}

	return v
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Long:  "Displays the semtaint build, the Go version and the config file format it reads.",
		Run: func(cmd *cobra.Command, _ []string) {
			v := readBuildVersion()

			cmd.Println("semtaint version\t", v.module)
			cmd.Println("revision\t\t", v.revision)
			cmd.Println("go version\t\t", v.goVer)
			cmd.Println("config version\t\t", currentConfigVersion)

			if used := viper.ConfigFileUsed(); used != "" {
				cmd.Println("config file\t\t", used)
			}
		},
	}
}
