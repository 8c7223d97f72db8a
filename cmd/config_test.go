package cmd

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "semtaint", configBaseName)
	assert.Equal(t, "semtaint.yaml", configFileName)
	assert.Equal(t, ".", configFolderPath)
	assert.Equal(t, "output", outputFlagName)
	assert.Equal(t, "exclude", excludeFlagName)
	assert.Equal(t, "parallel", compileParallelFlagName)
	assert.Equal(t, "compile.parallel", compileParallelConfigKey)
	assert.Equal(t, "compile.timeout", compileTimeoutConfigKey)
	assert.Equal(t, "paths.exclude", excludeConfigKey)
	assert.Equal(t, ".semtaint", defaultOutputDir)
	assert.Equal(t, 1, defaultCompileParallel)
	assert.Equal(t, time.Second, defaultCompileTimeout)
	assert.Equal(t, "SEMTAINT", envPrefix)
}

func TestConfigVersionConstants(t *testing.T) {
	assert.Equal(t, "version", configVersionKey)
	assert.Equal(t, 1, currentConfigVersion)
}

func TestCompileTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"default", "1s", time.Second},
		{"custom", "250ms", 250 * time.Millisecond},
		{"zero falls back", "0s", defaultCompileTimeout},
		{"negative falls back", "-5s", defaultCompileTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set(compileTimeoutConfigKey, tt.value)
			t.Cleanup(func() { viper.Set(compileTimeoutConfigKey, defaultCompileTimeout.String()) })

			assert.Equal(t, tt.want, compileTimeout())
		})
	}
}

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelWarn},
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"-4", slog.LevelDebug},
		{"loud", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSlogLevel(tt.value, slog.LevelWarn))
		})
	}
}

func TestLogFilePath(t *testing.T) {
	t.Run("under the output directory", func(t *testing.T) {
		cmd := newRootCmd()
		require.NoError(t, cmd.PersistentFlags().Set(outputFlagName, "build"))

		assert.Equal(t, filepath.Join("build", "semtaint.log"), logFilePath())
	})

	t.Run("explicit filename wins", func(t *testing.T) {
		viper.Set(logFilenameKey, "/tmp/custom.log")
		t.Cleanup(func() { viper.Set(logFilenameKey, "") })

		assert.Equal(t, "/tmp/custom.log", logFilePath())
	})
}
