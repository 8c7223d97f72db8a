package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	m "semtaint.dev/pkg/semtaint/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()
	originalWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tempDir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(originalWD)) })

	return tempDir
}

func runInit(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}

	cmd := newRootCmd()
	cmd.AddCommand(newInitCmd())
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"init"}, args...))

	err := cmd.Execute()

	return out.String(), err
}

func readProjectConfig(t *testing.T, path string) projectConfig {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg projectConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))

	return cfg
}

func TestInitCmd_WritesProjectConfig(t *testing.T) {
	tempDir := chdirTemp(t)

	out, err := runInit(t, "-o", "build/semtaint", "rules/java", "rules/spring")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+configFileName)

	targetPath := filepath.Join(tempDir, configFileName)
	cfg := readProjectConfig(t, targetPath)

	assert.Equal(t, currentConfigVersion, cfg.Version)
	assert.Equal(t, "build/semtaint", cfg.Output)
	assert.Equal(t, []string{"rules/java", "rules/spring"}, cfg.Paths.Rules)
	assert.Empty(t, cfg.Paths.Exclude)
	assert.Equal(t, viper.GetInt(compileParallelConfigKey), cfg.Compile.Parallel)
	assert.Equal(t, compileTimeout().String(), cfg.Compile.Timeout)
	assert.Equal(t, defaultLogLevel, cfg.Log.Level)
	assert.Equal(t, defaultLogMaxSize, cfg.Log.MaxSize)
	assert.Equal(t, defaultLogMaxBackups, cfg.Log.MaxBackups)
	assert.Equal(t, defaultLogMaxAge, cfg.Log.MaxAge)
	assert.Equal(t, defaultLogCompress, cfg.Log.Compress)

	t.Run("keys load back through viper", func(t *testing.T) {
		v := viper.New()
		v.SetConfigFile(targetPath)
		require.NoError(t, v.ReadInConfig())

		assert.Equal(t, []string{"rules/java", "rules/spring"}, v.GetStringSlice(rulesConfigKey))
		assert.Equal(t, "build/semtaint", v.GetString(outputFlagName))
		assert.Equal(t, cfg.Compile.Parallel, v.GetInt(compileParallelConfigKey))
		assert.Equal(t, compileTimeout(), v.GetDuration(compileTimeoutConfigKey))
		assert.Equal(t, defaultLogLevel, v.GetString(logLevelKey))
		assert.Equal(t, currentConfigVersion, v.GetInt(configVersionKey))
	})
}

func TestInitCmd_DefaultRuleRoot(t *testing.T) {
	tempDir := chdirTemp(t)

	_, err := runInit(t)
	require.NoError(t, err)

	cfg := readProjectConfig(t, filepath.Join(tempDir, configFileName))
	assert.Equal(t, []string{"."}, cfg.Paths.Rules)
}

func TestInitCmd_ExistingFile(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "kept without force", args: []string{"rules"}, wantErr: true},
		{name: "replaced with force", args: []string{"--force", "rules"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := chdirTemp(t)

			targetPath := filepath.Join(tempDir, configFileName)
			require.NoError(t, os.WriteFile(targetPath, []byte("existing: true\n"), 0o644))

			_, err := runInit(t, tt.args...)

			contents, readErr := os.ReadFile(targetPath)
			require.NoError(t, readErr)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "existing: true\n", string(contents))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, []string{"rules"}, readProjectConfig(t, targetPath).Paths.Rules)
		})
	}
}

func TestRulePaths(t *testing.T) {
	viper.Set(rulesConfigKey, []string{"rules/java"})
	t.Cleanup(func() { viper.Set(rulesConfigKey, []string{}) })

	assert.Equal(t, []m.Path{"rules/java"}, rulePaths(nil))
	assert.Equal(t, []m.Path{"rules/kotlin"}, rulePaths([]string{"rules/kotlin"}))
}
