package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{Dir: t.TempDir(), SkipEnv: true})
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, []string{"console"}, cfg.Reporters)
	assert.Equal(t, DefaultRerunFile, cfg.RerunFile)
	assert.False(t, cfg.GetFailFast())
	assert.False(t, cfg.GetVerbose())
	assert.True(t, cfg.IsDefault())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `parallel: methods
thread_count: 8
suite_timeout: 5m
retries: 2
fail_fast: true
include_groups: [smoke, fast]
reporters: [console, junit]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hitsuite.yaml"), []byte(content), 0644))

	cfg, err := LoadWithOptions(LoadOptions{Dir: dir, SkipEnv: true})
	require.NoError(t, err)

	mode, err := cfg.ParallelMode()
	require.NoError(t, err)
	assert.Equal(t, suite.ParallelMethods, mode)
	assert.Equal(t, 8, cfg.ThreadCount)
	assert.Equal(t, 5*time.Minute, cfg.SuiteTimeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.True(t, cfg.GetFailFast())
	assert.Equal(t, []string{"smoke", "fast"}, cfg.IncludeGroups)
	assert.Equal(t, []string{"console", "junit"}, cfg.Reporters)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.False(t, cfg.IsDefault())
}

func TestLoad_JSONRC(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hitsuiterc"), []byte(`{"thread_count": 3, "no_color": true}`), 0644))

	cfg, err := LoadWithOptions(LoadOptions{Dir: dir, SkipEnv: true})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ThreadCount)
	assert.True(t, cfg.GetNoColor())
}

func TestLoad_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hitsuite.yaml"), []byte("thread_count: 2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hitsuite.yaml"), []byte("thread_count: 1\n"), 0644))

	assert.Equal(t, filepath.Join(dir, "hitsuite.yaml"), FindConfigFile(dir))
	assert.Equal(t, "", FindConfigFile(t.TempDir()))
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hitsuite.yaml"), []byte("thread_count: 2\nretries: 1\n"), 0644))

	t.Setenv("HITSUITE_THREAD_COUNT", "6")
	t.Setenv("HITSUITE_FAIL_FAST", "true")
	t.Setenv("HITSUITE_EXCLUDE_GROUPS", "slow, flaky")
	t.Setenv("HITSUITE_UNIT_TIMEOUT", "15s")

	cfg, err := LoadWithOptions(LoadOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.ThreadCount)
	assert.Equal(t, 1, cfg.Retries)
	assert.True(t, cfg.GetFailFast())
	assert.Equal(t, []string{"slow", "flaky"}, cfg.ExcludeGroups)
	assert.Equal(t, 15*time.Second, cfg.UnitTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := LoadWithOptions(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml"), SkipEnv: true})
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "hitsuite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallel: sometimes\n"), 0644))
	_, err = LoadWithOptions(LoadOptions{Path: path, SkipEnv: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	require.NoError(t, os.WriteFile(path, []byte("notify_on: never\n"), 0644))
	_, err = LoadWithOptions(LoadOptions{Path: path, SkipEnv: true})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]*Config{
		"negative threads": {ThreadCount: -1},
		"negative timeout": {SuiteTimeout: -time.Second},
		"negative retries": {Retries: -1},
		"negative rate":    {MaxStartRate: -1},
		"bad mode":         {Parallel: "always"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestMerge(t *testing.T) {
	base := &Config{
		ThreadCount:   4,
		RetryDelay:    time.Second,
		FailFast:      BoolPtr(true),
		IncludeGroups: []string{"smoke"},
		Reporters:     []string{"console"},
	}
	other := &Config{
		Parallel:  "classes",
		FailFast:  BoolPtr(false),
		Reporters: []string{"json"},
	}

	merged := base.Merge(other)
	assert.Equal(t, "classes", merged.Parallel)
	assert.Equal(t, 4, merged.ThreadCount)
	assert.Equal(t, time.Second, merged.RetryDelay)
	assert.False(t, merged.GetFailFast())
	assert.Equal(t, []string{"smoke"}, merged.IncludeGroups)
	assert.Equal(t, []string{"json"}, merged.Reporters)

	// base is untouched
	assert.True(t, base.GetFailFast())
	assert.Same(t, base, base.Merge(nil))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hitsuite.yaml")
	cfg := DefaultConfig()
	cfg.ThreadCount = 7
	cfg.SuiteTimeout = 90 * time.Second
	cfg.ExcludeGroups = []string{"slow"}
	require.NoError(t, cfg.SaveConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "suite_timeout: 1m30s")

	loaded, err := LoadWithOptions(LoadOptions{Path: path, SkipEnv: true})
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.ThreadCount)
	assert.Equal(t, 90*time.Second, loaded.SuiteTimeout)
	assert.Equal(t, []string{"slow"}, loaded.ExcludeGroups)
}
