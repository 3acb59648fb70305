package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HITSUITE_THREAD_COUNT.
const EnvPrefix = "HITSUITE_"

// Config represents the hitsuite configuration
type Config struct {
	Parallel      string        `koanf:"parallel" yaml:"parallel,omitempty"`
	ThreadCount   int           `koanf:"thread_count" yaml:"thread_count,omitempty"`
	SuiteTimeout  time.Duration `koanf:"suite_timeout" yaml:"suite_timeout,omitempty"`
	UnitTimeout   time.Duration `koanf:"unit_timeout" yaml:"unit_timeout,omitempty"`
	Retries       int           `koanf:"retries" yaml:"retries,omitempty"`
	RetryDelay    time.Duration `koanf:"retry_delay" yaml:"retry_delay,omitempty"`
	MaxStartRate  float64       `koanf:"max_start_rate" yaml:"max_start_rate,omitempty"` // invocation starts per second
	FailFast      *bool         `koanf:"fail_fast" yaml:"fail_fast,omitempty"`
	IncludeGroups []string      `koanf:"include_groups" yaml:"include_groups,omitempty"`
	ExcludeGroups []string      `koanf:"exclude_groups" yaml:"exclude_groups,omitempty"`

	Reporters []string `koanf:"reporters" yaml:"reporters,omitempty"` // Output reporters
	OutputDir string   `koanf:"output_dir" yaml:"output_dir,omitempty"`
	RerunFile string   `koanf:"rerun_file" yaml:"rerun_file,omitempty"` // Where the rerun suite is written
	HistoryDB string   `koanf:"history_db" yaml:"history_db,omitempty"`

	NotifyOn     string `koanf:"notify_on" yaml:"notify_on,omitempty"`
	SlackWebhook string `koanf:"slack_webhook" yaml:"slack_webhook,omitempty"`
	SlackChannel string `koanf:"slack_channel" yaml:"slack_channel,omitempty"`
	TeamsWebhook string `koanf:"teams_webhook" yaml:"teams_webhook,omitempty"`

	Verbose *bool `koanf:"verbose" yaml:"verbose,omitempty"`
	NoColor *bool `koanf:"no_color" yaml:"no_color,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFailFast returns the fail fast setting, defaulting to false
func (c *Config) GetFailFast() bool {
	return getBool(c.FailFast, false)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// ParallelMode parses the configured parallel mode. An empty value leaves
// the choice to the suite document.
func (c *Config) ParallelMode() (suite.ParallelMode, error) {
	if c.Parallel == "" {
		return "", nil
	}
	return suite.ParseParallelMode(c.Parallel)
}

// ConfigFilenames contains the possible config file names, in search order
var ConfigFilenames = []string{
	"hitsuite.yaml",
	".hitsuite.yaml",
	"hitsuite.json",
	".hitsuiterc",
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is an explicit config file; it must exist when set.
	Path string
	// Dir is searched for ConfigFilenames when Path is empty.
	Dir string
	// SkipEnv ignores HITSUITE_* environment overrides.
	SkipEnv bool
}

// LoadConfig loads configuration from the specified path or searches the
// current directory for a config file
func LoadConfig(path string) (*Config, error) {
	return LoadWithOptions(LoadOptions{Path: path, Dir: "."})
}

// LoadWithOptions layers defaults, the config file and environment
// overrides, in increasing priority.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaultValues() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	path := opts.Path
	if path == "" {
		path = FindConfigFile(opts.Dir)
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if !opts.SkipEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment config: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.IncludeGroups = splitList(cfg.IncludeGroups)
	cfg.ExcludeGroups = splitList(cfg.ExcludeGroups)
	cfg.Reporters = splitList(cfg.Reporters)

	if err := cfg.Validate(); err != nil {
		source := "config"
		if path != "" {
			source = path
		}
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &cfg, nil
}

// FindConfigFile returns the first of ConfigFilenames present in dir, or "".
func FindConfigFile(dir string) string {
	if dir == "" {
		dir = "."
	}
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			return configPath
		}
	}
	return ""
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser()
	}
	return json.Parser()
}

// envTransform converts environment variable names to config keys
// Example: HITSUITE_THREAD_COUNT -> thread_count
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// splitList expands comma separated entries, as they arrive from the
// environment.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := c.ParallelMode(); err != nil {
		return err
	}
	switch {
	case c.ThreadCount < 0:
		return fmt.Errorf("thread_count must not be negative")
	case c.SuiteTimeout < 0 || c.UnitTimeout < 0 || c.RetryDelay < 0:
		return fmt.Errorf("timeouts and delays must not be negative")
	case c.Retries < 0:
		return fmt.Errorf("retries must not be negative")
	case c.MaxStartRate < 0:
		return fmt.Errorf("max_start_rate must not be negative")
	}
	switch c.NotifyOn {
	case "", "always", "failure", "success", "recovery":
	default:
		return fmt.Errorf("unknown notify_on %q (use always, failure, success or recovery)", c.NotifyOn)
	}
	return nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.Parallel != "" {
		result.Parallel = other.Parallel
	}
	if other.ThreadCount > 0 {
		result.ThreadCount = other.ThreadCount
	}
	if other.SuiteTimeout > 0 {
		result.SuiteTimeout = other.SuiteTimeout
	}
	if other.UnitTimeout > 0 {
		result.UnitTimeout = other.UnitTimeout
	}
	if other.Retries > 0 {
		result.Retries = other.Retries
	}
	if other.RetryDelay > 0 {
		result.RetryDelay = other.RetryDelay
	}
	if other.MaxStartRate > 0 {
		result.MaxStartRate = other.MaxStartRate
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}
	if other.RerunFile != "" {
		result.RerunFile = other.RerunFile
	}
	if other.HistoryDB != "" {
		result.HistoryDB = other.HistoryDB
	}
	if other.NotifyOn != "" {
		result.NotifyOn = other.NotifyOn
	}
	if other.SlackWebhook != "" {
		result.SlackWebhook = other.SlackWebhook
	}
	if other.SlackChannel != "" {
		result.SlackChannel = other.SlackChannel
	}
	if other.TeamsWebhook != "" {
		result.TeamsWebhook = other.TeamsWebhook
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FailFast != nil {
		result.FailFast = other.FailFast
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.IncludeGroups) > 0 {
		result.IncludeGroups = other.IncludeGroups
	}
	if len(other.ExcludeGroups) > 0 {
		result.ExcludeGroups = other.ExcludeGroups
	}
	if len(other.Reporters) > 0 {
		result.Reporters = other.Reporters
	}

	return &result
}

// SaveConfig saves the configuration to a YAML file. Durations are written
// in time.ParseDuration form.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]any)
	}
	durations := map[string]time.Duration{
		"suite_timeout": c.SuiteTimeout,
		"unit_timeout":  c.UnitTimeout,
		"retry_delay":   c.RetryDelay,
	}
	for key, d := range durations {
		if d != 0 {
			values[key] = d.String()
		}
	}
	if data, err = yaml.Marshal(values); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
