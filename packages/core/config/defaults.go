package config

import "time"

const (
	DefaultRetryDelay = time.Second
	DefaultRerunFile  = "hitsuite-failed.yaml"
	DefaultNotifyOn   = "failure"
)

// defaultValues feeds the lowest koanf layer.
func defaultValues() map[string]any {
	return map[string]any{
		"retry_delay": DefaultRetryDelay.String(),
		"reporters":   []string{"console"},
		"rerun_file":  DefaultRerunFile,
		"notify_on":   DefaultNotifyOn,
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		RetryDelay: DefaultRetryDelay,
		Reporters:  []string{"console"},
		RerunFile:  DefaultRerunFile,
		NotifyOn:   DefaultNotifyOn,
		FailFast:   BoolPtr(false),
		Verbose:    BoolPtr(false),
		NoColor:    BoolPtr(false),
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.Parallel == defaults.Parallel &&
		c.ThreadCount == defaults.ThreadCount &&
		c.SuiteTimeout == defaults.SuiteTimeout &&
		c.UnitTimeout == defaults.UnitTimeout &&
		c.Retries == defaults.Retries &&
		c.RetryDelay == defaults.RetryDelay &&
		c.MaxStartRate == defaults.MaxStartRate &&
		c.GetFailFast() == defaults.GetFailFast() &&
		len(c.IncludeGroups) == 0 &&
		len(c.ExcludeGroups) == 0 &&
		len(c.Reporters) == 1 && c.Reporters[0] == "console" &&
		c.OutputDir == defaults.OutputDir &&
		c.RerunFile == defaults.RerunFile &&
		c.HistoryDB == defaults.HistoryDB &&
		c.NotifyOn == defaults.NotifyOn &&
		c.GetVerbose() == defaults.GetVerbose() &&
		c.GetNoColor() == defaults.GetNoColor()
}
