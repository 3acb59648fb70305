package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is a suite definition as written in a YAML file.
type Document struct {
	Path string `yaml:"-"`

	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Parallel    string            `yaml:"parallel,omitempty"`
	ThreadCount int               `yaml:"threadCount,omitempty"`
	Timeout     string            `yaml:"timeout,omitempty"`
	WorkDir     string            `yaml:"workdir,omitempty"`
	EnvFiles    StringList        `yaml:"envFile,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`
	Tests       []*TestDoc        `yaml:"tests"`
}

type TestDoc struct {
	Name        string            `yaml:"name,omitempty"`
	Parallel    string            `yaml:"parallel,omitempty"`
	ThreadCount int               `yaml:"threadCount,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`
	Classes     []*ClassDoc       `yaml:"classes"`
}

type ClassDoc struct {
	Name       string            `yaml:"name"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
	Units      []*UnitDoc        `yaml:"units"`
}

type UnitDoc struct {
	Name        string `yaml:"name"`
	Signature   string `yaml:"signature,omitempty"`
	Description string `yaml:"description,omitempty"`
	Config      string `yaml:"config,omitempty"`

	Exec        string            `yaml:"exec,omitempty"`
	IgnoreError bool              `yaml:"ignoreError,omitempty"`
	WaitFor     *WaitForDoc       `yaml:"waitFor,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`

	DependsOnMethods          []string `yaml:"dependsOnMethods,omitempty"`
	DependsOnGroups           []string `yaml:"dependsOnGroups,omitempty"`
	Groups                    []string `yaml:"groups,omitempty"`
	AlwaysRun                 bool     `yaml:"alwaysRun,omitempty"`
	IgnoreMissingDependencies bool     `yaml:"ignoreMissingDependencies,omitempty"`

	InvocationCount       int       `yaml:"invocationCount,omitempty"`
	ThreadPoolSize        int       `yaml:"threadPoolSize,omitempty"`
	Timeout               string    `yaml:"timeout,omitempty"`
	SuccessPercentage     int       `yaml:"successPercentage,omitempty"`
	SkipFailedInvocations bool      `yaml:"skipFailedInvocations,omitempty"`
	Priority              int       `yaml:"priority,omitempty"`
	Retry                 *RetryDoc `yaml:"retry,omitempty"`
	Invocations           []int     `yaml:"invocations,omitempty"`
}

type WaitForDoc struct {
	URL      string `yaml:"url"`
	Status   int    `yaml:"status,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

type RetryDoc struct {
	Attempts   int     `yaml:"attempts"`
	Delay      string  `yaml:"delay,omitempty"`
	Multiplier float64 `yaml:"multiplier,omitempty"`
	MaxDelay   string  `yaml:"maxDelay,omitempty"`
	// OnTimeout controls whether timed out invocations are retried.
	OnTimeout *bool `yaml:"onTimeout,omitempty"`
}

// StringList accepts either a single string or a sequence of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return &ParseError{Line: node.Line, Column: node.Column, Message: "expected a string or a list of strings"}
}

// TestName returns the name the suite model gives the i-th test.
func (d *Document) TestName(i int) string {
	if d.Tests[i].Name != "" {
		return d.Tests[i].Name
	}
	return fmt.Sprintf("test-%d", i+1)
}

// UnitSignature returns the signature a unit is identified by.
func (u *UnitDoc) UnitSignature() string {
	if u.Signature != "" {
		return u.Signature
	}
	return u.Name
}

type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.File != "":
		return e.File + ": " + e.Message
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}
