package parser

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/retry"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/exec"
)

// DefaultEnvFiles are loaded from the document's directory when it names
// no envFile of its own.
var DefaultEnvFiles = []string{".env", ".env.local"}

// BuildOptions controls how a document becomes a runnable suite.
type BuildOptions struct {
	// Dir is where commands run and envFile paths are resolved. It defaults
	// to the document's workdir, then to the document's directory.
	Dir string
	// Vars override variables from the document and its env files.
	Vars map[string]string
	// Output receives the output of every shell unit.
	Output io.Writer
	// WarnFunc is told about unresolved {{placeholders}}.
	WarnFunc env.WarnFunc
}

// Load parses and builds a suite document in one step.
func Load(path string, opts BuildOptions) (*suite.Suite, *Document, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	s, err := Build(doc, opts)
	if err != nil {
		return nil, nil, err
	}
	return s, doc, nil
}

// Build converts doc into a suite. Every unit gets an Invoker: a shell
// command for exec, a readiness probe for waitFor, and a no-op otherwise.
func Build(doc *Document, opts BuildOptions) (*suite.Suite, error) {
	dir := opts.Dir
	if dir == "" {
		base := ""
		if doc.Path != "" {
			base = filepath.Dir(doc.Path)
		}
		dir = base
		if doc.WorkDir != "" {
			dir = doc.WorkDir
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(base, dir)
			}
		}
	}

	vars, err := loadVariables(doc, dir)
	if err != nil {
		return nil, err
	}
	vars = env.MergeVariables(vars, opts.Vars)

	resolver := env.NewResolver()
	resolver.SetVariables(vars)
	if opts.WarnFunc != nil {
		resolver.SetWarnFunc(opts.WarnFunc)
	}

	b := &builder{doc: doc, dir: dir, vars: vars, resolver: resolver, output: opts.Output}
	return b.suite()
}

func loadVariables(doc *Document, dir string) (map[string]string, error) {
	var fileVars map[string]string
	var err error
	if len(doc.EnvFiles) > 0 {
		fileVars = make(map[string]string)
		for _, name := range doc.EnvFiles {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, name)
			}
			vars, err := env.LoadDotEnv(path)
			if err != nil {
				return nil, fmt.Errorf("loading env file: %w", err)
			}
			maps.Copy(fileVars, vars)
		}
	} else {
		fileVars, err = env.LoadDotEnvFiles(dir, DefaultEnvFiles...)
		if err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}
	return env.MergeVariables(doc.Variables, fileVars), nil
}

type builder struct {
	doc      *Document
	dir      string
	vars     map[string]string
	resolver *env.Resolver
	output   io.Writer
}

func (b *builder) errorf(format string, args ...any) error {
	return &ParseError{File: b.doc.Path, Message: fmt.Sprintf(format, args...)}
}

func (b *builder) suite() (*suite.Suite, error) {
	doc := b.doc
	mode, err := suite.ParseParallelMode(doc.Parallel)
	if err != nil {
		return nil, b.errorf("%v", err)
	}
	timeout, err := duration(doc.Timeout)
	if err != nil {
		return nil, b.errorf("timeout: %v", err)
	}

	name := doc.Name
	if name == "" && doc.Path != "" {
		base := filepath.Base(doc.Path)
		name = base[:len(base)-len(filepath.Ext(base))]
	}

	s := &suite.Suite{
		Name:        name,
		Source:      doc.Path,
		Parallel:    mode,
		ThreadCount: doc.ThreadCount,
		Timeout:     timeout,
		Parameters:  maps.Clone(doc.Parameters),
	}
	for i, td := range doc.Tests {
		t, err := b.test(doc.TestName(i), td)
		if err != nil {
			return nil, err
		}
		s.Tests = append(s.Tests, t)
	}
	return s, nil
}

func (b *builder) test(name string, td *TestDoc) (*suite.Test, error) {
	t := &suite.Test{
		Name:        name,
		ThreadCount: td.ThreadCount,
		Parameters:  maps.Clone(td.Parameters),
	}
	if td.Parallel != "" {
		mode, err := suite.ParseParallelMode(td.Parallel)
		if err != nil {
			return nil, b.errorf("test %s: %v", name, err)
		}
		t.Parallel = mode
	}
	for _, cd := range td.Classes {
		c := &suite.Class{Name: cd.Name, Parameters: maps.Clone(cd.Parameters)}
		for _, ud := range cd.Units {
			u, err := b.unit(ud)
			if err != nil {
				return nil, b.errorf("test %s: %s.%s: %v", name, cd.Name, ud.Name, err)
			}
			c.Units = append(c.Units, u)
		}
		t.Classes = append(t.Classes, c)
	}
	return t, nil
}

func (b *builder) unit(ud *UnitDoc) (*suite.Unit, error) {
	kind, err := suite.ParseConfigKind(ud.Config)
	if err != nil {
		return nil, err
	}
	timeout, err := duration(ud.Timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}

	u := &suite.Unit{
		Name:                      ud.Name,
		Signature:                 ud.Signature,
		Description:               ud.Description,
		Config:                    kind,
		DependsOnUnits:            append([]string(nil), ud.DependsOnMethods...),
		DependsOnGroups:           append([]string(nil), ud.DependsOnGroups...),
		Groups:                    append([]string(nil), ud.Groups...),
		AlwaysRun:                 ud.AlwaysRun,
		IgnoreMissingDependencies: ud.IgnoreMissingDependencies,
		InvocationCount:           ud.InvocationCount,
		ThreadPoolSize:            ud.ThreadPoolSize,
		Timeout:                   timeout,
		SuccessPercentage:         ud.SuccessPercentage,
		SkipFailedInvocations:     ud.SkipFailedInvocations,
		Priority:                  ud.Priority,
		Invocations:               append([]int(nil), ud.Invocations...),
		Parameters:                maps.Clone(ud.Parameters),
	}

	if ud.Retry != nil {
		p, err := retryPolicy(ud.Retry)
		if err != nil {
			return nil, err
		}
		u.RetryPolicy = p
	}

	invoker, err := b.invoker(ud)
	if err != nil {
		return nil, err
	}
	u.Invoker = invoker
	return u, nil
}

func (b *builder) invoker(ud *UnitDoc) (suite.Invoker, error) {
	switch {
	case ud.Exec != "" && ud.WaitFor != nil:
		return nil, fmt.Errorf("exec and waitFor are mutually exclusive")
	case ud.Exec != "":
		return &exec.Shell{
			Command:     ud.Exec,
			Dir:         b.dir,
			Vars:        b.vars,
			Resolver:    b.resolver,
			Output:      b.output,
			IgnoreError: ud.IgnoreError,
		}, nil
	case ud.WaitFor != nil:
		timeout, err := duration(ud.WaitFor.Timeout)
		if err != nil {
			return nil, fmt.Errorf("waitFor timeout: %w", err)
		}
		interval, err := duration(ud.WaitFor.Interval)
		if err != nil {
			return nil, fmt.Errorf("waitFor interval: %w", err)
		}
		return &exec.WaitFor{
			URL:      ud.WaitFor.URL,
			Status:   ud.WaitFor.Status,
			Timeout:  timeout,
			Interval: interval,
			Resolver: b.resolver,
		}, nil
	}
	return noop, nil
}

var noop = suite.InvokerFunc(func(ctx context.Context, inv suite.Invocation) error { return nil })

func retryPolicy(rd *RetryDoc) (*retry.Policy, error) {
	delay, err := duration(rd.Delay)
	if err != nil {
		return nil, fmt.Errorf("retry delay: %w", err)
	}
	maxDelay, err := duration(rd.MaxDelay)
	if err != nil {
		return nil, fmt.Errorf("retry maxDelay: %w", err)
	}
	p := &retry.Policy{
		MaxAttempts:   rd.Attempts + 1,
		Delay:         delay,
		Multiplier:    rd.Multiplier,
		MaxDelay:      maxDelay,
		RetryTimeouts: true,
	}
	if rd.OnTimeout != nil {
		p.RetryTimeouts = *rd.OnTimeout
	}
	return p, nil
}

func duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Exists reports whether path is a readable suite document.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
