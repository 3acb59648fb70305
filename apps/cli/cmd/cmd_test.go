package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const e2eSuite = `name: e2e
tests:
  - name: t
    classes:
      - name: C
        units:
          - name: ok
            exec: "true"
          - name: bad
            exec: "false"
          - name: after
            dependsOnMethods: [bad]
            exec: "true"
`

const groupedSuite = `name: grouped
tests:
  - name: t
    classes:
      - name: C
        units:
          - name: login
            exec: "true"
          - name: checkout
            groups: [smoke]
            dependsOnMethods: [login]
            exec: "false"
          - name: nightly
            groups: [slow]
            exec: "false"
`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.suite.yaml"), e2eSuite)
	b := writeFile(t, filepath.Join(dir, "nested", "b.suite.yml"), e2eSuite)
	writeFile(t, filepath.Join(dir, "hitsuite.yaml"), "threads: 2\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")
	plain := writeFile(t, filepath.Join(t.TempDir(), "plain.yaml"), e2eSuite)

	files, err := collectFiles([]string{dir, plain})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, plain}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "notes.txt")})
	assert.Error(t, err)

	_, err = collectFiles([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"HOST=db.local", "URL=a=b", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"HOST": "db.local", "URL": "a=b", "EMPTY": ""}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func TestNewFormatter(t *testing.T) {
	cfg := config.DefaultConfig()
	var buf bytes.Buffer

	for _, name := range []string{"console", "json", "junit", "tap", "html", "JSON", ""} {
		f, err := newFormatter(name, &buf, cfg)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}

	_, err := newFormatter("yaml", &buf, cfg)
	assert.Error(t, err)
}

func TestBuildFormatters_OutputDir(t *testing.T) {
	outputFlag, outputFileFlag = "", ""
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Reporters = []string{"console", "junit", "json"}
	cfg.OutputDir = filepath.Join(dir, "reports")

	var stdout bytes.Buffer
	f, closeAll, err := buildFormatters(&stdout, cfg)
	require.NoError(t, err)
	defer closeAll()

	multi, ok := f.(multiFormatter)
	require.True(t, ok)
	assert.Len(t, multi, 3)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "hitsuite-report.xml"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "hitsuite-report.json"))
}

func TestNewMetricsCollector(t *testing.T) {
	t.Cleanup(func() { metricsFlag, metricsFileFlag = "", "" })

	metricsFlag = ""
	c, err := newMetricsCollector(io.Discard)
	require.NoError(t, err)
	assert.Nil(t, c)

	metricsFlag = "statsd"
	_, err = newMetricsCollector(io.Discard)
	assert.Error(t, err)

	metricsFlag = "json"
	metricsFileFlag = filepath.Join(t.TempDir(), "metrics.json")
	c, err = newMetricsCollector(io.Discard)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NoError(t, c.Flush(context.Background()))
	require.NoError(t, c.Close())
	assert.FileExists(t, metricsFileFlag)
}

func TestRerunPath(t *testing.T) {
	cfg := config.DefaultConfig()

	single := &suiteRunner{cfg: cfg, files: []string{"a.yaml"}}
	assert.Equal(t, "hitsuite-failed.yaml", single.rerunPath("Smoke Tests"))

	multi := &suiteRunner{cfg: cfg, files: []string{"a.yaml", "b.yaml"}}
	assert.Equal(t, "hitsuite-failed-smoke-tests.yaml", multi.rerunPath("Smoke Tests"))

	cfg.RerunFile = "-"
	assert.Equal(t, "", single.rerunPath("smoke"))
}

func TestRemoveStaleRerun(t *testing.T) {
	dir := t.TempDir()

	ours := writeFile(t, filepath.Join(dir, "failed.yaml"), output.RerunHeaderPrefix+"x (run 1): 1 units\nname: x\n")
	require.NoError(t, removeStaleRerun(ours))
	assert.NoFileExists(t, ours)

	theirs := writeFile(t, filepath.Join(dir, "mine.yaml"), "name: x\n")
	require.NoError(t, removeStaleRerun(theirs))
	assert.FileExists(t, theirs)

	assert.NoError(t, removeStaleRerun(filepath.Join(dir, "missing.yaml")))
}

func TestSelectReport(t *testing.T) {
	a := &output.Report{Suite: "a"}
	b := &output.Report{Suite: "b"}

	r, err := selectReport([]*output.Report{a, b}, "b")
	require.NoError(t, err)
	assert.Same(t, b, r)

	r, err = selectReport([]*output.Report{a}, "renamed")
	require.NoError(t, err)
	assert.Same(t, a, r)

	_, err = selectReport([]*output.Report{a, b}, "c")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, filepath.Join(dir, "valid.suite.yaml"), e2eSuite)

	stdout, _, err := execute(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Valid: "+valid)

	cycle := writeFile(t, filepath.Join(dir, "cycle.suite.yaml"), `name: cycle
tests:
  - classes:
      - name: C
        units:
          - name: a
            dependsOnMethods: [b]
          - name: b
            dependsOnMethods: [a]
`)
	_, stderr, err := execute(t, "validate", cycle)
	assert.Equal(t, ExitConfigError, exitCode(err))
	assert.Contains(t, stderr, cycle)

	broken := writeFile(t, filepath.Join(dir, "broken.suite.yaml"), "name: [unclosed\n")
	_, _, err = execute(t, "validate", broken)
	assert.Equal(t, ExitParseError, exitCode(err))
}

func TestRunAndRerun(t *testing.T) {
	dir := t.TempDir()
	suitePath := writeFile(t, filepath.Join(dir, "e2e.suite.yaml"), e2eSuite)
	report := filepath.Join(dir, "report.json")
	rerunFile := filepath.Join(dir, "failed.yaml")

	_, _, err := execute(t, "run", suitePath,
		"--config", writeFile(t, filepath.Join(dir, "hitsuite.yaml"), "retry_delay: 10ms\n"),
		"-o", "json", "--output-file", report,
		"--rerun-file", rerunFile,
	)
	assert.Equal(t, ExitTestFailure, exitCode(err))

	data, err := os.ReadFile(rerunFile)
	require.NoError(t, err)
	rerunSuite := string(data)
	assert.True(t, strings.HasPrefix(rerunSuite, output.RerunHeaderPrefix+"e2e (run "), rerunSuite)
	assert.Contains(t, rerunSuite, "name: bad")
	assert.Contains(t, rerunSuite, "name: after")
	assert.NotContains(t, rerunSuite, "name: ok")

	reports, err := output.LoadJSONReport(report)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "e2e", reports[0].Suite)

	stdout, _, err := execute(t, "rerun", suitePath, "--from", report, "--rerun-file", "-")
	require.NoError(t, err)
	assert.Equal(t, rerunSuite, stdout)
}

func TestRunAndRerun_GroupFilter(t *testing.T) {
	t.Cleanup(func() {
		groupsFlag = nil
		runCmd.Flags().Lookup("groups").Changed = false
	})
	dir := t.TempDir()
	suitePath := writeFile(t, filepath.Join(dir, "grouped.suite.yaml"), groupedSuite)
	report := filepath.Join(dir, "report.json")
	rerunFile := filepath.Join(dir, "failed.yaml")

	_, _, err := execute(t, "run", suitePath, "-g", "smoke",
		"-o", "json", "--output-file", report,
		"--rerun-file", rerunFile,
	)
	assert.Equal(t, ExitTestFailure, exitCode(err))

	data, err := os.ReadFile(rerunFile)
	require.NoError(t, err)
	rerunSuite := string(data)
	assert.Contains(t, rerunSuite, "name: checkout")
	assert.NotContains(t, rerunSuite, "name: nightly")

	reports, err := output.LoadJSONReport(report)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"smoke"}, reports[0].IncludeGroups)

	stdout, _, err := execute(t, "rerun", suitePath, "--from", report, "--rerun-file", "-")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "name: nightly")
	assert.Equal(t, rerunSuite, stdout)
}

func TestUsageErrors(t *testing.T) {
	_, _, err := execute(t, "run")
	assert.Equal(t, ExitUsageError, exitCode(err))

	_, _, err = execute(t, "list", "--no-such-flag", ".")
	assert.Equal(t, ExitUsageError, exitCode(err))
}
