package output

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/rerun"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/retry"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass() suite.Invoker {
	return suite.InvokerFunc(func(context.Context, suite.Invocation) error { return nil })
}

// sampleRun runs a class with one passing unit, one failing unit retried
// once, a dependent that gets skipped and a data driven unit whose second
// invocation fails.
func sampleRun(t *testing.T) *runner.RunResult {
	t.Helper()
	s := &suite.Suite{
		Name: "s",
		Tests: []*suite.Test{{
			Name: "t",
			Classes: []*suite.Class{{
				Name: "C",
				Units: []*suite.Unit{
					{Name: "setup", Config: suite.BeforeClass, Invoker: pass()},
					{Name: "a", Invoker: pass()},
					{
						Name:        "b",
						RetryPolicy: retry.Attempts(2),
						Invoker: suite.InvokerFunc(func(context.Context, suite.Invocation) error {
							return errors.New("connection refused")
						}),
					},
					{Name: "c", DependsOnUnits: []string{"b"}, Invoker: pass()},
					{
						Name:            "d",
						InvocationCount: 3,
						Invoker: suite.InvokerFunc(func(_ context.Context, inv suite.Invocation) error {
							if inv.Index == 1 {
								return errors.New("bad row")
							}
							return nil
						}),
					},
				},
			}},
		}},
	}
	res, err := runner.NewRunner(nil).RunSuite(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, 1, res.Passed)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, 1, res.Skipped)
	return res
}

func TestConsoleFormatter(t *testing.T) {
	res := sampleRun(t)

	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))
	f.FormatResult(res)
	out := buf.String()

	assert.Contains(t, out, "Running: s")
	assert.Contains(t, out, "✓ C.a")
	assert.Contains(t, out, "✗ C.b")
	assert.Contains(t, out, "1 retries")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "- C.c (dependency failed")
	assert.Contains(t, out, "1/3 invocations failed")
	assert.Contains(t, out, "1 passed, 2 failed, 1 skipped, 4 total")
	assert.NotContains(t, out, "setup", "passing hooks are only shown in verbose mode")

	buf.Reset()
	f = NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))
	f.FormatResult(res)
	out = buf.String()
	assert.Contains(t, out, "C.setup [beforeClass]")
	assert.Contains(t, out, "#0 attempt 2: FAILURE")
	assert.Contains(t, out, "Invocations:")
}

func TestJSONFormatter_RoundTrip(t *testing.T) {
	res := sampleRun(t)

	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))

	reports, err := ParseJSONReport(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, res.RunID, report.RunID)
	assert.Equal(t, "s", report.Suite)

	snap := report.Snapshot
	assert.Equal(t, suite.StatusSuccess, snap.OutcomeOf("t/C.a").Status)
	assert.Equal(t, suite.StatusFailure, snap.OutcomeOf("t/C.b").Status)
	assert.Len(t, snap.Outcomes("t/C.b"), 2)
	assert.Equal(t, suite.StatusSkip, snap.OutcomeOf("t/C.c").Status)
	assert.Equal(t, suite.CauseDependency, snap.OutcomeOf("t/C.c").Cause)
	assert.Equal(t, []int{1}, snap.FailedInvocations("t/C.d"))
	assert.EqualError(t, snap.OutcomeOf("t/C.b").Err, "connection refused")

	// A plan built from the report matches one built from the live run.
	fromReport, err := rerun.Build(snap, res.Suite)
	require.NoError(t, err)
	fromRun, err := rerun.Build(res.Snapshot, res.Suite)
	require.NoError(t, err)
	assert.Equal(t, fromRun.String(), fromReport.String())
	assert.Empty(t, report.IncludeGroups)
	assert.Empty(t, report.ExcludeGroups)
}

func TestJSONFormatter_GroupFilters(t *testing.T) {
	s := &suite.Suite{
		Name: "g",
		Tests: []*suite.Test{{
			Name: "t",
			Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{
				{Name: "a", Groups: []string{"smoke"}, Invoker: pass()},
				{Name: "b", Groups: []string{"slow"}, Invoker: pass()},
			}}},
		}},
	}
	res, err := runner.NewRunner(&runner.Config{
		IncludeGroups: []string{"smoke"},
		ExcludeGroups: []string{"slow"},
	}).RunSuite(context.Background(), s)
	require.NoError(t, err)

	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))
	assert.Contains(t, buf.String(), `"includeGroups"`)

	reports, err := ParseJSONReport(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"smoke"}, reports[0].IncludeGroups)
	assert.Equal(t, []string{"slow"}, reports[0].ExcludeGroups)
}

func TestParseJSONReport_Errors(t *testing.T) {
	_, err := ParseJSONReport([]byte("{not json"))
	assert.Error(t, err)

	_, err = ParseJSONReport([]byte(`{"summary": {}}`))
	assert.Error(t, err)

	_, err = ParseJSONReport([]byte(`{"runs": [{"units": [{"status": "SUCCESS"}]}]}`))
	assert.Error(t, err)

	_, err = LoadJSONReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestJUnitFormatter(t *testing.T) {
	res := sampleRun(t)

	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	assert.Equal(t, 4, suites.Tests)
	assert.Equal(t, 2, suites.Failures)
	assert.Equal(t, 1, suites.Skipped)
	assert.Equal(t, 0, suites.Errors)

	require.Len(t, suites.TestSuites, 1)
	ts := suites.TestSuites[0]
	assert.Equal(t, "s/t", ts.Name)
	require.Len(t, ts.TestCases, 4)
	assert.Equal(t, "C", ts.TestCases[0].ClassName)
	require.NotNil(t, ts.TestCases[1].Failure)
	assert.Equal(t, "connection refused", ts.TestCases[1].Failure.Message)
	assert.Contains(t, ts.TestCases[1].Failure.Content, "invocation 0 attempt 2: FAILURE")
	require.NotNil(t, ts.TestCases[2].Skipped)
}

func TestJUnitFormatter_ConfigurationFailure(t *testing.T) {
	s := &suite.Suite{Name: "s", Tests: []*suite.Test{{
		Name: "t",
		Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{
			{Name: "setup", Config: suite.BeforeClass, Invoker: suite.InvokerFunc(func(context.Context, suite.Invocation) error {
				return errors.New("db down")
			})},
			{Name: "a", Invoker: pass()},
		}}},
	}}}
	res, err := runner.NewRunner(nil).RunSuite(context.Background(), s)
	require.NoError(t, err)

	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	assert.Equal(t, 1, suites.Errors)
	assert.Equal(t, 1, suites.Skipped)
}

func TestTAPFormatter(t *testing.T) {
	res := sampleRun(t)

	var buf bytes.Buffer
	f := NewTAPFormatter(TAPWithWriter(&buf))
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "TAP version 13\n1..4\n"))
	assert.Contains(t, out, "ok 1 - t C.a\n")
	assert.Contains(t, out, "not ok 2 - t C.b\n")
	assert.Contains(t, out, "ok 3 - t C.c # SKIP dependency failed")
	assert.Contains(t, out, "not ok 4 - t C.d\n")
	assert.Contains(t, out, "  attempts:\n")
}

func TestHTMLFormatter(t *testing.T) {
	res := sampleRun(t)

	var buf bytes.Buffer
	f := NewHTMLFormatter(HTMLWithWriter(&buf))
	f.FormatHeader("v1.0.0")
	f.FormatResult(res)
	require.NoError(t, f.Flush(res.Duration))
	out := buf.String()

	assert.Contains(t, out, "<title>hitsuite Report</title>")
	assert.Contains(t, out, "v1.0.0")
	assert.Contains(t, out, "C.b")
	assert.Contains(t, out, `class="failed">FAILURE`)
	assert.Contains(t, out, "connection refused")
}

func TestWriteRerunSuite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(src, []byte(`name: s
tests:
  - name: t
    classes:
      - name: C
        units:
          - name: setup
            config: beforeClass
          - name: a
          - name: b
            invocationCount: 3
`), 0o644))

	doc, err := parser.ParseFile(src)
	require.NoError(t, err)

	plan := &rerun.Plan{Suite: "s", RunID: "run-1", Classes: []*rerun.ClassPlan{{
		Test:    "t",
		Class:   "C",
		Configs: []string{"setup"},
		Units:   []*rerun.UnitPlan{{Name: "b", Signature: "b", Invocations: []int{2}, Seed: true}},
	}}}

	target := filepath.Join(dir, "out", "failed.yaml")
	require.NoError(t, WriteRerunSuite(target, doc, plan))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Rerun of s (run run-1): 1 units\n"))

	written, err := parser.ParseFile(target)
	require.NoError(t, err)
	absDir, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, absDir, written.WorkDir)
	require.Len(t, written.Tests, 1)
	units := written.Tests[0].Classes[0].Units
	require.Len(t, units, 2)
	assert.Equal(t, "setup", units[0].Name)
	assert.Equal(t, "b", units[1].Name)
	assert.Equal(t, []int{2}, units[1].Invocations)

	_, err = os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
