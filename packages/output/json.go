package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/tidwall/gjson"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary  JSONSummary `json:"summary"`
	Runs     []JSONRun   `json:"runs"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

// JSONSummary represents the totals over every run
type JSONSummary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	ConfigFailures int `json:"configFailures,omitempty"`
}

// JSONRun is one suite execution
type JSONRun struct {
	RunID    string      `json:"runId"`
	Suite    string      `json:"suite"`
	File     string      `json:"file,omitempty"`
	Started  string      `json:"started"`
	Duration float64     `json:"duration"`
	TimedOut bool        `json:"timedOut,omitempty"`
	Bailed   bool        `json:"bailed,omitempty"`
	Summary  JSONSummary `json:"summary"`
	Units    []JSONUnit  `json:"units"`

	IncludeGroups []string `json:"includeGroups,omitempty"`
	ExcludeGroups []string `json:"excludeGroups,omitempty"`
}

// JSONUnit is the aggregate of one unit plus every ledger entry it produced
type JSONUnit struct {
	ID         string        `json:"id"`
	Test       string        `json:"test"`
	Class      string        `json:"class"`
	Name       string        `json:"name"`
	Signature  string        `json:"signature"`
	Config     string        `json:"config,omitempty"`
	Status     string        `json:"status"`
	SkipReason string        `json:"skipReason,omitempty"`
	Duration   float64       `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Attempts   []JSONAttempt `json:"attempts"`
}

// JSONAttempt is a single ledger entry
type JSONAttempt struct {
	Invocation int     `json:"invocation"`
	Attempt    int     `json:"attempt"`
	Status     string  `json:"status"`
	Cause      string  `json:"cause,omitempty"`
	Start      string  `json:"start,omitempty"`
	End        string  `json:"end,omitempty"`
	Duration   float64 `json:"duration"`
	Error      string  `json:"error,omitempty"`
}

// JSONFormatter formats run results as JSON
type JSONFormatter struct {
	writer io.Writer
	runs   []JSONRun
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		runs:   make([]JSONRun, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	run := JSONRun{
		RunID:    result.RunID,
		Suite:    result.Suite.Name,
		File:     result.Suite.Source,
		Started:  result.Started.Format(time.RFC3339Nano),
		Duration: float64(result.Duration.Milliseconds()),
		TimedOut: result.TimedOut,
		Bailed:   result.Bailed,
		Summary: JSONSummary{
			Total:          result.Passed + result.Failed + result.Skipped,
			Passed:         result.Passed,
			Failed:         result.Failed,
			Skipped:        result.Skipped,
			ConfigFailures: result.ConfigFailures,
		},
		Units:         make([]JSONUnit, 0, len(result.Units)),
		IncludeGroups: result.IncludeGroups,
		ExcludeGroups: result.ExcludeGroups,
	}

	for _, r := range result.Units {
		u := r.Unit
		unit := JSONUnit{
			ID:        u.ID(),
			Test:      u.Test,
			Class:     u.Class,
			Name:      u.Name,
			Signature: u.Signature,
			Config:    string(u.Config),
			Status:    string(r.Outcome.Status),
			Duration:  float64(r.Outcome.Duration().Milliseconds()),
			Attempts:  make([]JSONAttempt, 0, len(r.Attempts)),
		}
		if r.Outcome.Status == suite.StatusSkip {
			unit.SkipReason = skipReason(r.Outcome)
		} else if r.Outcome.Err != nil && r.Outcome.Status == suite.StatusFailure {
			unit.Error = r.Outcome.Err.Error()
		}

		for _, o := range r.Attempts {
			a := JSONAttempt{
				Invocation: o.Invocation,
				Attempt:    o.Attempt,
				Status:     string(o.Status),
				Cause:      string(o.Cause),
				Duration:   float64(o.Duration().Milliseconds()),
			}
			if !o.Start.IsZero() {
				a.Start = o.Start.Format(time.RFC3339Nano)
			}
			if !o.End.IsZero() {
				a.End = o.End.Format(time.RFC3339Nano)
			}
			if o.Err != nil {
				a.Error = o.Err.Error()
			}
			unit.Attempts = append(unit.Attempts, a)
		}
		run.Units = append(run.Units, unit)
	}

	f.runs = append(f.runs, run)
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual unit results
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var summary JSONSummary
	for _, r := range f.runs {
		summary.Total += r.Summary.Total
		summary.Passed += r.Summary.Passed
		summary.Failed += r.Summary.Failed
		summary.Skipped += r.Summary.Skipped
		summary.ConfigFailures += r.Summary.ConfigFailures
	}

	output := JSONOutput{
		Summary:  summary,
		Runs:     f.runs,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// Report is a run read back from a JSON report.
type Report struct {
	RunID    string
	Suite    string
	File     string
	Snapshot *ledger.Snapshot

	// Group filters of the run; a rerun prepares the suite with the same ones.
	IncludeGroups []string
	ExcludeGroups []string
}

// LoadJSONReport reads a report written by JSONFormatter and replays each
// run's attempts into a fresh ledger.
func LoadJSONReport(path string) ([]*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return ParseJSONReport(data)
}

// ParseJSONReport is LoadJSONReport on in-memory data.
func ParseJSONReport(data []byte) ([]*Report, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("report is not valid JSON")
	}
	runs := gjson.GetBytes(data, "runs")
	if !runs.IsArray() {
		return nil, fmt.Errorf("report has no runs")
	}

	var reports []*Report
	var parseErr error
	runs.ForEach(func(_, run gjson.Result) bool {
		report, err := replay(run)
		if err != nil {
			parseErr = err
			return false
		}
		reports = append(reports, report)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return reports, nil
}

func replay(run gjson.Result) (*Report, error) {
	l := ledger.New()
	var replayErr error

	run.Get("units").ForEach(func(_, unit gjson.Result) bool {
		id := unit.Get("id").String()
		if id == "" {
			replayErr = fmt.Errorf("run %s: unit without id", run.Get("runId").String())
			return false
		}
		for _, a := range unit.Get("attempts").Array() {
			o := suite.Outcome{
				Unit:       id,
				Invocation: int(a.Get("invocation").Int()),
				Attempt:    int(a.Get("attempt").Int()),
				Status:     suite.Status(a.Get("status").String()),
				Cause:      suite.SkipCause(a.Get("cause").String()),
				Start:      parseTime(a.Get("start").String()),
				End:        parseTime(a.Get("end").String()),
			}
			if msg := a.Get("error").String(); msg != "" {
				o.Err = errors.New(msg)
			}
			if _, err := l.Append(o); err != nil {
				replayErr = err
				return false
			}
		}
		l.Seal(id)
		return true
	})
	if replayErr != nil {
		return nil, replayErr
	}

	return &Report{
		RunID:    run.Get("runId").String(),
		Suite:    run.Get("suite").String(),
		File:     run.Get("file").String(),
		Snapshot: l.Snapshot(),

		IncludeGroups: stringArray(run.Get("includeGroups")),
		ExcludeGroups: stringArray(run.Get("excludeGroups")),
	}, nil
}

func stringArray(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
