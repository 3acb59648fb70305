package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// TAPFormatter formats run results in TAP (Test Anything Protocol) format
type TAPFormatter struct {
	writer    io.Writer
	testCount int
	results   []tapResult
}

type tapResult struct {
	number     int
	name       string
	status     suite.Status
	skipReason string
	error      string
	attempts   []string
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{
		writer:  os.Stdout,
		results: make([]tapResult, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatResult(result *runner.RunResult) {
	for _, r := range result.Units {
		if r.Unit.IsConfiguration() && r.Outcome.Status != suite.StatusFailure {
			continue
		}
		f.testCount++
		tr := tapResult{
			number: f.testCount,
			name:   r.Unit.Test + " " + displayName(r.Unit),
			status: r.Outcome.Status,
		}
		if tr.status == suite.StatusSkip {
			tr.skipReason = skipReason(r.Outcome)
		}
		if r.Outcome.Err != nil {
			tr.error = r.Outcome.Err.Error()
		}
		if len(r.Attempts) > 1 {
			for _, o := range r.Attempts {
				tr.attempts = append(tr.attempts, fmt.Sprintf("invocation %d attempt %d: %s", o.Invocation, o.Attempt, o.Status))
			}
		}
		f.results = append(f.results, tr)
	}
}

func (f *TAPFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "Bail out! %s\n", err)
}

func (f *TAPFormatter) FormatHeader(version string) {
	// Header is written in Flush
}

// Flush writes the accumulated TAP output
func (f *TAPFormatter) Flush(totalDuration time.Duration) error {
	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", f.testCount)

	for _, r := range f.results {
		switch r.status {
		case suite.StatusSkip:
			fmt.Fprintf(f.writer, "ok %d - %s # SKIP %s\n", r.number, r.name, r.skipReason)
			continue
		case suite.StatusFailure:
			fmt.Fprintf(f.writer, "not ok %d - %s\n", r.number, r.name)
		default:
			fmt.Fprintf(f.writer, "ok %d - %s\n", r.number, r.name)
		}

		if r.error == "" && len(r.attempts) == 0 {
			continue
		}
		fmt.Fprintf(f.writer, "  ---\n")
		if r.error != "" {
			fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(r.error))
			fmt.Fprintf(f.writer, "  severity: fail\n")
		}
		if len(r.attempts) > 0 {
			fmt.Fprintf(f.writer, "  attempts:\n")
			for _, a := range r.attempts {
				fmt.Fprintf(f.writer, "    - %s\n", escapeYAML(a))
			}
		}
		fmt.Fprintf(f.writer, "  ...\n")
	}

	fmt.Fprintln(f.writer)

	return nil
}

func escapeYAML(s string) string {
	// Simple YAML escaping - wrap in quotes if contains special chars
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return "\"" + s + "\""
	}
	return s
}
