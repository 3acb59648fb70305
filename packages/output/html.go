package output

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/stats"
)

// HTMLOutput represents the complete HTML output structure
type HTMLOutput struct {
	Version        string
	Summary        HTMLSummary
	Runs           []HTMLRun
	Duration       float64
	Time           string
	PassedPercent  float64
	FailedPercent  float64
	SkippedPercent float64
}

// HTMLSummary represents the totals for HTML output
type HTMLSummary struct {
	Total          int
	Passed         int
	Failed         int
	Skipped        int
	ConfigFailures int
}

// HTMLRun is one suite execution
type HTMLRun struct {
	RunID    string
	Suite    string
	TimedOut bool
	Bailed   bool
	P50      float64
	P95      float64
	Units    []HTMLUnit
}

// HTMLUnit represents a single unit for HTML output
type HTMLUnit struct {
	Test        string
	Name        string
	Status      string
	StatusClass string
	SkipReason  string
	Duration    float64
	Error       string
	Attempts    []HTMLAttempt
}

// HTMLAttempt is one ledger entry for HTML output
type HTMLAttempt struct {
	Invocation int
	Attempt    int
	Status     string
	Duration   float64
	Error      string
}

// HTMLFormatter formats run results as HTML
type HTMLFormatter struct {
	writer  io.Writer
	runs    []HTMLRun
	summary HTMLSummary
	version string
}

// HTMLOption is a functional option for HTMLFormatter
type HTMLOption func(*HTMLFormatter)

// NewHTMLFormatter creates a new HTML formatter
func NewHTMLFormatter(opts ...HTMLOption) *HTMLFormatter {
	f := &HTMLFormatter{
		writer: os.Stdout,
		runs:   make([]HTMLRun, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HTMLWithWriter sets the output writer
func HTMLWithWriter(w io.Writer) HTMLOption {
	return func(f *HTMLFormatter) {
		f.writer = w
	}
}

// FormatResult accumulates a run result
func (f *HTMLFormatter) FormatResult(result *runner.RunResult) {
	run := HTMLRun{
		RunID:    result.RunID,
		Suite:    result.Suite.Name,
		TimedOut: result.TimedOut,
		Bailed:   result.Bailed,
	}
	if result.Snapshot != nil {
		summary := stats.FromSnapshot(result.Snapshot).GetSummary()
		run.P50 = float64(summary.P50.Milliseconds())
		run.P95 = float64(summary.P95.Milliseconds())
	}

	for _, r := range result.Units {
		unit := HTMLUnit{
			Test:     r.Unit.Test,
			Name:     displayName(r.Unit),
			Status:   string(r.Outcome.Status),
			Duration: float64(r.Outcome.Duration().Milliseconds()),
		}

		// Set status class for CSS
		switch r.Outcome.Status {
		case suite.StatusSkip:
			unit.StatusClass = "skipped"
			unit.SkipReason = skipReason(r.Outcome)
		case suite.StatusFailure:
			unit.StatusClass = "failed"
			unit.Error = errorMessage(r.Outcome.Err)
		default:
			unit.StatusClass = "passed"
		}

		if len(r.Attempts) > 1 {
			for _, o := range r.Attempts {
				a := HTMLAttempt{
					Invocation: o.Invocation,
					Attempt:    o.Attempt,
					Status:     string(o.Status),
					Duration:   float64(o.Duration().Milliseconds()),
				}
				if o.Err != nil {
					a.Error = errorMessage(o.Err)
				}
				unit.Attempts = append(unit.Attempts, a)
			}
		}
		run.Units = append(run.Units, unit)
	}

	f.summary.Passed += result.Passed
	f.summary.Failed += result.Failed
	f.summary.Skipped += result.Skipped
	f.summary.ConfigFailures += result.ConfigFailures
	f.summary.Total += result.Passed + result.Failed + result.Skipped
	f.runs = append(f.runs, run)
}

// FormatError handles errors (no-op for HTML, errors are in unit results)
func (f *HTMLFormatter) FormatError(err error) {
	// Errors are included in individual unit results
}

// FormatHeader captures the version for the HTML report
func (f *HTMLFormatter) FormatHeader(version string) {
	f.version = version
}

// Flush writes the accumulated HTML output
func (f *HTMLFormatter) Flush(totalDuration time.Duration) error {
	total := f.summary.Total
	var passedPct, failedPct, skippedPct float64
	if total > 0 {
		passedPct = float64(f.summary.Passed) / float64(total) * 100
		failedPct = float64(f.summary.Failed) / float64(total) * 100
		skippedPct = float64(f.summary.Skipped) / float64(total) * 100
	}

	output := HTMLOutput{
		Version:        f.version,
		Summary:        f.summary,
		Runs:           f.runs,
		Duration:       float64(totalDuration.Milliseconds()),
		Time:           time.Now().Format("2006-01-02 15:04:05"),
		PassedPercent:  passedPct,
		FailedPercent:  failedPct,
		SkippedPercent: skippedPct,
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse HTML template: %w", err)
	}

	return tmpl.Execute(f.writer, output)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>hitsuite Report</title>
    <style>
        :root {
            --bg-primary: #1a1a2e;
            --bg-secondary: #16213e;
            --text-primary: #eee;
            --text-secondary: #aaa;
            --success: #00d26a;
            --error: #ff4757;
            --warning: #ffa502;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            margin: 0;
            padding: 2rem;
        }
        .container { max-width: 1100px; margin: 0 auto; }
        h1 { margin-bottom: 0.5rem; }
        h2 { margin-top: 2rem; }
        .meta { color: var(--text-secondary); margin-bottom: 2rem; }
        .summary { display: grid; grid-template-columns: repeat(auto-fit, minmax(120px, 1fr)); gap: 1rem; margin-bottom: 1rem; }
        .card { background: var(--bg-secondary); padding: 1rem; border-radius: 8px; text-align: center; }
        .card .value { font-size: 1.5rem; font-weight: bold; }
        .card.passed .value { color: var(--success); }
        .card.failed .value { color: var(--error); }
        .card.skipped .value { color: var(--warning); }
        .bar { display: flex; height: 8px; border-radius: 4px; overflow: hidden; margin-bottom: 2rem; }
        .bar .passed { background: var(--success); }
        .bar .failed { background: var(--error); }
        .bar .skipped { background: var(--warning); }
        table { width: 100%; border-collapse: collapse; background: var(--bg-secondary); border-radius: 8px; overflow: hidden; }
        th, td { padding: 0.75rem 1rem; text-align: left; vertical-align: top; }
        th { background: #0f3460; }
        tr:not(:last-child) { border-bottom: 1px solid #2d3748; }
        td.passed { color: var(--success); }
        td.failed { color: var(--error); }
        td.skipped { color: var(--warning); }
        .detail { color: var(--text-secondary); font-size: 0.85rem; }
        .attempts { margin: 0.5rem 0 0; padding-left: 1rem; }
        .flag { color: var(--error); font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <h1>hitsuite Report</h1>
        <div class="meta">{{if .Version}}{{.Version}} · {{end}}{{.Time}} · {{printf "%.0f" .Duration}}ms</div>
        <div class="summary">
            <div class="card"><div class="value">{{.Summary.Total}}</div><div>Total</div></div>
            <div class="card passed"><div class="value">{{.Summary.Passed}}</div><div>Passed</div></div>
            <div class="card failed"><div class="value">{{.Summary.Failed}}</div><div>Failed</div></div>
            <div class="card skipped"><div class="value">{{.Summary.Skipped}}</div><div>Skipped</div></div>
            {{if .Summary.ConfigFailures}}<div class="card failed"><div class="value">{{.Summary.ConfigFailures}}</div><div>Config failures</div></div>{{end}}
        </div>
        <div class="bar">
            <div class="passed" style="width: {{printf "%.1f" .PassedPercent}}%"></div>
            <div class="failed" style="width: {{printf "%.1f" .FailedPercent}}%"></div>
            <div class="skipped" style="width: {{printf "%.1f" .SkippedPercent}}%"></div>
        </div>
        {{range .Runs}}
        <h2>{{.Suite}}</h2>
        <div class="meta">
            run {{.RunID}} · p50 {{printf "%.0f" .P50}}ms · p95 {{printf "%.0f" .P95}}ms
            {{if .TimedOut}}<span class="flag">· timed out</span>{{end}}
            {{if .Bailed}}<span class="flag">· stopped after failure</span>{{end}}
        </div>
        <table>
            <thead>
                <tr><th>Test</th><th>Unit</th><th>Status</th><th>Duration (ms)</th></tr>
            </thead>
            <tbody>
                {{range .Units}}
                <tr>
                    <td>{{.Test}}</td>
                    <td>
                        {{.Name}}
                        {{if .Error}}<div class="detail">{{.Error}}</div>{{end}}
                        {{if .SkipReason}}<div class="detail">{{.SkipReason}}</div>{{end}}
                        {{if .Attempts}}
                        <ul class="attempts detail">
                            {{range .Attempts}}<li>#{{.Invocation}} attempt {{.Attempt}}: {{.Status}} ({{printf "%.0f" .Duration}}ms){{if .Error}} {{.Error}}{{end}}</li>{{end}}
                        </ul>
                        {{end}}
                    </td>
                    <td class="{{.StatusClass}}">{{.Status}}</td>
                    <td>{{printf "%.0f" .Duration}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{end}}
    </div>
</body>
</html>`
