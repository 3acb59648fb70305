package output

import (
	"fmt"
	"io"
	"os"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/stats"
	"github.com/fatih/color"
)

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n", bold("Running: "+result.Suite.Name))

	currentTest := ""
	for _, r := range result.Units {
		u := r.Unit
		if u.IsConfiguration() && !f.verbose && r.Outcome.Status != suite.StatusFailure {
			continue
		}
		if u.Test != currentTest {
			currentTest = u.Test
			fmt.Fprintf(f.writer, "\n %s\n", bold(currentTest))
		}

		name := displayName(u)
		switch r.Outcome.Status {
		case suite.StatusSkip:
			fmt.Fprintf(f.writer, "  %s %s %s\n", yellow("-"), name, yellow("("+skipReason(r.Outcome)+")"))
			continue
		case suite.StatusFailure:
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("✗"), name, cyan(f.details(r)))
			fmt.Fprintf(f.writer, "    %s %s\n", red("→"), errorMessage(r.Outcome.Err))
		default:
			fmt.Fprintf(f.writer, "  %s %s %s\n", green("✓"), name, cyan(f.details(r)))
		}

		if f.verbose && len(r.Attempts) > 1 {
			for _, o := range r.Attempts {
				line := fmt.Sprintf("#%d attempt %d: %s (%dms)", o.Invocation, o.Attempt, o.Status, o.Duration().Milliseconds())
				if o.Err != nil && o.Status != suite.StatusSuccess {
					line += " " + errorMessage(o.Err)
				}
				fmt.Fprintf(f.writer, "      %s\n", line)
			}
		}
	}

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Tests: ")
	if result.Passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", result.Failed)))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d skipped", result.Skipped)))
	}
	total := result.Passed + result.Failed + result.Skipped
	fmt.Fprintf(f.writer, "%d total\n", total)
	if result.ConfigFailures > 0 {
		fmt.Fprintf(f.writer, "Configuration failures: %s\n", red(result.ConfigFailures))
	}
	if result.TimedOut {
		fmt.Fprintf(f.writer, "%s\n", red("Suite timed out"))
	}
	if result.Bailed {
		fmt.Fprintf(f.writer, "%s\n", yellow("Stopped after first failure"))
	}
	fmt.Fprintf(f.writer, "Time:  %dms\n", result.Duration.Milliseconds())

	if f.verbose && result.Snapshot != nil {
		summary := stats.FromSnapshot(result.Snapshot).GetSummary()
		if summary.Attempts > summary.Skipped {
			fmt.Fprintf(f.writer, "Invocations: %d (%d retries)  p50 %s  p95 %s  max %s\n",
				summary.Attempts, summary.Retries, summary.P50, summary.P95, summary.Max)
		}
	}
	fmt.Fprintf(f.writer, "\n")
}

func (f *ConsoleFormatter) details(r *runner.UnitResult) string {
	s := fmt.Sprintf("(%dms", r.Outcome.Duration().Milliseconds())
	if inv := invocationSummary(r); inv != "" {
		s += ", " + inv
	}
	if n := retries(r); n > 0 {
		s += fmt.Sprintf(", %d retries", n)
	}
	return s + ")"
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("hitsuite"), version)
}
