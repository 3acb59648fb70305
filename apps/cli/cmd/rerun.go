package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/rerun"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
	"github.com/spf13/cobra"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun <suite.yaml> --from <report.json>",
	Short: "Build the rerun suite of a recorded run",
	Long: `Read a JSON report written by "hitsuite run -o json" and derive the rerun
suite of the given document: every unit that did not pass, the units it
depends on, and the configurations of their classes.

Without --execute the rerun suite is written to --rerun-file ("-" for
stdout). With --execute it runs right away.

Examples:
  hitsuite rerun api.suite.yaml --from report.json
  hitsuite rerun api.suite.yaml --from report.json --rerun-file -
  hitsuite rerun api.suite.yaml --from report.json --execute`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: rerunCommand,
}

var (
	rerunFromFlag    string
	rerunExecuteFlag bool
)

func init() {
	f := rerunCmd.Flags()
	f.StringVar(&rerunFromFlag, "from", "", "JSON report of the run to repeat (required)")
	f.BoolVarP(&rerunExecuteFlag, "execute", "x", false, "Run the rerun suite instead of writing it")
	f.StringVar(&rerunFileFlag, "rerun-file", "", "Where to write the rerun suite, - for stdout (default hitsuite-failed.yaml)")
	f.StringVar(&configFlag, "config", getEnvString("HITSUITE_CONFIG", ""), "Path to config file (env: HITSUITE_CONFIG)")
	f.StringVarP(&outputFlag, "output", "o", "", "Output format when executing: console, json, junit, tap, html")
	f.BoolVarP(&verboseFlag, "verbose", "v", false, "Show every unit, attempt and command output")
	f.StringArrayVar(&varFlags, "var", nil, "Set a suite variable (KEY=VALUE, repeatable)")
}

// selectReport picks the report of suiteName, or the only report there is.
func selectReport(reports []*output.Report, suiteName string) (*output.Report, error) {
	for _, r := range reports {
		if r.Suite == suiteName {
			return r, nil
		}
	}
	if len(reports) == 1 {
		return reports[0], nil
	}
	return nil, fmt.Errorf("report has no run of suite %q", suiteName)
}

func rerunCommand(cmd *cobra.Command, args []string) error {
	if rerunFromFlag == "" {
		return exitError(ExitUsageError, fmt.Errorf("--from is required"))
	}
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return exitError(ExitConfigError, err)
	}
	vars, err := parseVars(varFlags)
	if err != nil {
		return exitError(ExitUsageError, err)
	}

	reports, err := output.LoadJSONReport(rerunFromFlag)
	if err != nil {
		return exitError(ExitParseError, err)
	}

	file := args[0]
	s, doc, err := parser.Load(file, parser.BuildOptions{Vars: vars})
	if err != nil {
		return exitError(ExitParseError, err)
	}
	report, err := selectReport(reports, s.Name)
	if err != nil {
		return exitError(ExitConfigError, err)
	}

	// Prepare with the report's group filters so units the run never
	// selected do not seed the plan.
	prepared, err := runner.NewRunner(&runner.Config{
		IncludeGroups: report.IncludeGroups,
		ExcludeGroups: report.ExcludeGroups,
	}).Prepare(s)
	if err != nil {
		return exitError(ExitConfigError, err)
	}
	plan, err := rerun.Build(report.Snapshot, prepared)
	if err != nil {
		return exitError(ExitConfigError, err)
	}
	plan.RunID = report.RunID

	if plan.Empty() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Nothing to rerun: every unit of run %s passed\n", report.RunID)
		return nil
	}

	if !rerunExecuteFlag {
		path := cfg.RerunFile
		if path == "" {
			path = config.DefaultRerunFile
		}
		if path == "-" {
			if err := output.EncodeRerunSuite(cmd.OutOrStdout(), doc, plan); err != nil {
				return exitError(ExitConfigError, err)
			}
			return nil
		}
		if err := output.WriteRerunSuite(path, doc, plan); err != nil {
			return exitError(ExitConfigError, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d unit(s) to rerun, written to %s\n", plan.Len(), path)
		return nil
	}

	sr, err := newSuiteRunner(cmd, cfg, []string{file}, vars)
	if err != nil {
		return err
	}
	defer sr.close()
	sr.narrow = func(s *suite.Suite) (*suite.Suite, error) {
		return rerun.Apply(plan, s)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := sr.runAll(ctx)
	if err != nil {
		return exitError(code, err)
	}
	if code != ExitSuccess {
		return exitError(code, nil)
	}
	return nil
}
