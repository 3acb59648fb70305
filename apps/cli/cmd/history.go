package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `Show runs recorded with --history-db (or history_db in hitsuite.yaml).
With a run ID (or a unique prefix of one) the units of that run are listed.

Examples:
  hitsuite history --db runs.db
  hitsuite history --db runs.db --suite smoke --limit 5
  hitsuite history --db runs.db 3f2a9c1e
  hitsuite history --db runs.db --suite smoke --unit "api/Users.create"
  hitsuite history --db runs.db --prune 720h`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: historyCommand,
}

var (
	historyDBPathFlag string
	historySuiteFlag  string
	historyUnitFlag   string
	historyLimitFlag  int
	historyPruneFlag  time.Duration
)

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyDBPathFlag, "db", "", "History database (default history_db from config)")
	f.StringVarP(&historySuiteFlag, "suite", "s", "", "Only runs of this suite")
	f.StringVarP(&historyUnitFlag, "unit", "u", "", "Show the record of one unit ID across runs (needs --suite)")
	f.IntVarP(&historyLimitFlag, "limit", "n", 20, "Maximum number of entries")
	f.DurationVar(&historyPruneFlag, "prune", 0, "Delete runs older than this age, e.g. 720h")
	f.StringVar(&configFlag, "config", getEnvString("HITSUITE_CONFIG", ""), "Path to config file (env: HITSUITE_CONFIG)")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	path := historyDBPathFlag
	if path == "" {
		cfg, err := config.LoadConfig(configFlag)
		if err != nil {
			return exitError(ExitConfigError, err)
		}
		path = cfg.HistoryDB
	}
	if path == "" {
		return exitError(ExitUsageError, fmt.Errorf("no history database (use --db or history_db in hitsuite.yaml)"))
	}

	store, err := history.Open(path)
	if err != nil {
		return exitError(ExitConfigError, err)
	}
	defer store.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	switch {
	case historyPruneFlag > 0:
		n, err := store.Prune(ctx, time.Now().Add(-historyPruneFlag))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Pruned %d run(s) older than %s\n", n, historyPruneFlag)
		return nil

	case len(args) == 1:
		run, units, err := store.Get(ctx, args[0])
		if errors.Is(err, history.ErrNotFound) {
			return exitError(ExitUsageError, fmt.Errorf("no run matches %q", args[0]))
		}
		if err != nil {
			return err
		}
		printRun(w, run)
		fmt.Fprintln(w)
		for _, u := range units {
			printUnitRecord(w, u, false)
		}
		return nil

	case historyUnitFlag != "":
		if historySuiteFlag == "" {
			return exitError(ExitUsageError, fmt.Errorf("--unit needs --suite"))
		}
		records, err := store.UnitHistory(ctx, historySuiteFlag, historyUnitFlag, historyLimitFlag)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintf(w, "No records of %s in suite %s\n", historyUnitFlag, historySuiteFlag)
			return nil
		}
		for _, r := range records {
			printUnitRecord(w, r, true)
		}
		return nil
	}

	runs, err := store.Recent(ctx, historySuiteFlag, historyLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		printRun(w, r)
	}
	return nil
}

func statusColor(status string) func(format string, a ...interface{}) string {
	switch status {
	case "PASS", string(suite.StatusSuccess), string(suite.StatusFailureWithinSuccessPercentage):
		return color.GreenString
	case "FAIL", string(suite.StatusFailure):
		return color.RedString
	}
	return color.YellowString
}

func printRun(w io.Writer, r *history.Run) {
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}
	var flags string
	if r.TimedOut {
		flags += " timed out"
	}
	if r.Bailed {
		flags += " bailed"
	}
	fmt.Fprintf(w, "%s  %s  %-4s  %-20s  %d passed, %d failed, %d skipped",
		shortRunID(r.ID),
		r.Started.Local().Format("2006-01-02 15:04:05"),
		statusColor(status)("%s", status),
		r.Suite,
		r.Passed, r.Failed, r.Skipped,
	)
	if r.ConfigFailures > 0 {
		fmt.Fprintf(w, ", %d config failures", r.ConfigFailures)
	}
	fmt.Fprintf(w, "  (%s)%s\n", r.Duration.Round(time.Millisecond), flags)
}

func printUnitRecord(w io.Writer, u *history.UnitRecord, withRun bool) {
	if withRun {
		fmt.Fprintf(w, "%s  %s  ", shortRunID(u.RunID), u.Started.Local().Format("2006-01-02 15:04:05"))
	}
	name := u.Unit
	if u.Config != "" {
		name += " [" + u.Config + "]"
	}
	fmt.Fprintf(w, "%s  %s", statusColor(u.Status)("%-8s", u.Status), name)
	if u.Cause != "" {
		fmt.Fprintf(w, " (%s)", u.Cause)
	}
	fmt.Fprintf(w, "  %d inv, %d attempts, %s\n", u.Invocations, u.Attempts, u.Duration.Round(time.Millisecond))
	if u.Error != "" {
		fmt.Fprintf(w, "    %s\n", u.Error)
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
