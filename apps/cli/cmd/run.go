package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/rerun"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/abdul-hamid-achik/hitsuite/packages/logging"
	"github.com/abdul-hamid-achik/hitsuite/packages/notify"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <suite.yaml|directory>...",
	Short: "Run suites and write a rerun suite for whatever failed",
	Long: `Run the suites defined in YAML documents. Directories are searched for
*.suite.yaml and *.suite.yml files.

Settings come from flags, then HITSUITE_* environment variables, then
hitsuite.yaml, then defaults.

Examples:
  hitsuite run smoke.suite.yaml
  hitsuite run ./suites/ --parallel methods --threads 8
  hitsuite run api.suite.yaml --groups smoke --exclude-groups slow
  hitsuite run api.suite.yaml --retries 2 --retry-delay 500ms
  hitsuite run api.suite.yaml -o junit --output-file report.xml
  hitsuite run hitsuite-failed.yaml`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond

	// reportBase names the report files written to the output directory.
	reportBase = "hitsuite-report"
)

var (
	configFlag      string
	parallelFlag    string
	threadsFlag     int
	timeoutFlag     time.Duration
	unitTimeoutFlag time.Duration
	retriesFlag     int
	retryDelayFlag  time.Duration
	maxRateFlag     float64
	groupsFlag      []string
	excludeFlag     []string
	bailFlag        bool
	varFlags        []string

	verboseFlag    bool
	noColorFlag    bool
	outputFlag     string
	outputFileFlag string
	outputDirFlag  string
	rerunFileFlag  string
	historyDBFlag  string
	dryRunFlag     bool
	watchFlag      bool

	// Notification flags
	notifyFlag       string
	notifyOnFlag     string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string

	// Metrics flags
	metricsFlag       string
	metricsPortFlag   int
	metricsFileFlag   string
	datadogAPIKeyFlag string
	datadogSiteFlag   string
	datadogTagsFlag   string
)

func init() {
	f := runCmd.Flags()

	// Scheduling flags
	f.StringVar(&configFlag, "config", getEnvString("HITSUITE_CONFIG", ""), "Path to config file (env: HITSUITE_CONFIG)")
	f.StringVarP(&parallelFlag, "parallel", "p", "", "Parallel mode: none, methods, classes, tests")
	f.IntVarP(&threadsFlag, "threads", "j", 0, "Worker threads per test (default from suite, then 5)")
	f.DurationVar(&timeoutFlag, "timeout", 0, "Suite timeout, e.g. 10m (0 disables)")
	f.DurationVar(&unitTimeoutFlag, "unit-timeout", 0, "Default per-invocation timeout, e.g. 30s")
	f.IntVar(&retriesFlag, "retries", 0, "Extra attempts for failed units without a retry policy")
	f.DurationVar(&retryDelayFlag, "retry-delay", 0, "Delay between attempts (default 1s)")
	f.Float64Var(&maxRateFlag, "max-start-rate", 0, "Maximum invocation starts per second (0 is unlimited)")
	f.StringSliceVarP(&groupsFlag, "groups", "g", nil, "Run only units in these groups (comma-separated, * wildcards)")
	f.StringSliceVar(&excludeFlag, "exclude-groups", nil, "Skip units in these groups (comma-separated, * wildcards)")
	f.BoolVar(&bailFlag, "bail", false, "Stop scheduling new units after the first failure")
	f.StringArrayVar(&varFlags, "var", nil, "Set a suite variable (KEY=VALUE, repeatable)")

	// Output flags
	f.BoolVarP(&verboseFlag, "verbose", "v", false, "Show every unit, attempt and command output")
	f.BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
	f.StringVarP(&outputFlag, "output", "o", "", "Output format: console, json, junit, tap, html (default from config reporters)")
	f.StringVar(&outputFileFlag, "output-file", "", "Write output to file (default: stdout)")
	f.StringVar(&outputDirFlag, "output-dir", "", "Directory for report files of non-console reporters")
	f.StringVar(&rerunFileFlag, "rerun-file", "", "Where to write the rerun suite (default hitsuite-failed.yaml)")
	f.StringVar(&historyDBFlag, "history-db", "", "Record runs in this SQLite database")
	f.BoolVar(&dryRunFlag, "dry-run", false, "Resolve and show what would run without executing")
	f.BoolVarP(&watchFlag, "watch", "w", false, "Watch suite files for changes and re-run")

	// Notification flags
	f.StringVar(&notifyFlag, "notify", getEnvString("HITSUITE_NOTIFY", ""), "Notification service: slack, teams (env: HITSUITE_NOTIFY)")
	f.StringVar(&notifyOnFlag, "notify-on", "", "When to notify: always, failure, success, recovery")
	f.StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	f.StringVar(&slackChannelFlag, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	f.StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: TEAMS_WEBHOOK)")

	// Metrics flags
	f.StringVar(&metricsFlag, "metrics", getEnvString("HITSUITE_METRICS", ""), "Metrics export format: prometheus, datadog, json (env: HITSUITE_METRICS)")
	f.IntVar(&metricsPortFlag, "metrics-port", getEnvInt("HITSUITE_METRICS_PORT", 9090), "Port for Prometheus metrics HTTP endpoint (env: HITSUITE_METRICS_PORT)")
	f.StringVar(&metricsFileFlag, "metrics-file", getEnvString("HITSUITE_METRICS_FILE", ""), "Output file for metrics (JSON format) (env: HITSUITE_METRICS_FILE)")
	f.StringVar(&datadogAPIKeyFlag, "datadog-api-key", getEnvString("DD_API_KEY", ""), "DataDog API key (env: DD_API_KEY)")
	f.StringVar(&datadogSiteFlag, "datadog-site", getEnvString("DD_SITE", "datadoghq.com"), "DataDog site (env: DD_SITE)")
	f.StringVar(&datadogTagsFlag, "datadog-tags", getEnvString("DD_TAGS", ""), "Comma-separated DataDog tags (env: DD_TAGS)")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result *runner.RunResult)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

// multiFormatter fans results out to several reporters.
type multiFormatter []Formatter

func (m multiFormatter) FormatResult(result *runner.RunResult) {
	for _, f := range m {
		f.FormatResult(result)
	}
}

func (m multiFormatter) FormatError(err error) {
	for _, f := range m {
		f.FormatError(err)
	}
}

func (m multiFormatter) FormatHeader(version string) {
	for _, f := range m {
		f.FormatHeader(version)
	}
}

func (m multiFormatter) Flush(totalDuration time.Duration) error {
	for _, f := range m {
		if flushable, ok := f.(Flushable); ok {
			if err := flushable.Flush(totalDuration); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadRunConfig layers the flags the user set over the loaded configuration.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	fileConfig, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrides := &config.Config{}
	if flags.Changed("parallel") {
		overrides.Parallel = parallelFlag
	}
	if flags.Changed("threads") {
		overrides.ThreadCount = threadsFlag
	}
	if flags.Changed("timeout") {
		overrides.SuiteTimeout = timeoutFlag
	}
	if flags.Changed("unit-timeout") {
		overrides.UnitTimeout = unitTimeoutFlag
	}
	if flags.Changed("retries") {
		overrides.Retries = retriesFlag
	}
	if flags.Changed("retry-delay") {
		overrides.RetryDelay = retryDelayFlag
	}
	if flags.Changed("max-start-rate") {
		overrides.MaxStartRate = maxRateFlag
	}
	if flags.Changed("groups") {
		overrides.IncludeGroups = groupsFlag
	}
	if flags.Changed("exclude-groups") {
		overrides.ExcludeGroups = excludeFlag
	}
	if flags.Changed("bail") {
		overrides.FailFast = config.BoolPtr(bailFlag)
	}
	if flags.Changed("verbose") {
		overrides.Verbose = config.BoolPtr(verboseFlag)
	}
	if flags.Changed("no-color") {
		overrides.NoColor = config.BoolPtr(noColorFlag)
	}
	if flags.Changed("output-dir") {
		overrides.OutputDir = outputDirFlag
	}
	if flags.Changed("rerun-file") {
		overrides.RerunFile = rerunFileFlag
	}
	if flags.Changed("history-db") {
		overrides.HistoryDB = historyDBFlag
	}
	if flags.Changed("notify-on") {
		overrides.NotifyOn = notifyOnFlag
	}
	overrides.SlackWebhook = slackWebhookFlag
	overrides.SlackChannel = slackChannelFlag
	overrides.TeamsWebhook = teamsWebhookFlag

	cfg := fileConfig.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runnerConfig(cfg *config.Config, log *logging.Logger) (*runner.Config, error) {
	mode, err := cfg.ParallelMode()
	if err != nil {
		return nil, err
	}
	return &runner.Config{
		Parallel:      mode,
		ThreadCount:   cfg.ThreadCount,
		SuiteTimeout:  cfg.SuiteTimeout,
		UnitTimeout:   cfg.UnitTimeout,
		Retries:       cfg.Retries,
		RetryDelay:    cfg.RetryDelay,
		MaxStartRate:  cfg.MaxStartRate,
		FailFast:      cfg.GetFailFast(),
		IncludeGroups: cfg.IncludeGroups,
		ExcludeGroups: cfg.ExcludeGroups,
		Logger:        log,
	}, nil
}

func newLogger(cfg *config.Config, w io.Writer) *logging.Logger {
	level := logging.LevelInfo
	if cfg.GetVerbose() {
		level = logging.LevelDebug
	}
	return logging.New(
		logging.WithWriter(w),
		logging.WithLevel(level),
		logging.WithNoColor(cfg.GetNoColor()),
	)
}

// parseVars turns repeated KEY=VALUE flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (use KEY=VALUE)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// reportExtensions maps reporter names to report file extensions.
var reportExtensions = map[string]string{
	"json":  ".json",
	"junit": ".xml",
	"tap":   ".tap",
	"html":  ".html",
}

func newFormatter(name string, w io.Writer, cfg *config.Config) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w)), nil
	case "junit":
		return output.NewJUnitFormatter(output.JUnitWithWriter(w)), nil
	case "tap":
		return output.NewTAPFormatter(output.TAPWithWriter(w)), nil
	case "html":
		return output.NewHTMLFormatter(output.HTMLWithWriter(w)), nil
	case "", "console":
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(cfg.GetVerbose()),
			output.WithNoColor(cfg.GetNoColor()),
		), nil
	}
	return nil, fmt.Errorf("unknown output format %q (use console, json, junit, tap or html)", name)
}

// buildFormatters opens the selected reporters. -o picks a single one;
// otherwise every configured reporter is used, non-console ones writing to
// the output directory when there is one. The returned func closes the
// files that were opened.
func buildFormatters(stdout io.Writer, cfg *config.Config) (Formatter, func(), error) {
	reporters := cfg.Reporters
	if outputFlag != "" {
		reporters = []string{outputFlag}
	}
	if len(reporters) == 0 {
		reporters = []string{"console"}
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	create := func(path string) (io.Writer, error) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("cannot create output file: %w", err)
		}
		files = append(files, f)
		return f, nil
	}

	var formatters multiFormatter
	for _, name := range reporters {
		var w io.Writer = stdout
		ext, isFile := reportExtensions[strings.ToLower(name)]
		switch {
		case outputFileFlag != "" && len(reporters) == 1:
			fw, err := create(outputFileFlag)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			w = fw
		case isFile && cfg.OutputDir != "":
			fw, err := create(filepath.Join(cfg.OutputDir, reportBase+ext))
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			w = fw
		}

		formatter, err := newFormatter(name, w, cfg)
		if err != nil {
			closeAll()
			return nil, nil, exitError(ExitUsageError, err)
		}
		formatters = append(formatters, formatter)
	}

	if len(formatters) == 1 {
		return formatters[0], closeAll, nil
	}
	return formatters, closeAll, nil
}

func newNotifyManager(cfg *config.Config) (*notify.Manager, error) {
	if notifyFlag == "" {
		return nil, nil
	}
	notifyOn, err := notify.ParseNotifyOn(cfg.NotifyOn)
	if err != nil {
		return nil, err
	}

	manager := notify.NewManager(notifyOn)
	for _, service := range strings.Split(notifyFlag, ",") {
		switch strings.ToLower(strings.TrimSpace(service)) {
		case "slack":
			if cfg.SlackWebhook == "" {
				return nil, fmt.Errorf("--slack-webhook is required when using --notify slack")
			}
			var slackOpts []notify.SlackOption
			if cfg.SlackChannel != "" {
				slackOpts = append(slackOpts, notify.WithSlackChannel(cfg.SlackChannel))
			}
			manager.AddNotifier(notify.NewSlackNotifier(cfg.SlackWebhook, slackOpts...))
		case "teams":
			if cfg.TeamsWebhook == "" {
				return nil, fmt.Errorf("--teams-webhook is required when using --notify teams")
			}
			manager.AddNotifier(notify.NewTeamsNotifier(cfg.TeamsWebhook))
		case "":
		default:
			return nil, fmt.Errorf("unknown notification service %q (use slack or teams)", service)
		}
	}
	if manager.Len() == 0 {
		return nil, nil
	}
	return manager, nil
}

// newMetricsCollector sets up the exporters named by --metrics, or returns
// nil when none are.
func newMetricsCollector(stdout io.Writer) (*metrics.Collector, error) {
	if metricsFlag == "" {
		return nil, nil
	}

	var exporters []metrics.Exporter
	closeAll := func() {
		for _, e := range exporters {
			_ = e.Close()
		}
	}
	for _, format := range strings.Split(metricsFlag, ",") {
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "prometheus":
			promExporter, err := metrics.NewPrometheusExporter(metrics.WithPrometheusHTTP(metricsPortFlag))
			if err != nil {
				closeAll()
				return nil, err
			}
			exporters = append(exporters, promExporter)
			fmt.Fprintf(stdout, "Prometheus metrics available at http://localhost:%d/metrics\n", metricsPortFlag)
		case "datadog":
			ddOpts := []metrics.DataDogOption{}
			if datadogAPIKeyFlag != "" {
				ddOpts = append(ddOpts, metrics.WithDataDogAPIKey(datadogAPIKeyFlag))
			}
			if datadogSiteFlag != "" {
				ddOpts = append(ddOpts, metrics.WithDataDogSite(datadogSiteFlag))
			}
			if datadogTagsFlag != "" {
				ddOpts = append(ddOpts, metrics.WithDataDogTags(strings.Split(datadogTagsFlag, ",")))
			}
			exporters = append(exporters, metrics.NewDataDogExporter(ddOpts...))
		case "json":
			jsonOpts := []metrics.JSONOption{}
			if metricsFileFlag != "" {
				jsonOpts = append(jsonOpts, metrics.WithJSONFile(metricsFileFlag))
			} else {
				jsonOpts = append(jsonOpts, metrics.WithJSONWriter(stdout))
			}
			exporters = append(exporters, metrics.NewJSONExporter(jsonOpts...))
		case "":
		default:
			closeAll()
			return nil, fmt.Errorf("unknown metrics format %q (use prometheus, datadog or json)", format)
		}
	}
	if len(exporters) == 0 {
		return nil, nil
	}
	return metrics.NewCollector(exporters...), nil
}

// suiteRunner holds what every run of the selected files shares, so watch
// mode can repeat it.
type suiteRunner struct {
	cfg      *config.Config
	files    []string
	vars     map[string]string
	log      *logging.Logger
	runner   *runner.Runner
	store    *history.Store
	notifier *notify.Manager
	metrics  *metrics.Collector
	stdout   io.Writer
	stderr   io.Writer

	// narrow, when set, replaces each loaded suite before it runs.
	narrow func(*suite.Suite) (*suite.Suite, error)
}

// runAll runs every file once and returns the process exit code.
func (sr *suiteRunner) runAll(ctx context.Context) (int, error) {
	formatter, closeOutputs, err := buildFormatters(sr.stdout, sr.cfg)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code, exitErr.Err
		}
		return ExitConfigError, err
	}
	defer closeOutputs()

	formatter.FormatHeader(version)

	code := ExitSuccess
	worse := func(c int) {
		if c > code {
			code = c
		}
	}

	var shellOutput io.Writer
	if sr.cfg.GetVerbose() {
		shellOutput = sr.stderr
	}

	var results []*runner.RunResult
	start := time.Now()
	for _, file := range sr.files {
		if ctx.Err() != nil {
			break
		}

		s, doc, err := parser.Load(file, parser.BuildOptions{
			Vars:     sr.vars,
			Output:   shellOutput,
			WarnFunc: sr.log.Warnf,
		})
		if err != nil {
			formatter.FormatError(err)
			worse(ExitParseError)
			continue
		}
		if sr.narrow != nil {
			if s, err = sr.narrow(s); err != nil {
				formatter.FormatError(fmt.Errorf("%s: %w", file, err))
				worse(ExitConfigError)
				continue
			}
		}

		if dryRunFlag {
			prepared, err := sr.runner.Prepare(s)
			if err != nil {
				formatter.FormatError(fmt.Errorf("%s: %w", file, err))
				worse(ExitConfigError)
				continue
			}
			fmt.Fprintf(sr.stdout, "Would run %s:\n", file)
			printSuite(sr.stdout, prepared, true)
			continue
		}

		result, err := sr.runner.RunSuite(ctx, s)
		if err != nil {
			formatter.FormatError(fmt.Errorf("%s: %w", file, err))
			worse(ExitConfigError)
			continue
		}
		results = append(results, result)
		formatter.FormatResult(result)
		if !result.OK() {
			worse(ExitTestFailure)
		}

		sr.record(ctx, result)
		if sr.metrics != nil {
			if err := sr.metrics.RecordRun(ctx, result); err != nil {
				sr.log.Warnf("failed to export metrics: %v", err)
			}
		}
		if err := sr.writeRerun(file, doc, result); err != nil {
			sr.log.Warnf("rerun suite for %s: %v", file, err)
		}

		if result.Bailed {
			break
		}
	}

	if flushable, ok := formatter.(Flushable); ok {
		if err := flushable.Flush(time.Since(start)); err != nil {
			return ExitConfigError, fmt.Errorf("error writing output: %w", err)
		}
	}

	if sr.metrics != nil && len(results) > 0 {
		if err := sr.metrics.Flush(ctx); err != nil {
			sr.log.Warnf("failed to export metrics: %v", err)
		}
	}

	if sr.notifier != nil && len(results) > 0 {
		if err := sr.notifier.Notify(ctx, notify.Summarize(results...)); err != nil {
			sr.log.Warnf("failed to send notification: %v", err)
		}
	}
	return code, nil
}

// record saves result to the history database. A failed previous run of
// the suite is handed to the notifier so a passing run counts as a recovery.
func (sr *suiteRunner) record(ctx context.Context, result *runner.RunResult) {
	if sr.store == nil {
		return
	}
	if sr.notifier != nil {
		prev, err := sr.store.Previous(ctx, result.Suite.Name, result.Started)
		if err != nil {
			sr.log.Warnf("history: %v", err)
		} else if prev != nil && !prev.OK() {
			sr.notifier.SetLastState(false)
		}
	}
	if err := sr.store.Save(ctx, result); err != nil {
		sr.log.Warnf("history: %v", err)
	}
}

// rerunPath returns where the rerun suite of a suite goes, or "" when none
// is written. With several files each suite gets its own, named after it.
func (sr *suiteRunner) rerunPath(suiteName string) string {
	path := sr.cfg.RerunFile
	if path == "-" {
		return ""
	}
	if path == "" || len(sr.files) == 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + fileSafe(suiteName) + ext
}

func (sr *suiteRunner) writeRerun(file string, doc *parser.Document, result *runner.RunResult) error {
	path := sr.rerunPath(result.Suite.Name)
	if path == "" {
		return nil
	}

	plan, err := rerun.Build(result.Snapshot, result.Suite)
	if err != nil {
		return err
	}
	plan.RunID = result.RunID

	if plan.Empty() {
		return removeStaleRerun(path)
	}
	if err := output.WriteRerunSuite(path, doc, plan); err != nil {
		return err
	}
	sr.log.Infof("%d unit(s) to rerun, written to %s (hitsuite run %s)", plan.Len(), path, path)
	return nil
}

// removeStaleRerun deletes a rerun suite left by an earlier failing run.
// Files hitsuite did not write are left alone.
func removeStaleRerun(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(data), output.RerunHeaderPrefix) {
		return nil
	}
	return os.Remove(path)
}

func fileSafe(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func newSuiteRunner(cmd *cobra.Command, cfg *config.Config, files []string, vars map[string]string) (*suiteRunner, error) {
	log := newLogger(cfg, cmd.ErrOrStderr())
	rcfg, err := runnerConfig(cfg, log)
	if err != nil {
		return nil, exitError(ExitConfigError, err)
	}

	notifier, err := newNotifyManager(cfg)
	if err != nil {
		return nil, exitError(ExitConfigError, err)
	}

	sr := &suiteRunner{
		cfg:      cfg,
		files:    files,
		vars:     vars,
		log:      log,
		runner:   runner.NewRunner(rcfg),
		notifier: notifier,
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	}

	if cfg.HistoryDB != "" && !dryRunFlag {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, exitError(ExitConfigError, err)
		}
		sr.store = store
	}

	if !dryRunFlag {
		collector, err := newMetricsCollector(cmd.OutOrStdout())
		if err != nil {
			sr.close()
			return nil, exitError(ExitConfigError, err)
		}
		sr.metrics = collector
	}
	return sr, nil
}

func (sr *suiteRunner) close() {
	if sr.store != nil {
		_ = sr.store.Close()
	}
	if sr.metrics != nil {
		_ = sr.metrics.Close()
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return exitError(ExitConfigError, err)
	}
	vars, err := parseVars(varFlags)
	if err != nil {
		return exitError(ExitUsageError, err)
	}

	files, err := collectFiles(args)
	if err != nil {
		return exitError(ExitUsageError, err)
	}
	if len(files) == 0 {
		return exitError(ExitUsageError, fmt.Errorf("no suite files found (expected .yaml files or *.suite.yaml in directories)"))
	}

	sr, err := newSuiteRunner(cmd, cfg, files, vars)
	if err != nil {
		return err
	}
	defer sr.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := sr.runAll(ctx)
	if err != nil {
		return exitError(code, err)
	}

	if !watchFlag || dryRunFlag {
		if code != ExitSuccess {
			return exitError(code, nil)
		}
		return nil
	}
	return sr.watch(ctx, args)
}

// watch re-runs every file whenever a suite document or env file changes,
// until ctx is cancelled.
func (sr *suiteRunner) watch(ctx context.Context, args []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Add files and directories to watch
	watchedDirs := make(map[string]bool)
	for _, file := range sr.files {
		dir := filepath.Dir(file)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				sr.log.Warnf("failed to watch %s: %v", dir, err)
			}
			watchedDirs[dir] = true
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			_ = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() && !watchedDirs[path] {
					_ = watcher.Add(path)
					watchedDirs[path] = true
				}
				return nil
			})
		}
	}

	fmt.Fprintf(sr.stdout, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	// Runs never overlap; a change during a run queues the next one.
	var mu sync.Mutex
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isYAMLFile(event.Name) && !isEnvFile(event.Name) {
				continue
			}

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				mu.Lock()
				defer mu.Unlock()
				if ctx.Err() != nil {
					return
				}
				fmt.Fprintf(sr.stdout, "\n\nFile changed: %s\nRe-running suites...\n\n", name)
				if _, err := sr.runAll(ctx); err != nil {
					sr.log.Errorf("%v", err)
				}
				fmt.Fprintf(sr.stdout, "\nWatching for changes... (press Ctrl+C to stop)\n")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sr.log.Warnf("watcher error: %v", err)
		}
	}
}

// collectFiles expands args into suite documents. Files are taken as given;
// directories contribute their *.suite.yaml and *.suite.yml files.
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isSuiteFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if isYAMLFile(arg) {
			files = append(files, arg)
		} else {
			return nil, fmt.Errorf("%s is not a YAML suite document", arg)
		}
	}

	return files, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isSuiteFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".suite.yaml") || strings.HasSuffix(name, ".suite.yml")
}

func isEnvFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".env")
}
