package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a new hitsuite project",
	Long: `Initialize a new hitsuite project in the current directory (or the
given one).

This creates:
  - hitsuite.yaml        - Configuration file
  - example.suite.yaml   - Example suite with dependencies, hooks and retries

Examples:
  hitsuite init
  hitsuite init ./e2e --force`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleSuite = `# Example hitsuite suite. Run it with: hitsuite run example.suite.yaml
name: example
parallel: methods
threadCount: 4
timeout: 5m
variables:
  greeting: hello
tests:
  - name: smoke
    classes:
      - name: Workspace
        units:
          - name: prepare
            config: beforeClass
            exec: mkdir -p .hitsuite-tmp
          - name: write
            groups: [fs]
            exec: echo "{{greeting}}" > .hitsuite-tmp/greeting.txt
          - name: read
            dependsOnMethods: [write]
            exec: grep -q "{{greeting}}" .hitsuite-tmp/greeting.txt
          - name: flaky
            groups: [slow]
            exec: test "$HITSUITE_ATTEMPT" -gt 1
            retry: {attempts: 2, delay: 200ms}
          - name: sample
            exec: echo "invocation $HITSUITE_INVOCATION"
            invocationCount: 3
            threadPoolSize: 3
            successPercentage: 66
          - name: cleanup
            config: afterClass
            alwaysRun: true
            exec: rm -rf .hitsuite-tmp
`

func initCommand(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	configFile := filepath.Join(dir, config.ConfigFilenames[0])
	exampleFile := filepath.Join(dir, "example.suite.yaml")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return exitError(ExitUsageError, fmt.Errorf("file already exists: %s (use --force to overwrite)", f))
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.ThreadCount = 4
	cfg.UnitTimeout = 2 * time.Minute
	cfg.Reporters = []string{"console", "junit"}
	cfg.OutputDir = "reports"
	cfg.HistoryDB = ".hitsuite/history.db"
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.WriteFile(exampleFile, []byte(exampleSuite), 0644); err != nil {
		return fmt.Errorf("failed to create example file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", exampleFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nhitsuite project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'hitsuite run example.suite.yaml' to execute the example suite.\n")

	return nil
}
