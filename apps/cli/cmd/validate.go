package cmd

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml|directory>...",
	Short: "Validate suite documents without running them",
	Long: `Check suite documents against the schema, build them and resolve every
dependency, without running anything. Parse errors exit with 2, unresolvable
dependencies and cycles with 3.

Examples:
  hitsuite validate smoke.suite.yaml
  hitsuite validate ./suites/`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return exitError(ExitUsageError, err)
	}

	if len(files) == 0 {
		return exitError(ExitUsageError, fmt.Errorf("no suite files found"))
	}

	r := runner.NewRunner(nil)
	code := ExitSuccess
	for _, file := range files {
		if err := validateFile(r, file); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				code = max(code, exitErr.Code)
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", file)
	}

	if code != ExitSuccess {
		return exitError(code, fmt.Errorf("validation failed"))
	}
	return nil
}

func validateFile(r *runner.Runner, file string) error {
	doc, err := parser.ParseFile(file)
	if err != nil {
		return exitError(ExitParseError, err)
	}
	s, err := parser.Build(doc, parser.BuildOptions{})
	if err != nil {
		return exitError(ExitParseError, err)
	}
	if _, err := r.Prepare(s); err != nil {
		return exitError(ExitConfigError, err)
	}
	return nil
}
