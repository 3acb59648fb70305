package cmd

import "fmt"

// Exit codes for hitsuite CLI
const (
	// ExitSuccess indicates every unit passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more units or configurations failed
	ExitTestFailure = 1

	// ExitParseError indicates a suite document could not be parsed
	ExitParseError = 2

	// ExitConfigError indicates invalid configuration or unresolvable
	// dependencies
	ExitConfigError = 3

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// ExitError carries the process exit code out of a command. A nil Err
// exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}
