package runner

import (
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// TimeoutError is recorded when an invocation outlives its unit timeout or
// the suite deadline.
type TimeoutError struct {
	Unit  string
	Limit time.Duration
	Suite bool
}

func (e *TimeoutError) Error() string {
	if e.Suite {
		return fmt.Sprintf("%s: suite deadline of %s exceeded", e.Unit, e.Limit)
	}
	return fmt.Sprintf("%s: timed out after %s", e.Unit, e.Limit)
}

// Timeout marks the error as a timeout for retry policies.
func (e *TimeoutError) Timeout() bool { return true }

// PanicError is recorded when an invoker panics.
type PanicError struct {
	Unit  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Unit, e.Value)
}

// ConfigError reports a failed or skipped configuration hook. Members of the
// hook's scope carry it as the reason they were skipped.
type ConfigError struct {
	Unit string
	Kind suite.ConfigKind
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Kind, e.Unit, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DependencyError is the reason a unit is skipped by propagation.
type DependencyError struct {
	Unit       string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s depends on %s, which did not pass", e.Unit, e.Dependency)
}
