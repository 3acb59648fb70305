package suite

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the result of a single invocation or the aggregate of a unit.
type Status string

const (
	StatusSuccess                        Status = "SUCCESS"
	StatusFailure                        Status = "FAILURE"
	StatusSkip                           Status = "SKIP"
	StatusFailureWithinSuccessPercentage Status = "FAILURE_WITHIN_SUCCESS_PERCENTAGE"
)

// Passed reports whether dependents may treat the status as a success.
func (s Status) Passed() bool {
	return s == StatusSuccess || s == StatusFailureWithinSuccessPercentage
}

// SkipCause explains why an invocation was recorded as SKIP.
type SkipCause string

const (
	CauseNone SkipCause = ""
	// CauseDependency marks skip-by-propagation from a failed or skipped dependency.
	CauseDependency SkipCause = "dependency"
	// CauseConfiguration marks a member of a scope whose before configuration failed.
	CauseConfiguration SkipCause = "configuration"
	// CauseInvocation marks invocations skipped after an earlier one failed
	// (skipFailedInvocations).
	CauseInvocation SkipCause = "invocation"
	// CauseTimeout marks units that never started before the suite deadline.
	CauseTimeout SkipCause = "timeout"
	// CauseBail marks units cancelled by fail-fast.
	CauseBail SkipCause = "bail"
	// CauseRequested marks units that asked to be skipped.
	CauseRequested SkipCause = "requested"
)

// Outcome is the immutable record of one invocation attempt.
type Outcome struct {
	Unit       string    // Unit.ID()
	Invocation int       // logical invocation index, 0-based
	Attempt    int       // 1-based attempt number within the invocation
	Status     Status
	Cause      SkipCause // only meaningful for SKIP
	Start      time.Time
	End        time.Time
	Err        error
}

// Duration returns the wall time of the invocation.
func (o Outcome) Duration() time.Duration {
	if o.End.Before(o.Start) {
		return 0
	}
	return o.End.Sub(o.Start)
}

// Terminal reports whether the outcome is a final, non-pending status.
func (o Outcome) Terminal() bool {
	return o.Status != ""
}

// Invocation is what an Invoker receives for each call.
type Invocation struct {
	Unit       *Unit
	Test       string
	Index      int
	Attempt    int
	Parameters map[string]string
}

// Invoker executes one invocation of a unit. A nil error is a success,
// a *SkipError is a requested skip and anything else is a failure.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inv Invocation) error

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// RetryPolicy decides whether a failed invocation is attempted again.
// attempt is the 1-based number of the attempt that just failed; policies
// must not keep their own counters so they stay safe for parallel units.
type RetryPolicy interface {
	Retry(failure Outcome, attempt int) bool
}

// RetryFunc adapts a function to the RetryPolicy interface.
type RetryFunc func(failure Outcome, attempt int) bool

// Retry calls f.
func (f RetryFunc) Retry(failure Outcome, attempt int) bool {
	return f(failure, attempt)
}

// SkipError is returned by an Invoker to request a skip instead of a failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	if e.Reason == "" {
		return "skipped"
	}
	return fmt.Sprintf("skipped: %s", e.Reason)
}

// Skip builds a SkipError.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err requests a skip.
func IsSkip(err error) bool {
	var skipErr *SkipError
	return errors.As(err, &skipErr)
}
