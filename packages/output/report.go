package output

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// displayName is how a unit is shown in reports: Class.signature, plus the
// configuration kind for hooks.
func displayName(u *suite.Unit) string {
	name := u.Class + "." + u.Signature
	if u.IsConfiguration() {
		name += " [" + string(u.Config) + "]"
	}
	return name
}

// skipReason describes why a unit was skipped.
func skipReason(o suite.Outcome) string {
	var reason string
	switch o.Cause {
	case suite.CauseDependency:
		reason = "dependency failed"
	case suite.CauseConfiguration:
		reason = "configuration failed"
	case suite.CauseInvocation:
		reason = "earlier invocation failed"
	case suite.CauseTimeout:
		reason = "suite timed out"
	case suite.CauseBail:
		reason = "stopped after failure"
	case suite.CauseRequested:
		reason = "requested"
	}
	if o.Err != nil {
		msg := o.Err.Error()
		if reason == "" {
			return msg
		}
		if o.Cause != suite.CauseTimeout && o.Cause != suite.CauseBail {
			return reason + ": " + msg
		}
	}
	if reason == "" {
		return "not run"
	}
	return reason
}

// errorMessage returns the first line of an error, for one-line displays.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// invocationSummary is "2/5 invocations failed" for data driven units.
func invocationSummary(ur *runner.UnitResult) string {
	if ur.Unit.InvocationCount <= 1 {
		return ""
	}
	finals := finalOutcomes(ur)
	failed := 0
	for _, o := range finals {
		if !o.Status.Passed() {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("%d invocations", len(finals))
	}
	return fmt.Sprintf("%d/%d invocations failed", failed, len(finals))
}

func finalOutcomes(ur *runner.UnitResult) []suite.Outcome {
	last := make(map[int]suite.Outcome)
	var order []int
	for _, o := range ur.Attempts {
		if _, ok := last[o.Invocation]; !ok {
			order = append(order, o.Invocation)
		}
		last[o.Invocation] = o
	}
	finals := make([]suite.Outcome, 0, len(order))
	for _, i := range order {
		finals = append(finals, last[i])
	}
	return finals
}

// retries counts attempts beyond the first of each invocation.
func retries(ur *runner.UnitResult) int {
	n := 0
	for _, o := range ur.Attempts {
		if o.Attempt > 1 {
			n++
		}
	}
	return n
}
