// Package notify sends run summaries to chat services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when units fail
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when every unit passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failure and on the first
	// passing run after a failure
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn validates a notify_on setting.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch n := NotifyOn(s); n {
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return n, nil
	case "":
		return NotifyFailure, nil
	}
	return "", fmt.Errorf("invalid notify setting %q: must be always, failure, success or recovery", s)
}

// maxFailures caps how many failed units a message lists.
const maxFailures = 10

// RunSummary represents the summary of one or more suite runs for notifications
type RunSummary struct {
	Suites         []string      `json:"suites"`
	RunIDs         []string      `json:"run_ids"`
	TotalUnits     int           `json:"total_units"`
	PassedUnits    int           `json:"passed_units"`
	FailedUnits    int           `json:"failed_units"`
	SkippedUnits   int           `json:"skipped_units"`
	ConfigFailures int           `json:"config_failures"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	Duration       time.Duration `json:"duration"`
	Environment    string        `json:"environment,omitempty"`
	FailedResults  []FailedUnit  `json:"failed_results,omitempty"`
	MoreFailures   int           `json:"more_failures,omitempty"`
	IsRecovery     bool          `json:"is_recovery,omitempty"`
}

// FailedUnit represents a failed unit for notifications
type FailedUnit struct {
	Name   string   `json:"name"`
	Suite  string   `json:"suite"`
	Errors []string `json:"errors,omitempty"`
}

// OK reports whether nothing failed.
func (s *RunSummary) OK() bool {
	return s.FailedUnits == 0 && s.ConfigFailures == 0
}

// failureCount is what a message headline reports.
func (s *RunSummary) failureCount() int {
	return s.FailedUnits + s.ConfigFailures
}

// Summarize builds a RunSummary from completed runs.
func Summarize(results ...*runner.RunResult) *RunSummary {
	summary := &RunSummary{}
	for _, r := range results {
		summary.Suites = append(summary.Suites, r.Suite.Name)
		summary.RunIDs = append(summary.RunIDs, r.RunID)
		summary.PassedUnits += r.Passed
		summary.FailedUnits += r.Failed
		summary.SkippedUnits += r.Skipped
		summary.ConfigFailures += r.ConfigFailures
		summary.TotalUnits += r.Passed + r.Failed + r.Skipped
		summary.Duration += r.Duration
		summary.TimedOut = summary.TimedOut || r.TimedOut

		for _, ur := range r.Units {
			if ur.Outcome.Status != suite.StatusFailure {
				continue
			}
			if len(summary.FailedResults) == maxFailures {
				summary.MoreFailures++
				continue
			}
			fu := FailedUnit{Name: ur.Unit.ID(), Suite: r.Suite.Name}
			if ur.Outcome.Err != nil {
				fu.Errors = append(fu.Errors, ur.Outcome.Err.Error())
			}
			summary.FailedResults = append(summary.FailedResults, fu)
		}
	}
	return summary
}

// Notifier is the interface for notification services
type Notifier interface {
	// Notify sends a notification about a run
	Notify(ctx context.Context, summary *RunSummary) error

	// Name returns the name of the notifier
	Name() string
}

// Manager manages multiple notifiers
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true, // Assume success initially
	}
}

// AddNotifier adds a notifier to the manager
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Len returns the number of registered notifiers.
func (m *Manager) Len() int {
	return len(m.notifiers)
}

// SetLastState seeds the outcome of the previous run, usually from history.
func (m *Manager) SetLastState(ok bool) {
	m.lastState = ok
}

// ShouldNotify applies the policy to summary without sending anything.
func (m *Manager) ShouldNotify(summary *RunSummary) bool {
	switch m.notifyOn {
	case NotifyAlways:
		return true
	case NotifyFailure:
		return !summary.OK()
	case NotifySuccess:
		return summary.OK()
	case NotifyRecovery:
		return !summary.OK() || !m.lastState
	}
	return false
}

// Notify sends notifications based on the configured policy. Every notifier
// is tried; their errors are joined.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) error {
	shouldNotify := m.ShouldNotify(summary)
	if m.notifyOn == NotifyRecovery && !m.lastState && summary.OK() {
		summary.IsRecovery = true
	}
	m.lastState = summary.OK()

	if !shouldNotify {
		return nil
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func headline(summary *RunSummary) (title string, failed bool) {
	switch {
	case summary.TimedOut && !summary.OK():
		return fmt.Sprintf("%d unit(s) failed, suite timed out", summary.failureCount()), true
	case !summary.OK():
		return fmt.Sprintf("%d unit(s) failed", summary.failureCount()), true
	case summary.IsRecovery:
		return "Units recovered!", false
	}
	return "All units passed!", false
}
