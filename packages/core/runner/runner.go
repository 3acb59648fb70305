package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/resolver"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/retry"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/logging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Runner struct {
	config  *Config
	retry   *retry.Controller
	limiter *rate.Limiter
	log     *logging.Logger
}

type Config struct {
	// Parallel and ThreadCount override the suite document when set.
	Parallel    suite.ParallelMode
	ThreadCount int

	SuiteTimeout time.Duration
	UnitTimeout  time.Duration

	// Retries is the number of extra attempts for units without a policy.
	Retries    int
	RetryDelay time.Duration

	// MaxStartRate caps invocation starts per second across the run.
	MaxStartRate float64

	FailFast      bool
	IncludeGroups []string
	ExcludeGroups []string

	Logger *logging.Logger

	// OnOutcome is called from worker goroutines after every ledger entry.
	OnOutcome func(u *suite.Unit, o suite.Outcome)
}

func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}

	retryOpts := []retry.Option{retry.WithDelay(cfg.RetryDelay)}
	if cfg.Retries > 0 {
		retryOpts = append(retryOpts, retry.WithDefaultPolicy(&retry.Policy{
			MaxAttempts:   cfg.Retries + 1,
			Delay:         cfg.RetryDelay,
			RetryTimeouts: true,
		}))
	}

	r := &Runner{
		config: cfg,
		retry:  retry.NewController(retryOpts...),
		log:    cfg.Logger,
	}
	if cfg.MaxStartRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.MaxStartRate), 1)
	}
	return r
}

type RunResult struct {
	RunID    string
	Suite    *suite.Suite
	Started  time.Time
	Duration time.Duration
	Snapshot *ledger.Snapshot
	Units    []*UnitResult

	// IncludeGroups and ExcludeGroups are the filters the run was prepared with.
	IncludeGroups []string
	ExcludeGroups []string

	Passed         int
	Failed         int
	Skipped        int
	ConfigFailures int
	TimedOut       bool
	Bailed         bool
}

// OK reports whether no test unit and no configuration failed.
func (r *RunResult) OK() bool {
	return r.Failed == 0 && r.ConfigFailures == 0
}

type UnitResult struct {
	Unit     *suite.Unit
	Outcome  suite.Outcome
	Attempts []suite.Outcome
}

// Prepare applies the group filters to a copy of s, normalizes it and
// resolves every dependency. Units the selected units depend on are kept
// even when the include filter would drop them; excluded groups always stay
// out. Configuration errors surface here, before anything is invoked.
func (r *Runner) Prepare(s *suite.Suite) (*suite.Suite, error) {
	prepared, _, err := r.prepare(s)
	return prepared, err
}

func (r *Runner) prepare(s *suite.Suite) (*suite.Suite, map[*suite.Unit][]*suite.Unit, error) {
	if s == nil {
		return nil, nil, fmt.Errorf("no suite to run")
	}

	filtered := copySuite(s, nil)
	if err := suite.Normalize(filtered); err != nil {
		return nil, nil, fmt.Errorf("invalid suite: %w", err)
	}

	include, exclude := compactGroups(r.config.IncludeGroups), compactGroups(r.config.ExcludeGroups)
	if len(include) > 0 || len(exclude) > 0 {
		keep, err := selectUnits(filtered, include, exclude)
		if err != nil {
			return nil, nil, err
		}
		filtered = copySuite(filtered, keep)
		if err := suite.Normalize(filtered); err != nil {
			return nil, nil, fmt.Errorf("invalid suite: %w", err)
		}
	}

	closures := make(map[*suite.Unit][]*suite.Unit)
	for _, t := range filtered.Tests {
		res := resolver.New(t.Units())
		for _, u := range res.Units() {
			if u.IsConfiguration() {
				continue
			}
			closure, err := res.Closure(u)
			if err != nil {
				return nil, nil, err
			}
			closures[u] = closure
		}
	}
	return filtered, closures, nil
}

// RunSuite executes s and returns once every worker has drained or the
// suite deadline has passed. Dependency errors are returned without running
// anything; unit failures are reported in the result, never as an error.
func (r *Runner) RunSuite(ctx context.Context, s *suite.Suite) (*RunResult, error) {
	start := time.Now()

	prepared, closures, err := r.prepare(s)
	if err != nil {
		return nil, err
	}

	timeout := prepared.Timeout
	if r.config.SuiteTimeout > 0 {
		timeout = r.config.SuiteTimeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	rn := newRun(r, uuid.NewString(), prepared, closures, timeout)
	rn.log.Debugf("suite %s: mode=%s threads=%d timeout=%s", prepared.Name, rn.suiteMode(), prepared.ThreadCount, timeout)
	rn.execute(runCtx)

	result := rn.result(start)
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	return result, nil
}

func (rn *run) result(start time.Time) *RunResult {
	snap := rn.ledger.Snapshot()
	result := &RunResult{
		RunID:    rn.id,
		Suite:    rn.suite,
		Started:  start,
		Duration: time.Since(start),
		Snapshot: snap,
		Bailed:   rn.bailed.Load(),

		IncludeGroups: compactGroups(rn.r.config.IncludeGroups),
		ExcludeGroups: compactGroups(rn.r.config.ExcludeGroups),
	}

	for _, u := range rn.suite.AllUnits() {
		attempts := snap.Outcomes(u.ID())
		if u.IsConfiguration() {
			if len(attempts) == 0 {
				continue
			}
			ur := &UnitResult{Unit: u, Outcome: snap.OutcomeOf(u.ID()), Attempts: attempts}
			result.Units = append(result.Units, ur)
			if ur.Outcome.Status == suite.StatusFailure {
				result.ConfigFailures++
			}
			continue
		}

		ur := &UnitResult{Unit: u, Outcome: snap.OutcomeOf(u.ID()), Attempts: attempts}
		result.Units = append(result.Units, ur)
		switch {
		case ur.Outcome.Status.Passed():
			result.Passed++
		case ur.Outcome.Status == suite.StatusFailure:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	return result
}

// copySuite copies the suite, test and class structure of s. Test units
// missing from keep are dropped; a nil keep retains every unit.
func copySuite(s *suite.Suite, keep map[*suite.Unit]bool) *suite.Suite {
	out := *s
	out.Tests = make([]*suite.Test, 0, len(s.Tests))
	for _, t := range s.Tests {
		tc := *t
		tc.Classes = make([]*suite.Class, 0, len(t.Classes))
		for _, c := range t.Classes {
			cc := *c
			cc.Units = make([]*suite.Unit, 0, len(c.Units))
			for _, u := range c.Units {
				if keep == nil || u.IsConfiguration() || keep[u] {
					cc.Units = append(cc.Units, u)
				}
			}
			tc.Classes = append(tc.Classes, &cc)
		}
		out.Tests = append(out.Tests, &tc)
	}
	return &out
}

// selectUnits returns the test units the group filters select plus the
// dependency closure of each. Excluded units stay out, so a selected unit
// depending on one still fails to resolve.
func selectUnits(s *suite.Suite, include, exclude []string) (map[*suite.Unit]bool, error) {
	keep := make(map[*suite.Unit]bool)
	for _, t := range s.Tests {
		res := resolver.New(t.Units())
		for _, u := range res.Units() {
			if u.IsConfiguration() || !shouldRun(u, include, exclude) {
				continue
			}
			keep[u] = true
			closure, err := res.Closure(u)
			if err != nil {
				return nil, err
			}
			for _, d := range closure {
				if !inAnyGroup(d, exclude) {
					keep[d] = true
				}
			}
		}
	}
	return keep, nil
}

func shouldRun(u *suite.Unit, include, exclude []string) bool {
	if inAnyGroup(u, exclude) {
		return false
	}
	if len(include) > 0 {
		return inAnyGroup(u, include)
	}
	return true
}

func inAnyGroup(u *suite.Unit, patterns []string) bool {
	for _, p := range patterns {
		if u.InGroup(p) {
			return true
		}
	}
	return false
}

// compactGroups drops blank filter entries.
func compactGroups(groups []string) []string {
	var out []string
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
