package runner

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/retry"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/scope"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"golang.org/x/sync/errgroup"
)

var errSkippedAfterFailure = errors.New("an earlier invocation failed")

// runUnit executes every planned invocation of u, then completes it in its
// scopes. Invocations fan out on a nested pool when u.ThreadPoolSize > 0.
func (rn *run) runUnit(ctx context.Context, u *suite.Unit) {
	defer rn.finish(ctx, u)

	invocations := u.PlannedInvocations()
	if err := rn.enter(ctx, u); err != nil {
		cause := suite.CauseConfiguration
		if ctx.Err() != nil {
			cause = suite.CauseTimeout
		}
		rn.skipInvocations(u, invocations, cause, err)
		return
	}

	gate := retry.NewGate(u.SkipFailedInvocations)
	budget := newBudget(u)

	if u.ThreadPoolSize > 0 && len(invocations) > 1 {
		var g errgroup.Group
		g.SetLimit(u.ThreadPoolSize)
		for _, idx := range invocations {
			g.Go(func() error {
				rn.runInvocation(ctx, u, idx, gate, budget)
				return nil
			})
		}
		_ = g.Wait()
		return
	}

	for _, idx := range invocations {
		rn.runInvocation(ctx, u, idx, gate, budget)
	}
}

// enter makes sure the suite, test and class scopes of u have run their
// before hooks. Any failure among them is returned to every member.
func (rn *run) enter(ctx context.Context, u *suite.Unit) error {
	if err := rn.tracker.Enter(rn.suiteScope, nil); err != nil {
		return err
	}

	t := rn.tests[u.Test]
	if err := rn.tracker.Enter(rn.testScopes[u.Test], func() error {
		return rn.runBefore(ctx, rn.testConfigs(t, suite.BeforeTest), nil)
	}); err != nil {
		return err
	}

	key := classKey(u.Test, u.Class)
	c := rn.classes[key]
	return rn.tracker.Enter(rn.classScopes[key], func() error {
		return rn.runBefore(ctx, c.Configs(suite.BeforeClass), nil)
	})
}

// finish seals u and completes it in its class scope. The last member out
// runs the class's after hooks, then completes the class in the test and
// the test in the suite in the same way.
func (rn *run) finish(ctx context.Context, u *suite.Unit) {
	rn.ledger.Seal(u.ID())

	key := classKey(u.Test, u.Class)
	classID := rn.classScopes[key]
	testID := rn.testScopes[u.Test]
	c := rn.classes[key]
	t := rn.tests[u.Test]

	rn.tracker.CompleteUnit(classID, u.ID(), func() {
		rn.afterScope(ctx, classID, c.Configs(suite.AfterClass))
		rn.tracker.CompleteUnit(testID, c.Name, func() {
			rn.afterScope(ctx, testID, rn.testConfigs(t, suite.AfterTest))
			rn.tracker.CompleteUnit(rn.suiteScope, t.Name, func() {
				rn.afterScope(ctx, rn.suiteScope, rn.suiteAfter)
			})
		})
	})
}

func (rn *run) runInvocation(ctx context.Context, u *suite.Unit, idx int, gate *retry.Gate, budget *budget) {
	c := rn.classes[classKey(u.Test, u.Class)]

	for attempt := 1; ; attempt++ {
		if attempt == 1 && gate.Closed() {
			rn.skipInvocation(u, idx, attempt, suite.CauseInvocation, errSkippedAfterFailure)
			return
		}
		if cause, err := rn.stopped(ctx); err != nil {
			rn.skipInvocation(u, idx, attempt, cause, err)
			return
		}
		if rn.r.limiter != nil {
			if err := rn.r.limiter.Wait(ctx); err != nil {
				rn.skipInvocation(u, idx, attempt, suite.CauseTimeout, err)
				return
			}
		}

		if err := rn.runBefore(ctx, c.Configs(suite.BeforeMethod), u); err != nil {
			rn.skipInvocation(u, idx, attempt, suite.CauseConfiguration, err)
			rn.runAfter(ctx, c.Configs(suite.AfterMethod), err, u)
			return
		}

		o := rn.attempt(ctx, u, rn.invocation(u, u, idx, attempt))
		failed := o.Status == suite.StatusFailure
		// A failure is charged to the success percentage budget up front and
		// refunded when the policy retries it.
		absorbed := failed && budget.absorb()
		if absorbed {
			o.Status = suite.StatusFailureWithinSuccessPercentage
		}
		rn.record(u, o)
		rn.runAfter(ctx, c.Configs(suite.AfterMethod), nil, u)

		if !failed {
			return
		}
		// The failure is in the ledger before the policy is asked.
		failure := o
		failure.Status = suite.StatusFailure
		if ctx.Err() == nil && rn.r.retry.ShouldRetry(u, failure, attempt) {
			rn.log.Debugf("retry %s[%d]: attempt %d failed: %v", u.ID(), idx, attempt, o.Err)
			if rn.r.retry.Wait(ctx, u, attempt) == nil {
				if absorbed {
					budget.refund()
				}
				continue
			}
		}
		if absorbed {
			return
		}

		gate.Fail()
		if rn.r.config.FailFast && rn.bailed.CompareAndSwap(false, true) {
			rn.log.Warnf("%s failed, skipping remaining units", u.ID())
		}
		return
	}
}

// attempt performs one call and classifies its result.
func (rn *run) attempt(ctx context.Context, u *suite.Unit, inv suite.Invocation) suite.Outcome {
	start := time.Now()
	err := rn.call(ctx, u, inv)
	o := suite.Outcome{
		Unit:       u.ID(),
		Invocation: inv.Index,
		Attempt:    inv.Attempt,
		Start:      start,
		End:        time.Now(),
		Err:        err,
	}
	switch {
	case err == nil:
		o.Status = suite.StatusSuccess
	case suite.IsSkip(err):
		o.Status = suite.StatusSkip
		o.Cause = suite.CauseRequested
	default:
		o.Status = suite.StatusFailure
	}
	return o
}

// call runs the invoker under the unit timeout. It returns as soon as the
// timeout or the suite deadline passes; an invoker that ignores its context
// is left behind rather than awaited.
func (rn *run) call(ctx context.Context, u *suite.Unit, inv suite.Invocation) error {
	if u.Invoker == nil {
		return nil
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = rn.r.config.UnitTimeout
	}
	var callCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result <- &PanicError{Unit: u.ID(), Value: p, Stack: debug.Stack()}
			}
		}()
		result <- u.Invoker.Invoke(callCtx, inv)
	}()

	select {
	case err := <-result:
		if err != nil && callCtx.Err() != nil && !suite.IsSkip(err) {
			return rn.timeoutError(ctx, u, timeout)
		}
		return err
	case <-callCtx.Done():
		return rn.timeoutError(ctx, u, timeout)
	}
}

func (rn *run) timeoutError(ctx context.Context, u *suite.Unit, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Unit: u.ID(), Limit: rn.timeout, Suite: true}
		}
		return err
	}
	return &TimeoutError{Unit: u.ID(), Limit: timeout}
}

// invocation builds what the invoker of u receives. target is the test unit
// a method hook runs around; parameters are layered suite, test, class,
// target, then u.
func (rn *run) invocation(u, target *suite.Unit, idx, attempt int) suite.Invocation {
	params := make(map[string]string)
	merge := func(m map[string]string) {
		for k, v := range m {
			params[k] = v
		}
	}
	merge(rn.suite.Parameters)
	if t := rn.tests[u.Test]; t != nil {
		merge(t.Parameters)
	}
	if c := rn.classes[classKey(u.Test, u.Class)]; c != nil {
		merge(c.Parameters)
	}
	if target != nil && target != u {
		merge(target.Parameters)
	}
	merge(u.Parameters)

	return suite.Invocation{
		Unit:       u,
		Test:       u.Test,
		Index:      idx,
		Attempt:    attempt,
		Parameters: params,
	}
}

// runBefore runs hooks in order. After the first failure the rest are
// recorded as skipped and the failure is returned.
func (rn *run) runBefore(ctx context.Context, configs []*suite.Unit, target *suite.Unit) error {
	var firstErr error
	for _, c := range configs {
		if firstErr != nil {
			rn.recordConfig(c, suite.StatusSkip, suite.CauseConfiguration, firstErr)
			continue
		}
		firstErr = rn.runConfig(ctx, c, target)
	}
	return firstErr
}

// runAfter runs after hooks. When the scope's before hooks failed only
// alwaysRun hooks execute; once the suite deadline passed none do.
func (rn *run) runAfter(ctx context.Context, configs []*suite.Unit, scopeErr error, target *suite.Unit) {
	for _, c := range configs {
		switch {
		case ctx.Err() != nil:
			rn.recordConfig(c, suite.StatusSkip, suite.CauseTimeout, ctx.Err())
		case scopeErr != nil && !c.AlwaysRun:
			rn.recordConfig(c, suite.StatusSkip, suite.CauseConfiguration, scopeErr)
		default:
			_ = rn.runConfig(ctx, c, target)
		}
	}
}

func (rn *run) afterScope(ctx context.Context, id scope.ID, configs []*suite.Unit) {
	if len(configs) == 0 || !rn.tracker.Entered(id) {
		return
	}
	rn.runAfter(ctx, configs, rn.tracker.Enter(id, nil), nil)
}

func (rn *run) runConfig(ctx context.Context, c, target *suite.Unit) error {
	if err := ctx.Err(); err != nil {
		rn.recordConfig(c, suite.StatusSkip, suite.CauseTimeout, err)
		return &ConfigError{Unit: c.ID(), Kind: c.Config, Err: err}
	}

	o := rn.attempt(ctx, c, rn.invocation(c, target, 0, 1))
	rn.record(c, o)
	if o.Err != nil {
		rn.log.Debugf("%s %s: %v", c.Config, c.ID(), o.Err)
		return &ConfigError{Unit: c.ID(), Kind: c.Config, Err: o.Err}
	}
	return nil
}

func (rn *run) recordConfig(c *suite.Unit, status suite.Status, cause suite.SkipCause, err error) {
	now := time.Now()
	rn.record(c, suite.Outcome{
		Unit:   c.ID(),
		Status: status,
		Cause:  cause,
		Start:  now,
		End:    now,
		Err:    err,
	})
}

func (rn *run) record(u *suite.Unit, o suite.Outcome) {
	o.Unit = u.ID()
	var err error
	if u.IsConfiguration() {
		_, err = rn.ledger.AppendNext(o)
	} else {
		_, err = rn.ledger.Append(o)
	}
	if err != nil {
		rn.log.Errorf("ledger: %v", err)
		return
	}
	if rn.r.config.OnOutcome != nil {
		rn.r.config.OnOutcome(u, o)
	}
}

func (rn *run) skipInvocation(u *suite.Unit, idx, attempt int, cause suite.SkipCause, err error) {
	now := time.Now()
	rn.record(u, suite.Outcome{
		Unit:       u.ID(),
		Invocation: idx,
		Attempt:    attempt,
		Status:     suite.StatusSkip,
		Cause:      cause,
		Start:      now,
		End:        now,
		Err:        err,
	})
}

func (rn *run) skipInvocations(u *suite.Unit, invocations []int, cause suite.SkipCause, err error) {
	for _, idx := range invocations {
		rn.skipInvocation(u, idx, 1, cause, err)
	}
}

// skipUnit records u as skipped without invoking it and completes it.
func (rn *run) skipUnit(ctx context.Context, u *suite.Unit, cause suite.SkipCause, err error) {
	rn.skipInvocations(u, u.PlannedInvocations(), cause, err)
	rn.finish(ctx, u)
}

// budget counts failures a unit may absorb under its success percentage.
type budget struct {
	mu      sync.Mutex
	allowed int
	used    int
}

func newBudget(u *suite.Unit) *budget {
	n := u.InvocationCount
	required := (u.SuccessPercentage*n + 99) / 100
	return &budget{allowed: n - required}
}

func (b *budget) absorb() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used < b.allowed {
		b.used++
		return true
	}
	return false
}

func (b *budget) refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used > 0 {
		b.used--
	}
}
