package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/scope"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/abdul-hamid-achik/hitsuite/packages/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var errBail = errors.New("run stopped after a failure (fail fast)")

// run holds the state of one RunSuite call.
type run struct {
	r        *Runner
	id       string
	suite    *suite.Suite
	closures map[*suite.Unit][]*suite.Unit
	ledger   *ledger.Ledger
	tracker  *scope.Tracker
	timeout  time.Duration
	log      *logging.Logger

	suiteScope  scope.ID
	testScopes  map[string]scope.ID
	classScopes map[string]scope.ID
	tests       map[string]*suite.Test
	classes     map[string]*suite.Class

	suiteBefore []*suite.Unit
	suiteAfter  []*suite.Unit

	bailed atomic.Bool
}

func classKey(test, class string) string {
	return test + "/" + class
}

func newRun(r *Runner, id string, s *suite.Suite, closures map[*suite.Unit][]*suite.Unit, timeout time.Duration) *run {
	rn := &run{
		r:           r,
		id:          id,
		suite:       s,
		closures:    closures,
		ledger:      ledger.New(),
		tracker:     scope.NewTracker(),
		timeout:     timeout,
		log:         r.log.With("run=" + shortID(id)),
		testScopes:  make(map[string]scope.ID),
		classScopes: make(map[string]scope.ID),
		tests:       make(map[string]*suite.Test),
		classes:     make(map[string]*suite.Class),
	}

	// Only scopes with test units are tracked; a class made of hooks alone
	// never enters and never fires.
	liveTests := 0
	for _, t := range s.Tests {
		if len(testUnits(t)) > 0 {
			liveTests++
		}
	}
	rn.suiteScope = rn.tracker.Register(suite.LevelSuite, s.Name, scope.None, liveTests)

	for _, t := range s.Tests {
		rn.tests[t.Name] = t
		liveClasses := 0
		for _, c := range t.Classes {
			rn.classes[classKey(t.Name, c.Name)] = c
			if len(c.TestUnits()) > 0 {
				liveClasses++
			}
		}
		if liveClasses == 0 {
			continue
		}
		testID := rn.tracker.Register(suite.LevelTest, t.Name, rn.suiteScope, liveClasses)
		rn.testScopes[t.Name] = testID
		for _, c := range t.Classes {
			if n := len(c.TestUnits()); n > 0 {
				rn.classScopes[classKey(t.Name, c.Name)] = rn.tracker.Register(suite.LevelClass, c.Name, testID, n)
			}
		}
	}

	rn.suiteBefore = rn.suiteConfigs(suite.BeforeSuite)
	rn.suiteAfter = rn.suiteConfigs(suite.AfterSuite)
	return rn
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func testUnits(t *suite.Test) []*suite.Unit {
	var units []*suite.Unit
	for _, c := range t.Classes {
		units = append(units, c.TestUnits()...)
	}
	return units
}

// suiteConfigs collects suite hooks once per class and signature, even when
// a class is listed by several tests.
func (rn *run) suiteConfigs(kind suite.ConfigKind) []*suite.Unit {
	seen := make(map[string]bool)
	var configs []*suite.Unit
	for _, t := range rn.suite.Tests {
		for _, c := range t.Classes {
			for _, u := range c.Configs(kind) {
				key := c.Name + "." + u.Signature
				if seen[key] {
					continue
				}
				seen[key] = true
				configs = append(configs, u)
			}
		}
	}
	return configs
}

func (rn *run) testConfigs(t *suite.Test, kind suite.ConfigKind) []*suite.Unit {
	var configs []*suite.Unit
	for _, c := range t.Classes {
		configs = append(configs, c.Configs(kind)...)
	}
	return configs
}

func (rn *run) suiteMode() suite.ParallelMode {
	if rn.r.config.Parallel != "" {
		return rn.r.config.Parallel
	}
	return rn.suite.Parallel
}

func (rn *run) testMode(t *suite.Test) suite.ParallelMode {
	if rn.r.config.Parallel != "" {
		return rn.r.config.Parallel
	}
	if t.Parallel != "" {
		return t.Parallel
	}
	return rn.suite.Parallel
}

func (rn *run) threads(t *suite.Test) int {
	switch {
	case rn.r.config.ThreadCount > 0:
		return rn.r.config.ThreadCount
	case t != nil && t.ThreadCount > 0:
		return t.ThreadCount
	case rn.suite.ThreadCount > 0:
		return rn.suite.ThreadCount
	}
	return suite.DefaultThreadCount
}

// stopped reports whether new work must not start, and why.
func (rn *run) stopped(ctx context.Context) (suite.SkipCause, error) {
	if rn.bailed.Load() {
		return suite.CauseBail, errBail
	}
	if err := ctx.Err(); err != nil {
		return suite.CauseTimeout, err
	}
	return suite.CauseNone, nil
}

func (rn *run) execute(ctx context.Context) {
	if err := rn.tracker.Enter(rn.suiteScope, func() error {
		return rn.runBefore(ctx, rn.suiteBefore, nil)
	}); err != nil {
		rn.log.Warnf("%v: every unit will be skipped", err)
	}

	if rn.suiteMode() == suite.ParallelTests {
		var g errgroup.Group
		g.SetLimit(rn.threads(nil))
		for _, t := range rn.suite.Tests {
			g.Go(func() error {
				rn.runTest(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, t := range rn.suite.Tests {
			rn.runTest(ctx, t)
		}
	}

	rn.tracker.Finish(rn.suiteScope, func() {
		rn.afterScope(ctx, rn.suiteScope, rn.suiteAfter)
	})
	for _, u := range rn.suite.AllUnits() {
		rn.ledger.Seal(u.ID())
	}
}

func (rn *run) runTest(ctx context.Context, t *suite.Test) {
	units := testUnits(t)
	if len(units) == 0 {
		return
	}

	mode := rn.testMode(t)
	threads := rn.threads(t)
	if mode == suite.ParallelNone || mode == suite.ParallelTests {
		threads = 1
	}
	rn.log.Debugf("test %s: %d units, mode=%s threads=%d", t.Name, len(units), mode, threads)
	rn.dispatch(ctx, units, mode == suite.ParallelClasses, threads)
}

type readiness int

const (
	waiting readiness = iota
	ready
	blocked
)

// readiness checks u's closure against the ledger. A unit is ready once
// every dependency is terminal; it is blocked when one of them did not
// pass, unless it is alwaysRun.
func (rn *run) readiness(u *suite.Unit) (readiness, *suite.Unit) {
	var failed *suite.Unit
	for _, d := range rn.closures[u] {
		if !rn.ledger.Terminal(d.ID()) {
			return waiting, nil
		}
		if failed == nil && !rn.ledger.OutcomeOf(d.ID()).Status.Passed() {
			failed = d
		}
	}
	if failed != nil && !u.AlwaysRun {
		return blocked, failed
	}
	return ready, nil
}

// dispatch runs units on a pool of threads workers. Units are considered in
// priority then declaration order and submitted once their closure is
// terminal. With classAffinity, units of one class never run concurrently.
func (rn *run) dispatch(ctx context.Context, units []*suite.Unit, classAffinity bool, threads int) {
	pending := make([]*suite.Unit, len(units))
	copy(pending, units)
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].Index() < pending[j].Index()
	})

	sem := semaphore.NewWeighted(int64(threads))
	done := make(chan *suite.Unit, len(pending))
	busy := make(map[string]bool)
	running := 0

	for len(pending) > 0 || running > 0 {
		progressed := false
		full := false
		next := pending[:0]

		for _, u := range pending {
			if cause, err := rn.stopped(ctx); err != nil {
				rn.skipUnit(ctx, u, cause, err)
				progressed = true
				continue
			}

			state, failed := rn.readiness(u)
			switch state {
			case waiting:
				next = append(next, u)
				continue
			case blocked:
				rn.log.Debugf("skip %s: depends on %s", u.ID(), failed.ID())
				rn.skipUnit(ctx, u, suite.CauseDependency, &DependencyError{Unit: u.ID(), Dependency: failed.ID()})
				progressed = true
				continue
			}

			if full || (classAffinity && busy[u.Class]) {
				next = append(next, u)
				continue
			}
			if !sem.TryAcquire(1) {
				full = true
				next = append(next, u)
				continue
			}

			running++
			busy[u.Class] = true
			progressed = true
			go func(u *suite.Unit) {
				rn.runUnit(ctx, u)
				sem.Release(1)
				done <- u
			}(u)
		}
		pending = next

		if progressed {
			continue
		}
		if running == 0 {
			// Nothing in flight can make the rest ready.
			for _, u := range pending {
				rn.skipUnit(ctx, u, suite.CauseDependency, fmt.Errorf("dependencies of %s never completed", u.ID()))
			}
			return
		}

		u := <-done
		running--
		delete(busy, u.Class)
	}
}
