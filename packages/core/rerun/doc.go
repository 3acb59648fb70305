// Package rerun computes the minimal set of units that reproduces the
// failures of a completed run.
//
// Build reads a ledger snapshot once, after every worker has drained. Its
// Plan names, per test and class, the units that failed or were skipped,
// their transitive dependencies, and every configuration unit of each class
// touched, since a rerun must rebuild the full lifecycle around them. Data
// driven units keep only the invocation indices that did not pass, tracked
// per signature so overloads never share indices.
//
// Apply turns a plan back into a runnable suite:
//
//	plan, err := rerun.Build(result.Snapshot, result.Suite)
//	if err != nil {
//		return err
//	}
//	next, err := rerun.Apply(plan, result.Suite)
//
// Building a plan from the run of a previous plan yields a subset of it
// when nothing new fails.
package rerun
