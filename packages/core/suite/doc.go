// Package suite defines the immutable description of a test run.
//
// A Suite owns Tests, a Test owns Classes and a Class owns Units. Units are
// either test methods proper or configuration hooks (before/after a suite,
// test, class or method). The package also defines the Outcome values the
// scheduler records for every invocation and the Invoker capability used to
// execute a unit without knowing how it was discovered.
package suite
