// Package runner executes hitsuite suites and manages test execution.
//
// It provides functionality for:
//   - Resolving unit dependencies before anything runs
//   - Dispatching units on bounded worker pools (none, tests, classes, methods)
//   - Firing before/after configuration hooks once per scope instance
//   - Per-unit timeouts, retries and invocation fan-out
//   - Propagating failures to dependents as skips
//
// Every outcome is written to a ledger; RunSuite returns a snapshot of it.
package runner
