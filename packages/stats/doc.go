// Package stats summarizes invocation durations with HDR histograms.
//
// Feed a Metrics from the runner while a suite runs, or rebuild one from a
// ledger snapshot afterwards with FromSnapshot.
package stats
