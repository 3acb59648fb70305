// Package cmd implements the hitsuite CLI commands using Cobra.
//
// Available commands:
//   - run: Execute suites and write a rerun suite for the failures
//   - rerun: Derive (or execute) the rerun suite of a recorded JSON report
//   - validate: Check suite documents and their dependencies without running
//   - list: Display the tests, classes and units of suites
//   - history: Browse runs recorded in the history database
//   - init: Create a new hitsuite project with an example suite
//   - version: Show hitsuite version information
//
// Settings are layered flags, HITSUITE_* environment variables, the
// hitsuite.yaml config file, then defaults. Exit codes are listed in
// exitcodes.go.
package cmd
