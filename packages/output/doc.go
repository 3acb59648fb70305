// Package output provides formatters for displaying run results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: Machine-readable JSON output, readable again with LoadJSONReport
//   - JUnit: JUnit XML format for CI integration
//   - TAP: Test Anything Protocol format
//   - HTML: Standalone HTML report
//
// Each formatter implements the Formatter interface and can optionally
// implement Flushable for formats that accumulate results before output.
//
// WriteRerunSuite writes a rerun plan as a suite document that can be run
// directly.
package output
