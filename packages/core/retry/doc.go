// Package retry decides whether a failed invocation is attempted again.
//
// The Controller delegates to each unit's suite.RetryPolicy. Policies get
// the attempt number as an argument instead of keeping counters, so one
// policy value can be shared by units running in parallel.
package retry
