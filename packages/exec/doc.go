// Package exec provides the invokers behind suite documents: shell commands
// run through `sh -c`, and HTTP readiness probes.
//
// Shell units see the suite's .env variables, their parameters as
// HITSUITE_PARAM_* variables, and HITSUITE_TEST, HITSUITE_CLASS,
// HITSUITE_UNIT, HITSUITE_INVOCATION and HITSUITE_ATTEMPT. Exit status 77
// records a skip instead of a failure.
package exec
