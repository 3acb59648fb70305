// Package logging provides the leveled, timestamped logger used by the
// scheduler and the CLI. Output goes to stderr unless redirected.
package logging
