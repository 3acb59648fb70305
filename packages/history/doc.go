// Package history stores completed runs in a SQLite database so that past
// results can be listed, compared and used to detect recoveries.
package history
