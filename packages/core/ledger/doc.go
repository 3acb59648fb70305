// Package ledger records every invocation outcome of a run.
//
// Entries are append-only and write-once. Each unit owns its own record and
// lock, so parallel units never serialize on the ledger. A unit becomes
// terminal when it is sealed; dependents consult the aggregate outcome only
// after that point.
package ledger
