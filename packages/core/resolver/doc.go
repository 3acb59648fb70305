// Package resolver turns the dependency references declared on units into
// concrete units and computes transitive dependency closures.
//
// References are resolved by simple name within the declaring class, then by
// qualified name, then by simple name across the test. Group references
// expand to every test-proper unit carrying the group, in declaration order.
// Cycles, self references, ambiguous names and missing references (unless
// ignored) are configuration errors surfaced before anything runs.
package resolver
