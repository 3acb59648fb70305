// Package scope tracks lifecycle scopes (suite, test, class) during a run.
//
// Each scope instance lives in an arena and is addressed by ID, so two
// instances of the same class under different tests never share state. The
// tracker guarantees a scope's before hook runs once and its after hook runs
// once, when the last member completes.
package scope
