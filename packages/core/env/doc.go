// Package env handles environment variables for shell units.
//
// It provides functionality for:
//   - Loading environment files (.env, .env.local, etc.)
//   - Placeholder interpolation using {{name}} and {{$ENV}} syntax
//   - Building the process environment of each invocation
package env
