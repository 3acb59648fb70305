// Package config handles configuration loading and management for hitsuite.
//
// Values are layered with koanf, later layers winning:
//   - built-in defaults
//   - hitsuite.yaml, .hitsuite.yaml, hitsuite.json or .hitsuiterc (JSON)
//   - HITSUITE_* environment variables, e.g. HITSUITE_THREAD_COUNT=8
//
// Command line flags are applied on top with Merge.
package config
