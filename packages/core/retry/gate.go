package retry

import "sync/atomic"

// Gate tracks skipFailedInvocations for one unit: after the first failed
// invocation every later one is skipped. A zero Gate is open.
type Gate struct {
	enabled bool
	closed  atomic.Bool
}

// NewGate returns a gate that closes on failure only when enabled is true.
func NewGate(enabled bool) *Gate {
	return &Gate{enabled: enabled}
}

// Fail records a terminal invocation failure.
func (g *Gate) Fail() {
	if g != nil && g.enabled {
		g.closed.Store(true)
	}
}

// Closed reports whether remaining invocations must be skipped.
func (g *Gate) Closed() bool {
	return g != nil && g.closed.Load()
}
