package retry

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Controller applies retry policies on behalf of the dispatcher. It has no
// mutable state and is safe for concurrent use.
type Controller struct {
	fallback suite.RetryPolicy
	delay    time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithDefaultPolicy sets the policy used by units that have none.
func WithDefaultPolicy(p suite.RetryPolicy) Option {
	return func(c *Controller) {
		c.fallback = p
	}
}

// WithDelay sets the pause between attempts for policies that do not
// choose their own.
func WithDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.delay = d
	}
}

// NewController creates a controller. Without options, units without a
// policy are never retried.
func NewController(opts ...Option) *Controller {
	c := &Controller{fallback: Never}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) policy(u *suite.Unit) suite.RetryPolicy {
	if u != nil && u.RetryPolicy != nil {
		return u.RetryPolicy
	}
	return c.fallback
}

// ShouldRetry reports whether unit should be invoked again after failure,
// which was the given 1-based attempt. The caller must have recorded
// failure in the ledger before asking. No maximum is enforced here.
func (c *Controller) ShouldRetry(u *suite.Unit, failure suite.Outcome, attempt int) bool {
	if failure.Status != suite.StatusFailure {
		return false
	}
	p := c.policy(u)
	if p == nil {
		return false
	}
	return p.Retry(failure, attempt)
}

// Wait pauses before the next attempt. It returns early with the context's
// error when ctx is done.
func (c *Controller) Wait(ctx context.Context, u *suite.Unit, attempt int) error {
	d := c.delay
	if b, ok := c.policy(u).(Backoffer); ok {
		d = b.Backoff(attempt)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
