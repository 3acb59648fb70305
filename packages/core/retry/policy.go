package retry

import (
	"errors"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Never is a policy that never retries.
var Never suite.RetryPolicy = suite.RetryFunc(func(suite.Outcome, int) bool { return false })

// Policy retries a failure until MaxAttempts attempts have been made.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier grows Delay for each further attempt. Values <= 1 keep it constant.
	Multiplier float64
	// MaxDelay caps the grown delay when positive.
	MaxDelay time.Duration
	// RetryTimeouts allows retrying attempts that timed out.
	RetryTimeouts bool
}

// Attempts returns a policy that retries while attempt < n.
func Attempts(n int) *Policy {
	return &Policy{MaxAttempts: n, RetryTimeouts: true}
}

// Retry implements suite.RetryPolicy.
func (p *Policy) Retry(failure suite.Outcome, attempt int) bool {
	if failure.Status != suite.StatusFailure {
		return false
	}
	if !p.RetryTimeouts && isTimeout(failure.Err) {
		return false
	}
	return attempt < p.MaxAttempts
}

// Backoff returns how long to wait after the given failed attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if d <= 0 {
		return 0
	}
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Backoffer is implemented by policies that want a pause between attempts.
type Backoffer interface {
	Backoff(attempt int) time.Duration
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}
