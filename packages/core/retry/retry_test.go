package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "timed out" }
func (fakeTimeout) Timeout() bool { return true }

func failure(err error) suite.Outcome {
	return suite.Outcome{Status: suite.StatusFailure, Err: err}
}

func TestController_DelegatesToUnitPolicy(t *testing.T) {
	c := NewController()
	u := &suite.Unit{Name: "u", RetryPolicy: Attempts(3)}

	assert.True(t, c.ShouldRetry(u, failure(nil), 1))
	assert.True(t, c.ShouldRetry(u, failure(nil), 2))
	assert.False(t, c.ShouldRetry(u, failure(nil), 3))
}

func TestController_NoPolicyNeverRetries(t *testing.T) {
	c := NewController()
	assert.False(t, c.ShouldRetry(&suite.Unit{Name: "u"}, failure(nil), 1))
}

func TestController_DefaultPolicy(t *testing.T) {
	c := NewController(WithDefaultPolicy(Attempts(2)))
	u := &suite.Unit{Name: "u"}
	assert.True(t, c.ShouldRetry(u, failure(nil), 1))
	assert.False(t, c.ShouldRetry(u, failure(nil), 2))

	u.RetryPolicy = Never
	assert.False(t, c.ShouldRetry(u, failure(nil), 1))
}

func TestController_OnlyFailuresRetried(t *testing.T) {
	c := NewController(WithDefaultPolicy(Attempts(5)))
	u := &suite.Unit{Name: "u"}
	for _, status := range []suite.Status{suite.StatusSuccess, suite.StatusSkip, suite.StatusFailureWithinSuccessPercentage} {
		assert.False(t, c.ShouldRetry(u, suite.Outcome{Status: status}, 1), status)
	}
}

func TestController_PolicyReceivesAttempt(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	policy := suite.RetryFunc(func(_ suite.Outcome, attempt int) bool {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, attempt)
		return attempt < 3
	})
	c := NewController()
	u := &suite.Unit{Name: "u", RetryPolicy: policy}

	attempt := 1
	for c.ShouldRetry(u, failure(errors.New("x")), attempt) {
		attempt++
	}
	assert.Equal(t, 3, attempt)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestPolicy_Timeouts(t *testing.T) {
	p := &Policy{MaxAttempts: 3}
	assert.False(t, p.Retry(failure(fakeTimeout{}), 1))
	assert.True(t, p.Retry(failure(errors.New("boom")), 1))

	p.RetryTimeouts = true
	assert.True(t, p.Retry(failure(fakeTimeout{}), 1))
}

func TestPolicy_Backoff(t *testing.T) {
	p := &Policy{Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Duration(0), (&Policy{}).Backoff(4))
}

func TestController_WaitHonorsContext(t *testing.T) {
	c := NewController(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := c.Wait(ctx, &suite.Unit{Name: "u"}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestController_WaitUsesPolicyBackoff(t *testing.T) {
	c := NewController(WithDelay(time.Hour))
	u := &suite.Unit{Name: "u", RetryPolicy: &Policy{MaxAttempts: 2, Delay: time.Millisecond}}

	start := time.Now()
	require.NoError(t, c.Wait(context.Background(), u, 1))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGate(t *testing.T) {
	g := NewGate(true)
	assert.False(t, g.Closed())
	g.Fail()
	assert.True(t, g.Closed())

	off := NewGate(false)
	off.Fail()
	assert.False(t, off.Closed())

	var nilGate *Gate
	nilGate.Fail()
	assert.False(t, nilGate.Closed())
}
