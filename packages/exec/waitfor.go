package exec

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultWaitInterval = 500 * time.Millisecond
)

// WaitFor polls a URL until it answers with the expected status. It is
// meant for beforeSuite or beforeClass hooks that wait for a service.
type WaitFor struct {
	URL      string
	Status   int
	Timeout  time.Duration
	Interval time.Duration
	Resolver *env.Resolver
	Client   *http.Client
}

// Invoke implements suite.Invoker.
func (w *WaitFor) Invoke(ctx context.Context, inv suite.Invocation) error {
	url := w.URL
	if w.Resolver != nil {
		url = w.Resolver.Resolve(url, inv.Parameters)
	}
	expected := w.Status
	if expected == 0 {
		expected = http.StatusOK
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	var lastStatus int
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", url, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			if resp.StatusCode == expected {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil && lastStatus == 0 {
				return fmt.Errorf("service %s not ready after %v: %v", url, timeout, lastErr)
			}
			return fmt.Errorf("service %s not ready after %v: got status %d, expected %d",
				url, timeout, lastStatus, expected)
		case <-ticker.C:
		}
	}
}
