package stats

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Durations are recorded in microseconds, from 1µs to one hour.
const (
	minValue   = 1
	maxValue   = int64(time.Hour / time.Microsecond)
	sigFigures = 3
)

// Metrics collects invocation durations and counts. Record is safe for
// concurrent use, so it can be fed from the runner's OnOutcome hook.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	attempts atomic.Int64
	success  atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
	timeouts atomic.Int64
	retries  atomic.Int64

	histogram *hdrhistogram.Histogram
	units     map[string]*UnitMetrics

	startTime time.Time
	endTime   time.Time
}

// UnitMetrics holds metrics for one unit
type UnitMetrics struct {
	ID        string
	Attempts  atomic.Int64
	Failures  atomic.Int64
	Histogram *hdrhistogram.Histogram
	mu        sync.Mutex
}

func NewMetrics() *Metrics {
	return &Metrics{
		histogram: hdrhistogram.New(minValue, maxValue, sigFigures),
		units:     make(map[string]*UnitMetrics),
	}
}

// FromSnapshot builds metrics from a completed run.
func FromSnapshot(snap *ledger.Snapshot) *Metrics {
	m := NewMetrics()
	for _, id := range snap.Units() {
		for _, o := range snap.Outcomes(id) {
			if m.startTime.IsZero() || (!o.Start.IsZero() && o.Start.Before(m.startTime)) {
				m.startTime = o.Start
			}
			if o.End.After(m.endTime) {
				m.endTime = o.End
			}
			m.Record(o)
		}
	}
	return m
}

// Start marks the beginning of the run
func (m *Metrics) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// Stop marks the end of the run
func (m *Metrics) Stop() {
	m.mu.Lock()
	m.endTime = time.Now()
	m.mu.Unlock()
}

// Record adds one ledger entry. Skipped invocations are counted but never
// enter the duration histograms, since they did not run.
func (m *Metrics) Record(o suite.Outcome) {
	m.attempts.Add(1)
	if o.Attempt > 1 {
		m.retries.Add(1)
	}

	switch o.Status {
	case suite.StatusSkip:
		m.skipped.Add(1)
		return
	case suite.StatusFailure:
		m.failures.Add(1)
		if isTimeout(o.Err) {
			m.timeouts.Add(1)
		}
	default:
		m.success.Add(1)
	}

	latencyUs := clamp(o.Duration().Microseconds())

	m.mu.Lock()
	_ = m.histogram.RecordValue(latencyUs)
	um, ok := m.units[o.Unit]
	if !ok {
		um = &UnitMetrics{ID: o.Unit, Histogram: hdrhistogram.New(minValue, maxValue, sigFigures)}
		m.units[o.Unit] = um
	}
	m.mu.Unlock()

	um.Attempts.Add(1)
	if o.Status == suite.StatusFailure {
		um.Failures.Add(1)
	}
	um.mu.Lock()
	_ = um.Histogram.RecordValue(latencyUs)
	um.mu.Unlock()
}

func clamp(us int64) int64 {
	if us < minValue {
		return minValue
	}
	if us > maxValue {
		return maxValue
	}
	return us
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Summary is the final metrics summary
type Summary struct {
	Duration time.Duration
	Attempts int64
	Success  int64
	Failures int64
	Skipped  int64
	Timeouts int64
	Retries  int64

	// Invocation duration percentiles, over invocations that ran
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration

	Units map[string]*UnitSummary
}

// UnitSummary holds the summary for a single unit
type UnitSummary struct {
	ID       string
	Attempts int64
	Failures int64
	Total    time.Duration
	P50      time.Duration
	P95      time.Duration
	Max      time.Duration
	Mean     time.Duration
}

func us(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// GetSummary returns the metrics summary
func (m *Metrics) GetSummary() *Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	duration := m.endTime.Sub(m.startTime)
	if m.endTime.IsZero() {
		duration = time.Since(m.startTime)
	}
	if m.startTime.IsZero() {
		duration = 0
	}

	summary := &Summary{
		Duration: duration,
		Attempts: m.attempts.Load(),
		Success:  m.success.Load(),
		Failures: m.failures.Load(),
		Skipped:  m.skipped.Load(),
		Timeouts: m.timeouts.Load(),
		Retries:  m.retries.Load(),
		Units:    make(map[string]*UnitSummary, len(m.units)),
	}
	if m.histogram.TotalCount() > 0 {
		summary.P50 = us(m.histogram.ValueAtQuantile(50))
		summary.P95 = us(m.histogram.ValueAtQuantile(95))
		summary.P99 = us(m.histogram.ValueAtQuantile(99))
		summary.Min = us(m.histogram.Min())
		summary.Max = us(m.histogram.Max())
		summary.Mean = time.Duration(m.histogram.Mean()) * time.Microsecond
		summary.StdDev = time.Duration(m.histogram.StdDev()) * time.Microsecond
	}

	for id, um := range m.units {
		um.mu.Lock()
		count := um.Histogram.TotalCount()
		mean := um.Histogram.Mean()
		summary.Units[id] = &UnitSummary{
			ID:       id,
			Attempts: um.Attempts.Load(),
			Failures: um.Failures.Load(),
			Total:    time.Duration(mean*float64(count)) * time.Microsecond,
			P50:      us(um.Histogram.ValueAtQuantile(50)),
			P95:      us(um.Histogram.ValueAtQuantile(95)),
			Max:      us(um.Histogram.Max()),
			Mean:     time.Duration(mean) * time.Microsecond,
		}
		um.mu.Unlock()
	}

	return summary
}

// Slowest returns up to n units ordered by total time spent, slowest first.
func (s *Summary) Slowest(n int) []*UnitSummary {
	units := make([]*UnitSummary, 0, len(s.Units))
	for _, u := range s.Units {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].Total != units[j].Total {
			return units[i].Total > units[j].Total
		}
		return units[i].ID < units[j].ID
	})
	if n >= 0 && len(units) > n {
		units = units[:n]
	}
	return units
}
