// Package metrics exports aggregate run statistics to monitoring systems:
// Prometheus, DataDog or a JSON file.
package metrics

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/stats"
)

// UnitMetrics is the record of one unit of a finished run.
type UnitMetrics struct {
	Suite       string    `json:"suite"`
	RunID       string    `json:"run_id"`
	Unit        string    `json:"unit"`
	Config      string    `json:"config,omitempty"`
	Status      string    `json:"status"`
	Cause       string    `json:"cause,omitempty"`
	Invocations int       `json:"invocations"`
	Attempts    int       `json:"attempts"`
	DurationMs  float64   `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// AggregateMetrics represents aggregated metrics over every recorded run
type AggregateMetrics struct {
	Runs           int64 `json:"runs"`
	Units          int64 `json:"units"`
	Passed         int64 `json:"passed"`
	Failed         int64 `json:"failed"`
	Skipped        int64 `json:"skipped"`
	ConfigFailures int64 `json:"config_failures"`
	Attempts       int64 `json:"attempts"`
	Retries        int64 `json:"retries"`
	TimedOut       int64 `json:"timed_out"`

	// Invocation durations, over every attempt that ran
	MinDurationMs float64 `json:"min_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P50DurationMs float64 `json:"p50_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms"`

	BySkipCause map[string]int64           `json:"by_skip_cause"`
	BySuite     map[string]*SuiteAggregate `json:"by_suite"`
}

// SuiteAggregate represents aggregated metrics for a single suite
type SuiteAggregate struct {
	Name       string  `json:"name"`
	Runs       int64   `json:"runs"`
	Passed     int64   `json:"passed"`
	Failed     int64   `json:"failed"`
	Skipped    int64   `json:"skipped"`
	DurationMs float64 `json:"duration_ms"` // of the latest run
}

// Exporter is the interface for metrics exporters
type Exporter interface {
	// Export exports metrics to the target destination
	Export(ctx context.Context, metrics *AggregateMetrics) error

	// ExportUnit exports the record of a single unit
	ExportUnit(ctx context.Context, unit *UnitMetrics) error

	// Close closes the exporter and flushes any buffered data
	Close() error
}

// Collector collects metrics from finished runs
type Collector struct {
	exporters []Exporter
	aggregate *AggregateMetrics
	durations *stats.Metrics
}

// NewCollector creates a new metrics collector
func NewCollector(exporters ...Exporter) *Collector {
	return &Collector{
		exporters: exporters,
		aggregate: newAggregate(),
		durations: stats.NewMetrics(),
	}
}

func newAggregate() *AggregateMetrics {
	return &AggregateMetrics{
		BySkipCause: make(map[string]int64),
		BySuite:     make(map[string]*SuiteAggregate),
	}
}

// Units converts a run result into per-unit records.
func Units(result *runner.RunResult) []*UnitMetrics {
	units := make([]*UnitMetrics, 0, len(result.Units))
	for _, ur := range result.Units {
		var total time.Duration
		for _, o := range ur.Attempts {
			total += o.Duration()
		}
		units = append(units, &UnitMetrics{
			Suite:       result.Suite.Name,
			RunID:       result.RunID,
			Unit:        ur.Unit.ID(),
			Config:      string(ur.Unit.Config),
			Status:      string(ur.Outcome.Status),
			Cause:       string(ur.Outcome.Cause),
			Invocations: len(ledger.Finals(ur.Attempts)),
			Attempts:    len(ur.Attempts),
			DurationMs:  ms(total),
			Timestamp:   result.Started,
		})
	}
	return units
}

// RecordRun adds a finished run to the aggregate and hands every unit to
// the exporters. Exporter errors do not stop the recording; the first one
// is returned.
func (c *Collector) RecordRun(ctx context.Context, result *runner.RunResult) error {
	agg := c.aggregate
	agg.Runs++
	agg.Passed += int64(result.Passed)
	agg.Failed += int64(result.Failed)
	agg.Skipped += int64(result.Skipped)
	agg.ConfigFailures += int64(result.ConfigFailures)
	if result.TimedOut {
		agg.TimedOut++
	}

	name := result.Suite.Name
	sa, ok := agg.BySuite[name]
	if !ok {
		sa = &SuiteAggregate{Name: name}
		agg.BySuite[name] = sa
	}
	sa.Runs++
	sa.Passed += int64(result.Passed)
	sa.Failed += int64(result.Failed)
	sa.Skipped += int64(result.Skipped)
	sa.DurationMs = ms(result.Duration)

	for _, ur := range result.Units {
		if !ur.Unit.IsConfiguration() {
			agg.Units++
			if cause := ur.Outcome.Cause; cause != "" {
				agg.BySkipCause[string(cause)]++
			}
		}
		for _, o := range ur.Attempts {
			c.durations.Record(o)
		}
	}

	summary := c.durations.GetSummary()
	agg.Attempts = summary.Attempts
	agg.Retries = summary.Retries
	agg.MinDurationMs = ms(summary.Min)
	agg.MaxDurationMs = ms(summary.Max)
	agg.AvgDurationMs = ms(summary.Mean)
	agg.P50DurationMs = ms(summary.P50)
	agg.P95DurationMs = ms(summary.P95)
	agg.P99DurationMs = ms(summary.P99)

	var firstErr error
	for _, u := range Units(result) {
		for _, exp := range c.exporters {
			if err := exp.ExportUnit(ctx, u); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GetAggregate returns the aggregated metrics
func (c *Collector) GetAggregate() *AggregateMetrics {
	return c.aggregate
}

// Flush exports all aggregated metrics
func (c *Collector) Flush(ctx context.Context) error {
	for _, exp := range c.exporters {
		if err := exp.Export(ctx, c.aggregate); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all exporters
func (c *Collector) Close() error {
	for _, exp := range c.exporters {
		if err := exp.Close(); err != nil {
			return err
		}
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
