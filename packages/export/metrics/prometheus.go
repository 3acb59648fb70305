package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// PrometheusExporter exports metrics in Prometheus text format
type PrometheusExporter struct {
	mu        sync.RWMutex
	aggregate *AggregateMetrics
	last      map[string]*UnitMetrics // latest record per suite/unit
	writer    io.Writer
	addr      string
	listener  net.Listener
	server    *http.Server
}

// PrometheusOption is a functional option for PrometheusExporter
type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

// WithPrometheusHTTP enables the /metrics endpoint on the given port.
// Port 0 picks a free one; see Addr.
func WithPrometheusHTTP(port int) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.addr = fmt.Sprintf(":%d", port)
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(opts ...PrometheusOption) (*PrometheusExporter, error) {
	p := &PrometheusExporter{
		aggregate: newAggregate(),
		last:      make(map[string]*UnitMetrics),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.addr != "" {
		if err := p.startHTTPServer(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *PrometheusExporter) startHTTPServer() error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	p.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", p.handleMetrics)
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Prometheus HTTP server error: %v\n", err)
		}
	}()
	return nil
}

// Addr returns the address of the /metrics endpoint, or "" when it is not
// served.
func (p *PrometheusExporter) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *PrometheusExporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	p.writeMetrics(w)
}

// Export exports aggregated metrics
func (p *PrometheusExporter) Export(ctx context.Context, metrics *AggregateMetrics) error {
	p.mu.Lock()
	p.aggregate = metrics
	p.mu.Unlock()

	if p.writer != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
		p.writeMetrics(p.writer)
	}

	return nil
}

// ExportUnit keeps the latest record of a unit for the per-unit series
func (p *PrometheusExporter) ExportUnit(ctx context.Context, unit *UnitMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last[unit.Suite+"\x00"+unit.Unit] = unit
	return nil
}

func (p *PrometheusExporter) writeMetrics(w io.Writer) {
	agg := p.aggregate

	fmt.Fprintf(w, "# HELP hitsuite_runs_total Total number of suite runs\n")
	fmt.Fprintf(w, "# TYPE hitsuite_runs_total counter\n")
	fmt.Fprintf(w, "hitsuite_runs_total %d\n", agg.Runs)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_units_total Test units by final status\n")
	fmt.Fprintf(w, "# TYPE hitsuite_units_total counter\n")
	fmt.Fprintf(w, "hitsuite_units_total{status=\"passed\"} %d\n", agg.Passed)
	fmt.Fprintf(w, "hitsuite_units_total{status=\"failed\"} %d\n", agg.Failed)
	fmt.Fprintf(w, "hitsuite_units_total{status=\"skipped\"} %d\n", agg.Skipped)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_config_failures_total Failed configuration units\n")
	fmt.Fprintf(w, "# TYPE hitsuite_config_failures_total counter\n")
	fmt.Fprintf(w, "hitsuite_config_failures_total %d\n", agg.ConfigFailures)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_attempts_total Invocation attempts, retries included\n")
	fmt.Fprintf(w, "# TYPE hitsuite_attempts_total counter\n")
	fmt.Fprintf(w, "hitsuite_attempts_total %d\n", agg.Attempts)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_retries_total Attempts after the first\n")
	fmt.Fprintf(w, "# TYPE hitsuite_retries_total counter\n")
	fmt.Fprintf(w, "hitsuite_retries_total %d\n", agg.Retries)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_timed_out_runs_total Runs stopped by the suite timeout\n")
	fmt.Fprintf(w, "# TYPE hitsuite_timed_out_runs_total counter\n")
	fmt.Fprintf(w, "hitsuite_timed_out_runs_total %d\n", agg.TimedOut)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitsuite_invocation_duration_ms Invocation duration in milliseconds\n")
	fmt.Fprintf(w, "# TYPE hitsuite_invocation_duration_ms gauge\n")
	fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"min\"} %.2f\n", agg.MinDurationMs)
	fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"max\"} %.2f\n", agg.MaxDurationMs)
	fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"avg\"} %.2f\n", agg.AvgDurationMs)
	if agg.P50DurationMs > 0 {
		fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"0.50\"} %.2f\n", agg.P50DurationMs)
	}
	if agg.P95DurationMs > 0 {
		fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"0.95\"} %.2f\n", agg.P95DurationMs)
	}
	if agg.P99DurationMs > 0 {
		fmt.Fprintf(w, "hitsuite_invocation_duration_ms{quantile=\"0.99\"} %.2f\n", agg.P99DurationMs)
	}
	fmt.Fprintln(w)

	if len(agg.BySkipCause) > 0 {
		fmt.Fprintf(w, "# HELP hitsuite_skipped_units_total Skipped test units by cause\n")
		fmt.Fprintf(w, "# TYPE hitsuite_skipped_units_total counter\n")
		for _, cause := range sortedKeys(agg.BySkipCause) {
			fmt.Fprintf(w, "hitsuite_skipped_units_total{cause=\"%s\"} %d\n", sanitizeLabel(cause), agg.BySkipCause[cause])
		}
		fmt.Fprintln(w)
	}

	if len(agg.BySuite) > 0 {
		names := make([]string, 0, len(agg.BySuite))
		for name := range agg.BySuite {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "# HELP hitsuite_suite_units_total Test units per suite by final status\n")
		fmt.Fprintf(w, "# TYPE hitsuite_suite_units_total counter\n")
		for _, name := range names {
			sa := agg.BySuite[name]
			safeName := sanitizeLabel(name)
			fmt.Fprintf(w, "hitsuite_suite_units_total{suite=\"%s\",status=\"passed\"} %d\n", safeName, sa.Passed)
			fmt.Fprintf(w, "hitsuite_suite_units_total{suite=\"%s\",status=\"failed\"} %d\n", safeName, sa.Failed)
			fmt.Fprintf(w, "hitsuite_suite_units_total{suite=\"%s\",status=\"skipped\"} %d\n", safeName, sa.Skipped)
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP hitsuite_suite_duration_ms Duration of the latest run per suite\n")
		fmt.Fprintf(w, "# TYPE hitsuite_suite_duration_ms gauge\n")
		for _, name := range names {
			fmt.Fprintf(w, "hitsuite_suite_duration_ms{suite=\"%s\"} %.2f\n", sanitizeLabel(name), agg.BySuite[name].DurationMs)
		}
		fmt.Fprintln(w)
	}

	if len(p.last) > 0 {
		keys := make([]string, 0, len(p.last))
		for k := range p.last {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "# HELP hitsuite_unit_attempts Attempts of each unit in its latest run\n")
		fmt.Fprintf(w, "# TYPE hitsuite_unit_attempts gauge\n")
		for _, k := range keys {
			u := p.last[k]
			fmt.Fprintf(w, "hitsuite_unit_attempts{suite=\"%s\",unit=\"%s\",status=\"%s\"} %d\n",
				sanitizeLabel(u.Suite), sanitizeLabel(u.Unit), u.Status, u.Attempts)
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Close shuts down the exporter
func (p *PrometheusExporter) Close() error {
	if p.server != nil {
		return p.server.Close()
	}
	return nil
}
