package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

// DataDogExporter exports metrics to DataDog. Unit records are buffered and
// sent together with the aggregate on Export.
type DataDogExporter struct {
	apiKey   string
	site     string // e.g., "datadoghq.com", "datadoghq.eu"
	endpoint string
	tags     []string
	prefix   string
	client   *http.Client
	pending  []datadogMetric
}

// DataDogOption is a functional option for DataDogExporter
type DataDogOption func(*DataDogExporter)

// WithDataDogAPIKey sets the DataDog API key
func WithDataDogAPIKey(apiKey string) DataDogOption {
	return func(d *DataDogExporter) {
		d.apiKey = apiKey
	}
}

// WithDataDogSite sets the DataDog site (e.g., "datadoghq.com", "datadoghq.eu")
func WithDataDogSite(site string) DataDogOption {
	return func(d *DataDogExporter) {
		d.site = site
	}
}

// WithDataDogEndpoint overrides the series URL derived from the site
func WithDataDogEndpoint(url string) DataDogOption {
	return func(d *DataDogExporter) {
		d.endpoint = url
	}
}

// WithDataDogTags sets additional tags for all metrics
func WithDataDogTags(tags []string) DataDogOption {
	return func(d *DataDogExporter) {
		d.tags = tags
	}
}

// WithDataDogPrefix sets a prefix for metric names
func WithDataDogPrefix(prefix string) DataDogOption {
	return func(d *DataDogExporter) {
		d.prefix = prefix
	}
}

// NewDataDogExporter creates a new DataDog metrics exporter
func NewDataDogExporter(opts ...DataDogOption) *DataDogExporter {
	d := &DataDogExporter{
		site:   "datadoghq.com",
		prefix: "hitsuite",
		client: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.apiKey == "" {
		d.apiKey = os.Getenv("DD_API_KEY")
	}
	if d.endpoint == "" {
		d.endpoint = fmt.Sprintf("https://api.%s/api/v1/series", d.site)
	}

	return d
}

type datadogMetric struct {
	Metric string   `json:"metric"`
	Type   string   `json:"type"`
	Points [][]any  `json:"points"`
	Tags   []string `json:"tags,omitempty"`
}

type datadogPayload struct {
	Series []datadogMetric `json:"series"`
}

func (d *DataDogExporter) point(name, typ string, ts, value float64, tags ...string) datadogMetric {
	return datadogMetric{
		Metric: d.prefix + "." + name,
		Type:   typ,
		Points: [][]any{{ts, value}},
		Tags:   append(append([]string(nil), tags...), d.tags...),
	}
}

// Export sends aggregated metrics and the buffered unit records
func (d *DataDogExporter) Export(ctx context.Context, metrics *AggregateMetrics) error {
	if d.apiKey == "" {
		return fmt.Errorf("DataDog API key not configured")
	}

	now := float64(time.Now().Unix())
	series := []datadogMetric{
		d.point("runs.total", "count", now, float64(metrics.Runs)),
		d.point("units.passed", "count", now, float64(metrics.Passed)),
		d.point("units.failed", "count", now, float64(metrics.Failed)),
		d.point("units.skipped", "count", now, float64(metrics.Skipped)),
		d.point("config.failed", "count", now, float64(metrics.ConfigFailures)),
		d.point("attempts.total", "count", now, float64(metrics.Attempts)),
		d.point("attempts.retries", "count", now, float64(metrics.Retries)),
		d.point("duration.avg", "gauge", now, metrics.AvgDurationMs),
		d.point("duration.min", "gauge", now, metrics.MinDurationMs),
		d.point("duration.max", "gauge", now, metrics.MaxDurationMs),
	}

	if metrics.P50DurationMs > 0 {
		series = append(series, d.point("duration.p50", "gauge", now, metrics.P50DurationMs))
	}
	if metrics.P95DurationMs > 0 {
		series = append(series, d.point("duration.p95", "gauge", now, metrics.P95DurationMs))
	}
	if metrics.P99DurationMs > 0 {
		series = append(series, d.point("duration.p99", "gauge", now, metrics.P99DurationMs))
	}

	for _, cause := range sortedKeys(metrics.BySkipCause) {
		series = append(series, d.point("units.skipped.by_cause", "count", now,
			float64(metrics.BySkipCause[cause]), "cause:"+cause))
	}

	names := make([]string, 0, len(metrics.BySuite))
	for name := range metrics.BySuite {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sa := metrics.BySuite[name]
		series = append(series,
			d.point("suite.failed", "count", now, float64(sa.Failed), "suite:"+name),
			d.point("suite.duration", "gauge", now, sa.DurationMs, "suite:"+name),
		)
	}

	series = append(series, d.pending...)
	if err := d.sendMetrics(ctx, series); err != nil {
		return err
	}
	d.pending = nil
	return nil
}

// ExportUnit buffers the series of a single unit
func (d *DataDogExporter) ExportUnit(ctx context.Context, unit *UnitMetrics) error {
	ts := float64(unit.Timestamp.Unix())
	tags := []string{
		"suite:" + unit.Suite,
		"unit:" + unit.Unit,
		"status:" + unit.Status,
	}
	if unit.Cause != "" {
		tags = append(tags, "cause:"+unit.Cause)
	}

	d.pending = append(d.pending,
		d.point("unit.duration", "gauge", ts, unit.DurationMs, tags...),
		d.point("unit.attempts", "count", ts, float64(unit.Attempts), tags...),
	)
	return nil
}

func (d *DataDogExporter) sendMetrics(ctx context.Context, series []datadogMetric) error {
	payload := datadogPayload{Series: series}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("DataDog API returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close closes the DataDog exporter
func (d *DataDogExporter) Close() error {
	return nil
}
