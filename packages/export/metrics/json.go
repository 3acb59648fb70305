package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

const jsonMetricsVersion = "1.0"

// JSONExporter writes the aggregate of every recorded run as one JSON
// document, followed by the suites it covers and the unit records of those
// runs. Each Export rewrites the whole document.
type JSONExporter struct {
	out     io.Writer
	path    string
	indent  bool
	started time.Time
	units   []*UnitMetrics
	runs    []string
}

type JSONOption func(*JSONExporter)

// WithJSONWriter writes each document to w.
func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.out = w
	}
}

// WithJSONFile replaces path with each document. Missing directories are
// created.
func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.path = path
	}
}

// WithJSONPretty toggles indentation; it is on by default.
func WithJSONPretty(pretty bool) JSONOption {
	return func(j *JSONExporter) {
		j.indent = pretty
	}
}

func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{started: time.Now(), indent: true}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JSONMetricsOutput is the document JSONExporter writes.
type JSONMetricsOutput struct {
	Metadata JSONMetadata      `json:"metadata"`
	Summary  *AggregateMetrics `json:"summary"`
	Suites   []*SuiteAggregate `json:"suites"`
	Failing  []string          `json:"failing,omitempty"`
	Units    []*UnitMetrics    `json:"units"`
}

type JSONMetadata struct {
	Version   string   `json:"version"`
	Started   string   `json:"started"`
	Written   string   `json:"written"`
	ElapsedMs float64  `json:"elapsed_ms"`
	Runs      []string `json:"runs"`
}

func (j *JSONExporter) Export(ctx context.Context, metrics *AggregateMetrics) error {
	now := time.Now()
	doc := JSONMetricsOutput{
		Metadata: JSONMetadata{
			Version:   jsonMetricsVersion,
			Started:   j.started.Format(time.RFC3339),
			Written:   now.Format(time.RFC3339),
			ElapsedMs: ms(now.Sub(j.started)),
			Runs:      append([]string{}, j.runs...),
		},
		Summary: metrics,
		Suites:  suitesByName(metrics.BySuite),
		Failing: failingUnits(j.units),
		Units:   append([]*UnitMetrics{}, j.units...),
	}

	data, err := j.encode(doc)
	if err != nil {
		return err
	}
	if j.path != "" {
		if err := replaceFile(j.path, data); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	if j.out != nil {
		if _, err := j.out.Write(data); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// ExportUnit buffers u for the next document.
func (j *JSONExporter) ExportUnit(ctx context.Context, u *UnitMetrics) error {
	j.units = append(j.units, u)
	if n := len(j.runs); n == 0 || j.runs[n-1] != u.RunID {
		j.runs = append(j.runs, u.RunID)
	}
	return nil
}

func (j *JSONExporter) Close() error {
	return nil
}

func (j *JSONExporter) encode(doc JSONMetricsOutput) ([]byte, error) {
	var data []byte
	var err error
	if j.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return append(data, '\n'), nil
}

func suitesByName(bySuite map[string]*SuiteAggregate) []*SuiteAggregate {
	suites := make([]*SuiteAggregate, 0, len(bySuite))
	for _, sa := range bySuite {
		suites = append(suites, sa)
	}
	sort.Slice(suites, func(a, b int) bool { return suites[a].Name < suites[b].Name })
	return suites
}

// failingUnits lists suite/unit for every failed test unit, once.
func failingUnits(units []*UnitMetrics) []string {
	seen := make(map[string]bool)
	var failing []string
	for _, u := range units {
		if u.Config != string(suite.NotConfig) || u.Status != string(suite.StatusFailure) {
			continue
		}
		key := u.Suite + "/" + u.Unit
		if !seen[key] {
			seen[key] = true
			failing = append(failing, key)
		}
	}
	return failing
}

// replaceFile writes data next to path and renames it into place, so a
// reader never sees a half-written document.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
