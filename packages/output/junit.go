package output

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// JUnit XML structures

// JUnitTestSuites is the root element
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite is one test of a suite
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitProperty is a name/value pair attached to a test suite
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// JUnitTestCase represents a single unit
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a unit failure
type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitError represents a configuration failure
type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitSkipped represents a skipped unit
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter formats run results as JUnit XML
type JUnitFormatter struct {
	writer     io.Writer
	testSuites []JUnitTestSuite
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{
		writer:     os.Stdout,
		testSuites: make([]JUnitTestSuite, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

// FormatResult adds one <testsuite> per test of the run. Passing hooks are
// left out; failed hooks are reported as errors.
func (f *JUnitFormatter) FormatResult(result *runner.RunResult) {
	timestamp := result.Started.Format(time.RFC3339)
	byTest := make(map[string]*JUnitTestSuite)
	var order []string

	for _, r := range result.Units {
		u := r.Unit
		if u.IsConfiguration() && r.Outcome.Status != suite.StatusFailure {
			continue
		}
		ts, ok := byTest[u.Test]
		if !ok {
			ts = &JUnitTestSuite{
				Name:      result.Suite.Name + "/" + u.Test,
				Timestamp: timestamp,
				Properties: []JUnitProperty{
					{Name: "runId", Value: result.RunID},
				},
			}
			byTest[u.Test] = ts
			order = append(order, u.Test)
		}

		tc := JUnitTestCase{
			Name:      u.Signature,
			ClassName: u.Class,
			Time:      r.Outcome.Duration().Seconds(),
		}
		if tc.Name == "" {
			tc.Name = u.Name
		}
		ts.Tests++
		ts.Time += tc.Time

		switch {
		case u.IsConfiguration():
			ts.Errors++
			tc.Name += " [" + string(u.Config) + "]"
			tc.Error = &JUnitError{
				Message: errorMessage(r.Outcome.Err),
				Type:    "ConfigurationFailure",
				Content: attemptLog(r),
			}
		case r.Outcome.Status == suite.StatusSkip:
			ts.Skipped++
			tc.Skipped = &JUnitSkipped{Message: skipReason(r.Outcome)}
		case r.Outcome.Status == suite.StatusFailure:
			ts.Failures++
			failureType := "Failure"
			var timeout interface{ Timeout() bool }
			if errors.As(r.Outcome.Err, &timeout) && timeout.Timeout() {
				failureType = "Timeout"
			}
			tc.Failure = &JUnitFailure{
				Message: errorMessage(r.Outcome.Err),
				Type:    failureType,
				Content: attemptLog(r),
			}
		}
		ts.TestCases = append(ts.TestCases, tc)
	}

	for _, name := range order {
		f.testSuites = append(f.testSuites, *byTest[name])
	}
}

// attemptLog lists every attempt that did not succeed.
func attemptLog(r *runner.UnitResult) string {
	var b strings.Builder
	for _, o := range r.Attempts {
		if o.Status == suite.StatusSuccess {
			continue
		}
		fmt.Fprintf(&b, "invocation %d attempt %d: %s", o.Invocation, o.Attempt, o.Status)
		if o.Err != nil {
			fmt.Fprintf(&b, ": %v", o.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (f *JUnitFormatter) FormatError(err error) {
	// Errors are included in individual test cases
}

func (f *JUnitFormatter) FormatHeader(version string) {
	// No header needed for JUnit XML
}

// Flush writes the accumulated JUnit XML output
func (f *JUnitFormatter) Flush(totalDuration time.Duration) error {
	var totalTests, totalFailures, totalErrors, totalSkipped int
	for _, suite := range f.testSuites {
		totalTests += suite.Tests
		totalFailures += suite.Failures
		totalErrors += suite.Errors
		totalSkipped += suite.Skipped
	}

	suites := JUnitTestSuites{
		Name:       "hitsuite",
		Tests:      totalTests,
		Failures:   totalFailures,
		Errors:     totalErrors,
		Skipped:    totalSkipped,
		Time:       totalDuration.Seconds(),
		Timestamp:  time.Now().Format(time.RFC3339),
		TestSuites: f.testSuites,
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	return encoder.Encode(suites)
}
