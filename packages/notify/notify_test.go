package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	summaries []*RunSummary
	err       error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(_ context.Context, s *RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return r.err
}

func passing() *RunSummary { return &RunSummary{TotalUnits: 2, PassedUnits: 2} }
func failing() *RunSummary { return &RunSummary{TotalUnits: 2, PassedUnits: 1, FailedUnits: 1} }

func TestParseNotifyOn(t *testing.T) {
	n, err := ParseNotifyOn("")
	require.NoError(t, err)
	assert.Equal(t, NotifyFailure, n)

	n, err = ParseNotifyOn("recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, n)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func TestManager_Policy(t *testing.T) {
	tests := map[NotifyOn][]bool{
		// passing, failing, passing
		NotifyAlways:   {true, true, true},
		NotifyFailure:  {false, true, false},
		NotifySuccess:  {true, false, true},
		NotifyRecovery: {false, true, true},
	}
	for on, want := range tests {
		t.Run(string(on), func(t *testing.T) {
			rec := &recorder{}
			m := NewManager(on, rec)
			runs := []*RunSummary{passing(), failing(), passing()}
			for i, s := range runs {
				before := len(rec.summaries)
				require.NoError(t, m.Notify(context.Background(), s))
				assert.Equal(t, want[i], len(rec.summaries) > before, "run %d", i)
			}
		})
	}
}

func TestManager_Recovery(t *testing.T) {
	rec := &recorder{}
	m := NewManager(NotifyRecovery, rec)
	m.SetLastState(false)

	s := passing()
	require.NoError(t, m.Notify(context.Background(), s))
	require.Len(t, rec.summaries, 1)
	assert.True(t, s.IsRecovery)

	title, failed := headline(s)
	assert.Equal(t, "Units recovered!", title)
	assert.False(t, failed)
}

func TestManager_JoinsErrors(t *testing.T) {
	a := &recorder{err: errors.New("down")}
	b := &recorder{}
	m := NewManager(NotifyAlways, a)
	m.AddNotifier(b)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), failing())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder: down")
	assert.Len(t, b.summaries, 1, "a failing notifier does not stop the others")
}

func TestSummarize(t *testing.T) {
	s := &suite.Suite{Name: "checkout", Tests: []*suite.Test{{
		Name: "t",
		Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{
			{Name: "a", Invoker: suite.InvokerFunc(func(context.Context, suite.Invocation) error { return nil })},
			{Name: "b", Invoker: suite.InvokerFunc(func(context.Context, suite.Invocation) error { return errors.New("boom") })},
			{Name: "c", DependsOnUnits: []string{"b"}},
		}}},
	}}}
	res, err := runner.NewRunner(nil).RunSuite(context.Background(), s)
	require.NoError(t, err)

	summary := Summarize(res)
	assert.Equal(t, []string{"checkout"}, summary.Suites)
	assert.Equal(t, []string{res.RunID}, summary.RunIDs)
	assert.Equal(t, 3, summary.TotalUnits)
	assert.Equal(t, 1, summary.PassedUnits)
	assert.Equal(t, 1, summary.FailedUnits)
	assert.Equal(t, 1, summary.SkippedUnits)
	assert.False(t, summary.OK())
	require.Len(t, summary.FailedResults, 1)
	assert.Equal(t, "t/C.b", summary.FailedResults[0].Name)
	assert.Equal(t, []string{"boom"}, summary.FailedResults[0].Errors)
}

func TestSlackNotifier(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL, WithSlackChannel("#ci"))
	assert.Equal(t, "slack", n.Name())

	summary := failing()
	summary.Suites = []string{"checkout"}
	summary.RunIDs = []string{"0123456789abcdef"}
	summary.Duration = 1500 * time.Millisecond
	summary.FailedResults = []FailedUnit{{Name: "t/C.b", Suite: "checkout", Errors: []string{"boom"}}}
	require.NoError(t, n.Notify(context.Background(), summary))

	assert.Equal(t, "#ci", body["channel"])
	assert.Equal(t, "hitsuite", body["username"])
	attachments := body["attachments"].([]any)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "danger", att["color"])
	assert.Equal(t, ":x: 1 unit(s) failed", att["title"])
	assert.Contains(t, att["text"], "`t/C.b`")
	assert.Contains(t, att["text"], "boom")
	assert.Equal(t, "hitsuite 01234567", att["footer"])
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Notify(context.Background(), passing())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestTeamsNotifier(t *testing.T) {
	var msg teamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &msg)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewTeamsNotifier(server.URL)
	assert.Equal(t, "teams", n.Name())

	summary := failing()
	summary.ConfigFailures = 1
	summary.FailedResults = []FailedUnit{{Name: "t/C.b"}}
	summary.MoreFailures = 3
	require.NoError(t, n.Notify(context.Background(), summary))

	require.Len(t, msg.Attachments, 1)
	blocks := msg.Attachments[0].Content.Body
	require.NotEmpty(t, blocks)
	assert.Equal(t, "✗ 2 unit(s) failed", blocks[0].Text)
	assert.Equal(t, "attention", blocks[0].Color)

	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	assert.Contains(t, texts, "**Configuration failures:** 1")
	assert.Contains(t, texts, "- `t/C.b`")
	assert.Contains(t, texts, "…and 3 more")
}
