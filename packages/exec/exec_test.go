package exec

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invocation(params map[string]string) suite.Invocation {
	u := &suite.Unit{Name: "m", Class: "C", Test: "t"}
	return suite.Invocation{Unit: u, Test: "t", Index: 2, Attempt: 1, Parameters: params}
}

func TestShell_Success(t *testing.T) {
	var out bytes.Buffer
	s := &Shell{Command: "echo hello", Output: &out}
	require.NoError(t, s.Invoke(context.Background(), invocation(nil)))
	assert.Equal(t, "hello\n", out.String())
}

func TestShell_Failure(t *testing.T) {
	s := &Shell{Command: "echo broken >&2; exit 3"}
	err := s.Invoke(context.Background(), invocation(nil))
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "broken", exitErr.Output)
}

func TestShell_SkipExitCode(t *testing.T) {
	s := &Shell{Command: "echo not on this platform; exit 77"}
	err := s.Invoke(context.Background(), invocation(nil))
	require.Error(t, err)
	assert.True(t, suite.IsSkip(err))
	assert.Contains(t, err.Error(), "not on this platform")
}

func TestShell_IgnoreErrorPrefix(t *testing.T) {
	s := &Shell{Command: "- exit 1"}
	assert.NoError(t, s.Invoke(context.Background(), invocation(nil)))

	s = &Shell{Command: "exit 1", IgnoreError: true}
	assert.NoError(t, s.Invoke(context.Background(), invocation(nil)))
}

func TestShell_Environment(t *testing.T) {
	var out bytes.Buffer
	s := &Shell{
		Command: `echo "$HITSUITE_UNIT $HITSUITE_INVOCATION $HITSUITE_PARAM_REGION $TOKEN"`,
		Vars:    map[string]string{"TOKEN": "abc"},
		Output:  &out,
	}
	require.NoError(t, s.Invoke(context.Background(), invocation(map[string]string{"region": "eu"})))
	assert.Equal(t, "m 2 eu abc\n", out.String())
}

func TestShell_ResolvesPlaceholders(t *testing.T) {
	var out bytes.Buffer
	r := env.NewResolver()
	r.SetVariable("greeting", "hi")
	s := &Shell{Command: "echo {{greeting}} {{who}}", Resolver: r, Output: &out}
	require.NoError(t, s.Invoke(context.Background(), invocation(map[string]string{"who": "there"})))
	assert.Equal(t, "hi there\n", out.String())
}

func TestShell_RelativeScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "check.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho ok > marker\n"), 0755))

	s := &Shell{Command: "./check.sh", Dir: dir}
	require.NoError(t, s.Invoke(context.Background(), invocation(nil)))

	data, err := os.ReadFile(filepath.Join(dir, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

func TestShell_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := (&Shell{Command: "sleep 5"}).Invoke(ctx, invocation(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShell_EmptyCommand(t *testing.T) {
	assert.NoError(t, (&Shell{Command: "  "}).Invoke(context.Background(), invocation(nil)))
}

func TestTailBuffer(t *testing.T) {
	var b tailBuffer
	big := bytes.Repeat([]byte("x"), maxOutput+100)
	_, err := b.Write(big)
	require.NoError(t, err)
	_, err = b.Write([]byte("end"))
	require.NoError(t, err)
	assert.Len(t, b.String(), maxOutput)
	assert.True(t, strings.HasSuffix(b.String(), "end"))
}

func TestWaitFor_Ready(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &WaitFor{URL: srv.URL, Timeout: 2 * time.Second, Interval: 10 * time.Millisecond}
	require.NoError(t, w.Invoke(context.Background(), invocation(nil)))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitFor_ExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := &WaitFor{URL: srv.URL, Status: http.StatusNoContent, Interval: 10 * time.Millisecond}
	assert.NoError(t, w.Invoke(context.Background(), invocation(nil)))
}

func TestWaitFor_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := &WaitFor{URL: srv.URL, Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}
	err := w.Invoke(context.Background(), invocation(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got status 500, expected 200")
}

func TestWaitFor_ResolvesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := env.NewResolver()
	r.SetVariable("base", srv.URL)
	w := &WaitFor{URL: "{{base}}/{{path}}", Resolver: r, Timeout: time.Second, Interval: 10 * time.Millisecond}
	assert.NoError(t, w.Invoke(context.Background(), invocation(map[string]string{"path": "health"})))
}
