package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// SkipExitCode is the exit status a command uses to ask for a skip.
const SkipExitCode = 77

// maxOutput bounds the command output kept in an ExitError.
const maxOutput = 4096

// Shell runs a unit as a `sh -c` command.
type Shell struct {
	Command string
	// Dir is the working directory, normally the suite document's directory.
	Dir string
	// Vars are exported to the command after the OS environment.
	Vars map[string]string
	// Resolver expands {{name}} placeholders; nil leaves the command as is.
	Resolver *env.Resolver
	// Output, when set, receives the command's combined output as it runs.
	Output io.Writer
	// IgnoreError turns a failing command into a success. A leading "-" on
	// the command sets it too.
	IgnoreError bool
}

// ExitError is returned when the command exits non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with status %d\nOutput: %s", e.Command, e.Code, e.Output)
}

// Invoke implements suite.Invoker.
func (s *Shell) Invoke(ctx context.Context, inv suite.Invocation) error {
	cmdStr := s.Command
	if s.Resolver != nil {
		cmdStr = s.Resolver.Resolve(cmdStr, inv.Parameters)
	}
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil
	}

	ignoreError := s.IgnoreError
	if strings.HasPrefix(cmdStr, "-") {
		ignoreError = true
		cmdStr = strings.TrimSpace(strings.TrimPrefix(cmdStr, "-"))
	}
	cmdStr = relativeToDir(cmdStr, s.Dir)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.Dir = s.Dir
	cmd.Env = env.Environ(s.Vars, inv)
	cmd.WaitDelay = time.Second

	var buf tailBuffer
	var w io.Writer = &buf
	if s.Output != nil {
		w = io.MultiWriter(&buf, s.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("command %q failed: %w", s.Command, err)
	}
	if exitErr.ExitCode() == SkipExitCode {
		return suite.Skip("%s", lastLine(buf.String()))
	}
	if ignoreError {
		return nil
	}
	return &ExitError{Command: s.Command, Code: exitErr.ExitCode(), Output: strings.TrimSpace(buf.String())}
}

// relativeToDir resolves a leading ./ or ../ executable, or a script that
// exists in dir, against dir.
func relativeToDir(cmdStr, dir string) string {
	if dir == "" {
		return cmdStr
	}
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		return cmdStr
	}
	executable := parts[0]
	switch {
	case strings.HasPrefix(executable, "./") || strings.HasPrefix(executable, "../"):
		return filepath.Join(dir, executable) + cmdStr[len(executable):]
	case !filepath.IsAbs(executable) && !isInPath(executable):
		potential := filepath.Join(dir, executable)
		if info, err := os.Stat(potential); err == nil && !info.IsDir() {
			return potential + cmdStr[len(executable):]
		}
	}
	return cmdStr
}

// isInPath checks if a command is available in the system PATH
func isInPath(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last maxOutput bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.buf.Write(p)
	if extra := t.buf.Len() - maxOutput; extra > 0 {
		t.buf.Next(extra)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
