package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level orders log messages by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// Logger writes timestamped, leveled lines. A nil *Logger discards
// everything, so callers never need to check.
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	level   Level
	noColor bool
	prefix  string
	now     func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriter sets the destination (stderr by default).
func WithWriter(w io.Writer) Option {
	return func(l *Logger) {
		l.w = w
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level Level) Option {
	return func(l *Logger) {
		l.level = level
	}
}

// WithNoColor disables level colors.
func WithNoColor(noColor bool) Option {
	return func(l *Logger) {
		l.noColor = noColor
	}
}

// WithPrefix tags every line, e.g. with a run ID.
func WithPrefix(prefix string) Option {
	return func(l *Logger) {
		l.prefix = prefix
	}
}

// New creates a logger writing Info and above to stderr.
func New(opts ...Option) *Logger {
	l := &Logger{
		w:     os.Stderr,
		level: LevelInfo,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a copy of the logger with prefix appended to the current one.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := prefix
	if l.prefix != "" {
		p = l.prefix + " " + prefix
	}
	return &Logger{w: l.w, level: l.level, noColor: l.noColor, prefix: p, now: l.now}
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")

	l.mu.Lock()
	defer l.mu.Unlock()

	tag := l.tag(level)
	timestamp := l.now().Format(time.RFC3339)
	if l.prefix != "" {
		fmt.Fprintf(l.w, "[%s] %s %s %s\n", timestamp, tag, l.prefix, line)
		return
	}
	fmt.Fprintf(l.w, "[%s] %s %s\n", timestamp, tag, line)
}

func (l *Logger) tag(level Level) string {
	name := strings.ToUpper(level.String())
	if l.noColor {
		return name
	}
	var c *color.Color
	switch level {
	case LevelDebug:
		c = color.New(color.FgHiBlack)
	case LevelInfo:
		c = color.New(color.FgCyan)
	case LevelWarn:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	c.EnableColor()
	return c.Sprint(name)
}
