package env

import (
	"os"
	"regexp"
	"strings"
	"sync"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// WarnFunc is a function type for handling warnings
type WarnFunc func(format string, args ...any)

// Resolver expands {{name}} placeholders in unit commands. Names are looked
// up in the invocation parameters first, then in the variables loaded from
// .env files; {{$NAME}} reads the OS environment.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]string
	warnFunc  WarnFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]string),
	}
}

// SetWarnFunc sets a function to be called when a placeholder is unresolved
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	r.mu.RLock()
	fn := r.warnFunc
	r.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

func (r *Resolver) SetVariables(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

func (r *Resolver) lookup(expr string, params map[string]string) (string, bool) {
	if strings.HasPrefix(expr, "$") {
		return os.LookupEnv(expr[1:])
	}
	if v, ok := params[expr]; ok {
		return v, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[expr]
	return v, ok
}

// Resolve expands every placeholder of input. Unresolved placeholders are
// left as they are.
func (r *Resolver) Resolve(input string, params map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := r.lookup(expr, params); ok {
			return v
		}
		r.warn("unresolved variable: %s", expr)
		return match
	})
}

// Unresolved lists the placeholders of input that Resolve would leave alone.
func (r *Resolver) Unresolved(input string, params map[string]string) []string {
	var missing []string
	for _, m := range variablePattern.FindAllStringSubmatch(input, -1) {
		expr := strings.TrimSpace(m[1])
		if _, ok := r.lookup(expr, params); !ok {
			missing = append(missing, expr)
		}
	}
	return missing
}

func (r *Resolver) HasVariable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variables[name]
	return ok
}

func (r *Resolver) Variables() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.variables))
	for k, v := range r.variables {
		out[k] = v
	}
	return out
}
