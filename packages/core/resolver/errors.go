package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle               = errors.New("dependency cycle")
	ErrSelfDependency      = errors.New("unit depends on itself")
	ErrMissingDependency   = errors.New("missing dependency")
	ErrAmbiguousDependency = errors.New("ambiguous dependency")
)

// Error is a configuration error found while resolving dependencies. These
// are fatal to run setup and are reported before any unit is invoked.
type Error struct {
	Kind error
	Unit string   // ID of the unit declaring the dependency
	Ref  string   // the unresolved reference, if any
	Path []string // cycle path, if any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case len(e.Path) > 0:
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Path, " -> "))
	case e.Ref != "":
		return fmt.Sprintf("%s: %s depends on %q", e.Kind, e.Unit, e.Ref)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Unit)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

func cycleError(path []string) error {
	return &Error{Kind: ErrCycle, Path: path}
}
