package resolver

import (
	"sort"
	"sync"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Resolver finishes resolving the dependency references of a set of units
// and computes transitive dependency closures over them.
type Resolver struct {
	units    []*suite.Unit
	position map[*suite.Unit]int

	// Only test-proper units can be depended upon.
	bySimple    map[string][]*suite.Unit
	byQualified map[string][]*suite.Unit

	mu      sync.Mutex
	direct  map[*suite.Unit][]*suite.Unit
	closure map[*suite.Unit][]*suite.Unit
}

// New indexes units. The slice order is the declaration order used for
// every result.
func New(units []*suite.Unit) *Resolver {
	r := &Resolver{
		units:       units,
		position:    make(map[*suite.Unit]int, len(units)),
		bySimple:    make(map[string][]*suite.Unit),
		byQualified: make(map[string][]*suite.Unit),
		direct:      make(map[*suite.Unit][]*suite.Unit),
		closure:     make(map[*suite.Unit][]*suite.Unit),
	}

	for i, u := range units {
		r.position[u] = i
		if u.IsConfiguration() {
			continue
		}
		r.bySimple[u.Name] = appendUnique(r.bySimple[u.Name], u)
		r.byQualified[u.QualifiedName()] = appendUnique(r.byQualified[u.QualifiedName()], u)
		if u.Signature != "" && u.Signature != u.Name {
			r.bySimple[u.Signature] = appendUnique(r.bySimple[u.Signature], u)
			r.byQualified[u.Class+"."+u.Signature] = appendUnique(r.byQualified[u.Class+"."+u.Signature], u)
		}
	}

	return r
}

// Resolve returns the dependency closure of unit within all.
func Resolve(unit *suite.Unit, all []*suite.Unit) ([]*suite.Unit, error) {
	return New(all).Closure(unit)
}

// Validate resolves every test unit, returning the first configuration
// error in declaration order.
func (r *Resolver) Validate() error {
	for _, u := range r.units {
		if _, err := r.Closure(u); err != nil {
			return err
		}
	}
	return nil
}

// Direct returns the units u names directly through dependsOnUnits and
// dependsOnGroups, in declaration order. Configuration units never have
// resolved dependencies.
func (r *Resolver) Direct(u *suite.Unit) ([]*suite.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.directLocked(u)
}

func (r *Resolver) directLocked(u *suite.Unit) ([]*suite.Unit, error) {
	if deps, ok := r.direct[u]; ok {
		return deps, nil
	}
	if u.IsConfiguration() {
		r.direct[u] = nil
		return nil, nil
	}

	seen := make(map[*suite.Unit]bool)
	var deps []*suite.Unit
	add := func(d *suite.Unit) {
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}

	for _, ref := range u.DependsOnUnits {
		matches, err := r.lookup(u, ref)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			if u.IgnoreMissingDependencies {
				continue
			}
			return nil, &Error{Kind: ErrMissingDependency, Unit: u.ID(), Ref: ref}
		}
		for _, m := range matches {
			if m == u {
				return nil, &Error{Kind: ErrSelfDependency, Unit: u.ID(), Ref: ref}
			}
			add(m)
		}
	}

	for _, pattern := range u.DependsOnGroups {
		matched := false
		for _, candidate := range r.units {
			if candidate.IsConfiguration() || !candidate.InGroup(pattern) {
				continue
			}
			matched = true
			if candidate == u {
				return nil, &Error{Kind: ErrSelfDependency, Unit: u.ID(), Ref: "group:" + pattern}
			}
			add(candidate)
		}
		if !matched && !u.IgnoreMissingDependencies {
			return nil, &Error{Kind: ErrMissingDependency, Unit: u.ID(), Ref: "group:" + pattern}
		}
	}

	r.sortByDeclaration(deps)
	r.direct[u] = deps
	return deps, nil
}

// lookup resolves a method reference: first within the declaring class,
// then as a qualified name, then by simple name anywhere. Overloads all
// match; the same simple name in two classes is ambiguous.
func (r *Resolver) lookup(u *suite.Unit, ref string) ([]*suite.Unit, error) {
	var sameClass []*suite.Unit
	for _, c := range r.bySimple[ref] {
		if c.Class == u.Class {
			sameClass = append(sameClass, c)
		}
	}
	if len(sameClass) > 0 {
		return sameClass, nil
	}

	if matches := r.byQualified[ref]; len(matches) > 0 {
		return matches, nil
	}

	matches := r.bySimple[ref]
	classes := make(map[string]bool)
	for _, m := range matches {
		classes[m.Class] = true
	}
	if len(classes) > 1 {
		return nil, &Error{Kind: ErrAmbiguousDependency, Unit: u.ID(), Ref: ref}
	}
	return matches, nil
}

// Closure returns every unit u transitively depends on, in declaration
// order, never including u itself.
func (r *Resolver) Closure(u *suite.Unit) ([]*suite.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.closure[u]; ok {
		return c, nil
	}

	visited := make(map[*suite.Unit]bool)
	inStack := make(map[*suite.Unit]bool)
	var stack []string
	var result []*suite.Unit

	var visit func(n *suite.Unit) error
	visit = func(n *suite.Unit) error {
		if inStack[n] {
			path := append([]string{}, stack[indexOf(stack, n.ID()):]...)
			return cycleError(append(path, n.ID()))
		}
		if visited[n] {
			return nil
		}

		deps, err := r.directLocked(n)
		if err != nil {
			return err
		}

		inStack[n] = true
		stack = append(stack, n.ID())
		for _, d := range deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		inStack[n] = false
		visited[n] = true

		if n != u {
			result = append(result, n)
		}
		return nil
	}

	if err := visit(u); err != nil {
		return nil, err
	}

	r.sortByDeclaration(result)
	r.closure[u] = result
	return result, nil
}

// Units returns the indexed units in declaration order.
func (r *Resolver) Units() []*suite.Unit {
	return r.units
}

func (r *Resolver) sortByDeclaration(units []*suite.Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return r.position[units[i]] < r.position[units[j]]
	})
}

func appendUnique(list []*suite.Unit, u *suite.Unit) []*suite.Unit {
	for _, existing := range list {
		if existing == u {
			return list
		}
	}
	return append(list, u)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return 0
}
