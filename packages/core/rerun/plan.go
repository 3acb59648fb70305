package rerun

import (
	"fmt"
	"maps"
	"sort"
)

// Plan is the set of units a follow-up run needs to reproduce the failures
// of a completed run.
type Plan struct {
	Suite   string
	RunID   string
	Classes []*ClassPlan
}

// ClassPlan lists the units of one class, within one test, to run again.
type ClassPlan struct {
	Test       string
	Class      string
	Parameters map[string]string
	// Configs holds the signatures of every configuration unit of the class.
	Configs []string
	Units   []*UnitPlan
}

// UnitPlan is one test unit of a rerun plan.
type UnitPlan struct {
	Name      string
	Signature string
	// Invocations restricts the rerun to these logical invocation indices.
	// Empty means every invocation.
	Invocations []int
	Parameters  map[string]string
	// Seed is false for units only pulled in as dependencies of a failure.
	Seed bool
}

// Empty reports whether there is nothing to rerun.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Classes) == 0
}

// Len returns the number of test units in the plan.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, c := range p.Classes {
		n += len(c.Units)
	}
	return n
}

// Class returns the plan entry for test and class, or nil.
func (p *Plan) Class(test, class string) *ClassPlan {
	if p == nil {
		return nil
	}
	for _, c := range p.Classes {
		if c.Test == test && c.Class == class {
			return c
		}
	}
	return nil
}

// Unit returns the plan entry with the given signature, or nil.
func (c *ClassPlan) Unit(signature string) *UnitPlan {
	if c == nil {
		return nil
	}
	for _, u := range c.Units {
		if u.Signature == signature {
			return u
		}
	}
	return nil
}

// HasConfig reports whether the configuration unit with signature is kept.
func (c *ClassPlan) HasConfig(signature string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Configs {
		if s == signature {
			return true
		}
	}
	return false
}

// Merge folds other into p. Invocation indices are only combined for units
// with the same signature; a unit planned in full in either plan stays in full.
func (p *Plan) Merge(other *Plan) {
	if other == nil {
		return
	}
	for _, oc := range other.Classes {
		c := p.Class(oc.Test, oc.Class)
		if c == nil {
			p.Classes = append(p.Classes, oc.clone())
			continue
		}
		for _, s := range oc.Configs {
			if !c.HasConfig(s) {
				c.Configs = append(c.Configs, s)
			}
		}
		for _, ou := range oc.Units {
			u := c.Unit(ou.Signature)
			if u == nil {
				c.Units = append(c.Units, ou.clone())
				continue
			}
			u.Seed = u.Seed || ou.Seed
			if len(u.Invocations) == 0 || len(ou.Invocations) == 0 {
				u.Invocations = nil
				continue
			}
			u.Invocations = union(u.Invocations, ou.Invocations)
		}
	}
	p.sort()
}

func (p *Plan) sort() {
	sort.SliceStable(p.Classes, func(i, j int) bool {
		if p.Classes[i].Test != p.Classes[j].Test {
			return p.Classes[i].Test < p.Classes[j].Test
		}
		return p.Classes[i].Class < p.Classes[j].Class
	})
}

func (p *Plan) String() string {
	return fmt.Sprintf("rerun plan for %s: %d units in %d classes", p.Suite, p.Len(), len(p.Classes))
}

func (c *ClassPlan) clone() *ClassPlan {
	out := &ClassPlan{
		Test:       c.Test,
		Class:      c.Class,
		Parameters: maps.Clone(c.Parameters),
		Configs:    append([]string(nil), c.Configs...),
	}
	for _, u := range c.Units {
		out.Units = append(out.Units, u.clone())
	}
	return out
}

func (u *UnitPlan) clone() *UnitPlan {
	out := *u
	out.Invocations = append([]int(nil), u.Invocations...)
	out.Parameters = maps.Clone(u.Parameters)
	return &out
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, list := range [][]int{a, b} {
		for _, i := range list {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}
