package rerun

import (
	"fmt"
	"maps"
	"slices"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Apply narrows s to the units of plan and returns the result as a new
// suite; s itself is not modified. Planned units keep every other field of
// their descriptor, so running the result re-applies full semantics.
func Apply(plan *Plan, s *suite.Suite) (*suite.Suite, error) {
	if plan == nil {
		return nil, fmt.Errorf("no rerun plan")
	}
	if s == nil {
		return nil, fmt.Errorf("no suite")
	}

	out := *s
	out.Parameters = maps.Clone(s.Parameters)
	out.Tests = nil

	for _, t := range s.Tests {
		var classes []*suite.Class
		for _, c := range t.Classes {
			cp := plan.Class(t.Name, c.Name)
			if cp == nil {
				continue
			}
			cc := &suite.Class{Name: c.Name, Parameters: maps.Clone(c.Parameters)}
			for _, u := range c.Units {
				sig := signature(u)
				if u.IsConfiguration() {
					if cp.HasConfig(sig) {
						uc := *u
						cc.Units = append(cc.Units, &uc)
					}
					continue
				}
				up := cp.Unit(sig)
				if up == nil {
					continue
				}
				uc := *u
				uc.Invocations = slices.Clone(up.Invocations)
				if len(up.Parameters) > 0 {
					uc.Parameters = maps.Clone(up.Parameters)
				}
				cc.Units = append(cc.Units, &uc)
			}
			if len(cp.Units) > 0 && len(cc.TestUnits()) == 0 {
				return nil, fmt.Errorf("rerun plan names units of %s/%s that the suite does not define", t.Name, c.Name)
			}
			classes = append(classes, cc)
		}
		if len(classes) == 0 {
			continue
		}
		tc := *t
		tc.Parameters = maps.Clone(t.Parameters)
		tc.Classes = classes
		out.Tests = append(out.Tests, &tc)
	}

	if err := suite.Normalize(&out); err != nil {
		return nil, fmt.Errorf("invalid rerun suite: %w", err)
	}
	return &out, nil
}

func signature(u *suite.Unit) string {
	if u.Signature != "" {
		return u.Signature
	}
	return u.Name
}
