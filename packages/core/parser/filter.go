package parser

import (
	"maps"
	"slices"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/rerun"
)

// Filter returns a copy of doc reduced to the units of plan, with each
// planned unit's invocation indices written into its invocations field.
// Running the result reproduces the plan.
func Filter(doc *Document, plan *rerun.Plan) *Document {
	out := *doc
	out.Tests = nil
	out.Parameters = maps.Clone(doc.Parameters)
	out.Variables = maps.Clone(doc.Variables)

	for i, td := range doc.Tests {
		name := doc.TestName(i)
		var classes []*ClassDoc
		for _, cd := range td.Classes {
			cp := plan.Class(name, cd.Name)
			if cp == nil {
				continue
			}
			cc := &ClassDoc{Name: cd.Name, Parameters: maps.Clone(cd.Parameters)}
			for _, ud := range cd.Units {
				sig := ud.UnitSignature()
				if ud.Config != "" {
					if cp.HasConfig(sig) {
						uc := *ud
						cc.Units = append(cc.Units, &uc)
					}
					continue
				}
				up := cp.Unit(sig)
				if up == nil {
					continue
				}
				uc := *ud
				uc.Invocations = slices.Clone(up.Invocations)
				cc.Units = append(cc.Units, &uc)
			}
			classes = append(classes, cc)
		}
		if len(classes) == 0 {
			continue
		}
		tc := *td
		tc.Name = name
		tc.Classes = classes
		out.Tests = append(out.Tests, &tc)
	}
	return &out
}
