package rerun

import (
	"fmt"
	"maps"
	"slices"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/resolver"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Build derives the rerun plan of a completed run. s must be the suite the
// run executed, and snap the ledger snapshot taken after every worker
// drained.
//
// Every test unit whose aggregate outcome is FAILURE or SKIP seeds the
// plan. Seeds pull in their dependency closure, and every class touched
// keeps all of its configuration units.
func Build(snap *ledger.Snapshot, s *suite.Suite) (*Plan, error) {
	if snap == nil {
		return nil, fmt.Errorf("no ledger snapshot")
	}
	if err := suite.Normalize(s); err != nil {
		return nil, fmt.Errorf("invalid suite: %w", err)
	}

	plan := &Plan{Suite: s.Name}
	for _, t := range s.Tests {
		res := resolver.New(t.Units())

		seeds := make(map[*suite.Unit]bool)
		include := make(map[*suite.Unit]bool)
		for _, u := range res.Units() {
			if u.IsConfiguration() {
				continue
			}
			if snap.OutcomeOf(u.ID()).Status.Passed() {
				continue
			}
			seeds[u] = true
			include[u] = true

			closure, err := res.Closure(u)
			if err != nil {
				return nil, err
			}
			for _, d := range closure {
				if !d.IsConfiguration() {
					include[d] = true
				}
			}
		}
		if len(include) == 0 {
			continue
		}

		for _, c := range t.Classes {
			var cp *ClassPlan
			for _, u := range c.TestUnits() {
				if !include[u] {
					continue
				}
				if cp == nil {
					cp = &ClassPlan{Test: t.Name, Class: c.Name, Parameters: maps.Clone(c.Parameters)}
				}
				cp.Units = append(cp.Units, &UnitPlan{
					Name:        u.Name,
					Signature:   u.Signature,
					Invocations: invocations(snap, u, seeds[u]),
					Parameters:  maps.Clone(u.Parameters),
					Seed:        seeds[u],
				})
			}
			if cp == nil {
				continue
			}
			for _, u := range c.Units {
				if u.IsConfiguration() {
					cp.Configs = append(cp.Configs, u.Signature)
				}
			}
			plan.Classes = append(plan.Classes, cp)
		}
	}
	plan.sort()
	return plan, nil
}

// invocations picks the invocation indices a unit reruns. A seed that passed
// some invocations reruns only the others; anything else keeps the
// restriction it already had.
func invocations(snap *ledger.Snapshot, u *suite.Unit, seed bool) []int {
	planned := u.PlannedInvocations()
	if !seed || snap.Invocations(u.ID()) < len(planned) {
		return slices.Clone(u.Invocations)
	}
	failed := snap.FailedInvocations(u.ID())
	if len(failed) == len(planned) {
		return slices.Clone(u.Invocations)
	}
	return failed
}
