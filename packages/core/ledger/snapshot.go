package ledger

import (
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// Snapshot is a point-in-time, read-only copy of a Ledger.
type Snapshot struct {
	Taken    time.Time
	ids      []string
	outcomes map[string][]suite.Outcome
	sealed   map[string]bool
}

// Units returns the IDs of every unit with a record, sorted.
func (s *Snapshot) Units() []string {
	return s.ids
}

// Has reports whether the snapshot holds a record for unit.
func (s *Snapshot) Has(unit string) bool {
	_, ok := s.outcomes[unit]
	return ok
}

// Terminal reports whether the unit was sealed when the snapshot was taken.
func (s *Snapshot) Terminal(unit string) bool {
	return s.sealed[unit]
}

// Outcomes returns the unit's entries in ledger order.
func (s *Snapshot) Outcomes(unit string) []suite.Outcome {
	return s.outcomes[unit]
}

// OutcomeOf returns the aggregate outcome of unit.
func (s *Snapshot) OutcomeOf(unit string) suite.Outcome {
	return Aggregate(unit, s.outcomes[unit])
}

// FailedInvocations returns the logical invocation indices of unit whose
// final attempt did not pass.
func (s *Snapshot) FailedInvocations(unit string) []int {
	var indices []int
	for _, o := range Finals(s.outcomes[unit]) {
		if !o.Status.Passed() {
			indices = append(indices, o.Invocation)
		}
	}
	return indices
}

// Invocations returns how many distinct logical invocations were recorded.
func (s *Snapshot) Invocations(unit string) int {
	return len(Finals(s.outcomes[unit]))
}
