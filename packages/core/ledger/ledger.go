package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

var (
	ErrSealed     = errors.New("unit already has a terminal outcome")
	ErrOutOfOrder = errors.New("ledger index out of order")
	ErrDuplicate  = errors.New("ledger entry already recorded")
)

type record struct {
	mu       sync.Mutex
	outcomes []suite.Outcome
	sealed   bool
}

// Ledger is the append-only record of invocation outcomes. Writers to
// different units never contend; writers to the same unit serialize on that
// unit's record only.
type Ledger struct {
	records sync.Map // unit ID -> *record
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

func (l *Ledger) record(unit string) *record {
	if r, ok := l.records.Load(unit); ok {
		return r.(*record)
	}
	r, _ := l.records.LoadOrStore(unit, &record{})
	return r.(*record)
}

func (l *Ledger) lookup(unit string) (*record, bool) {
	r, ok := l.records.Load(unit)
	if !ok {
		return nil, false
	}
	return r.(*record), true
}

// Record writes outcome at index for unit. Entries are write-once and must
// be appended in order; a retry is a new index.
func (l *Ledger) Record(unit string, index int, outcome suite.Outcome) error {
	r := l.record(unit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: %s", ErrSealed, unit)
	}
	switch {
	case index < len(r.outcomes):
		return fmt.Errorf("%w: %s[%d]", ErrDuplicate, unit, index)
	case index > len(r.outcomes):
		return fmt.Errorf("%w: %s[%d], next is %d", ErrOutOfOrder, unit, index, len(r.outcomes))
	}
	outcome.Unit = unit
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

// Append records outcome at the next free index of outcome.Unit and returns
// that index.
func (l *Ledger) Append(outcome suite.Outcome) (int, error) {
	r := l.record(outcome.Unit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return -1, fmt.Errorf("%w: %s", ErrSealed, outcome.Unit)
	}
	r.outcomes = append(r.outcomes, outcome)
	return len(r.outcomes) - 1, nil
}

// AppendNext records outcome as a new logical invocation numbered after the
// unit's existing entries. Configuration hooks use it: every execution of a
// hook is an invocation of its own.
func (l *Ledger) AppendNext(outcome suite.Outcome) (int, error) {
	r := l.record(outcome.Unit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return -1, fmt.Errorf("%w: %s", ErrSealed, outcome.Unit)
	}
	outcome.Invocation = len(r.outcomes)
	outcome.Attempt = 1
	r.outcomes = append(r.outcomes, outcome)
	return outcome.Invocation, nil
}

// Seal marks the unit terminal. No further entries are accepted. Sealing a
// unit with no entries is how a unit that never ran becomes terminal.
func (l *Ledger) Seal(unit string) {
	r := l.record(unit)
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Terminal reports whether the unit has been sealed.
func (l *Ledger) Terminal(unit string) bool {
	r, ok := l.lookup(unit)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Outcomes returns a copy of the unit's entries in ledger order.
func (l *Ledger) Outcomes(unit string) []suite.Outcome {
	r, ok := l.lookup(unit)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]suite.Outcome(nil), r.outcomes...)
}

// OutcomeOf returns the aggregate outcome of unit.
func (l *Ledger) OutcomeOf(unit string) suite.Outcome {
	return Aggregate(unit, l.Outcomes(unit))
}

// Snapshot copies every record. Each unit's entries are copied under that
// unit's lock, so no half-written outcome is ever observed.
func (l *Ledger) Snapshot() *Snapshot {
	snap := &Snapshot{
		Taken:    time.Now(),
		outcomes: make(map[string][]suite.Outcome),
		sealed:   make(map[string]bool),
	}
	l.records.Range(func(key, value any) bool {
		id := key.(string)
		r := value.(*record)
		r.mu.Lock()
		snap.outcomes[id] = append([]suite.Outcome(nil), r.outcomes...)
		snap.sealed[id] = r.sealed
		r.mu.Unlock()
		snap.ids = append(snap.ids, id)
		return true
	})
	sort.Strings(snap.ids)
	return snap
}

// Aggregate folds a unit's entries into one outcome. Only the last attempt
// of each logical invocation counts, so a failure followed by a successful
// retry aggregates to SUCCESS. Any final FAILURE makes the unit FAILURE;
// otherwise any final SKIP (or no entries at all) makes it SKIP.
func Aggregate(unit string, outcomes []suite.Outcome) suite.Outcome {
	agg := suite.Outcome{Unit: unit, Invocation: -1, Status: suite.StatusSkip}
	if len(outcomes) == 0 {
		return agg
	}

	finals := Finals(outcomes)
	agg.Attempt = len(outcomes)
	agg.Start = outcomes[0].Start
	agg.End = outcomes[0].End
	for _, o := range outcomes {
		if !o.Start.IsZero() && (agg.Start.IsZero() || o.Start.Before(agg.Start)) {
			agg.Start = o.Start
		}
		if o.End.After(agg.End) {
			agg.End = o.End
		}
	}

	var firstFailure, firstSkip *suite.Outcome
	for i := range finals {
		o := &finals[i]
		switch {
		case o.Status == suite.StatusFailure && firstFailure == nil:
			firstFailure = o
		case o.Status == suite.StatusSkip && firstSkip == nil:
			firstSkip = o
		}
	}

	switch {
	case firstFailure != nil:
		agg.Status = suite.StatusFailure
		agg.Err = firstFailure.Err
	case firstSkip != nil:
		agg.Status = suite.StatusSkip
		agg.Cause = firstSkip.Cause
		agg.Err = firstSkip.Err
	default:
		agg.Status = suite.StatusSuccess
	}
	return agg
}

// Finals returns the last attempt of every logical invocation, ordered by
// invocation index.
func Finals(outcomes []suite.Outcome) []suite.Outcome {
	last := make(map[int]int)
	for i, o := range outcomes {
		last[o.Invocation] = i
	}
	finals := make([]suite.Outcome, 0, len(last))
	for _, i := range last {
		finals = append(finals, outcomes[i])
	}
	sort.Slice(finals, func(i, j int) bool {
		return finals[i].Invocation < finals[j].Invocation
	})
	return finals
}
