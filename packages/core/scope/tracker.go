package scope

import (
	"fmt"
	"sync"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
)

// ID identifies one scope instance in a Tracker's arena.
type ID int

// None is the parent of root scopes.
const None ID = -1

// Scope describes a registered scope instance.
type Scope struct {
	Level   suite.Level
	Name    string
	Parent  ID
	Members int
}

type state struct {
	Scope

	once      sync.Once
	beforeErr error

	mu        sync.Mutex
	entered   bool
	remaining int
	completed map[string]bool
	done      bool
}

// Tracker counts the unexecuted members of every live scope instance. The
// same class used by two tests is registered twice and tracked
// independently.
type Tracker struct {
	mu     sync.RWMutex
	scopes []*state
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Register adds a scope instance with the given number of members.
func (t *Tracker) Register(level suite.Level, name string, parent ID, members int) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if members < 0 {
		members = 0
	}
	t.scopes = append(t.scopes, &state{
		Scope:     Scope{Level: level, Name: name, Parent: parent, Members: members},
		remaining: members,
		completed: make(map[string]bool, members),
	})
	return ID(len(t.scopes) - 1)
}

func (t *Tracker) get(id ID) *state {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || int(id) >= len(t.scopes) {
		panic(fmt.Sprintf("scope: unknown scope id %d", id))
	}
	return t.scopes[id]
}

// Scope returns the description of id.
func (t *Tracker) Scope(id ID) Scope {
	return t.get(id).Scope
}

// Len returns the number of registered scope instances.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.scopes)
}

// Enter runs before the first time the scope is entered. Concurrent callers
// block until it has returned, and every caller receives its error.
func (t *Tracker) Enter(id ID, before func() error) error {
	s := t.get(id)
	s.once.Do(func() {
		var err error
		if before != nil {
			err = before()
		}
		s.mu.Lock()
		s.entered = true
		s.beforeErr = err
		s.mu.Unlock()
	})
	return s.beforeErr
}

// Entered reports whether the scope's before hook has run.
func (t *Tracker) Entered(id ID) bool {
	s := t.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entered
}

// Failed reports whether the scope's before hook returned an error.
func (t *Tracker) Failed(id ID) bool {
	s := t.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entered && s.beforeErr != nil
}

// CompleteUnit marks member as done. When the last member completes, after
// runs synchronously before CompleteUnit returns and the result is true.
// That happens exactly once per scope instance; completing the same member
// twice has no effect. after runs without the scope lock held, so it may
// query the tracker.
func (t *Tracker) CompleteUnit(id ID, member string, after func()) bool {
	s := t.get(id)

	s.mu.Lock()
	if s.done || s.completed[member] {
		s.mu.Unlock()
		return false
	}
	s.completed[member] = true
	s.remaining--
	if s.remaining > 0 {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.mu.Unlock()

	if after != nil {
		after()
	}
	return true
}

// Finish completes the scope regardless of remaining members, running after
// if the scope was not already complete. It is used when a run drains early.
func (t *Tracker) Finish(id ID, after func()) bool {
	s := t.get(id)

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.remaining = 0
	s.mu.Unlock()

	if after != nil {
		after()
	}
	return true
}

// Remaining returns how many members have not completed yet.
func (t *Tracker) Remaining(id ID) int {
	s := t.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Done reports whether the scope has completed.
func (t *Tracker) Done(id ID) bool {
	s := t.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
