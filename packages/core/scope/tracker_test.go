package scope

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_BeforeRunsOnceUnderConcurrency(t *testing.T) {
	tr := NewTracker()
	id := tr.Register(suite.LevelClass, "C", None, 8)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tr.Enter(id, func() error {
				calls.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, tr.Entered(id))
	assert.False(t, tr.Failed(id))
}

func TestTracker_BeforeErrorSharedByAllCallers(t *testing.T) {
	tr := NewTracker()
	id := tr.Register(suite.LevelClass, "C", None, 2)
	boom := errors.New("boom")

	err := tr.Enter(id, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	err = tr.Enter(id, func() error { t.Fatal("before ran twice"); return nil })
	assert.ErrorIs(t, err, boom)
	assert.True(t, tr.Failed(id))
}

func TestTracker_AfterFiresExactlyOnceOnLastMember(t *testing.T) {
	tr := NewTracker()
	const members = 50
	id := tr.Register(suite.LevelClass, "C", None, members)

	var afterCalls atomic.Int32
	var emptied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tr.CompleteUnit(id, fmt.Sprintf("u%d", i), func() { afterCalls.Add(1) }) {
				emptied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), afterCalls.Load())
	assert.Equal(t, int32(1), emptied.Load())
	assert.Equal(t, 0, tr.Remaining(id))
	assert.True(t, tr.Done(id))
}

func TestTracker_CompleteSameMemberTwice(t *testing.T) {
	tr := NewTracker()
	id := tr.Register(suite.LevelClass, "C", None, 2)

	assert.False(t, tr.CompleteUnit(id, "a", nil))
	assert.False(t, tr.CompleteUnit(id, "a", nil))
	assert.Equal(t, 1, tr.Remaining(id))
	assert.True(t, tr.CompleteUnit(id, "b", nil))
	assert.False(t, tr.CompleteUnit(id, "c", nil))
}

func TestTracker_SameClassTwoTestsIndependent(t *testing.T) {
	tr := NewTracker()
	suiteID := tr.Register(suite.LevelSuite, "s", None, 2)
	t1 := tr.Register(suite.LevelTest, "t1", suiteID, 1)
	t2 := tr.Register(suite.LevelTest, "t2", suiteID, 1)
	c1 := tr.Register(suite.LevelClass, "C", t1, 1)
	c2 := tr.Register(suite.LevelClass, "C", t2, 1)

	var before atomic.Int32
	require.NoError(t, tr.Enter(c1, func() error { before.Add(1); return nil }))
	require.NoError(t, tr.Enter(c2, func() error { before.Add(1); return nil }))
	assert.Equal(t, int32(2), before.Load())

	assert.True(t, tr.CompleteUnit(c1, "t1/C.m", nil))
	assert.False(t, tr.Done(c2))
	assert.Equal(t, t1, tr.Scope(c1).Parent)
	assert.Equal(t, t2, tr.Scope(c2).Parent)
}

func TestTracker_Finish(t *testing.T) {
	tr := NewTracker()
	id := tr.Register(suite.LevelTest, "t", None, 3)
	require.False(t, tr.CompleteUnit(id, "a", nil))

	var calls int
	assert.True(t, tr.Finish(id, func() { calls++ }))
	assert.False(t, tr.Finish(id, func() { calls++ }))
	assert.False(t, tr.CompleteUnit(id, "b", func() { calls++ }))
	assert.Equal(t, 1, calls)
}

func TestTracker_UnknownIDPanics(t *testing.T) {
	tr := NewTracker()
	assert.Panics(t, func() { tr.Remaining(3) })
}

func TestTracker_AfterMayQueryTracker(t *testing.T) {
	tr := NewTracker()
	id := tr.Register(suite.LevelClass, "C", None, 1)
	require.NoError(t, tr.Enter(id, nil))

	var entered bool
	assert.True(t, tr.CompleteUnit(id, "m", func() {
		entered = tr.Entered(id) && tr.Done(id)
	}))
	assert.True(t, entered)
}
