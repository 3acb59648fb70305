package rerun

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(name string, mods ...func(*suite.Unit)) *suite.Unit {
	u := &suite.Unit{Name: name}
	for _, m := range mods {
		m(u)
	}
	return u
}

func dependsOn(names ...string) func(*suite.Unit) {
	return func(u *suite.Unit) { u.DependsOnUnits = names }
}

func groups(g ...string) func(*suite.Unit) {
	return func(u *suite.Unit) { u.Groups = g }
}

func config(kind suite.ConfigKind) func(*suite.Unit) {
	return func(u *suite.Unit) { u.Config = kind }
}

func record(t *testing.T, l *ledger.Ledger, u *suite.Unit, statuses ...suite.Status) {
	t.Helper()
	for i, st := range statuses {
		o := suite.Outcome{Unit: u.ID(), Invocation: i, Attempt: 1, Status: st}
		if st == suite.StatusSkip {
			o.Cause = suite.CauseDependency
		}
		_, err := l.Append(o)
		require.NoError(t, err)
	}
	l.Seal(u.ID())
}

func TestBuild_PropagationScenario(t *testing.T) {
	setUp := unit("setUp", config(suite.BeforeClass))
	tearDown := unit("tearDown", config(suite.AfterClass))
	a := unit("A", groups("g"))
	b := unit("B", groups("g"), dependsOn("A"))
	c := unit("C", func(u *suite.Unit) { u.DependsOnGroups = []string{"g"} })
	d := unit("D")
	s := &suite.Suite{Name: "s", Tests: []*suite.Test{{
		Name: "t",
		Classes: []*suite.Class{
			{Name: "Cart", Units: []*suite.Unit{setUp, a, b, c, tearDown}},
			{Name: "Other", Units: []*suite.Unit{unit("before", config(suite.BeforeClass)), d}},
		},
	}}}
	require.NoError(t, suite.Normalize(s))

	l := ledger.New()
	record(t, l, setUp, suite.StatusSuccess)
	record(t, l, a, suite.StatusFailure)
	record(t, l, b, suite.StatusSkip)
	record(t, l, c, suite.StatusSkip)
	record(t, l, d, suite.StatusSuccess)
	record(t, l, tearDown, suite.StatusSuccess)

	plan, err := Build(l.Snapshot(), s)
	require.NoError(t, err)
	require.Len(t, plan.Classes, 1)

	cp := plan.Class("t", "Cart")
	require.NotNil(t, cp)
	assert.Equal(t, []string{"setUp", "tearDown"}, cp.Configs)
	require.Len(t, cp.Units, 3)
	for _, u := range cp.Units {
		assert.True(t, u.Seed, u.Name)
		assert.Empty(t, u.Invocations)
	}
	assert.Nil(t, plan.Class("t", "Other"))
	assert.Equal(t, 3, plan.Len())
}

func TestBuild_IncludesPassingDependencies(t *testing.T) {
	x := unit("x")
	y := unit("y", dependsOn("x"))
	z := unit("z")
	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{
		{Name: "Base", Units: []*suite.Unit{x, unit("init", config(suite.BeforeMethod))}},
		{Name: "Dep", Units: []*suite.Unit{y, z}},
	}}}}
	require.NoError(t, suite.Normalize(s))

	l := ledger.New()
	record(t, l, x, suite.StatusSuccess)
	record(t, l, y, suite.StatusFailure)
	record(t, l, z, suite.StatusSuccess)

	plan, err := Build(l.Snapshot(), s)
	require.NoError(t, err)
	require.Len(t, plan.Classes, 2)

	base := plan.Class("t", "Base")
	require.NotNil(t, base)
	require.Len(t, base.Units, 1)
	assert.False(t, base.Units[0].Seed)
	assert.Equal(t, []string{"init"}, base.Configs)

	dep := plan.Class("t", "Dep")
	require.NotNil(t, dep)
	require.Len(t, dep.Units, 1)
	assert.Equal(t, "y", dep.Units[0].Name)
	assert.True(t, dep.Units[0].Seed)
}

func TestBuild_FailedInvocationsPerSignature(t *testing.T) {
	intVariant := unit("parse", func(u *suite.Unit) {
		u.Signature = "parse(int)"
		u.InvocationCount = 4
	})
	strVariant := unit("parse", func(u *suite.Unit) {
		u.Signature = "parse(string)"
		u.InvocationCount = 3
	})
	all := unit("all", func(u *suite.Unit) { u.InvocationCount = 2 })
	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{
		{Name: "P", Units: []*suite.Unit{intVariant, strVariant, all}},
	}}}}
	require.NoError(t, suite.Normalize(s))

	l := ledger.New()
	record(t, l, intVariant, suite.StatusSuccess, suite.StatusFailure, suite.StatusSuccess, suite.StatusFailure)
	record(t, l, strVariant, suite.StatusFailure, suite.StatusSuccess, suite.StatusFailureWithinSuccessPercentage)
	record(t, l, all, suite.StatusFailure, suite.StatusFailure)

	plan, err := Build(l.Snapshot(), s)
	require.NoError(t, err)
	cp := plan.Class("t", "P")
	require.NotNil(t, cp)

	assert.Equal(t, []int{1, 3}, cp.Unit("parse(int)").Invocations)
	assert.Equal(t, []int{0}, cp.Unit("parse(string)").Invocations)
	assert.Empty(t, cp.Unit("all").Invocations)
}

func TestBuild_UnitsThatNeverRan(t *testing.T) {
	u := unit("late", func(u *suite.Unit) { u.InvocationCount = 3 })
	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{
		{Name: "C", Units: []*suite.Unit{u}},
	}}}}
	require.NoError(t, suite.Normalize(s))

	plan, err := Build(ledger.New().Snapshot(), s)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len())
	assert.Empty(t, plan.Class("t", "C").Unit("late").Invocations)
}

func TestBuild_NothingFailed(t *testing.T) {
	u := unit("ok")
	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{u}}}}}}
	require.NoError(t, suite.Normalize(s))

	l := ledger.New()
	record(t, l, u, suite.StatusSuccess)

	plan, err := Build(l.Snapshot(), s)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil, &suite.Suite{})
	assert.Error(t, err)

	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{
		unit("a", dependsOn("b")),
		unit("b", dependsOn("a")),
	}}}}}}
	require.NoError(t, suite.Normalize(s))
	_, err = Build(ledger.New().Snapshot(), s)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	s := &suite.Suite{Name: "s", Parameters: map[string]string{"env": "ci"}, Tests: []*suite.Test{
		{Name: "t", Classes: []*suite.Class{
			{Name: "C", Units: []*suite.Unit{
				unit("setUp", config(suite.BeforeClass)),
				unit("a", func(u *suite.Unit) { u.InvocationCount = 4 }),
				unit("b"),
			}},
			{Name: "D", Units: []*suite.Unit{unit("c")}},
		}},
		{Name: "other", Classes: []*suite.Class{{Name: "E", Units: []*suite.Unit{unit("e")}}}},
	}}
	require.NoError(t, suite.Normalize(s))

	plan := &Plan{Suite: "s", Classes: []*ClassPlan{{
		Test:    "t",
		Class:   "C",
		Configs: []string{"setUp"},
		Units:   []*UnitPlan{{Name: "a", Signature: "a", Invocations: []int{2}, Seed: true}},
	}}}

	out, err := Apply(plan, s)
	require.NoError(t, err)
	require.Len(t, out.Tests, 1)
	require.Len(t, out.Tests[0].Classes, 1)

	c := out.Tests[0].Classes[0]
	require.Len(t, c.Units, 2)
	assert.Equal(t, suite.BeforeClass, c.Units[0].Config)
	assert.Equal(t, []int{2}, c.Units[1].PlannedInvocations())
	assert.Equal(t, "ci", out.Parameters["env"])

	// the source suite is untouched
	assert.Len(t, s.Tests, 2)
	assert.Len(t, s.Tests[0].Classes[0].Units, 3)
	assert.Empty(t, s.Tests[0].Classes[0].Units[1].Invocations)
}

func TestApply_UnknownUnits(t *testing.T) {
	s := &suite.Suite{Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{{Name: "C", Units: []*suite.Unit{unit("a")}}}}}}
	require.NoError(t, suite.Normalize(s))

	plan := &Plan{Classes: []*ClassPlan{{Test: "t", Class: "C", Units: []*UnitPlan{{Name: "gone", Signature: "gone"}}}}}
	_, err := Apply(plan, s)
	assert.Error(t, err)

	_, err = Apply(nil, s)
	assert.Error(t, err)
}

func TestPlan_Merge(t *testing.T) {
	p := &Plan{Classes: []*ClassPlan{{
		Test: "t", Class: "C", Configs: []string{"setUp"},
		Units: []*UnitPlan{
			{Name: "m", Signature: "m(int)", Invocations: []int{3, 1}},
			{Name: "m", Signature: "m(string)", Invocations: []int{0}},
		},
	}}}
	other := &Plan{Classes: []*ClassPlan{
		{Test: "t", Class: "C", Configs: []string{"setUp", "tearDown"}, Units: []*UnitPlan{
			{Name: "m", Signature: "m(int)", Invocations: []int{2}},
			{Name: "m", Signature: "m(string)"},
		}},
		{Test: "a", Class: "B", Units: []*UnitPlan{{Name: "x", Signature: "x", Seed: true}}},
	}}

	p.Merge(other)
	require.Len(t, p.Classes, 2)
	assert.Equal(t, "a", p.Classes[0].Test)

	c := p.Class("t", "C")
	assert.Equal(t, []string{"setUp", "tearDown"}, c.Configs)
	assert.Equal(t, []int{1, 2, 3}, c.Unit("m(int)").Invocations)
	assert.Empty(t, c.Unit("m(string)").Invocations)
	assert.Equal(t, 3, p.Len())
}

// flaky fails the first n calls of every invocation index it sees.
func flaky(failUntil map[int]int) suite.Invoker {
	var calls [8]atomic.Int32
	return suite.InvokerFunc(func(ctx context.Context, inv suite.Invocation) error {
		n := calls[inv.Index].Add(1)
		if int(n) <= failUntil[inv.Index] {
			return errors.New("boom")
		}
		return nil
	})
}

func TestRerunIsIdempotent(t *testing.T) {
	pass := suite.InvokerFunc(func(ctx context.Context, inv suite.Invocation) error { return nil })
	fail := suite.InvokerFunc(func(ctx context.Context, inv suite.Invocation) error { return errors.New("always") })

	s := &suite.Suite{Name: "s", Tests: []*suite.Test{{Name: "t", Classes: []*suite.Class{
		{Name: "C", Units: []*suite.Unit{
			{Name: "setUp", Config: suite.BeforeClass, Invoker: pass},
			{Name: "base", Invoker: pass},
			{Name: "data", InvocationCount: 4, Invoker: flaky(map[int]int{1: 1, 3: 1})},
			{Name: "broken", DependsOnUnits: []string{"base"}, Invoker: fail},
			{Name: "after", DependsOnUnits: []string{"broken"}, Invoker: pass},
		}},
		{Name: "Clean", Units: []*suite.Unit{{Name: "fine", Invoker: pass}}},
	}}}}

	r := runner.NewRunner(&runner.Config{ThreadCount: 1})
	first, err := r.RunSuite(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Failed)
	assert.Equal(t, 1, first.Skipped)

	plan1, err := Build(first.Snapshot, first.Suite)
	require.NoError(t, err)
	cp := plan1.Class("t", "C")
	require.NotNil(t, cp)
	assert.Nil(t, plan1.Class("t", "Clean"))
	assert.Equal(t, []int{1, 3}, cp.Unit("data").Invocations)
	assert.NotNil(t, cp.Unit("base"))
	assert.NotNil(t, cp.Unit("after"))
	assert.True(t, cp.HasConfig("setUp"))

	rerunSuite, err := Apply(plan1, first.Suite)
	require.NoError(t, err)
	second, err := r.RunSuite(context.Background(), rerunSuite)
	require.NoError(t, err)

	// data passes on its second call per index; broken still fails
	plan2, err := Build(second.Snapshot, second.Suite)
	require.NoError(t, err)
	assert.LessOrEqual(t, plan2.Len(), plan1.Len())
	for _, c := range plan2.Classes {
		prev := plan1.Class(c.Test, c.Class)
		require.NotNil(t, prev)
		for _, u := range c.Units {
			assert.NotNil(t, prev.Unit(u.Signature), u.Signature)
		}
	}
	cp2 := plan2.Class("t", "C")
	require.NotNil(t, cp2)
	assert.Nil(t, cp2.Unit("data"))
	assert.NotNil(t, cp2.Unit("broken"))
	assert.NotNil(t, cp2.Unit("after"))
}
