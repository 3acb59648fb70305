package resolver

import (
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildUnits(t *testing.T, classes ...*suite.Class) []*suite.Unit {
	t.Helper()
	s := &suite.Suite{Name: "s", Tests: []*suite.Test{{Name: "t", Classes: classes}}}
	require.NoError(t, suite.Normalize(s))
	return s.Tests[0].Units()
}

func names(units []*suite.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}

func TestClosure_MethodsAndGroups(t *testing.T) {
	a := &suite.Unit{Name: "a", Groups: []string{"g"}}
	b := &suite.Unit{Name: "b", DependsOnUnits: []string{"a"}, Groups: []string{"g"}}
	c := &suite.Unit{Name: "c", DependsOnGroups: []string{"g"}}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{a, b, c}})

	r := New(units)
	require.NoError(t, r.Validate())

	closure, err := r.Closure(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(closure))

	closure, err = r.Closure(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(closure))

	closure, err = r.Closure(a)
	require.NoError(t, err)
	assert.Empty(t, closure)
}

func TestClosure_DeclarationOrderNotGroupOrder(t *testing.T) {
	first := &suite.Unit{Name: "first", Groups: []string{"late"}}
	second := &suite.Unit{Name: "second", Groups: []string{"early"}}
	target := &suite.Unit{Name: "target", DependsOnGroups: []string{"early", "late"}}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{first, second, target}})

	closure, err := New(units).Closure(target)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names(closure))
}

func TestClosure_Transitive(t *testing.T) {
	a := &suite.Unit{Name: "a"}
	b := &suite.Unit{Name: "b", DependsOnUnits: []string{"a"}}
	c := &suite.Unit{Name: "c", DependsOnUnits: []string{"b"}}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{a, b, c}})

	closure, err := Resolve(c, units)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(closure))
}

func TestDirect_OverloadsAllIncluded(t *testing.T) {
	login1 := &suite.Unit{Name: "login", Signature: "login(string)"}
	login2 := &suite.Unit{Name: "login", Signature: "login(int)"}
	browse := &suite.Unit{Name: "browse", DependsOnUnits: []string{"login"}}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{login1, login2, browse}})

	deps, err := New(units).Direct(browse)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "login(string)", deps[0].Signature)
	assert.Equal(t, "login(int)", deps[1].Signature)
}

func TestDirect_NameLookup(t *testing.T) {
	t.Run("same class wins over other classes", func(t *testing.T) {
		otherSetup := &suite.Unit{Name: "setup"}
		setup := &suite.Unit{Name: "setup"}
		use := &suite.Unit{Name: "use", DependsOnUnits: []string{"setup"}}
		units := buildUnits(t,
			&suite.Class{Name: "Other", Units: []*suite.Unit{otherSetup}},
			&suite.Class{Name: "Mine", Units: []*suite.Unit{setup, use}},
		)

		deps, err := New(units).Direct(use)
		require.NoError(t, err)
		require.Len(t, deps, 1)
		assert.Same(t, setup, deps[0])
	})

	t.Run("qualified name", func(t *testing.T) {
		login := &suite.Unit{Name: "login"}
		use := &suite.Unit{Name: "use", DependsOnUnits: []string{"auth.Login.login"}}
		units := buildUnits(t,
			&suite.Class{Name: "auth.Login", Units: []*suite.Unit{login}},
			&suite.Class{Name: "shop.Cart", Units: []*suite.Unit{use}},
		)

		deps, err := New(units).Direct(use)
		require.NoError(t, err)
		require.Len(t, deps, 1)
		assert.Same(t, login, deps[0])
	})

	t.Run("simple name in two other classes is ambiguous", func(t *testing.T) {
		units := buildUnits(t,
			&suite.Class{Name: "A", Units: []*suite.Unit{{Name: "init"}}},
			&suite.Class{Name: "B", Units: []*suite.Unit{{Name: "init"}}},
			&suite.Class{Name: "C", Units: []*suite.Unit{{Name: "use", DependsOnUnits: []string{"init"}}}},
		)

		err := New(units).Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAmbiguousDependency))
	})
}

func TestDirect_ConfigurationUnitsNotMatched(t *testing.T) {
	setup := &suite.Unit{Name: "setup", Config: suite.BeforeClass, Groups: []string{"g"}}
	use := &suite.Unit{Name: "use", DependsOnUnits: []string{"setup"}}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{setup, use}})

	err := New(units).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))

	deps, err := New(units).Direct(setup)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestValidate_Errors(t *testing.T) {
	tests := map[string]struct {
		units   []*suite.Unit
		wantErr error
	}{
		"missing method": {
			units:   []*suite.Unit{{Name: "a", DependsOnUnits: []string{"nope"}}},
			wantErr: ErrMissingDependency,
		},
		"missing group": {
			units:   []*suite.Unit{{Name: "a", DependsOnGroups: []string{"nope"}}},
			wantErr: ErrMissingDependency,
		},
		"self reference": {
			units:   []*suite.Unit{{Name: "a", DependsOnUnits: []string{"a"}}},
			wantErr: ErrSelfDependency,
		},
		"self through own group": {
			units:   []*suite.Unit{{Name: "a", Groups: []string{"g"}, DependsOnGroups: []string{"g"}}},
			wantErr: ErrSelfDependency,
		},
		"cycle": {
			units: []*suite.Unit{
				{Name: "a", DependsOnUnits: []string{"c"}},
				{Name: "b", DependsOnUnits: []string{"a"}},
				{Name: "c", DependsOnUnits: []string{"b"}},
			},
			wantErr: ErrCycle,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			units := buildUnits(t, &suite.Class{Name: "C", Units: tc.units})
			err := New(units).Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestValidate_CyclePath(t *testing.T) {
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{
		{Name: "a", DependsOnUnits: []string{"b"}},
		{Name: "b", DependsOnUnits: []string{"a"}},
	}})

	err := New(units).Validate()
	var resErr *Error
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, []string{"t/C.a", "t/C.b", "t/C.a"}, resErr.Path)
	assert.Contains(t, err.Error(), "t/C.a -> t/C.b -> t/C.a")
}

func TestIgnoreMissingDependencies(t *testing.T) {
	a := &suite.Unit{Name: "a"}
	b := &suite.Unit{
		Name:                      "b",
		DependsOnUnits:            []string{"missingMethod", "a"},
		DependsOnGroups:           []string{"missingGroup"},
		IgnoreMissingDependencies: true,
	}
	units := buildUnits(t, &suite.Class{Name: "C", Units: []*suite.Unit{a, b}})

	closure, err := Resolve(b, units)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(closure))
}
