package suite

import (
	"fmt"
	"strings"
	"time"
)

// DefaultThreadCount is the pool size used when a suite does not set one.
const DefaultThreadCount = 5

// ParallelMode selects the granularity the dispatcher runs concurrently at.
type ParallelMode string

const (
	ParallelNone    ParallelMode = "none"
	ParallelTests   ParallelMode = "tests"
	ParallelClasses ParallelMode = "classes"
	ParallelMethods ParallelMode = "methods"
)

// ParseParallelMode converts a user supplied mode. "false" and "" map to none.
func ParseParallelMode(s string) (ParallelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "false":
		return ParallelNone, nil
	case "tests":
		return ParallelTests, nil
	case "classes":
		return ParallelClasses, nil
	case "methods", "true":
		return ParallelMethods, nil
	}
	return "", fmt.Errorf("unknown parallel mode %q (use none, tests, classes or methods)", s)
}

// ConfigKind identifies which lifecycle hook a configuration unit is.
// The zero value marks a test proper.
type ConfigKind string

const (
	NotConfig    ConfigKind = ""
	BeforeSuite  ConfigKind = "beforeSuite"
	AfterSuite   ConfigKind = "afterSuite"
	BeforeTest   ConfigKind = "beforeTest"
	AfterTest    ConfigKind = "afterTest"
	BeforeClass  ConfigKind = "beforeClass"
	AfterClass   ConfigKind = "afterClass"
	BeforeMethod ConfigKind = "beforeMethod"
	AfterMethod  ConfigKind = "afterMethod"
)

// ConfigKinds lists every configuration kind in lifecycle order.
var ConfigKinds = []ConfigKind{
	BeforeSuite, BeforeTest, BeforeClass, BeforeMethod,
	AfterMethod, AfterClass, AfterTest, AfterSuite,
}

// ParseConfigKind validates a configuration kind name.
func ParseConfigKind(s string) (ConfigKind, error) {
	if s == "" {
		return NotConfig, nil
	}
	for _, k := range ConfigKinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown configuration kind %q", s)
}

// Before reports whether the hook runs on scope entry.
func (k ConfigKind) Before() bool {
	return strings.HasPrefix(string(k), "before")
}

// Level returns the scope level the hook is bound to.
func (k ConfigKind) Level() Level {
	switch k {
	case BeforeSuite, AfterSuite:
		return LevelSuite
	case BeforeTest, AfterTest:
		return LevelTest
	case BeforeClass, AfterClass:
		return LevelClass
	case BeforeMethod, AfterMethod:
		return LevelMethod
	}
	return LevelNone
}

// Level is a nesting level of the scope hierarchy.
type Level int

const (
	LevelNone Level = iota
	LevelMethod
	LevelClass
	LevelTest
	LevelSuite
)

func (l Level) String() string {
	switch l {
	case LevelMethod:
		return "method"
	case LevelClass:
		return "class"
	case LevelTest:
		return "test"
	case LevelSuite:
		return "suite"
	}
	return "none"
}

// Suite is the outermost scope.
type Suite struct {
	Name        string
	Source      string // file the suite was loaded from, if any
	Parallel    ParallelMode
	ThreadCount int
	Timeout     time.Duration
	Parameters  map[string]string
	Tests       []*Test
}

// Test is a named group of classes sharing parameters.
type Test struct {
	Name        string
	Parameters  map[string]string
	Parallel    ParallelMode // empty inherits the suite's mode
	ThreadCount int          // zero inherits the suite's thread count
	Classes     []*Class
}

// Class owns an ordered list of units.
type Class struct {
	Name       string
	Parameters map[string]string
	Units      []*Unit
}

// Unit is a fully resolved unit descriptor. It is treated as immutable once
// the owning suite has been normalized.
type Unit struct {
	Name      string
	Signature string // distinguishes overloads, defaults to Name
	Class     string // set by Normalize
	Test      string // set by Normalize

	Config ConfigKind

	DependsOnUnits            []string
	DependsOnGroups           []string
	Groups                    []string
	AlwaysRun                 bool
	IgnoreMissingDependencies bool

	InvocationCount       int
	ThreadPoolSize        int
	Timeout               time.Duration
	SuccessPercentage     int
	SkipFailedInvocations bool
	Priority              int
	RetryPolicy           RetryPolicy

	// Invocations, when set, restricts execution to these logical
	// invocation indices. Rerun plans use it.
	Invocations []int

	Parameters  map[string]string
	Description string
	Invoker     Invoker

	index int
}

// QualifiedName is Class.Name.
func (u *Unit) QualifiedName() string {
	if u.Class == "" {
		return u.Name
	}
	return u.Class + "." + u.Name
}

// ID uniquely identifies the unit within a suite.
func (u *Unit) ID() string {
	sig := u.Signature
	if sig == "" {
		sig = u.Name
	}
	return u.Test + "/" + u.Class + "." + sig
}

// IsConfiguration reports whether the unit is a lifecycle hook.
func (u *Unit) IsConfiguration() bool {
	return u.Config != NotConfig
}

// Index is the declaration order of the unit within its test.
func (u *Unit) Index() int {
	return u.index
}

// HasGroup reports whether the unit carries group g.
func (u *Unit) HasGroup(g string) bool {
	for _, ug := range u.Groups {
		if ug == g {
			return true
		}
	}
	return false
}

// InGroup reports whether any of the unit's groups matches pattern.
func (u *Unit) InGroup(pattern string) bool {
	for _, g := range u.Groups {
		if MatchGroup(g, pattern) {
			return true
		}
	}
	return false
}

// MatchGroup matches a group name against an exact name or a pattern with
// a leading and/or trailing '*'. The empty pattern matches nothing.
func MatchGroup(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}

	prefix := strings.HasPrefix(pattern, "*")
	suffix := strings.HasSuffix(pattern, "*")
	switch {
	case prefix && suffix:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case prefix:
		return strings.HasSuffix(name, pattern[1:])
	case suffix:
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return name == pattern
}

// PlannedInvocations returns the logical invocation indices the unit runs.
func (u *Unit) PlannedInvocations() []int {
	if len(u.Invocations) > 0 {
		out := make([]int, 0, len(u.Invocations))
		for _, i := range u.Invocations {
			if i >= 0 && i < u.InvocationCount {
				out = append(out, i)
			}
		}
		return out
	}
	out := make([]int, u.InvocationCount)
	for i := range out {
		out[i] = i
	}
	return out
}

// Units returns every unit of the test in declaration order.
func (t *Test) Units() []*Unit {
	var units []*Unit
	for _, c := range t.Classes {
		units = append(units, c.Units...)
	}
	return units
}

// Configs returns the class's configuration units of the given kind.
func (c *Class) Configs(kind ConfigKind) []*Unit {
	var units []*Unit
	for _, u := range c.Units {
		if u.Config == kind {
			units = append(units, u)
		}
	}
	return units
}

// TestUnits returns the class's test-proper units.
func (c *Class) TestUnits() []*Unit {
	var units []*Unit
	for _, u := range c.Units {
		if !u.IsConfiguration() {
			units = append(units, u)
		}
	}
	return units
}

// AllUnits returns every unit of every test.
func (s *Suite) AllUnits() []*Unit {
	var units []*Unit
	for _, t := range s.Tests {
		units = append(units, t.Units()...)
	}
	return units
}

// Test looks up a test by name.
func (s *Suite) Test(name string) *Test {
	for _, t := range s.Tests {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Normalize fills derived fields, applies defaults and checks identity
// constraints. It must be called once before a suite is handed to the
// scheduler; calling it again is harmless.
func Normalize(s *Suite) error {
	if s == nil {
		return fmt.Errorf("nil suite")
	}
	if s.Parallel == "" {
		s.Parallel = ParallelNone
	}
	if s.ThreadCount <= 0 {
		s.ThreadCount = DefaultThreadCount
	}

	testNames := make(map[string]bool)
	for ti, t := range s.Tests {
		if t.Name == "" {
			t.Name = fmt.Sprintf("test-%d", ti+1)
		}
		if testNames[t.Name] {
			return fmt.Errorf("duplicate test %q", t.Name)
		}
		testNames[t.Name] = true

		classNames := make(map[string]bool)
		ids := make(map[string]bool)
		index := 0
		for _, c := range t.Classes {
			if c.Name == "" {
				return fmt.Errorf("test %q: class without a name", t.Name)
			}
			if classNames[c.Name] {
				return fmt.Errorf("test %q: duplicate class %q", t.Name, c.Name)
			}
			classNames[c.Name] = true

			for _, u := range c.Units {
				if u.Name == "" {
					return fmt.Errorf("test %q: class %q has a unit without a name", t.Name, c.Name)
				}
				u.Class = c.Name
				u.Test = t.Name
				if u.Signature == "" {
					u.Signature = u.Name
				}
				if u.InvocationCount < 1 {
					u.InvocationCount = 1
				}
				if u.ThreadPoolSize < 0 {
					u.ThreadPoolSize = 0
				}
				if u.SuccessPercentage <= 0 || u.SuccessPercentage > 100 {
					u.SuccessPercentage = 100
				}
				if ids[u.ID()] {
					return fmt.Errorf("test %q: duplicate unit %q", t.Name, u.ID())
				}
				ids[u.ID()] = true
				u.index = index
				index++
			}
		}
	}
	return nil
}
