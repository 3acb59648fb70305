package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/parser"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/resolver"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/suite"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <suite.yaml|directory>...",
	Short: "List the tests, classes and units of suites",
	Long: `List every test, class and unit of the given suites, with groups,
configurations and dependencies. Group filters show what a run with the
same filters would keep.

Examples:
  hitsuite list smoke.suite.yaml
  hitsuite list ./suites/ --groups smoke`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: listCommand,
}

var (
	listGroupsFlag  []string
	listExcludeFlag []string
)

func init() {
	listCmd.Flags().StringSliceVarP(&listGroupsFlag, "groups", "g", nil, "Keep only units in these groups")
	listCmd.Flags().StringSliceVar(&listExcludeFlag, "exclude-groups", nil, "Drop units in these groups")
}

func listCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return exitError(ExitUsageError, err)
	}

	if len(files) == 0 {
		return exitError(ExitUsageError, fmt.Errorf("no suite files found"))
	}

	r := runner.NewRunner(&runner.Config{
		IncludeGroups: listGroupsFlag,
		ExcludeGroups: listExcludeFlag,
	})

	code := ExitSuccess
	for _, file := range files {
		s, _, err := parser.Load(file, parser.BuildOptions{})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error parsing %s: %v\n", file, err)
			code = max(code, ExitParseError)
			continue
		}
		prepared, err := r.Prepare(s)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			code = max(code, ExitConfigError)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", file)
		printSuite(cmd.OutOrStdout(), prepared, false)
	}

	if code != ExitSuccess {
		return exitError(code, nil)
	}
	return nil
}

// printSuite writes the tree of a prepared suite. With order set, test
// units of each test are listed in the order the dispatcher considers them
// instead of by class.
func printSuite(w io.Writer, s *suite.Suite, order bool) {
	fmt.Fprintf(w, "  suite %s (parallel=%s, threads=%d", s.Name, s.Parallel, s.ThreadCount)
	if s.Timeout > 0 {
		fmt.Fprintf(w, ", timeout=%s", s.Timeout)
	}
	fmt.Fprintln(w, ")")

	for _, t := range s.Tests {
		fmt.Fprintf(w, "    test %s", t.Name)
		if t.Parallel != "" {
			fmt.Fprintf(w, " (parallel=%s)", t.Parallel)
		}
		fmt.Fprintln(w)

		res := resolver.New(t.Units())
		if order {
			units := make([]*suite.Unit, 0)
			for _, c := range t.Classes {
				for _, u := range c.Units {
					if u.IsConfiguration() {
						fmt.Fprintf(w, "      @%s %s.%s\n", u.Config, u.Class, u.Name)
					}
				}
				units = append(units, c.TestUnits()...)
			}
			sort.SliceStable(units, func(i, j int) bool {
				if units[i].Priority != units[j].Priority {
					return units[i].Priority < units[j].Priority
				}
				return units[i].Index() < units[j].Index()
			})
			for _, u := range units {
				fmt.Fprintf(w, "      %s%s\n", u.QualifiedName(), unitDetails(res, u))
			}
			continue
		}

		for _, c := range t.Classes {
			fmt.Fprintf(w, "      class %s\n", c.Name)
			for _, u := range c.Units {
				if u.IsConfiguration() {
					fmt.Fprintf(w, "        @%s %s\n", u.Config, u.Name)
					continue
				}
				fmt.Fprintf(w, "        - %s%s\n", u.Name, unitDetails(res, u))
			}
		}
	}
}

func unitDetails(res *resolver.Resolver, u *suite.Unit) string {
	var parts []string
	if u.Signature != "" && u.Signature != u.Name {
		parts = append(parts, "signature: "+u.Signature)
	}
	if len(u.Groups) > 0 {
		parts = append(parts, "groups: "+strings.Join(u.Groups, ","))
	}
	if deps, err := res.Direct(u); err == nil && len(deps) > 0 {
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.QualifiedName()
		}
		parts = append(parts, "depends on: "+strings.Join(names, ","))
	}
	if u.InvocationCount > 1 {
		parts = append(parts, fmt.Sprintf("x%d", u.InvocationCount))
	}
	if u.Priority != 0 {
		parts = append(parts, fmt.Sprintf("priority %d", u.Priority))
	}
	if u.AlwaysRun {
		parts = append(parts, "alwaysRun")
	}
	if len(parts) == 0 {
		return ""
	}
	return "  [" + strings.Join(parts, "; ") + "]"
}
