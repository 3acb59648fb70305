package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionShortFlag bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  usageArgs(cobra.NoArgs),
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		v := resolvedVersion()
		if versionShortFlag {
			fmt.Fprintln(w, v)
			return
		}
		fmt.Fprintf(w, "hitsuite version %s\n", v)
		fmt.Fprintf(w, "Built: %s\n", buildTime)
		fmt.Fprintf(w, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShortFlag, "short", false, "Print only the version number")
}

// resolvedVersion falls back to the module version for go install builds,
// which carry no -ldflags.
func resolvedVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
