package main

import (
	"fmt"
	"os"
	"runtime"

	"hooky/internal/server"

	"github.com/spf13/cobra"
)

var (
	// These will be set during build with -ldflags
	gitCommit = "unknown"
	buildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version, build information, and runtime details for hooky.

When the binary was built without commit information, the commit reported by
the hosting platform (RENDER_GIT_COMMIT) is shown instead.`,
	Run: runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version")
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if versionShort {
		fmt.Fprintln(out, version)
		return
	}

	commit := gitCommit
	if commit == "unknown" {
		if env := os.Getenv(server.EnvCommit); env != "" {
			commit = env
		}
	}

	fmt.Fprintf(out, "hooky version %s\n", version)
	fmt.Fprintf(out, "  Git commit:  %s\n", commit)
	fmt.Fprintf(out, "  Build date:  %s\n", buildDate)
	fmt.Fprintf(out, "  Go version:  %s\n", runtime.Version())
	fmt.Fprintf(out, "  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
