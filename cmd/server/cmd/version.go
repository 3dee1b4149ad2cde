package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/api"
)

// Set with -ldflags "-X .../cmd.Version=..." at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version number, git commit, build date and Go runtime of this binary. Needs no configuration.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := buildInfo()
		fmt.Fprintf(cmd.OutOrStdout(),
			"Catalog Server\nVersion:    %s\nGit commit: %s\nBuild date: %s\nGo version: %s\nPlatform:   %s/%s\n",
			info.Version, info.GitCommit, info.BuildDate, info.GoVersion, runtime.GOOS, runtime.GOARCH)
	},
}

// buildInfo is also served on GET /version.
func buildInfo() api.BuildInfo {
	return api.BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
