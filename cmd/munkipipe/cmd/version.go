package cmd

import (
	"fmt"
	"runtime"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/adahealth/munkipipe/cmd/munkipipe/cmd.Version=..."
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

// VersionInfo describes the build of the munkipipe binary
type VersionInfo struct {
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty" yaml:"buildDate,omitempty"`
	GitCommit string `json:"gitCommit,omitempty" yaml:"gitCommit,omitempty"`
	GitState  string `json:"gitState,omitempty" yaml:"gitState,omitempty"`
	GoVersion string `json:"goVersion,omitempty" yaml:"goVersion,omitempty"`
}

func NewVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   "dev",
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GitState:  GitState,
		GoVersion: runtime.Version(),
	}
	if Version != "" {
		info.Version = Version
		if info.GitState == "" {
			info.GitState = "clean"
		}
	}
	return info
}

func (v VersionInfo) String() string {
	table := uitable.New()
	table.AddRow("Version:", v.Version)
	table.AddRow("Build date:", v.BuildDate)
	table.AddRow("Commit:", v.GitCommit)
	table.AddRow("Working tree:", v.GitState)
	table.AddRow("Go:", v.GoVersion)
	return table.String() + "\n"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of munkipipe",
	Long: `Prints the version of munkipipe: the release tag, the build date, the commit the binary
was built from, whether that working tree was dirty, and the Go toolchain used.
`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), NewVersionInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
