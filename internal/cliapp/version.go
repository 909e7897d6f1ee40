package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiopslab/taskrunner/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(versionString())
		fmt.Printf("  commit:     %s\n", version.GitCommit)
		fmt.Printf("  built:      %s\n", version.BuildTime)
		fmt.Printf("  go version: %s\n", version.GoVersion())
	},
}

func versionString() string {
	return fmt.Sprintf("taskrunnerd %s", version.Version)
}
