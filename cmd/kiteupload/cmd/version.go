package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// These global variables are injected at build time to provide the
// version command
var (
	Version = "v0.0.0"
	Commit  = "commit"
	Date    = "today"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version of the binary you're running",
	Long:  `this shows you the version of the binary that is running`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kiteupload %s (%s) built %s with %s %s/%s\n",
			Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
