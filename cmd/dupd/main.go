package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "dupd",
		Short:   "Find duplicate files",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newRefreshCmd())
	root.AddCommand(newValidateCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
