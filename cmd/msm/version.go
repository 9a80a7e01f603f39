package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/shen2/MSM/pkg/engine"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show MSM version",
	Long:  "Display the MSM CLI version and the drivers it was built with",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MSM v%s\n", Version)

		if verbose {
			fmt.Fprintln(out, "\nComponents:")
			fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  Drivers:  %s (pgx), %s (go-sql-driver), %s (lib/pq)\n",
				engine.DriverPostgres, engine.DriverMySQL, engine.DriverPQ)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
