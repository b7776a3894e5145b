// Command incidentd groups runtime error events into incidents and serves
// the incident API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "incidentd",
	Short: "incidentd - error event deduplication and incident tracking",
	Long: `incidentd fingerprints runtime error events by exception class and top
stack frames, folds repeats of the same failure within a five minute window
into one incident, and tracks each incident through its lifecycle.

Configuration is read from INCIDENTD_* environment variables and an optional .env file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
