package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roadpulse",
	Short: "RoadPulse - crowdsensed road comfort backend",
	Long: `RoadPulse backend CLI

Aggregates per-vehicle road comfort predictions into per-segment
estimates, serves them over HTTP, and evaluates comfort-aware
route costs.

Usage:
  go run ./cmd/roadpulse [command]

Examples:
  go run ./cmd/roadpulse api
  go run ./cmd/roadpulse simulate --vehicles 20 --rate 50
  go run ./cmd/roadpulse status
  go run ./cmd/roadpulse cleanup`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
