package main

import (
	"fmt"
	"os"

	"github.com/cuemby/pilot/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "Pilot - placeholder job packing for levelled workflows",
	Long: `Pilot packs the tasks of a levelled workflow into placeholder
reservations on a batch queue, trading queue wait against reservation size.

It runs workflows against a simulated first-come first-served batch
service and keeps a history of past runs for comparison.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
	SilenceUsage: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pilot version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Add subcommands
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(clusteringCmd)
}
