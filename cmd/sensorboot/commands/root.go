package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sensorboot",
		Short: "Sensorboot - IoT sensor monitoring bootstrap orchestrator",
		Long: `Sensorboot prepares and launches the sensor monitoring server in a
single fail-fast sequence:

  1. Ensure the isolated runtime environment exists
  2. Activate the environment
  3. Install the dependency manifest
  4. Launch the monitoring server

A step failure halts the sequence immediately; later steps never run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}
