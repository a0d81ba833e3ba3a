// Switcherctl is a command line utility for Switcher IoT devices.
//
// It provides passive device discovery over UDP broadcasts and direct
// control commands (power, timers, schedules, shutter position, thermostat
// settings) over the devices' TCP command channel.
//
// Usage:
//
//	switcherctl [command] [flags]
//
// See 'switcherctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomerfi/switcher/internal/logging"
	"github.com/tomerfi/switcher/internal/version"
)

func main() {
	if err := logging.InitializeFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "switcherctl",
	Short: "Switcher Device Control Utility",
	Long: `A standalone utility for controlling Switcher IoT devices.

Provides passive device discovery and direct control commands for
Switcher water heaters, power plugs, shutters, and thermostats.

Devices seen during a scan are stored in the local registry, so later
commands only need the device id.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("switcherctl %s\n", version.Full())
	},
}
