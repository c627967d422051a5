package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gattctl",
	Short: "BLE GATT client tool",
	Long: `Command-line client for Bluetooth Low Energy peripherals:

- Power the local adapter on and off
- Discover nearby peripherals, optionally filtered by service UUID
- Connect to a peripheral and dump its GATT service tree
- Read, write, and subscribe to characteristics
- Forget peripherals the daemon has cached

Useful for exploring GATT tables and testing BLE firmware.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(removeAllCmd)

	// Global flags
	rootCmd.PersistentFlags().String("adapter", "", "Bluetooth adapter name (default hci0, or from ~/.gattctl.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}
