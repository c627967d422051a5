package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// removeAllCmd represents the remove-all command
var removeAllCmd = &cobra.Command{
	Use:   "remove-all",
	Short: "Forget every peripheral the daemon has cached",
	Long: `Ask the adapter to remove every peripheral it knows about, dropping
cached pairings and GATT tables. --skip-alias keeps peripherals whose alias
matches, which is handy for preserving a paired input device.`,
	Args: cobra.NoArgs,
	RunE: runRemoveAll,
}

var removeAllSkipAlias string

func init() {
	removeAllCmd.Flags().StringVar(&removeAllSkipAlias, "skip-alias", "", "Keep peripherals with this alias")
}

func runRemoveAll(cmd *cobra.Command, args []string) error {
	m, _, err := newManager(cmd, nil)
	if err != nil {
		return err
	}

	before := len(m.Devices())
	if err := m.RemoveAllDevices(removeAllSkipAlias); err != nil {
		return fmt.Errorf("failed to remove devices: %w", err)
	}
	after := len(m.Devices())

	fmt.Printf("Removed %d peripheral(s), %d kept\n", before-after, after)
	return nil
}
