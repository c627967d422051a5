package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// powerCmd represents the power command
var powerCmd = &cobra.Command{
	Use:       "power <on|off|status>",
	Short:     "Control the local Bluetooth adapter",
	Long:      `Power the local Bluetooth adapter on or off, or report its current state.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE:      runPower,
}

func runPower(cmd *cobra.Command, args []string) error {
	action := args[0]
	if action != "on" && action != "off" && action != "status" {
		return fmt.Errorf("invalid action '%s': must be on, off, or status", action)
	}

	m, _, err := newManager(cmd, nil)
	if err != nil {
		return err
	}

	switch action {
	case "on":
		if err := m.SetAdapterPowered(true); err != nil {
			return fmt.Errorf("failed to power on %s: %w", m.AdapterName(), err)
		}
	case "off":
		if err := m.SetAdapterPowered(false); err != nil {
			return fmt.Errorf("failed to power off %s: %w", m.AdapterName(), err)
		}
	}

	powered, err := m.IsAdapterPowered()
	if err != nil {
		return fmt.Errorf("failed to read adapter state: %w", err)
	}

	state := color.RedString("off")
	if powered {
		state = color.GreenString("on")
	}
	fmt.Printf("%s: %s\n", m.AdapterName(), state)
	return nil
}
