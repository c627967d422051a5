package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattkit/pkg/gatt"
)

// disconnectCmd represents the disconnect command
var disconnectCmd = &cobra.Command{
	Use:   "disconnect <mac-address>",
	Short: "Disconnect a connected peripheral",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

var disconnectTimeout time.Duration

func init() {
	disconnectCmd.Flags().DurationVarP(&disconnectTimeout, "timeout", "t", 10*time.Second, "Give up waiting for confirmation after this time")
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	mac := args[0]

	m, _, err := newManager(cmd, nil)
	if err != nil {
		return err
	}

	d := gatt.NewDevice(m, mac, gatt.Unmanaged())
	if !d.IsConnected() {
		fmt.Printf("%s is not connected\n", mac)
		return nil
	}

	// The disconnect request itself is fire-and-observe; confirmation is
	// polled off the Connected property rather than holding an event loop
	// open for a one-shot command.
	d.Disconnect()

	deadline := time.Now().Add(disconnectTimeout)
	for time.Now().Before(deadline) {
		if !d.IsConnected() {
			fmt.Printf("Disconnected %s\n", mac)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("no disconnect confirmation from %s after %s", mac, disconnectTimeout)
}
