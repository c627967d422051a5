package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/pkg/gatt"
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover nearby BLE peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals and print each one as it is
first sighted. The listing shows the MAC address and alias of every
peripheral; --services narrows the scan to peripherals advertising the
given service UUIDs, and --filter narrows the printed output by substring
match on the address or alias.`,
	RunE: runDiscover,
}

var (
	discoverDuration time.Duration
	discoverServices []string
	discoverFilter   string
)

func init() {
	discoverCmd.Flags().DurationVarP(&discoverDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	discoverCmd.Flags().StringSliceVarP(&discoverServices, "services", "s", nil, "Filter by service UUIDs")
	discoverCmd.Flags().StringVarP(&discoverFilter, "filter", "f", "", "Only print peripherals whose address or alias contains this substring")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	found := make(chan *gatt.Device, 64)
	m, logger, err := newManager(cmd, &gatt.Config{
		DeviceDiscovered: func(d *gatt.Device) { found <- d },
	})
	if err != nil {
		return err
	}

	loopDone := make(chan error, 1)
	groutine.Go(nil, "gatt-event-loop", func(context.Context) { loopDone <- m.Run() })
	defer func() {
		m.Stop()
		<-loopDone
	}()

	if err := m.StartDiscovery(discoverServices, discoverDuration); err != nil {
		return err
	}
	defer func() {
		if err := m.StopDiscovery(); err != nil {
			logger.WithField("error", err).Warn("Failed to stop discovery")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if discoverDuration > 0 {
		deadline = time.After(discoverDuration)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", color.New(color.Bold).Sprint("ADDRESS"), color.New(color.Bold).Sprint("ALIAS"))
	w.Flush()

	count := 0
	for {
		select {
		case d := <-found:
			if !matchesDiscoverFilter(d) {
				continue
			}
			count++
			alias, _ := d.Alias()
			fmt.Fprintf(w, "%s\t%s\n", color.CyanString(d.MACAddress()), alias)
			w.Flush()
		case <-deadline:
			fmt.Printf("\n%d peripheral(s) discovered\n", count)
			return nil
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, stopping discovery...")
			fmt.Printf("%d peripheral(s) discovered\n", count)
			return nil
		}
	}
}

func matchesDiscoverFilter(d *gatt.Device) bool {
	if discoverFilter == "" {
		return true
	}
	needle := strings.ToLower(discoverFilter)
	if strings.Contains(d.MACAddress(), needle) {
		return true
	}
	alias, err := d.Alias()
	return err == nil && strings.Contains(strings.ToLower(alias), needle)
}
