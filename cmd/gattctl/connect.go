package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/gattkit/internal/bledb"
	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/pkg/gatt"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <mac-address>",
	Short: "Connect to a peripheral and dump its GATT tree",
	Long: `Connect to a Bluetooth Low Energy peripheral, wait for service
resolution, and print the full service/characteristic/descriptor tree.

The session stays open until Ctrl+C. While open, --read issues one read per
given characteristic, --write writes hex data to a characteristic, and
--notify subscribes to value changes; every observed value is printed as it
arrives. With --auto-reconnect the session re-issues the connect whenever
the peripheral drops the link.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectNotify        []string
	connectRead          []string
	connectWrite         []string
	connectAutoReconnect bool
	connectTimeout       time.Duration
)

func init() {
	connectCmd.Flags().StringSliceVarP(&connectNotify, "notify", "n", nil, "Subscribe to value changes of these characteristic UUIDs")
	connectCmd.Flags().StringSliceVarP(&connectRead, "read", "r", nil, "Read these characteristic UUIDs once after resolution")
	connectCmd.Flags().StringSliceVarP(&connectWrite, "write", "w", nil, "Write to a characteristic, as <uuid>:<hex-bytes>")
	connectCmd.Flags().BoolVar(&connectAutoReconnect, "auto-reconnect", false, "Reconnect automatically when the peripheral drops the link")
	connectCmd.Flags().DurationVarP(&connectTimeout, "timeout", "t", 30*time.Second, "Give up if the connection is not established in this time")
}

// writeSpec is one parsed --write argument.
type writeSpec struct {
	uuid string
	data []byte
}

// parseWriteSpec splits "<uuid>:<hex-bytes>" and decodes the data portion.
// The hex bytes may be separated by spaces, colons, or commas, and may carry
// a 0x prefix.
func parseWriteSpec(s string) (writeSpec, error) {
	uuidPart, dataPart, ok := strings.Cut(s, ":")
	if !ok || uuidPart == "" || dataPart == "" {
		return writeSpec{}, fmt.Errorf("invalid write spec %q: expected <uuid>:<hex-bytes>", s)
	}
	data, err := parseHexData(dataPart)
	if err != nil {
		return writeSpec{}, fmt.Errorf("invalid write spec %q: %w", s, err)
	}
	return writeSpec{uuid: uuidPart, data: data}, nil
}

// parseHexData decodes hex bytes in the common notations: "0a0b", "0a 0b",
// "0a:0b", "0a,0b", "0x0a0b".
func parseHexData(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", ",", "").Replace(strings.TrimSpace(s))
	cleaned = strings.TrimPrefix(cleaned, "0x")
	cleaned = strings.TrimPrefix(cleaned, "0X")
	if cleaned == "" {
		return nil, fmt.Errorf("empty hex data")
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("invalid hex data: odd number of digits")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// session receives the device hooks on the manager's event loop and turns
// them into terminal output plus the requested post-resolution operations.
type session struct {
	gatt.NopDeviceHandler

	notify    []string
	read      []string
	writes    []writeSpec
	reconnect bool

	failed       chan error
	disconnected chan struct{}
}

func (s *session) ConnectSucceeded(d *gatt.Device) {
	fmt.Printf("%s %s\n", color.GreenString("Connected:"), d.MACAddress())
}

func (s *session) ConnectFailed(d *gatt.Device, err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *session) DisconnectSucceeded(d *gatt.Device) {
	fmt.Printf("%s %s\n", color.YellowString("Disconnected:"), d.MACAddress())
	if s.reconnect {
		fmt.Println("Reconnecting...")
		d.Connect()
		return
	}
	select {
	case <-s.disconnected:
	default:
		close(s.disconnected)
	}
}

func (s *session) ServicesResolved(d *gatt.Device) {
	printGATTTree(d)

	for _, uuid := range s.read {
		if c := findCharacteristic(d, uuid); c != nil {
			c.ReadValue(0)
		} else {
			fmt.Printf("%s no characteristic %s\n", color.RedString("read:"), uuid)
		}
	}
	for _, spec := range s.writes {
		if c := findCharacteristic(d, spec.uuid); c != nil {
			c.WriteValue(spec.data, 0)
		} else {
			fmt.Printf("%s no characteristic %s\n", color.RedString("write:"), spec.uuid)
		}
	}
	for _, uuid := range s.notify {
		if c := findCharacteristic(d, uuid); c != nil {
			c.EnableNotifications(true)
		} else {
			fmt.Printf("%s no characteristic %s\n", color.RedString("notify:"), uuid)
		}
	}
}

func (s *session) CharacteristicValueUpdated(c *gatt.Characteristic, value []byte) {
	fmt.Printf("%s %s %s = %s\n",
		time.Now().Format("15:04:05.000"),
		color.CyanString("value"),
		c.UUID(),
		hex.EncodeToString(value))
}

func (s *session) CharacteristicReadValueFailed(c *gatt.Characteristic, err error) {
	fmt.Printf("%s %s: %s\n", color.RedString("read failed"), c.UUID(), err)
}

func (s *session) CharacteristicWriteValueSucceeded(c *gatt.Characteristic) {
	fmt.Printf("%s %s\n", color.GreenString("write ok"), c.UUID())
}

func (s *session) CharacteristicWriteValueFailed(c *gatt.Characteristic, err error) {
	fmt.Printf("%s %s: %s\n", color.RedString("write failed"), c.UUID(), err)
}

func (s *session) CharacteristicEnableNotificationsSucceeded(c *gatt.Characteristic) {
	fmt.Printf("%s %s\n", color.GreenString("notifying"), c.UUID())
}

func (s *session) CharacteristicEnableNotificationsFailed(c *gatt.Characteristic, err error) {
	fmt.Printf("%s %s: %s\n", color.RedString("notify failed"), c.UUID(), err)
}

func runConnect(cmd *cobra.Command, args []string) error {
	mac := args[0]

	writes := make([]writeSpec, 0, len(connectWrite))
	for _, raw := range connectWrite {
		spec, err := parseWriteSpec(raw)
		if err != nil {
			return err
		}
		writes = append(writes, spec)
	}

	m, _, err := newManager(cmd, nil)
	if err != nil {
		return err
	}

	sess := &session{
		notify:       connectNotify,
		read:         connectRead,
		writes:       writes,
		reconnect:    connectAutoReconnect,
		failed:       make(chan error, 1),
		disconnected: make(chan struct{}),
	}
	d := gatt.NewDevice(m, mac, gatt.WithDeviceHandler(sess))

	loopDone := make(chan error, 1)
	groutine.Go(nil, "gatt-event-loop", func(context.Context) { loopDone <- m.Run() })
	defer func() {
		m.Stop()
		<-loopDone
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Printf("Connecting to %s...\n", mac)
	d.Connect()

	connectDeadline := time.After(connectTimeout)
	for {
		select {
		case err := <-sess.failed:
			return fmt.Errorf("failed to connect to %s: %w", mac, err)
		case <-connectDeadline:
			if d.State() != gatt.StateConnected {
				return fmt.Errorf("timed out connecting to %s after %s", mac, connectTimeout)
			}
			connectDeadline = nil
		case <-sess.disconnected:
			return nil
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, disconnecting...")
			sess.reconnect = false
			d.Disconnect()
			select {
			case <-sess.disconnected:
			case <-time.After(5 * time.Second):
				fmt.Println("Disconnect confirmation not received, exiting anyway")
			}
			return nil
		}
	}
}

// printGATTTree dumps the resolved service tree in resolution order,
// annotating SIG-assigned UUIDs with their names.
func printGATTTree(d *gatt.Device) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)

	fmt.Fprintf(w, "\n%s\n", bold.Sprintf("GATT tree of %s", d.MACAddress()))
	for _, svc := range d.Services() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", color.MagentaString("service"), svc.UUID(), sigName(svc.UUID()))
		for _, c := range svc.Characteristics() {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", color.CyanString("characteristic"), c.UUID(), sigName(c.UUID()))
			for _, desc := range c.Descriptors() {
				fmt.Fprintf(w, "    %s\t%s\t%s\n", "descriptor", desc.UUID(), sigName(desc.UUID()))
			}
		}
	}
	fmt.Fprintln(w)
	w.Flush()
}

func sigName(uuid string) string {
	name, ok := bledb.Lookup(uuid)
	if !ok {
		return ""
	}
	return name
}

// findCharacteristic locates a characteristic by UUID anywhere in the
// device's resolved tree.
func findCharacteristic(d *gatt.Device, uuid string) *gatt.Characteristic {
	for _, svc := range d.Services() {
		if c := svc.Characteristic(uuid); c != nil {
			return c
		}
	}
	return nil
}
