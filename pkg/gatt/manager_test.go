package gatt_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/gattkit/internal/bluez"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srg/gattkit/pkg/gatt"
)

type ManagerTestSuite struct {
	managerSuite
}

func TestManagerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) adapter() dbus.ObjectPath {
	return bluez.AdapterPath(testutils.AdapterName)
}

func (s *ManagerTestSuite) TestAdapterNotFound() {
	// GOAL: Verify construction fails cleanly for a nonexistent adapter
	_, err := gatt.NewDeviceManager(s.Bus, &gatt.Config{AdapterName: "hci9", Logger: s.Logger})

	s.Require().Error(err, "construction MUST fail for an unknown adapter")
	s.ErrorIs(err, gatt.ErrAdapterNotFound, "error MUST carry the adapter-not-found kind")
}

func (s *ManagerTestSuite) TestAdapterPower() {
	// GOAL: Verify powered state reads and writes round-trip through the bus
	s.startManager(nil)

	powered, err := s.Manager.IsAdapterPowered()
	s.NoError(err)
	s.True(powered, "suite adapter MUST start powered")

	s.NoError(s.Manager.SetAdapterPowered(false))
	powered, err = s.Manager.IsAdapterPowered()
	s.NoError(err)
	s.False(powered, "powered write MUST be observable on the next read")
}

func (s *ManagerTestSuite) TestSetAdapterPoweredAccessDenied() {
	// GOAL: Verify the unprivileged-caller denial maps to a useful error
	s.startManager(nil)

	s.Bus.StubCall(s.adapter(), bluez.PropertiesInterface, "Set", nil, dbus.Error{
		Name: "org.freedesktop.DBus.Error.AccessDenied",
	})

	err := s.Manager.SetAdapterPowered(true)
	s.Require().Error(err)
	s.ErrorIs(err, gatt.ErrAccessDenied)
	s.Contains(err.Error(), "root permissions required", "bare denial MUST gain an actionable message")
}

func (s *ManagerTestSuite) TestStartDiscoverySetsLEFilter() {
	// GOAL: Verify discovery configures the LE transport filter before scanning
	s.startManager(nil)

	s.Require().NoError(s.Manager.StartDiscovery([]string{"180D", "180f"}, 0))

	s.Equal(1, s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "SetDiscoveryFilter"),
		"filter MUST be set exactly once")
	s.Equal(1, s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "StartDiscovery"))
}

func (s *ManagerTestSuite) TestStartDiscoveryAlreadyInProgress() {
	// GOAL: Verify a second start while scanning is not an error
	s.startManager(nil)

	s.Require().NoError(s.Manager.StartDiscovery(nil, 0))
	s.Bus.StubCall(s.adapter(), bluez.AdapterInterface, "StartDiscovery", nil, dbus.Error{
		Name: "org.bluez.Error.InProgress",
		Body: []interface{}{"Operation already in progress"},
	})

	s.NoError(s.Manager.StartDiscovery(nil, 0), "start during an active scan MUST be absorbed")
}

func (s *ManagerTestSuite) TestStartDiscoveryAdapterOff() {
	// GOAL: Verify the powered-off adapter surfaces a distinct error
	s.startManager(nil)

	s.Bus.StubCall(s.adapter(), bluez.AdapterInterface, "StartDiscovery", nil, dbus.Error{
		Name: "org.bluez.Error.NotReady",
		Body: []interface{}{"Resource Not Ready"},
	})

	err := s.Manager.StartDiscovery(nil, 0)
	s.Require().Error(err)
	s.ErrorIs(err, gatt.ErrNotReady)
	s.Contains(err.Error(), "power it on", "error MUST tell the caller what to do")
}

func (s *ManagerTestSuite) TestSetDiscoveryFilterAdapterOff() {
	// GOAL: Verify a powered-off adapter rejecting the filter call gets the
	// same distinct error as the scan call itself
	s.startManager(nil)

	s.Bus.StubCall(s.adapter(), bluez.AdapterInterface, "SetDiscoveryFilter", nil, dbus.Error{
		Name: "org.bluez.Error.NotReady",
		Body: []interface{}{"Resource Not Ready"},
	})

	err := s.Manager.StartDiscovery(nil, 0)
	s.Require().Error(err)
	s.ErrorIs(err, gatt.ErrNotReady)
	s.Contains(err.Error(), "power it on", "error MUST tell the caller what to do")
	s.Zero(s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "StartDiscovery"),
		"a rejected filter MUST NOT be followed by a scan request")
}

func (s *ManagerTestSuite) TestStartDiscoveryRejectsInvalidUUID() {
	// GOAL: Verify UUID validation happens before any bus traffic
	s.startManager(nil)

	err := s.Manager.StartDiscovery([]string{"not-a-uuid"}, 0)
	s.Require().Error(err)
	s.Zero(s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "SetDiscoveryFilter"),
		"invalid input MUST NOT reach the adapter")
}

func (s *ManagerTestSuite) TestStopDiscoveryWithoutScanIsNoop() {
	// GOAL: Verify stopping an idle adapter is absorbed
	s.startManager(nil)

	s.Bus.StubCall(s.adapter(), bluez.AdapterInterface, "StopDiscovery", nil, dbus.Error{
		Name: "org.bluez.Error.Failed",
		Body: []interface{}{"No discovery started"},
	})

	s.NoError(s.Manager.StopDiscovery(), "stop with no scan running MUST be a no-op")
}

func (s *ManagerTestSuite) TestDiscoveryTimeoutAutoStops() {
	// GOAL: Verify a positive timeout stops the scan without caller action
	s.startManager(nil)

	s.Require().NoError(s.Manager.StartDiscovery(nil, 20*time.Millisecond))

	s.Eventually(func() bool {
		return s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "StopDiscovery") == 1
	}, waitFor, tick, "scan MUST stop itself after the timeout")
}

func (s *ManagerTestSuite) TestInitialRegistrySync() {
	// GOAL: Verify peripherals already known to the daemon are registered at
	// construction, and foreign paths are skipped
	s.Bus.WithDevice("AA:BB:CC:DD:EE:FF")
	s.Bus.SetObjectProperty("/org/bluez/hci0/oddball", bluez.DeviceInterface, "Address", "nope")

	s.startManager(nil)

	s.NotNil(s.Manager.Device("aa:bb:cc:dd:ee:ff"), "pre-existing peripheral MUST be registered")
	s.NotNil(s.Manager.Device("AA:BB:CC:DD:EE:FF"), "lookup MUST be case-insensitive")
	s.Len(s.Manager.Devices(), 1, "unparseable paths MUST be skipped")
}

func (s *ManagerTestSuite) TestDiscoveryFiresOncePerDevice() {
	// GOAL: Verify repeated advertisements of one peripheral invoke the
	// discovery hook exactly once
	var discovered atomic.Int32
	s.startManager(&gatt.Config{
		Logger:           s.Logger,
		DeviceDiscovered: func(*gatt.Device) { discovered.Add(1) },
	})

	path := s.devicePath("AA:BB:CC:DD:EE:FF")
	s.Bus.EmitInterfacesAdded(path, map[string]map[string]dbus.Variant{
		bluez.DeviceInterface: {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
	})
	s.Eventually(func() bool { return discovered.Load() == 1 }, waitFor, tick,
		"first sighting MUST fire the hook")

	// Subsequent advertisements surface as property changes.
	s.Bus.EmitPropertiesChanged(path, bluez.DeviceInterface, map[string]dbus.Variant{
		"RSSI": dbus.MakeVariant(int16(-60)),
	})
	s.Bus.EmitPropertiesChanged(path, bluez.DeviceInterface, map[string]dbus.Variant{
		"RSSI": dbus.MakeVariant(int16(-58)),
	})

	other := s.devicePath("11:22:33:44:55:66")
	s.Bus.EmitPropertiesChanged(other, bluez.DeviceInterface, map[string]dbus.Variant{
		"RSSI": dbus.MakeVariant(int16(-70)),
	})

	s.Eventually(func() bool { return discovered.Load() == 2 }, waitFor, tick,
		"a second peripheral MUST fire the hook again")
	s.Equal(int32(2), discovered.Load(), "repeated advertisements MUST NOT re-fire the hook")
	s.NotNil(s.Manager.Device("11:22:33:44:55:66"))
}

func (s *ManagerTestSuite) TestDeviceFactoryCanSuppressRegistration() {
	// GOAL: Verify a nil-returning factory keeps the peripheral out of the
	// registry entirely
	s.startManager(&gatt.Config{
		Logger:     s.Logger,
		MakeDevice: func(*gatt.DeviceManager, string) *gatt.Device { return nil },
	})

	path := s.devicePath("AA:BB:CC:DD:EE:FF")
	s.Bus.EmitInterfacesAdded(path, map[string]map[string]dbus.Variant{
		bluez.DeviceInterface: {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
	})
	s.Bus.EmitPropertiesChanged(path, bluez.DeviceInterface, map[string]dbus.Variant{
		"RSSI": dbus.MakeVariant(int16(-60)),
	})

	// Give the loop time to mis-register before asserting it didn't.
	time.Sleep(50 * time.Millisecond)
	s.Nil(s.Manager.Device("aa:bb:cc:dd:ee:ff"), "suppressed peripheral MUST NOT be registered")
}

func (s *ManagerTestSuite) TestRemoveAllDevicesSkipsAlias() {
	// GOAL: Verify bulk removal forgets every peripheral except the skipped alias
	s.Bus.WithDevice("AA:BB:CC:DD:EE:FF").WithAlias("Keyboard")
	s.Bus.WithDevice("11:22:33:44:55:66").WithAlias("Sensor")
	s.startManager(nil)

	s.Require().NoError(s.Manager.RemoveAllDevices("Keyboard"))

	s.Equal(1, s.Bus.CallCount(s.adapter(), bluez.AdapterInterface, "RemoveDevice"),
		"exactly one peripheral MUST be removed")
	s.NotNil(s.Manager.Device("aa:bb:cc:dd:ee:ff"), "skipped alias MUST survive")
	s.Nil(s.Manager.Device("11:22:33:44:55:66"), "removed peripheral MUST leave the registry")
}

func (s *ManagerTestSuite) TestRunIsIdempotentWhileRunning() {
	// GOAL: Verify a second Run on a running manager returns immediately
	s.startManager(nil)

	done := make(chan error, 1)
	go func() { done <- s.Manager.Run() }()

	select {
	case err := <-done:
		s.NoError(err, "second Run MUST return nil")
	case <-time.After(waitFor):
		s.FailNow("second Run MUST NOT block")
	}
}

func (s *ManagerTestSuite) TestStopReleasesEverySubscription() {
	// GOAL: Verify teardown releases device subscriptions before the
	// manager's own signal streams, leaving no match behind
	s.Bus.WithDevice("AA:BB:CC:DD:EE:FF")
	s.startManager(nil)

	d := s.Manager.Device("aa:bb:cc:dd:ee:ff")
	s.Require().NotNil(d)
	d.Connect()

	s.Eventually(func() bool { return s.Bus.MatchCount() == 3 }, waitFor, tick,
		"connect MUST add the device's property subscription")

	s.stopManager()
	s.Zero(s.Bus.MatchCount(), "no signal match may survive shutdown")
}
