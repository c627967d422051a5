package gatt

import (
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattkit/internal/bluez"
)

const (
	// signalBuffer sizes the channel the bus delivers signals on. BlueZ can
	// burst advertisement property changes during discovery.
	signalBuffer = 128

	// taskBuffer sizes the queue of async call completions awaiting the
	// event loop.
	taskBuffer = 128
)

// Config configures a DeviceManager. Hooks left nil fall back to the default
// behavior described on each field.
type Config struct {
	// AdapterName names the local Bluetooth controller.
	AdapterName string `default:"hci0"`

	// Logger receives structured diagnostics. A fresh logger is created when
	// nil.
	Logger *logrus.Logger

	// DeviceDiscovered is invoked once per newly observed peripheral, on the
	// event loop. The default forwards to the device handler's Advertised
	// hook.
	DeviceDiscovered func(d *Device)

	// MakeDevice constructs the Device for a discovered MAC address.
	// Returning nil suppresses registration of that peripheral entirely.
	// The default constructs a plain Device with the default handler.
	MakeDevice func(m *DeviceManager, mac string) *Device
}

// DeviceManager is the entry point of the library. It owns the adapter
// handle, the device registry, and the single event loop on which every
// hook of every owned Device is dispatched.
type DeviceManager struct {
	bus    bluez.Bus
	cfg    Config
	logger *logrus.Logger

	adapterName string
	adapterPath dbus.ObjectPath

	registry *hashmap.Map[string, *Device]
	router   *signalRouter

	tasks chan func()

	mu             sync.Mutex
	quit           chan struct{}
	running        bool
	discoveryTimer *time.Timer
}

// NewDeviceManager resolves the named adapter on the given bus and performs
// an initial registry population from the currently managed objects. It
// fails with ErrAdapterNotFound when the platform has no such adapter.
func NewDeviceManager(bus bluez.Bus, cfg *Config) (*DeviceManager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	defaults.SetDefaults(cfg)

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	m := &DeviceManager{
		bus:         bus,
		cfg:         *cfg,
		logger:      logger,
		adapterName: cfg.AdapterName,
		adapterPath: bluez.AdapterPath(cfg.AdapterName),
		registry:    hashmap.New[string, *Device](),
		router:      newSignalRouter(logger),
		tasks:       make(chan func(), taskBuffer),
	}

	objects, err := bus.ManagedObjects()
	if err != nil {
		return nil, fromDBusError(err)
	}
	if _, ok := objects[m.adapterPath][bluez.AdapterInterface]; !ok {
		return nil, &Error{
			Kind:    KindAdapterNotFound,
			Message: "no adapter at path " + string(m.adapterPath),
		}
	}

	m.syncDevices(objects)
	return m, nil
}

// AdapterName returns the name of the local controller this manager uses.
func (m *DeviceManager) AdapterName() string { return m.adapterName }

// Logger returns the logger shared across this manager's device tree.
func (m *DeviceManager) Logger() *logrus.Logger { return m.logger }

// IsAdapterPowered reports the adapter's Powered property.
func (m *DeviceManager) IsAdapterPowered() (bool, error) {
	v, err := m.bus.Property(m.adapterPath, bluez.AdapterInterface, "Powered")
	if err != nil {
		return false, fromDBusError(err)
	}
	powered, _ := v.Value().(bool)
	return powered, nil
}

// SetAdapterPowered writes the adapter's Powered property synchronously.
func (m *DeviceManager) SetAdapterPowered(powered bool) error {
	if err := m.bus.SetProperty(m.adapterPath, bluez.AdapterInterface, "Powered", powered); err != nil {
		return fromDBusError(err)
	}
	return nil
}

// StartDiscovery configures an LE-transport discovery filter, optionally
// narrowed to the given service UUIDs, and starts scanning. Discovery
// already being in progress is not an error. When timeout is positive,
// StopDiscovery is called automatically once it elapses.
func (m *DeviceManager) StartDiscovery(serviceUUIDs []string, timeout time.Duration) error {
	normalized, err := NormalizeServiceUUIDs(serviceUUIDs)
	if err != nil {
		return err
	}

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	// An empty UUID list means unfiltered; D-Bus cannot type an empty array
	// inside a variant anyway.
	if len(normalized) > 0 {
		filter["UUIDs"] = dbus.MakeVariant(normalized)
	}

	if err := m.discoveryCall("SetDiscoveryFilter", filter); err != nil {
		return err
	}
	if err := m.discoveryCall("StartDiscovery"); err != nil {
		return err
	}

	if timeout > 0 {
		m.mu.Lock()
		if m.discoveryTimer != nil {
			m.discoveryTimer.Stop()
		}
		m.discoveryTimer = time.AfterFunc(timeout, func() {
			if err := m.StopDiscovery(); err != nil {
				m.logger.WithField("error", err).Warn("Failed to stop discovery after timeout")
			}
		})
		m.mu.Unlock()
	}

	m.logger.WithFields(logrus.Fields{
		"adapter": m.adapterName,
		"uuids":   normalized,
	}).Info("Discovery started")
	return nil
}

// discoveryCall invokes one adapter method of the discovery start sequence.
// A powered-off adapter can reject either SetDiscoveryFilter or
// StartDiscovery with NotReady, so both share the translation; discovery
// already being in progress is absorbed.
func (m *DeviceManager) discoveryCall(method string, args ...interface{}) error {
	_, err := m.bus.Call(m.adapterPath, bluez.AdapterInterface, method, args...)
	switch {
	case err == nil:
		return nil
	case isRemoteError(err, dbusErrNotReady):
		return &Error{
			Kind:    KindNotReady,
			Message: "Bluetooth adapter not ready, power it on first",
		}
	case isRemoteError(err, dbusErrInProgress):
		return nil
	default:
		return fromDBusError(err)
	}
}

// StopDiscovery stops scanning. Stopping when no discovery is running is a
// no-op, not an error.
func (m *DeviceManager) StopDiscovery() error {
	m.mu.Lock()
	if m.discoveryTimer != nil {
		m.discoveryTimer.Stop()
		m.discoveryTimer = nil
	}
	m.mu.Unlock()

	if _, err := m.bus.Call(m.adapterPath, bluez.AdapterInterface, "StopDiscovery"); err != nil {
		if isRemoteError(err, dbusErrFailed) && remoteMessageHasSuffix(err, "No discovery started") {
			return nil
		}
		return fromDBusError(err)
	}
	return nil
}

// Devices returns a re-synchronized snapshot of all known devices.
func (m *DeviceManager) Devices() []*Device {
	objects, err := m.bus.ManagedObjects()
	if err != nil {
		m.logger.WithField("error", err).Warn("Failed to enumerate managed objects")
	} else {
		m.syncDevices(objects)
	}

	devices := make([]*Device, 0, m.registry.Len())
	m.registry.Range(func(_ string, d *Device) bool {
		devices = append(devices, d)
		return true
	})
	return devices
}

// Device returns the registered device for mac, or nil.
func (m *DeviceManager) Device(mac string) *Device {
	d, _ := m.registry.Get(normalizeMAC(mac))
	return d
}

// RemoveAllDevices asks the adapter to forget every registered peripheral,
// skipping devices whose alias equals skipAlias (when non-empty), and then
// re-synchronizes the registry.
func (m *DeviceManager) RemoveAllDevices(skipAlias string) error {
	var firstErr error
	m.registry.Range(func(mac string, d *Device) bool {
		if skipAlias != "" {
			if alias, err := d.Alias(); err == nil && alias == skipAlias {
				return true
			}
		}
		if _, err := m.bus.Call(m.adapterPath, bluez.AdapterInterface, "RemoveDevice", d.path); err != nil {
			if firstErr == nil {
				firstErr = fromDBusError(err)
			}
			return true
		}
		d.Invalidate()
		m.registry.Del(mac)
		return true
	})

	if objects, err := m.bus.ManagedObjects(); err == nil {
		m.syncDevices(objects)
	}
	return firstErr
}

// Run subscribes to the bus-wide discovery signal streams and dispatches
// events until Stop is called. It blocks the calling goroutine; calling it
// while already running returns immediately. On exit every registered
// device is invalidated before the signal streams are released.
func (m *DeviceManager) Run() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	quit := make(chan struct{})
	m.quit = quit
	m.running = true
	m.mu.Unlock()

	sigc := make(chan *dbus.Signal, signalBuffer)
	m.bus.Signal(sigc)

	addedSub, err := m.router.subscribe(m.bus, bluez.Match{
		Interface: bluez.ObjectManagerInterface,
		Member:    bluez.InterfacesAddedMember,
	}, m.interfacesAdded)
	if err != nil {
		m.bus.RemoveSignal(sigc)
		m.finishRun()
		return err
	}

	changedSub, err := m.router.subscribe(m.bus, bluez.Match{
		Interface: bluez.PropertiesInterface,
		Member:    bluez.PropertiesChangedMember,
		Arg0:      bluez.DeviceInterface,
	}, m.devicePropertiesChanged)
	if err != nil {
		addedSub.release()
		m.bus.RemoveSignal(sigc)
		m.finishRun()
		return err
	}

	m.logger.WithField("adapter", m.adapterName).Debug("Event loop started")

	// Children before parents: device trees release their subscriptions
	// before the manager's own signal streams go away.
	defer func() {
		m.registry.Range(func(_ string, d *Device) bool {
			d.Invalidate()
			return true
		})
		changedSub.release()
		addedSub.release()
		m.bus.RemoveSignal(sigc)
		m.finishRun()
		m.logger.Debug("Event loop stopped")
	}()

	for {
		select {
		case sig := <-sigc:
			m.router.dispatch(sig)
		case fn := <-m.tasks:
			fn()
		case <-quit:
			return nil
		}
	}
}

// Stop ends a Run in progress. It is safe to call from any goroutine and is
// a no-op when the loop is not running.
func (m *DeviceManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.discoveryTimer != nil {
		m.discoveryTimer.Stop()
		m.discoveryTimer = nil
	}
}

func (m *DeviceManager) finishRun() {
	m.mu.Lock()
	m.running = false
	m.quit = nil
	m.mu.Unlock()
}

// enqueue schedules fn onto the event loop. Async call completions go
// through here so that every hook runs in loop context. A full queue drops
// the task; that only happens when Run is not pumping.
func (m *DeviceManager) enqueue(fn func()) {
	select {
	case m.tasks <- fn:
	default:
		m.logger.Warn("Event queue full, dropping completion; is Run() running?")
	}
}

// interfacesAdded handles org.freedesktop.DBus.ObjectManager.InterfacesAdded.
func (m *DeviceManager) interfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	if _, ok := ifaces[bluez.DeviceInterface]; !ok {
		return
	}
	m.dispatchDiscovery(path)
}

// devicePropertiesChanged handles PropertiesChanged scoped to
// org.bluez.Device1. A property change and a new object are treated
// identically from the registry's point of view: this device exists.
func (m *DeviceManager) devicePropertiesChanged(sig *dbus.Signal) {
	m.dispatchDiscovery(sig.Path)
}

func (m *DeviceManager) dispatchDiscovery(path dbus.ObjectPath) {
	mac, ok := bluez.DeviceAddress(m.adapterPath, path)
	if !ok {
		return
	}
	if _, known := m.registry.Get(mac); known {
		// Repeated advertisements for an already-known device do not
		// re-invoke the discovery hook.
		return
	}
	d := m.makeDevice(mac)
	if d == nil {
		return
	}
	m.logger.WithField("mac", mac).Debug("Device discovered")
	if m.cfg.DeviceDiscovered != nil {
		m.cfg.DeviceDiscovered(d)
		return
	}
	d.handler.Advertised(d)
}

// makeDevice runs the configured factory. The returned device has already
// registered itself through manageDevice.
func (m *DeviceManager) makeDevice(mac string) *Device {
	if m.cfg.MakeDevice != nil {
		return m.cfg.MakeDevice(m, mac)
	}
	return NewDevice(m, mac)
}

// manageDevice installs d in the registry. A device already registered at
// the same address is invalidated first so no callback from the superseded
// instance can fire afterwards.
func (m *DeviceManager) manageDevice(d *Device) {
	if existing, ok := m.registry.Get(d.mac); ok {
		existing.Invalidate()
	}
	m.registry.Set(d.mac, d)
}

// syncDevices constructs devices for recognized peripheral paths that are
// not yet registered. Unrecognized paths are skipped silently. The discovery
// hook does not fire here; population is not discovery.
func (m *DeviceManager) syncDevices(objects bluez.ManagedObjects) {
	for path := range objects {
		mac, ok := bluez.DeviceAddress(m.adapterPath, path)
		if !ok {
			continue
		}
		if _, known := m.registry.Get(mac); known {
			continue
		}
		m.makeDevice(mac)
	}
}
