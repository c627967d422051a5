package gatt

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattkit/internal/bluez"
)

// ConnectionState tracks a device through its connection lifecycle.
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// connectRetryLimit bounds the automatic retry of the transient
// "Software caused connection abort" radio condition. It is the only
// automatic retry in the library.
const connectRetryLimit = 5

// Device represents one BLE peripheral. It owns the connection state
// machine, the service-resolution trigger and the signal-subscription
// lifecycle of its whole Service/Characteristic tree.
type Device struct {
	mac     string
	path    dbus.ObjectPath
	manager *DeviceManager
	handler DeviceHandler
	logger  *logrus.Logger

	state         atomic.Int32
	retryAttempts atomic.Int32

	subMu         sync.Mutex
	propertiesSub *subscription

	// services is keyed by object path, not UUID: a peripheral may
	// legitimately expose several instances of the same service UUID.
	servicesMu sync.RWMutex
	services   *orderedmap.OrderedMap[dbus.ObjectPath, *Service]
}

// DeviceOption customizes device construction.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	handler   DeviceHandler
	unmanaged bool
}

// WithDeviceHandler installs the handler receiving this device's hooks.
func WithDeviceHandler(h DeviceHandler) DeviceOption {
	return func(o *deviceOptions) { o.handler = h }
}

// Unmanaged creates the device without registering it with the manager.
// Useful for factories that want to inspect a device before committing it.
func Unmanaged() DeviceOption {
	return func(o *deviceOptions) { o.unmanaged = true }
}

// NewDevice creates a device for the given MAC address and, unless the
// Unmanaged option is given, registers it with the manager, superseding any
// previously registered device at the same address.
func NewDevice(m *DeviceManager, mac string, opts ...DeviceOption) *Device {
	var o deviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	normalized := normalizeMAC(mac)
	d := &Device{
		mac:      normalized,
		path:     bluez.DevicePath(m.adapterPath, normalized),
		manager:  m,
		handler:  o.handler,
		logger:   m.logger,
		services: orderedmap.New[dbus.ObjectPath, *Service](),
	}
	if d.handler == nil {
		d.handler = &warnHandler{logger: m.logger}
	}
	if !o.unmanaged {
		m.manageDevice(d)
	}
	return d
}

// MACAddress returns the device's immutable identity.
func (d *Device) MACAddress() string { return d.mac }

// Path returns the peripheral's object path on the bus.
func (d *Device) Path() dbus.ObjectPath { return d.path }

// Manager returns the manager this device was created for.
func (d *Device) Manager() *DeviceManager { return d.manager }

// State returns the device's local connection state.
func (d *Device) State() ConnectionState {
	return ConnectionState(d.state.Load())
}

func (d *Device) setState(s ConnectionState) {
	d.state.Store(int32(s))
}

// Connect resets the retry budget, establishes the property-change
// subscription, and issues an asynchronous connect request. The true signal
// of a successful link-up is the ConnectSucceeded hook (or ConnectFailed),
// never Connect returning.
func (d *Device) Connect() {
	d.retryAttempts.Store(0)
	d.setState(StateConnecting)
	d.connectSignals()
	d.connectAttempt()
}

func (d *Device) connectAttempt() {
	attempt := d.retryAttempts.Add(1)
	d.logger.WithFields(logrus.Fields{
		"mac":     d.mac,
		"attempt": attempt,
	}).Debug("Connecting")
	d.manager.bus.AsyncCall(d.path, bluez.DeviceInterface, "Connect", func(_ []interface{}, err error) {
		d.manager.enqueue(func() { d.connectDone(err) })
	})
}

// connectDone runs on the event loop with the outcome of one connect call.
func (d *Device) connectDone(err error) {
	if err == nil {
		// Resolution may have completed before the connect reply arrived;
		// in that race no ServicesResolved transition is forthcoming.
		if d.serviceCount() == 0 && d.remoteServicesResolved() {
			d.servicesResolved()
		}
		return
	}

	switch {
	case isRemoteError(err, dbusErrUnknownObject):
		d.connectFailed(&Error{
			Kind:    KindConnectionFailed,
			Message: "device does not exist, check adapter name and MAC address",
		})
	case isRemoteError(err, dbusErrFailed) && remoteMessageHasSuffix(err, "Operation already in progress"):
		// A connect is already in flight; its outcome will arrive on the
		// property-change path.
	case isRemoteError(err, dbusErrFailed) && remoteMessageHasSuffix(err, "Software caused connection abort") &&
		d.retryAttempts.Load() < connectRetryLimit:
		d.connectAttempt()
	default:
		// Includes the no-reply case of an unresponsive daemon.
		d.connectFailed(fromDBusError(err))
	}
}

func (d *Device) connectFailed(err *Error) {
	d.setState(StateDisconnected)
	d.disconnectSignals()
	d.handler.ConnectFailed(d, err)
}

// Disconnect issues an asynchronous disconnect request. Success is observed
// on the property-change path via the DisconnectSucceeded hook.
func (d *Device) Disconnect() {
	d.manager.bus.AsyncCall(d.path, bluez.DeviceInterface, "Disconnect", func(_ []interface{}, err error) {
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"mac":   d.mac,
				"error": fromDBusError(err),
			}).Warn("Disconnect request failed")
		}
	})
}

// Invalidate releases the device's signal subscriptions without attempting
// a remote disconnect; the peripheral's actual connection may legitimately
// persist. Used when the device is superseded or its manager shuts down.
func (d *Device) Invalidate() {
	d.disconnectSignals()
}

// IsConnected queries the peripheral's Connected property.
func (d *Device) IsConnected() bool {
	v, err := d.manager.bus.Property(d.path, bluez.DeviceInterface, "Connected")
	if err != nil {
		return false
	}
	connected, _ := v.Value().(bool)
	return connected
}

// remoteServicesResolved queries the peripheral's ServicesResolved property.
func (d *Device) remoteServicesResolved() bool {
	v, err := d.manager.bus.Property(d.path, bluez.DeviceInterface, "ServicesResolved")
	if err != nil {
		return false
	}
	resolved, _ := v.Value().(bool)
	return resolved
}

// Alias returns the peripheral's alias. A peripheral deleted from the
// daemon has no alias; that case yields an empty string, not an error.
func (d *Device) Alias() (string, error) {
	v, err := d.manager.bus.Property(d.path, bluez.DeviceInterface, "Alias")
	if err != nil {
		if isRemoteError(err, dbusErrUnknownObject) {
			return "", nil
		}
		return "", fromDBusError(err)
	}
	alias, _ := v.Value().(string)
	return alias, nil
}

// Services returns the resolved services in stable resolution order. The
// list is empty until the platform reports ServicesResolved.
func (d *Device) Services() []*Service {
	d.servicesMu.RLock()
	defer d.servicesMu.RUnlock()
	result := make([]*Service, 0, d.services.Len())
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Service returns the first resolved service with the given UUID, or nil.
// When the peripheral exposes several instances of the same UUID, use
// Services to reach the later ones.
func (d *Device) Service(uuid string) *Service {
	normalized, err := NormalizeServiceUUID(uuid)
	if err != nil {
		return nil
	}
	d.servicesMu.RLock()
	defer d.servicesMu.RUnlock()
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.uuid == normalized {
			return pair.Value
		}
	}
	return nil
}

func (d *Device) serviceCount() int {
	d.servicesMu.RLock()
	defer d.servicesMu.RUnlock()
	return d.services.Len()
}

// connectSignals establishes the device's property-change subscription and
// re-establishes subscriptions across the current service tree.
func (d *Device) connectSignals() {
	d.subMu.Lock()
	if d.propertiesSub == nil {
		sub, err := d.manager.router.subscribe(d.manager.bus, bluez.Match{
			Interface: bluez.PropertiesInterface,
			Member:    bluez.PropertiesChangedMember,
			Path:      d.path,
			Arg0:      bluez.DeviceInterface,
		}, d.onPropertiesChanged)
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"mac":   d.mac,
				"error": err,
			}).Warn("Failed to subscribe to device property changes")
		} else {
			d.propertiesSub = sub
		}
	}
	d.subMu.Unlock()

	for _, svc := range d.Services() {
		svc.connectSignals()
	}
}

// disconnectSignals releases the device's subscription and every
// subscription of the owned tree. Safe to call on every exit path; a
// released subscription is a no-op.
func (d *Device) disconnectSignals() {
	d.subMu.Lock()
	if d.propertiesSub != nil {
		d.propertiesSub.release()
		d.propertiesSub = nil
	}
	d.subMu.Unlock()

	for _, svc := range d.Services() {
		svc.disconnectSignals()
	}
}

func (d *Device) onPropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	d.propertiesChanged(changed)
}

// propertiesChanged is the single dispatcher for Connected and
// ServicesResolved transitions. A single delivery may carry either or both,
// so each key is checked independently.
func (d *Device) propertiesChanged(changed map[string]dbus.Variant) {
	if v, ok := changed["Connected"]; ok {
		if connected, _ := v.Value().(bool); connected {
			d.setState(StateConnected)
			d.handler.ConnectSucceeded(d)
		} else {
			d.setState(StateDisconnected)
			d.disconnectSucceeded()
		}
	}

	if v, ok := changed["ServicesResolved"]; ok {
		if resolved, _ := v.Value().(bool); resolved && d.serviceCount() == 0 {
			d.servicesResolved()
		}
	}
}

func (d *Device) disconnectSucceeded() {
	d.disconnectSignals()
	d.clearServices()
	d.handler.DisconnectSucceeded(d)
}

func (d *Device) clearServices() {
	d.servicesMu.Lock()
	d.services = orderedmap.New[dbus.ObjectPath, *Service]()
	d.servicesMu.Unlock()
}

// servicesResolved rebuilds the service tree from the platform's resolved
// state. The list is replaced wholesale; the platform is the sole source of
// truth and no incremental diffing is attempted. Prior subscriptions are
// released before the rebuild and fresh ones established after it.
func (d *Device) servicesResolved() {
	for _, svc := range d.Services() {
		svc.disconnectSignals()
	}

	objects, err := d.manager.bus.ManagedObjects()
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"mac":   d.mac,
			"error": err,
		}).Warn("Failed to enumerate services")
		return
	}

	paths := make([]dbus.ObjectPath, 0, 8)
	for path, ifaces := range objects {
		if _, ok := ifaces[bluez.ServiceInterface]; !ok {
			continue
		}
		if bluez.IsServicePath(d.path, path) {
			paths = append(paths, path)
		}
	}
	// BlueZ assigns serviceNNNN suffixes by ascending attribute handle, so
	// lexicographic path order is the platform's enumeration order.
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	services := orderedmap.New[dbus.ObjectPath, *Service]()
	for _, path := range paths {
		uuid, _ := objects[path][bluez.ServiceInterface]["UUID"].Value().(string)
		services.Set(path, newService(d, path, uuid, objects))
	}

	d.servicesMu.Lock()
	d.services = services
	d.servicesMu.Unlock()

	for _, svc := range d.Services() {
		svc.connectSignals()
	}

	d.logger.WithFields(logrus.Fields{
		"mac":      d.mac,
		"services": len(paths),
	}).Debug("Services resolved")
	d.handler.ServicesResolved(d)
}

// warnHandler is the default device handler: success hooks are no-ops,
// failure hooks are logged so unhandled operational failures stay visible.
type warnHandler struct {
	NopDeviceHandler
	logger *logrus.Logger
}

func (h *warnHandler) ConnectFailed(d *Device, err error) {
	h.logger.WithFields(logrus.Fields{"mac": d.mac, "error": err}).Warn("Connect failed")
}

func (h *warnHandler) CharacteristicReadValueFailed(c *Characteristic, err error) {
	h.logger.WithFields(logrus.Fields{"uuid": c.uuid, "error": err}).Warn("Read failed")
}

func (h *warnHandler) CharacteristicWriteValueFailed(c *Characteristic, err error) {
	h.logger.WithFields(logrus.Fields{"uuid": c.uuid, "error": err}).Warn("Write failed")
}

func (h *warnHandler) CharacteristicEnableNotificationsFailed(c *Characteristic, err error) {
	h.logger.WithFields(logrus.Fields{"uuid": c.uuid, "error": err}).Warn("Enable notifications failed")
}

func (h *warnHandler) DescriptorReadValueFailed(d *Descriptor, err error) {
	h.logger.WithFields(logrus.Fields{"uuid": d.uuid, "error": err}).Warn("Descriptor read failed")
}
