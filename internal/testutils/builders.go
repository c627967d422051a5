package testutils

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattkit/internal/bluez"
)

const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// expandUUID widens 16- and 32-bit short forms to the full Bluetooth SIG
// base so builders accept the same shorthand as real GATT tables.
func expandUUID(u string) string {
	u = strings.ToLower(u)
	switch len(u) {
	case 4:
		return "0000" + u + sigBaseSuffix
	case 8:
		return u + sigBaseSuffix
	default:
		return u
	}
}

// WithAdapter registers an org.bluez.Adapter1 object and makes it the
// parent for devices built afterwards. Returns the bus for chaining.
func (b *FakeBus) WithAdapter(name string) *FakeBus {
	path := bluez.AdapterPath(name)
	b.SetObjectProperty(path, bluez.AdapterInterface, "Powered", true)
	b.mu.Lock()
	b.adapterPath = path
	b.mu.Unlock()
	return b
}

// AdapterPath returns the path of the adapter built with WithAdapter.
func (b *FakeBus) AdapterPath() dbus.ObjectPath {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapterPath
}

// DeviceBuilder accumulates the GATT tree of one fake remote device.
type DeviceBuilder struct {
	bus         *FakeBus
	path        dbus.ObjectPath
	nextService int
}

// WithDevice registers an org.bluez.Device1 object under the adapter built
// with WithAdapter. The device starts disconnected and unresolved.
func (b *FakeBus) WithDevice(mac string) *DeviceBuilder {
	adapter := b.AdapterPath()
	if adapter == "" {
		panic("testutils: WithDevice requires a prior WithAdapter")
	}
	path := bluez.DevicePath(adapter, mac)
	b.SetObjectProperty(path, bluez.DeviceInterface, "Address", strings.ToUpper(mac))
	b.SetObjectProperty(path, bluez.DeviceInterface, "Alias", strings.ToUpper(mac))
	b.SetObjectProperty(path, bluez.DeviceInterface, "Connected", false)
	b.SetObjectProperty(path, bluez.DeviceInterface, "ServicesResolved", false)
	return &DeviceBuilder{bus: b, path: path}
}

// Path returns the device's object path.
func (d *DeviceBuilder) Path() dbus.ObjectPath { return d.path }

// WithAlias overrides the device's Alias property.
func (d *DeviceBuilder) WithAlias(alias string) *DeviceBuilder {
	d.bus.SetObjectProperty(d.path, bluez.DeviceInterface, "Alias", alias)
	return d
}

// WithService adds a GATT service to the device and returns its builder.
func (d *DeviceBuilder) WithService(uuid string) *ServiceBuilder {
	d.nextService++
	path := dbus.ObjectPath(fmt.Sprintf("%s/service%04x", d.path, d.nextService))
	d.bus.SetObjectProperty(path, bluez.ServiceInterface, "UUID", expandUUID(uuid))
	d.bus.SetObjectProperty(path, bluez.ServiceInterface, "Device", d.path)
	return &ServiceBuilder{device: d, path: path}
}

// Connect flips Connected to true and emits the corresponding
// PropertiesChanged signal, as bluetoothd does when a link comes up.
func (d *DeviceBuilder) Connect() *DeviceBuilder {
	d.bus.EmitPropertiesChanged(d.path, bluez.DeviceInterface, map[string]dbus.Variant{
		"Connected": dbus.MakeVariant(true),
	})
	return d
}

// ResolveServices flips ServicesResolved to true and emits the signal.
func (d *DeviceBuilder) ResolveServices() *DeviceBuilder {
	d.bus.EmitPropertiesChanged(d.path, bluez.DeviceInterface, map[string]dbus.Variant{
		"ServicesResolved": dbus.MakeVariant(true),
	})
	return d
}

// Disconnect flips Connected to false and emits the signal.
func (d *DeviceBuilder) Disconnect() *DeviceBuilder {
	d.bus.EmitPropertiesChanged(d.path, bluez.DeviceInterface, map[string]dbus.Variant{
		"Connected": dbus.MakeVariant(false),
	})
	return d
}

// ServiceBuilder accumulates the characteristics of one fake service.
type ServiceBuilder struct {
	device   *DeviceBuilder
	path     dbus.ObjectPath
	nextChar int
}

// Path returns the service's object path.
func (s *ServiceBuilder) Path() dbus.ObjectPath { return s.path }

// WithCharacteristic adds a characteristic to the service.
func (s *ServiceBuilder) WithCharacteristic(uuid string) *CharacteristicBuilder {
	s.nextChar++
	path := dbus.ObjectPath(fmt.Sprintf("%s/char%04x", s.path, s.nextChar))
	s.device.bus.SetObjectProperty(path, bluez.CharacteristicInterface, "UUID", expandUUID(uuid))
	s.device.bus.SetObjectProperty(path, bluez.CharacteristicInterface, "Service", s.path)
	return &CharacteristicBuilder{service: s, path: path}
}

// WithService starts a sibling service on the same device.
func (s *ServiceBuilder) WithService(uuid string) *ServiceBuilder {
	return s.device.WithService(uuid)
}

// CharacteristicBuilder accumulates the descriptors of one characteristic.
type CharacteristicBuilder struct {
	service  *ServiceBuilder
	path     dbus.ObjectPath
	nextDesc int
}

// Path returns the characteristic's object path.
func (c *CharacteristicBuilder) Path() dbus.ObjectPath { return c.path }

// WithDescriptor adds a descriptor to the characteristic.
func (c *CharacteristicBuilder) WithDescriptor(uuid string) *CharacteristicBuilder {
	c.nextDesc++
	path := dbus.ObjectPath(fmt.Sprintf("%s/desc%04x", c.path, c.nextDesc))
	c.service.device.bus.SetObjectProperty(path, bluez.DescriptorInterface, "UUID", expandUUID(uuid))
	c.service.device.bus.SetObjectProperty(path, bluez.DescriptorInterface, "Characteristic", c.path)
	return c
}

// WithCharacteristic starts a sibling characteristic on the same service.
func (c *CharacteristicBuilder) WithCharacteristic(uuid string) *CharacteristicBuilder {
	return c.service.WithCharacteristic(uuid)
}

// NotifyValue emits a Value PropertiesChanged signal, the way a remote
// notification surfaces on the bus.
func (c *CharacteristicBuilder) NotifyValue(value []byte) *CharacteristicBuilder {
	c.service.device.bus.EmitPropertiesChanged(c.path, bluez.CharacteristicInterface, map[string]dbus.Variant{
		"Value": dbus.MakeVariant(value),
	})
	return c
}

// Device returns the builder of the device this characteristic belongs to.
func (c *CharacteristicBuilder) Device() *DeviceBuilder {
	return c.service.device
}
