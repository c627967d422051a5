package gatt

import (
	"github.com/godbus/dbus/v5"

	"github.com/srg/gattkit/internal/bluez"
)

// Descriptor represents one GATT descriptor of a characteristic.
// Descriptors carry static attribute metadata and never emit value-changed
// signals, so they hold no subscription of their own.
type Descriptor struct {
	characteristic *Characteristic
	path           dbus.ObjectPath
	uuid           string
}

// UUID returns the descriptor's 128-bit UUID as a canonical string.
func (d *Descriptor) UUID() string { return d.uuid }

// Characteristic returns the owning characteristic.
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }

// Path returns the descriptor's object path on the bus.
func (d *Descriptor) Path() dbus.ObjectPath { return d.path }

// ReadValue issues an asynchronous read of the descriptor. The value is
// delivered through the DescriptorValueRead hook; failures through
// DescriptorReadValueFailed.
func (d *Descriptor) ReadValue(offset uint16) {
	options := map[string]dbus.Variant{"offset": dbus.MakeVariant(offset)}
	dev := d.characteristic.device()
	dev.manager.bus.AsyncCall(d.path, bluez.DescriptorInterface, "ReadValue", func(body []interface{}, err error) {
		dev.manager.enqueue(func() {
			if err != nil {
				dev.handler.DescriptorReadValueFailed(d, fromDBusError(err))
				return
			}
			var value []byte
			if len(body) > 0 {
				value, _ = body[0].([]byte)
			}
			dev.handler.DescriptorValueRead(d, value)
		})
	}, options)
}
