package gatt

import (
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattkit/internal/bluez"
)

// Characteristic represents one GATT characteristic. No value is cached on
// the entity: every read is a round trip, and every externally observed
// value arrives through the value-changed notification path relayed to the
// owning device's handler.
type Characteristic struct {
	service *Service
	path    dbus.ObjectPath
	uuid    string

	descriptors []*Descriptor

	subMu sync.Mutex
	sub   *subscription
}

func newCharacteristic(service *Service, path dbus.ObjectPath, uuid string, objects bluez.ManagedObjects) *Characteristic {
	c := &Characteristic{
		service: service,
		path:    path,
		uuid:    uuid,
	}
	c.resolveDescriptors(objects)
	return c
}

// UUID returns the characteristic's 128-bit UUID as a canonical string.
func (c *Characteristic) UUID() string { return c.uuid }

// Service returns the owning service.
func (c *Characteristic) Service() *Service { return c.service }

// Path returns the characteristic's object path on the bus.
func (c *Characteristic) Path() dbus.ObjectPath { return c.path }

// Descriptors returns the characteristic's descriptors in stable order.
func (c *Characteristic) Descriptors() []*Descriptor { return c.descriptors }

func (c *Characteristic) device() *Device { return c.service.device }

func (c *Characteristic) logger() *logrus.Logger { return c.device().logger }

// ReadValue issues an asynchronous read starting at the given offset. On
// failure the device handler's CharacteristicReadValueFailed hook fires. On
// success the updated value reaches the application through the
// CharacteristicValueUpdated hook, never as a return value: the
// notification path is the only one guaranteed consistent with an active
// notify session.
func (c *Characteristic) ReadValue(offset uint16) {
	options := map[string]dbus.Variant{"offset": dbus.MakeVariant(offset)}
	bus := c.device().manager.bus
	bus.AsyncCall(c.path, bluez.CharacteristicInterface, "ReadValue", func(_ []interface{}, err error) {
		if err == nil {
			return
		}
		mapped := fromDBusError(err)
		c.device().manager.enqueue(func() {
			c.device().handler.CharacteristicReadValueFailed(c, mapped)
		})
	}, options)
}

// WriteValue issues an asynchronous write at the given offset. The outcome
// is reported through CharacteristicWriteValueSucceeded or
// CharacteristicWriteValueFailed on the device handler, never as a return
// value; the underlying operation is inherently fire-and-observe.
func (c *Characteristic) WriteValue(value []byte, offset uint16) {
	options := map[string]dbus.Variant{"offset": dbus.MakeVariant(offset)}
	bus := c.device().manager.bus
	bus.AsyncCall(c.path, bluez.CharacteristicInterface, "WriteValue", func(_ []interface{}, err error) {
		c.device().manager.enqueue(func() {
			if err != nil {
				c.device().handler.CharacteristicWriteValueFailed(c, fromDBusError(err))
				return
			}
			c.device().handler.CharacteristicWriteValueSucceeded(c)
		})
	}, value, options)
}

// EnableNotifications starts (or, with false, stops) a notification
// session. Toggling a session that is already in the requested state is an
// idempotent no-op: the "Already notifying" and "No notify session started"
// remote conditions are absorbed without invoking any hook.
func (c *Characteristic) EnableNotifications(enabled bool) {
	method := "StartNotify"
	if !enabled {
		method = "StopNotify"
	}
	bus := c.device().manager.bus
	bus.AsyncCall(c.path, bluez.CharacteristicInterface, method, func(_ []interface{}, err error) {
		if err != nil && isRemoteError(err, dbusErrFailed) &&
			(remoteMessageContains(err, "Already notifying") || remoteMessageContains(err, "No notify session started")) {
			return
		}
		c.device().manager.enqueue(func() {
			if err != nil {
				c.device().handler.CharacteristicEnableNotificationsFailed(c, fromDBusError(err))
				return
			}
			c.device().handler.CharacteristicEnableNotificationsSucceeded(c)
		})
	})
}

// connectSignals establishes the value-changed subscription. Established at
// most once per characteristic instance; resolution passes create fresh
// instances rather than re-subscribing old ones.
func (c *Characteristic) connectSignals() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		return
	}
	sub, err := c.device().manager.router.subscribe(c.device().manager.bus, bluez.Match{
		Interface: bluez.PropertiesInterface,
		Member:    bluez.PropertiesChangedMember,
		Path:      c.path,
		Arg0:      bluez.CharacteristicInterface,
	}, c.onPropertiesChanged)
	if err != nil {
		c.logger().WithFields(logrus.Fields{
			"uuid":  c.uuid,
			"error": err,
		}).Warn("Failed to subscribe to characteristic property changes")
		return
	}
	c.sub = sub
}

func (c *Characteristic) disconnectSignals() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		c.sub.release()
		c.sub = nil
	}
}

// onPropertiesChanged relays Value changes to the owning device. This is
// the single channel through which all observed value changes reach the
// application, whether caused by an explicit read or an active notify
// session.
func (c *Characteristic) onPropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed["Value"]
	if !ok {
		return
	}
	value, ok := v.Value().([]byte)
	if !ok {
		return
	}
	c.device().handler.CharacteristicValueUpdated(c, value)
}

func (c *Characteristic) resolveDescriptors(objects bluez.ManagedObjects) {
	paths := make([]dbus.ObjectPath, 0, 2)
	for path, ifaces := range objects {
		if _, ok := ifaces[bluez.DescriptorInterface]; !ok {
			continue
		}
		if bluez.IsDescriptorPath(c.path, path) {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	c.descriptors = make([]*Descriptor, 0, len(paths))
	for _, path := range paths {
		uuid, _ := objects[path][bluez.DescriptorInterface]["UUID"].Value().(string)
		c.descriptors = append(c.descriptors, &Descriptor{
			characteristic: c,
			path:           path,
			uuid:           uuid,
		})
	}
}
