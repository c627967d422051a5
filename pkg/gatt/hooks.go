package gatt

// DeviceHandler receives connection lifecycle and characteristic operation
// outcomes for one device. All methods run on the owning manager's event
// loop; implementations must not block it.
//
// Embed NopDeviceHandler to implement only the hooks you care about.
type DeviceHandler interface {
	// Advertised fires on the first sighting of the device while discovery
	// is running. Repeated advertisements from an already-known device do
	// not re-invoke it.
	Advertised(d *Device)

	// ConnectSucceeded fires on the asynchronous Connected false->true
	// property transition, not when Connect returns.
	ConnectSucceeded(d *Device)

	// ConnectFailed fires when the connection could not be established,
	// after the library's own retry budget is exhausted.
	ConnectFailed(d *Device, err error)

	// DisconnectSucceeded fires on the Connected true->false transition,
	// after the cached service tree has been dropped.
	DisconnectSucceeded(d *Device)

	// ServicesResolved fires once the device's service/characteristic tree
	// has been (re)built from the platform's resolved state.
	ServicesResolved(d *Device)

	// CharacteristicValueUpdated is the single channel through which all
	// observed value changes reach the application, whether triggered by an
	// explicit read or an active notification session.
	CharacteristicValueUpdated(c *Characteristic, value []byte)

	CharacteristicReadValueFailed(c *Characteristic, err error)
	CharacteristicWriteValueSucceeded(c *Characteristic)
	CharacteristicWriteValueFailed(c *Characteristic, err error)
	CharacteristicEnableNotificationsSucceeded(c *Characteristic)
	CharacteristicEnableNotificationsFailed(c *Characteristic, err error)

	// DescriptorValueRead delivers the result of a Descriptor.ReadValue.
	DescriptorValueRead(d *Descriptor, value []byte)
	DescriptorReadValueFailed(d *Descriptor, err error)
}

// NopDeviceHandler implements DeviceHandler with no-ops for every hook.
type NopDeviceHandler struct{}

var _ DeviceHandler = NopDeviceHandler{}

func (NopDeviceHandler) Advertised(*Device)                                         {}
func (NopDeviceHandler) ConnectSucceeded(*Device)                                   {}
func (NopDeviceHandler) ConnectFailed(*Device, error)                               {}
func (NopDeviceHandler) DisconnectSucceeded(*Device)                                {}
func (NopDeviceHandler) ServicesResolved(*Device)                                   {}
func (NopDeviceHandler) CharacteristicValueUpdated(*Characteristic, []byte)         {}
func (NopDeviceHandler) CharacteristicReadValueFailed(*Characteristic, error)       {}
func (NopDeviceHandler) CharacteristicWriteValueSucceeded(*Characteristic)          {}
func (NopDeviceHandler) CharacteristicWriteValueFailed(*Characteristic, error)      {}
func (NopDeviceHandler) CharacteristicEnableNotificationsSucceeded(*Characteristic) {}
func (NopDeviceHandler) CharacteristicEnableNotificationsFailed(*Characteristic, error) {
}
func (NopDeviceHandler) DescriptorValueRead(*Descriptor, []byte)    {}
func (NopDeviceHandler) DescriptorReadValueFailed(*Descriptor, error) {}
