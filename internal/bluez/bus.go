// Package bluez provides access to the BlueZ object tree on the system bus.
//
// The Bus interface is the single boundary between the GATT entity layer and
// the platform daemon: managed-object enumeration, property access, method
// calls (sync and async) and signal match management. Everything above it is
// testable against an in-memory implementation.
package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattkit/internal/groutine"
)

// Well-known BlueZ names on the system bus.
const (
	BusName = "org.bluez"

	AdapterInterface        = "org.bluez.Adapter1"
	DeviceInterface         = "org.bluez.Device1"
	ServiceInterface        = "org.bluez.GattService1"
	CharacteristicInterface = "org.bluez.GattCharacteristic1"
	DescriptorInterface     = "org.bluez.GattDescriptor1"

	PropertiesInterface    = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"

	PropertiesChangedMember = "PropertiesChanged"
	InterfacesAddedMember   = "InterfacesAdded"
)

// RootPath is where BlueZ exposes its ObjectManager.
const RootPath = dbus.ObjectPath("/")

// ManagedObjects is the object-path -> interface -> property map returned by
// org.freedesktop.DBus.ObjectManager.GetManagedObjects.
type ManagedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Match describes one signal subscription. Empty fields match anything.
// Arg0 filters on the signal's first body argument, which for
// PropertiesChanged is the name of the interface whose properties changed.
type Match struct {
	Interface string
	Member    string
	Path      dbus.ObjectPath
	Arg0      string
}

// Matches reports whether sig satisfies every non-empty constraint of m.
func (m Match) Matches(sig *dbus.Signal) bool {
	if m.Interface != "" || m.Member != "" {
		if sig.Name != m.Interface+"."+m.Member {
			return false
		}
	}
	if m.Path != "" && sig.Path != m.Path {
		return false
	}
	if m.Arg0 != "" {
		if len(sig.Body) == 0 {
			return false
		}
		arg0, ok := sig.Body[0].(string)
		if !ok || arg0 != m.Arg0 {
			return false
		}
	}
	return true
}

// Bus abstracts the platform's object/property/method-call and
// signal-subscription primitives.
type Bus interface {
	// ManagedObjects enumerates the full BlueZ object tree.
	ManagedObjects() (ManagedObjects, error)

	// Property reads a single property of a remote object.
	Property(path dbus.ObjectPath, iface, name string) (dbus.Variant, error)

	// SetProperty writes a single property of a remote object synchronously.
	SetProperty(path dbus.ObjectPath, iface, name string, value interface{}) error

	// Call invokes a remote method and blocks until the reply arrives.
	// The reply body, if any, is returned as-is.
	Call(path dbus.ObjectPath, iface, method string, args ...interface{}) ([]interface{}, error)

	// AsyncCall invokes a remote method and returns immediately. done is
	// invoked exactly once with the reply body or the call error; it may run
	// on an arbitrary goroutine, so callers must re-dispatch as needed.
	AsyncCall(path dbus.ObjectPath, iface, method string, done func(body []interface{}, err error), args ...interface{})

	// AddMatch and RemoveMatch manage server-side signal match rules.
	// Matching signals are delivered to every channel registered via Signal.
	AddMatch(m Match) error
	RemoveMatch(m Match) error

	// Signal registers ch to receive matched signals; RemoveSignal detaches it.
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)

	Close() error
}

// systemBus implements Bus on top of a godbus connection.
type systemBus struct {
	conn *dbus.Conn
}

// SystemBus connects to the system message bus where bluetoothd lives.
func SystemBus() (Bus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &systemBus{conn: conn}, nil
}

func (b *systemBus) ManagedObjects() (ManagedObjects, error) {
	objects := make(ManagedObjects)
	obj := b.conn.Object(BusName, RootPath)
	if err := obj.Call(ObjectManagerInterface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func (b *systemBus) Property(path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var value dbus.Variant
	obj := b.conn.Object(BusName, path)
	err := obj.Call(PropertiesInterface+".Get", 0, iface, name).Store(&value)
	return value, err
}

func (b *systemBus) SetProperty(path dbus.ObjectPath, iface, name string, value interface{}) error {
	obj := b.conn.Object(BusName, path)
	return obj.Call(PropertiesInterface+".Set", 0, iface, name, dbus.MakeVariant(value)).Err
}

func (b *systemBus) Call(path dbus.ObjectPath, iface, method string, args ...interface{}) ([]interface{}, error) {
	obj := b.conn.Object(BusName, path)
	call := obj.Call(iface+"."+method, 0, args...)
	return call.Body, call.Err
}

func (b *systemBus) AsyncCall(path dbus.ObjectPath, iface, method string, done func(body []interface{}, err error), args ...interface{}) {
	obj := b.conn.Object(BusName, path)
	ch := make(chan *dbus.Call, 1)
	obj.Go(iface+"."+method, 0, ch, args...)
	groutine.Go(nil, "async-"+method, func(context.Context) {
		call := <-ch
		done(call.Body, call.Err)
	})
}

func (b *systemBus) AddMatch(m Match) error {
	return b.conn.AddMatchSignal(m.options()...)
}

func (b *systemBus) RemoveMatch(m Match) error {
	return b.conn.RemoveMatchSignal(m.options()...)
}

func (m Match) options() []dbus.MatchOption {
	opts := []dbus.MatchOption{dbus.WithMatchSender(BusName)}
	if m.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(m.Interface))
	}
	if m.Member != "" {
		opts = append(opts, dbus.WithMatchMember(m.Member))
	}
	if m.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(m.Path))
	}
	if m.Arg0 != "" {
		opts = append(opts, dbus.WithMatchArg(0, m.Arg0))
	}
	return opts
}

func (b *systemBus) Signal(ch chan<- *dbus.Signal) {
	b.conn.Signal(ch)
}

func (b *systemBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.conn.RemoveSignal(ch)
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}
