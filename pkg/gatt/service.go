package gatt

import (
	"sort"

	"github.com/godbus/dbus/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattkit/internal/bluez"
)

// Service represents one GATT service of a device. Its lifetime is entirely
// subordinate to the owning device's resolution passes: a new pass replaces
// the whole Service, it is never updated in place.
type Service struct {
	device *Device
	path   dbus.ObjectPath
	uuid   string

	// characteristics is keyed by object path; duplicate characteristic
	// UUIDs inside one service are legal.
	characteristics *orderedmap.OrderedMap[dbus.ObjectPath, *Characteristic]
}

// newService constructs the service and immediately resolves its
// characteristics from the managed-object snapshot the device already holds.
func newService(device *Device, path dbus.ObjectPath, uuid string, objects bluez.ManagedObjects) *Service {
	s := &Service{
		device:          device,
		path:            path,
		uuid:            uuid,
		characteristics: orderedmap.New[dbus.ObjectPath, *Characteristic](),
	}
	s.characteristicsResolved(objects)
	return s
}

// UUID returns the service's 128-bit UUID as a canonical string.
func (s *Service) UUID() string { return s.uuid }

// Device returns the owning device.
func (s *Service) Device() *Device { return s.device }

// Path returns the service's object path on the bus.
func (s *Service) Path() dbus.ObjectPath { return s.path }

// Characteristics returns the service's characteristics in stable
// resolution order.
func (s *Service) Characteristics() []*Characteristic {
	result := make([]*Characteristic, 0, s.characteristics.Len())
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Characteristic returns the first characteristic with the given UUID, or
// nil. Duplicate UUIDs are reachable through Characteristics.
func (s *Service) Characteristic(uuid string) *Characteristic {
	normalized, err := NormalizeServiceUUID(uuid)
	if err != nil {
		return nil
	}
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.uuid == normalized {
			return pair.Value
		}
	}
	return nil
}

// characteristicsResolved enumerates the direct characteristic children of
// this service and replaces the characteristic set wholesale. Prior
// subscriptions are released first so no orphaned callback survives.
func (s *Service) characteristicsResolved(objects bluez.ManagedObjects) {
	s.disconnectSignals()

	paths := make([]dbus.ObjectPath, 0, 8)
	for path, ifaces := range objects {
		if _, ok := ifaces[bluez.CharacteristicInterface]; !ok {
			continue
		}
		if bluez.IsCharacteristicPath(s.path, path) {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	characteristics := orderedmap.New[dbus.ObjectPath, *Characteristic]()
	for _, path := range paths {
		uuid, _ := objects[path][bluez.CharacteristicInterface]["UUID"].Value().(string)
		characteristics.Set(path, newCharacteristic(s, path, uuid, objects))
	}
	s.characteristics = characteristics
}

func (s *Service) connectSignals() {
	for _, c := range s.Characteristics() {
		c.connectSignals()
	}
}

func (s *Service) disconnectSignals() {
	for _, c := range s.Characteristics() {
		c.disconnectSignals()
	}
}
