package bluez

import (
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"
)

// BlueZ lays its object tree out as
//
//	/org/bluez/<adapter>/dev_XX_XX_XX_XX_XX_XX/serviceNNNN/charNNNN/descNNNN
//
// where the dev_ suffix encodes the MAC address as six uppercase hex octet
// pairs and NNNN is a fixed-width lowercase-hex attribute handle. Child
// enumeration must anchor on these exact patterns so that a service only
// picks up its direct descendants.
var (
	macSuffixPattern      = regexp.MustCompile(`/dev((_[0-9A-F]{2}){6})$`)
	servicePathPattern    = regexp.MustCompile(`/service[0-9a-f]{4}$`)
	charPathPattern       = regexp.MustCompile(`/char[0-9a-f]{4}$`)
	descriptorPathPattern = regexp.MustCompile(`/desc[0-9a-f]{4}$`)
)

// AdapterPath returns the object path of the named local adapter.
func AdapterPath(adapterName string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapterName)
}

// DevicePath returns the peripheral object path for a MAC address under the
// given adapter. The address may use any case and ":" separators.
func DevicePath(adapterPath dbus.ObjectPath, mac string) dbus.ObjectPath {
	encoded := strings.ReplaceAll(strings.ToUpper(mac), ":", "_")
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + encoded)
}

// DeviceAddress recovers the MAC address from a peripheral object path
// directly under adapterPath. The second return is false when the path does
// not name a peripheral of that adapter.
func DeviceAddress(adapterPath dbus.ObjectPath, path dbus.ObjectPath) (string, bool) {
	s := string(path)
	prefix := string(adapterPath)
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	suffix := s[len(prefix):]
	m := macSuffixPattern.FindStringSubmatch(suffix)
	if m == nil || "/dev"+m[1] != suffix {
		return "", false
	}
	mac := strings.ReplaceAll(m[1][1:], "_", ":")
	return strings.ToLower(mac), true
}

// IsServicePath reports whether path names a GATT service directly under the
// given peripheral path.
func IsServicePath(devicePath, path dbus.ObjectPath) bool {
	return isDirectChild(devicePath, path, servicePathPattern)
}

// IsCharacteristicPath reports whether path names a characteristic directly
// under the given service path.
func IsCharacteristicPath(servicePath, path dbus.ObjectPath) bool {
	return isDirectChild(servicePath, path, charPathPattern)
}

// IsDescriptorPath reports whether path names a descriptor directly under
// the given characteristic path.
func IsDescriptorPath(charPath, path dbus.ObjectPath) bool {
	return isDirectChild(charPath, path, descriptorPathPattern)
}

func isDirectChild(parent, path dbus.ObjectPath, pattern *regexp.Regexp) bool {
	s := string(path)
	prefix := string(parent)
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	suffix := s[len(prefix):]
	return pattern.MatchString(suffix) && pattern.FindString(suffix) == suffix
}
