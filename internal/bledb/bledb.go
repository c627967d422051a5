// Package bledb names well-known BLE UUIDs from the Bluetooth SIG assigned
// numbers. The table covers the services, characteristics, and descriptors
// most commonly seen in GATT tables; vendor UUIDs simply miss.
package bledb

import (
	"regexp"
	"strconv"
	"strings"
)

// sigBasePattern matches SIG-assigned UUIDs, capturing the 16-bit code.
var sigBasePattern = regexp.MustCompile(`^0000([0-9a-f]{4})-0000-1000-8000-00805f9b34fb$`)

// Lookup returns the SIG-assigned name for a UUID in canonical 128-bit
// lowercase form or 16-bit short form. Unassigned and vendor-specific UUIDs
// return ok=false.
func Lookup(uuid string) (string, bool) {
	code, ok := shortCode(uuid)
	if !ok {
		return "", false
	}
	name, ok := names[code]
	return name, ok
}

func shortCode(uuid string) (uint16, bool) {
	s := strings.ToLower(strings.TrimSpace(uuid))
	if m := sigBasePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if len(s) != 4 {
		return 0, false
	}
	code, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(code), true
}

var names = map[uint16]string{
	// Services
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x1802: "Immediate Alert",
	0x1803: "Link Loss",
	0x1804: "Tx Power",
	0x1805: "Current Time",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery",
	0x1810: "Blood Pressure",
	0x1812: "Human Interface Device",
	0x1816: "Cycling Speed and Cadence",
	0x1818: "Cycling Power",
	0x1819: "Location and Navigation",
	0x181a: "Environmental Sensing",
	0x181c: "User Data",
	0x1826: "Fitness Machine",

	// Characteristics
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a04: "Peripheral Preferred Connection Parameters",
	0x2a05: "Service Changed",
	0x2a19: "Battery Level",
	0x2a23: "System ID",
	0x2a24: "Model Number String",
	0x2a25: "Serial Number String",
	0x2a26: "Firmware Revision String",
	0x2a27: "Hardware Revision String",
	0x2a28: "Software Revision String",
	0x2a29: "Manufacturer Name String",
	0x2a35: "Blood Pressure Measurement",
	0x2a37: "Heart Rate Measurement",
	0x2a38: "Body Sensor Location",
	0x2a39: "Heart Rate Control Point",
	0x2a5b: "CSC Measurement",
	0x2a63: "Cycling Power Measurement",
	0x2a6d: "Pressure",
	0x2a6e: "Temperature",
	0x2a6f: "Humidity",

	// Descriptors
	0x2900: "Characteristic Extended Properties",
	0x2901: "Characteristic User Description",
	0x2902: "Client Characteristic Configuration",
	0x2903: "Server Characteristic Configuration",
	0x2904: "Characteristic Presentation Format",
	0x2908: "Report Reference",
}
