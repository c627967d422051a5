package bluez_test

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattkit/internal/bluez"
)

func TestDevicePathRoundTrip(t *testing.T) {
	// GOAL: Verify MAC -> object path -> MAC recovery for every input case
	adapter := bluez.AdapterPath("hci0")

	tests := []struct {
		name string
		mac  string
		want string
	}{
		{name: "lowercase with colons", mac: "aa:bb:cc:dd:ee:ff", want: "aa:bb:cc:dd:ee:ff"},
		{name: "uppercase with colons", mac: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{name: "mixed case", mac: "Aa:bB:0C:dD:1e:F2", want: "aa:bb:0c:dd:1e:f2"},
		{name: "numeric octets", mac: "00:11:22:33:44:55", want: "00:11:22:33:44:55"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := bluez.DevicePath(adapter, tt.mac)
			mac, ok := bluez.DeviceAddress(adapter, path)
			require.True(t, ok, "generated device path MUST be recognized")
			assert.Equal(t, tt.want, mac, "recovered MAC MUST be lowercase with colons")
		})
	}
}

func TestDevicePathEncoding(t *testing.T) {
	// GOAL: Verify the dev_ suffix uses uppercase underscored octets
	adapter := bluez.AdapterPath("hci1")
	path := bluez.DevicePath(adapter, "aa:bb:cc:dd:ee:ff")

	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF"), path)
}

func TestDeviceAddressRejectsForeignPaths(t *testing.T) {
	// GOAL: Verify non-peripheral paths do not parse as device addresses
	adapter := bluez.AdapterPath("hci0")

	tests := []struct {
		name string
		path dbus.ObjectPath
	}{
		{name: "adapter itself", path: adapter},
		{name: "other adapter's device", path: "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF"},
		{name: "service below device", path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service000a"},
		{name: "lowercase octets", path: "/org/bluez/hci0/dev_aa_bb_cc_dd_ee_ff"},
		{name: "short MAC", path: "/org/bluez/hci0/dev_AA_BB_CC"},
		{name: "unrelated path", path: "/org/freedesktop/DBus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := bluez.DeviceAddress(adapter, tt.path)
			assert.False(t, ok, "path MUST NOT parse as a peripheral address")
		})
	}
}

func TestAttributeChildPaths(t *testing.T) {
	// GOAL: Verify child classification anchors on direct descendants only
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	svc := dbus.ObjectPath(dev + "/service000a")
	chr := dbus.ObjectPath(svc + "/char000b")

	assert.True(t, bluez.IsServicePath(dev, svc), "serviceNNNN under device MUST be a service path")
	assert.False(t, bluez.IsServicePath(dev, chr), "grandchild MUST NOT be a service path")
	assert.False(t, bluez.IsServicePath(dev, dev), "device itself MUST NOT be a service path")

	assert.True(t, bluez.IsCharacteristicPath(svc, chr), "charNNNN under service MUST be a characteristic path")
	assert.False(t, bluez.IsCharacteristicPath(dev, chr), "characteristic MUST NOT be a direct child of the device")

	desc := dbus.ObjectPath(chr + "/desc000c")
	assert.True(t, bluez.IsDescriptorPath(chr, desc), "descNNNN under characteristic MUST be a descriptor path")
	assert.False(t, bluez.IsDescriptorPath(svc, desc), "descriptor MUST NOT be a direct child of the service")
}

func TestMatchFiltering(t *testing.T) {
	// GOAL: Verify signal match constraints apply only when set
	propsChanged := &dbus.Signal{
		Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		Name: bluez.PropertiesInterface + "." + bluez.PropertiesChangedMember,
		Body: []interface{}{bluez.DeviceInterface, map[string]dbus.Variant{}, []string{}},
	}

	tests := []struct {
		name  string
		match bluez.Match
		want  bool
	}{
		{
			name:  "empty match accepts everything",
			match: bluez.Match{},
			want:  true,
		},
		{
			name: "full constraint accepted",
			match: bluez.Match{
				Interface: bluez.PropertiesInterface,
				Member:    bluez.PropertiesChangedMember,
				Path:      propsChanged.Path,
				Arg0:      bluez.DeviceInterface,
			},
			want: true,
		},
		{
			name: "wrong path rejected",
			match: bluez.Match{
				Interface: bluez.PropertiesInterface,
				Member:    bluez.PropertiesChangedMember,
				Path:      "/org/bluez/hci0/dev_11_22_33_44_55_66",
			},
			want: false,
		},
		{
			name: "wrong arg0 rejected",
			match: bluez.Match{
				Interface: bluez.PropertiesInterface,
				Member:    bluez.PropertiesChangedMember,
				Arg0:      bluez.CharacteristicInterface,
			},
			want: false,
		},
		{
			name: "wrong member rejected",
			match: bluez.Match{
				Interface: bluez.ObjectManagerInterface,
				Member:    bluez.InterfacesAddedMember,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.Matches(propsChanged))
		})
	}
}
