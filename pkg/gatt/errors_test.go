package gatt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDBusErrorTaxonomy(t *testing.T) {
	// GOAL: Verify every remote error name maps to its kind and everything
	// unrecognized collapses into KindFailed
	tests := []struct {
		name     string
		dbusName string
		message  string
		wantKind ErrorKind
	}{
		{name: "failed", dbusName: "org.bluez.Error.Failed", message: "Failed", wantKind: KindFailed},
		{name: "in progress", dbusName: "org.bluez.Error.InProgress", message: "In Progress", wantKind: KindInProgress},
		{name: "invalid value length", dbusName: "org.bluez.Error.InvalidValueLength", message: "Invalid Length", wantKind: KindInvalidValueLength},
		{name: "not authorized", dbusName: "org.bluez.Error.NotAuthorized", message: "Not Authorized", wantKind: KindNotAuthorized},
		{name: "not ready", dbusName: "org.bluez.Error.NotReady", message: "Not Ready", wantKind: KindNotReady},
		{name: "not permitted", dbusName: "org.bluez.Error.NotPermitted", message: "Not Permitted", wantKind: KindNotPermitted},
		{name: "not supported", dbusName: "org.bluez.Error.NotSupported", message: "Not Supported", wantKind: KindNotSupported},
		{name: "access denied", dbusName: "org.freedesktop.DBus.Error.AccessDenied", message: "Rejected", wantKind: KindAccessDenied},
		{name: "unknown bluez error", dbusName: "org.bluez.Error.DoesNotExist", message: "Does Not Exist", wantKind: KindFailed},
		{name: "daemon no reply", dbusName: "org.freedesktop.DBus.Error.NoReply", message: "Did not receive a reply", wantKind: KindFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := fromDBusError(dbus.Error{Name: tt.dbusName, Body: []interface{}{tt.message}})
			require.NotNil(t, mapped)
			assert.Equal(t, tt.wantKind, mapped.Kind, "kind MUST match the remote name")
			assert.Equal(t, tt.message, mapped.Message, "remote message MUST be preserved")
		})
	}
}

func TestFromDBusErrorEdgeCases(t *testing.T) {
	t.Run("nil maps to nil", func(t *testing.T) {
		assert.Nil(t, fromDBusError(nil))
	})

	t.Run("pointer form is unwrapped", func(t *testing.T) {
		err := &dbus.Error{Name: "org.bluez.Error.NotReady", Body: []interface{}{"Not Ready"}}
		assert.Equal(t, KindNotReady, fromDBusError(err).Kind)
	})

	t.Run("non-dbus error collapses into failed", func(t *testing.T) {
		mapped := fromDBusError(fmt.Errorf("socket gone"))
		assert.Equal(t, KindFailed, mapped.Kind)
		assert.Equal(t, "socket gone", mapped.Message)
	})

	t.Run("bare access denial gains a message", func(t *testing.T) {
		mapped := fromDBusError(dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"})
		assert.Equal(t, KindAccessDenied, mapped.Kind)
		assert.Equal(t, "root permissions required", mapped.Message)
	})

	t.Run("non-string body yields empty message", func(t *testing.T) {
		mapped := fromDBusError(dbus.Error{Name: "org.bluez.Error.Failed", Body: []interface{}{42}})
		assert.Equal(t, KindFailed, mapped.Kind)
		assert.Empty(t, mapped.Message)
	})
}

func TestErrorSentinels(t *testing.T) {
	// GOAL: Verify errors.Is matches by kind, not by message
	err := &Error{Kind: KindNotPermitted, Message: "Write not permitted"}

	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.NotErrorIs(t, err, ErrNotReady)
	assert.NotErrorIs(t, err, errors.New("not permitted"), "foreign errors MUST NOT match")
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_ready: Resource Not Ready", (&Error{Kind: KindNotReady, Message: "Resource Not Ready"}).Error())
	assert.Equal(t, "not_ready", (&Error{Kind: KindNotReady}).Error(), "empty message MUST print the kind alone")
}

func TestRemoteMessageMatching(t *testing.T) {
	abort := dbus.Error{
		Name: "org.bluez.Error.Failed",
		Body: []interface{}{"le-connection-abort-by-local: Software caused connection abort"},
	}

	assert.True(t, isRemoteError(abort, dbusErrFailed))
	assert.False(t, isRemoteError(abort, dbusErrNotReady))
	assert.True(t, remoteMessageHasSuffix(abort, "Software caused connection abort"))
	assert.False(t, remoteMessageHasSuffix(abort, "Software caused"))
	assert.True(t, remoteMessageContains(abort, "connection abort"))
	assert.False(t, isRemoteError(fmt.Errorf("plain"), dbusErrFailed), "non-dbus errors have no name")
}
