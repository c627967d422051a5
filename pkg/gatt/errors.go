package gatt

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// ErrorKind is the closed set of failure classes surfaced by this library.
// Remote bluetoothd errors are translated once, at the bus boundary; any
// unrecognized remote error collapses into KindFailed.
type ErrorKind string

const (
	KindAccessDenied       ErrorKind = "access_denied"
	KindFailed             ErrorKind = "failed"
	KindInProgress         ErrorKind = "in_progress"
	KindInvalidValueLength ErrorKind = "invalid_value_length"
	KindNotAuthorized      ErrorKind = "not_authorized"
	KindNotReady           ErrorKind = "not_ready"
	KindNotPermitted       ErrorKind = "not_permitted"
	KindNotSupported       ErrorKind = "not_supported"

	// KindConnectionFailed is raised locally when the peripheral object does
	// not exist on the bus at all.
	KindConnectionFailed ErrorKind = "connection_failed"

	// KindAdapterNotFound is raised locally when the named adapter has no
	// object on the bus.
	KindAdapterNotFound ErrorKind = "adapter_not_found"
)

// Error carries the failure class plus the human-readable message reported
// by the remote service. It never carries recovery state.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is allows errors.Is to compare Error values by kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrAccessDenied       = &Error{Kind: KindAccessDenied}
	ErrFailed             = &Error{Kind: KindFailed}
	ErrInProgress         = &Error{Kind: KindInProgress}
	ErrInvalidValueLength = &Error{Kind: KindInvalidValueLength}
	ErrNotAuthorized      = &Error{Kind: KindNotAuthorized}
	ErrNotReady           = &Error{Kind: KindNotReady}
	ErrNotPermitted       = &Error{Kind: KindNotPermitted}
	ErrNotSupported       = &Error{Kind: KindNotSupported}
	ErrConnectionFailed   = &Error{Kind: KindConnectionFailed}
	ErrAdapterNotFound    = &Error{Kind: KindAdapterNotFound}
)

// D-Bus error names emitted by bluetoothd and the bus daemon.
const (
	dbusErrFailed             = "org.bluez.Error.Failed"
	dbusErrInProgress         = "org.bluez.Error.InProgress"
	dbusErrInvalidValueLength = "org.bluez.Error.InvalidValueLength"
	dbusErrNotAuthorized      = "org.bluez.Error.NotAuthorized"
	dbusErrNotReady           = "org.bluez.Error.NotReady"
	dbusErrNotPermitted       = "org.bluez.Error.NotPermitted"
	dbusErrNotSupported       = "org.bluez.Error.NotSupported"
	dbusErrAccessDenied       = "org.freedesktop.DBus.Error.AccessDenied"
	dbusErrUnknownObject      = "org.freedesktop.DBus.Error.UnknownObject"
	dbusErrNoReply            = "org.freedesktop.DBus.Error.NoReply"
)

var kindByDBusName = map[string]ErrorKind{
	dbusErrFailed:             KindFailed,
	dbusErrInProgress:         KindInProgress,
	dbusErrInvalidValueLength: KindInvalidValueLength,
	dbusErrNotAuthorized:      KindNotAuthorized,
	dbusErrNotReady:           KindNotReady,
	dbusErrNotPermitted:       KindNotPermitted,
	dbusErrNotSupported:       KindNotSupported,
	dbusErrAccessDenied:       KindAccessDenied,
}

// fromDBusError translates a remote error into the closed taxonomy.
// Unrecognized names, including nil interface body messages, map to
// KindFailed with whatever message is available.
func fromDBusError(err error) *Error {
	if err == nil {
		return nil
	}
	name, msg := dbusErrorParts(err)
	kind, ok := kindByDBusName[name]
	if !ok {
		kind = KindFailed
	}
	if kind == KindAccessDenied {
		// BlueZ denies Set("Powered") and a few other calls to non-root
		// callers without a useful message.
		if msg == "" {
			msg = "root permissions required"
		}
	}
	return &Error{Kind: kind, Message: msg}
}

// dbusErrorParts splits a remote error into its D-Bus error name and the
// first string of its body, falling back to Error() for non-D-Bus errors.
func dbusErrorParts(err error) (name, msg string) {
	var derr dbus.Error
	if !asDBusError(err, &derr) {
		return "", err.Error()
	}
	name = derr.Name
	if len(derr.Body) > 0 {
		if s, ok := derr.Body[0].(string); ok {
			msg = s
		}
	}
	return name, msg
}

func asDBusError(err error, out *dbus.Error) bool {
	switch e := err.(type) {
	case dbus.Error:
		*out = e
		return true
	case *dbus.Error:
		if e != nil {
			*out = *e
			return true
		}
	}
	return false
}

// isRemoteError reports whether err is a D-Bus error with the given name.
func isRemoteError(err error, dbusName string) bool {
	name, _ := dbusErrorParts(err)
	return name == dbusName
}

// remoteMessageHasSuffix matches bluetoothd conditions that are only
// distinguishable by their message text, e.g. the transient
// "Software caused connection abort" under org.bluez.Error.Failed.
func remoteMessageHasSuffix(err error, suffix string) bool {
	_, msg := dbusErrorParts(err)
	return strings.HasSuffix(msg, suffix)
}

// remoteMessageContains is the looser variant used for the notify-toggle
// conditions, whose wording moved around between bluetoothd releases.
func remoteMessageContains(err error, substr string) bool {
	_, msg := dbusErrorParts(err)
	return strings.Contains(msg, substr)
}
