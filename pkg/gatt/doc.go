// Package gatt is a client-side Bluetooth Low Energy GATT library for Linux
// built on the BlueZ system-bus API.
//
// A DeviceManager discovers nearby peripherals and dispatches bus events on
// a single event loop. Each Device drives its own connection state machine
// with a bounded retry for the transient radio-abort condition, resolves its
// service/characteristic hierarchy once the platform reports it, and relays
// reads, writes and notification values through a DeviceHandler. Remote
// errors are translated once, at the bus boundary, into a closed taxonomy.
//
// Connect, Disconnect and the characteristic operations submit a request and
// return immediately; outcomes arrive later as loop-dispatched hooks. The
// true signal of a successful connection is the ConnectSucceeded hook, never
// Connect returning.
package gatt
