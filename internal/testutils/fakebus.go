// Package testutils provides an in-memory bus implementation and fluent
// peripheral builders for testing the GATT entity layer without a running
// bluetoothd.
package testutils

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattkit/internal/bluez"
)

// CallRecord captures one method invocation on the fake bus.
type CallRecord struct {
	Path   dbus.ObjectPath
	Iface  string
	Method string
	Args   []interface{}
}

type callResult struct {
	body []interface{}
	err  error
}

// FakeBus is an in-memory bluez.Bus. Method results can be scripted per
// (path, method) as a FIFO queue; unscripted calls succeed with an empty
// body. Signals emitted through the Emit helpers are delivered to every
// channel registered via Signal, exactly like the real connection.
type FakeBus struct {
	mu       sync.Mutex
	objects  bluez.ManagedObjects
	matches  map[string]int
	channels []chan<- *dbus.Signal
	results  map[string][]callResult
	calls    []CallRecord

	adapterPath dbus.ObjectPath
}

// NewFakeBus creates an empty fake bus. Populate it with WithAdapter and
// the device/service/characteristic builders.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		objects: make(bluez.ManagedObjects),
		matches: make(map[string]int),
		results: make(map[string][]callResult),
	}
}

func callKey(path dbus.ObjectPath, iface, method string) string {
	return string(path) + "#" + iface + "." + method
}

// StubCall queues one scripted result for the given method. Results are
// consumed in FIFO order; when the queue is empty the call succeeds.
func (b *FakeBus) StubCall(path dbus.ObjectPath, iface, method string, body []interface{}, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := callKey(path, iface, method)
	b.results[key] = append(b.results[key], callResult{body: body, err: err})
}

// StubCallN queues n copies of the same scripted error.
func (b *FakeBus) StubCallN(path dbus.ObjectPath, iface, method string, n int, err error) {
	for i := 0; i < n; i++ {
		b.StubCall(path, iface, method, nil, err)
	}
}

// CallCount returns how many times the given method has been invoked.
func (b *FakeBus) CallCount(path dbus.ObjectPath, iface, method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, c := range b.calls {
		if c.Path == path && c.Iface == iface && c.Method == method {
			count++
		}
	}
	return count
}

// MatchCount returns the number of currently active signal matches
// (adds minus removes). Useful for asserting subscription lifecycles.
func (b *FakeBus) MatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.matches {
		total += n
	}
	return total
}

// SetObjectProperty mutates a property of an existing object without
// emitting a signal. Combine with EmitPropertiesChanged to simulate the
// daemon's behavior.
func (b *FakeBus) SetObjectProperty(path dbus.ObjectPath, iface, name string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; !ok {
		b.objects[path] = make(map[string]map[string]dbus.Variant)
	}
	if _, ok := b.objects[path][iface]; !ok {
		b.objects[path][iface] = make(map[string]dbus.Variant)
	}
	b.objects[path][iface][name] = dbus.MakeVariant(value)
}

// RemoveObject deletes an object from the managed tree.
func (b *FakeBus) RemoveObject(path dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
}

// --- bluez.Bus implementation ---

func (b *FakeBus) ManagedObjects() (bluez.ManagedObjects, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make(bluez.ManagedObjects, len(b.objects))
	for path, ifaces := range b.objects {
		ifCopy := make(map[string]map[string]dbus.Variant, len(ifaces))
		for iface, props := range ifaces {
			propCopy := make(map[string]dbus.Variant, len(props))
			for name, v := range props {
				propCopy[name] = v
			}
			ifCopy[iface] = propCopy
		}
		snapshot[path] = ifCopy
	}
	return snapshot, nil
}

func (b *FakeBus) Property(path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	props, ok := b.objects[path][iface]
	if !ok {
		return dbus.Variant{}, dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownObject",
			Body: []interface{}{fmt.Sprintf("No such object %q", path)},
		}
	}
	v, ok := props[name]
	if !ok {
		return dbus.Variant{}, dbus.Error{
			Name: "org.freedesktop.DBus.Error.InvalidArgs",
			Body: []interface{}{fmt.Sprintf("No such property %q", name)},
		}
	}
	return v, nil
}

func (b *FakeBus) SetProperty(path dbus.ObjectPath, iface, name string, value interface{}) error {
	b.mu.Lock()
	key := callKey(path, bluez.PropertiesInterface, "Set")
	b.calls = append(b.calls, CallRecord{Path: path, Iface: bluez.PropertiesInterface, Method: "Set", Args: []interface{}{iface, name, value}})
	if queued, ok := b.results[key]; ok && len(queued) > 0 {
		result := queued[0]
		b.results[key] = queued[1:]
		b.mu.Unlock()
		return result.err
	}
	b.mu.Unlock()
	b.SetObjectProperty(path, iface, name, value)
	return nil
}

func (b *FakeBus) Call(path dbus.ObjectPath, iface, method string, args ...interface{}) ([]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callLocked(path, iface, method, args)
}

func (b *FakeBus) callLocked(path dbus.ObjectPath, iface, method string, args []interface{}) ([]interface{}, error) {
	b.calls = append(b.calls, CallRecord{Path: path, Iface: iface, Method: method, Args: args})
	key := callKey(path, iface, method)
	if queued, ok := b.results[key]; ok && len(queued) > 0 {
		result := queued[0]
		b.results[key] = queued[1:]
		return result.body, result.err
	}
	// Unscripted RemoveDevice behaves like the daemon and drops the
	// peripheral's whole subtree from the managed objects.
	if iface == bluez.AdapterInterface && method == "RemoveDevice" && len(args) == 1 {
		if devPath, ok := args[0].(dbus.ObjectPath); ok {
			for path := range b.objects {
				if path == devPath || hasPathPrefix(path, devPath) {
					delete(b.objects, path)
				}
			}
		}
	}
	return nil, nil
}

func hasPathPrefix(path, prefix dbus.ObjectPath) bool {
	s, p := string(path), string(prefix)
	return len(s) > len(p) && s[:len(p)] == p && s[len(p)] == '/'
}

// AsyncCall resolves the scripted result synchronously and invokes done on
// the caller's goroutine, which keeps tests deterministic. The completion
// still crosses the manager's task queue exactly as in production.
func (b *FakeBus) AsyncCall(path dbus.ObjectPath, iface, method string, done func(body []interface{}, err error), args ...interface{}) {
	b.mu.Lock()
	body, err := b.callLocked(path, iface, method, args)
	b.mu.Unlock()
	done(body, err)
}

func (b *FakeBus) AddMatch(m bluez.Match) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches[matchKey(m)]++
	return nil
}

func (b *FakeBus) RemoveMatch(m bluez.Match) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := matchKey(m)
	if b.matches[key] == 0 {
		return fmt.Errorf("no such match: %s", key)
	}
	b.matches[key]--
	return nil
}

func matchKey(m bluez.Match) string {
	return fmt.Sprintf("%s.%s|%s|%s", m.Interface, m.Member, m.Path, m.Arg0)
}

func (b *FakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

func (b *FakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.channels {
		if c == ch {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			return
		}
	}
}

func (b *FakeBus) Close() error { return nil }

// --- signal emission helpers ---

// Emit delivers a raw signal to every registered channel.
func (b *FakeBus) Emit(sig *dbus.Signal) {
	b.mu.Lock()
	channels := append([]chan<- *dbus.Signal(nil), b.channels...)
	b.mu.Unlock()
	for _, ch := range channels {
		ch <- sig
	}
}

// EmitPropertiesChanged simulates org.freedesktop.DBus.Properties
// .PropertiesChanged on the given object, applying the changes to the
// object tree first so subsequent property reads agree with the signal.
func (b *FakeBus) EmitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) {
	for name, v := range changed {
		b.SetObjectProperty(path, iface, name, v.Value())
	}
	b.Emit(&dbus.Signal{
		Sender: ":1.1",
		Path:   path,
		Name:   bluez.PropertiesInterface + "." + bluez.PropertiesChangedMember,
		Body:   []interface{}{iface, changed, []string{}},
	})
}

// EmitInterfacesAdded simulates the ObjectManager's InterfacesAdded signal
// for an object, registering it in the managed tree first.
func (b *FakeBus) EmitInterfacesAdded(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) {
	b.mu.Lock()
	if _, ok := b.objects[path]; !ok {
		b.objects[path] = make(map[string]map[string]dbus.Variant)
	}
	for iface, props := range ifaces {
		if _, ok := b.objects[path][iface]; !ok {
			b.objects[path][iface] = make(map[string]dbus.Variant)
		}
		for name, v := range props {
			b.objects[path][iface][name] = v
		}
	}
	b.mu.Unlock()
	b.Emit(&dbus.Signal{
		Sender: ":1.1",
		Path:   bluez.RootPath,
		Name:   bluez.ObjectManagerInterface + "." + bluez.InterfacesAddedMember,
		Body:   []interface{}{path, ifaces},
	})
}
