package gatt_test

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattkit/internal/bluez"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srg/gattkit/pkg/gatt"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// Hook names recorded by recordingHandler.
const (
	evAdvertised           = "Advertised"
	evConnectSucceeded     = "ConnectSucceeded"
	evConnectFailed        = "ConnectFailed"
	evDisconnectSucceeded  = "DisconnectSucceeded"
	evServicesResolved     = "ServicesResolved"
	evValueUpdated         = "CharacteristicValueUpdated"
	evReadFailed           = "CharacteristicReadValueFailed"
	evWriteSucceeded       = "CharacteristicWriteValueSucceeded"
	evWriteFailed          = "CharacteristicWriteValueFailed"
	evNotifySucceeded      = "CharacteristicEnableNotificationsSucceeded"
	evNotifyFailed         = "CharacteristicEnableNotificationsFailed"
	evDescriptorRead       = "DescriptorValueRead"
	evDescriptorReadFailed = "DescriptorReadValueFailed"
)

// recordingHandler counts every hook invocation and keeps the last error
// and delivered values so tests can assert on the dispatch stream.
type recordingHandler struct {
	gatt.NopDeviceHandler

	mu     sync.Mutex
	counts map[string]int
	errs   map[string]error
	values [][]byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		counts: make(map[string]int),
		errs:   make(map[string]error),
	}
}

func (h *recordingHandler) bump(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[name]++
	if err != nil {
		h.errs[name] = err
	}
}

// Count returns how many times the named hook has fired.
func (h *recordingHandler) Count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[name]
}

// Err returns the last error delivered to the named hook.
func (h *recordingHandler) Err(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errs[name]
}

// Values returns every value delivered through CharacteristicValueUpdated
// and DescriptorValueRead, in order.
func (h *recordingHandler) Values() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.values...)
}

func (h *recordingHandler) Advertised(*gatt.Device)          { h.bump(evAdvertised, nil) }
func (h *recordingHandler) ConnectSucceeded(*gatt.Device)    { h.bump(evConnectSucceeded, nil) }
func (h *recordingHandler) DisconnectSucceeded(*gatt.Device) { h.bump(evDisconnectSucceeded, nil) }
func (h *recordingHandler) ServicesResolved(*gatt.Device)    { h.bump(evServicesResolved, nil) }

func (h *recordingHandler) ConnectFailed(_ *gatt.Device, err error) {
	h.bump(evConnectFailed, err)
}

func (h *recordingHandler) CharacteristicValueUpdated(_ *gatt.Characteristic, value []byte) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
	h.bump(evValueUpdated, nil)
}

func (h *recordingHandler) CharacteristicReadValueFailed(_ *gatt.Characteristic, err error) {
	h.bump(evReadFailed, err)
}

func (h *recordingHandler) CharacteristicWriteValueSucceeded(*gatt.Characteristic) {
	h.bump(evWriteSucceeded, nil)
}

func (h *recordingHandler) CharacteristicWriteValueFailed(_ *gatt.Characteristic, err error) {
	h.bump(evWriteFailed, err)
}

func (h *recordingHandler) CharacteristicEnableNotificationsSucceeded(*gatt.Characteristic) {
	h.bump(evNotifySucceeded, nil)
}

func (h *recordingHandler) CharacteristicEnableNotificationsFailed(_ *gatt.Characteristic, err error) {
	h.bump(evNotifyFailed, err)
}

func (h *recordingHandler) DescriptorValueRead(_ *gatt.Descriptor, value []byte) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
	h.bump(evDescriptorRead, nil)
}

func (h *recordingHandler) DescriptorReadValueFailed(_ *gatt.Descriptor, err error) {
	h.bump(evDescriptorReadFailed, err)
}

// managerSuite runs every test against a live event loop over the fake bus.
type managerSuite struct {
	testutils.FakeBusSuite

	Manager *gatt.DeviceManager
	done    chan struct{}
}

// startManager builds the manager and pumps its event loop in the
// background until teardown. It blocks until the loop's own signal
// subscriptions are installed so tests cannot emit into the void.
func (s *managerSuite) startManager(cfg *gatt.Config) {
	if cfg == nil {
		cfg = &gatt.Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = s.Logger
	}
	m, err := gatt.NewDeviceManager(s.Bus, cfg)
	s.Require().NoError(err, "manager construction MUST succeed")
	s.Manager = m

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := m.Run(); err != nil {
			s.Logger.WithField("error", err).Error("Event loop failed")
		}
	}()
	s.Require().Eventually(func() bool {
		return s.Bus.MatchCount() >= 2
	}, waitFor, tick, "event loop MUST install its signal matches")
}

// stopManager ends the loop and waits for its teardown to complete.
func (s *managerSuite) stopManager() {
	if s.Manager == nil {
		return
	}
	s.Manager.Stop()
	select {
	case <-s.done:
	case <-time.After(waitFor):
		s.FailNow("event loop did not stop")
	}
	s.Manager = nil
}

func (s *managerSuite) TearDownTest() {
	s.stopManager()
}

// devicePath computes the object path a MAC address gets under the suite's
// default adapter.
func (s *managerSuite) devicePath(mac string) dbus.ObjectPath {
	return bluez.DevicePath(bluez.AdapterPath(testutils.AdapterName), mac)
}
