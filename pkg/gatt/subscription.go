package gatt

import (
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattkit/internal/bluez"
)

// signalRouter fans incoming bus signals out to the subscriptions whose
// match they satisfy. The table is a concurrent map because subscriptions
// are added and released from API calls running outside the event loop,
// while dispatch always happens on the loop.
type signalRouter struct {
	subs   *hashmap.Map[uint64, *subscription]
	nextID atomic.Uint64
	logger *logrus.Logger
}

func newSignalRouter(logger *logrus.Logger) *signalRouter {
	return &signalRouter{
		subs:   hashmap.New[uint64, *subscription](),
		logger: logger,
	}
}

// subscription ties one server-side signal match to a handler. It is owned
// exclusively by the entity that created it and must be released exactly
// once; releasing again is a safe no-op.
type subscription struct {
	id       uint64
	match    bluez.Match
	handler  func(*dbus.Signal)
	bus      bluez.Bus
	router   *signalRouter
	released atomic.Bool
}

// subscribe installs a match rule on the bus and registers the handler for
// dispatch. The returned handle is nil if the bus rejected the match.
func (r *signalRouter) subscribe(bus bluez.Bus, match bluez.Match, handler func(*dbus.Signal)) (*subscription, error) {
	if err := bus.AddMatch(match); err != nil {
		return nil, fromDBusError(err)
	}
	sub := &subscription{
		id:      r.nextID.Add(1),
		match:   match,
		handler: handler,
		bus:     bus,
		router:  r,
	}
	r.subs.Set(sub.id, sub)
	return sub, nil
}

// dispatch invokes every registered handler whose match accepts sig.
func (r *signalRouter) dispatch(sig *dbus.Signal) {
	r.subs.Range(func(_ uint64, sub *subscription) bool {
		if !sub.released.Load() && sub.match.Matches(sig) {
			sub.handler(sig)
		}
		return true
	})
}

// release removes the match from the bus and the handler from the router.
func (s *subscription) release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.router.subs.Del(s.id)
	if err := s.bus.RemoveMatch(s.match); err != nil && s.router.logger != nil {
		s.router.logger.WithFields(logrus.Fields{
			"path":  s.match.Path,
			"error": err,
		}).Warn("Failed to remove signal match")
	}
}
