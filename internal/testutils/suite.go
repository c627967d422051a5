package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeBusSuite is a reusable test suite base with an in-memory bus.
// It follows testify/suite conventions: SetupTest rebuilds the bus and a
// debug-level logger before every test, so tests never leak state into
// each other.
//
// Basic usage (adapter pre-built, devices added per test):
//
//	type ConnectSuite struct {
//	    testutils.FakeBusSuite
//	}
//
//	func (s *ConnectSuite) TestConnect() {
//	    dev := s.Bus.WithDevice("AA:BB:CC:DD:EE:FF")
//	    dev.WithService("180D").WithCharacteristic("2A37")
//	    ...
//	}
//
//	func TestConnectSuite(t *testing.T) {
//	    suite.Run(t, new(ConnectSuite))
//	}
type FakeBusSuite struct {
	suite.Suite

	Bus    *FakeBus
	Logger *logrus.Logger
}

// AdapterName is the adapter every suite bus is built with.
const AdapterName = "hci0"

// SetupTest rebuilds the fake bus with a powered default adapter.
func (s *FakeBusSuite) SetupTest() {
	s.Logger = logrus.New()
	s.Logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	s.Bus = NewFakeBus().WithAdapter(AdapterName)
}
