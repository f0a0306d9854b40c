// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"spark-service/internal/model"
)

// Settings is the static configuration that decides where to connect
type Settings struct {
	Mock         bool
	Simulation   bool
	DeviceHost   string
	DevicePort   int
	DeviceSerial string
	DeviceID     string
	Discovery    model.DiscoveryType
}

// Target is the transport chosen for a single connection attempt.
// It is one of MockTarget, SimulationTarget, TCPTarget, USBTarget or DiscoverTarget.
type Target interface {
	fmt.Stringer
	target()
}

// MockTarget selects the in-process mock controller
type MockTarget struct{}

// SimulationTarget selects a locally started simulator
type SimulationTarget struct{}

// TCPTarget selects a fixed network address
type TCPTarget struct {
	Host string
	Port int
}

// USBTarget selects a fixed serial device path
type USBTarget struct {
	Port string
}

// DiscoverTarget searches for a controller using the allowed methods
type DiscoverTarget struct {
	Discovery model.DiscoveryType
}

func (MockTarget) target()       {}
func (SimulationTarget) target() {}
func (TCPTarget) target()        {}
func (USBTarget) target()        {}
func (DiscoverTarget) target()   {}

func (MockTarget) String() string       { return "mock" }
func (SimulationTarget) String() string { return "simulation" }
func (t TCPTarget) String() string      { return fmt.Sprintf("tcp %s:%d", t.Host, t.Port) }
func (t USBTarget) String() string      { return "usb " + t.Port }
func (t DiscoverTarget) String() string { return "discover " + string(t.Discovery) }

// SelectTarget picks the connection target.
// Precedence: mock, simulation, host, serial, discovery.
func SelectTarget(settings Settings) Target {
	switch {
	case settings.Mock:
		return MockTarget{}
	case settings.Simulation:
		return SimulationTarget{}
	case settings.DeviceHost != "":
		return TCPTarget{Host: settings.DeviceHost, Port: settings.DevicePort}
	case settings.DeviceSerial != "":
		return USBTarget{Port: settings.DeviceSerial}
	default:
		discovery := settings.Discovery
		if discovery == "" {
			discovery = model.DiscoveryAll
		}
		return DiscoverTarget{Discovery: discovery}
	}
}

// USBCompatible reports whether the service may end up talking to a USB device.
// Newly plugged USB devices only become visible after a restart.
func USBCompatible(settings Settings) bool {
	// Simulations do not use USB
	if settings.Mock || settings.Simulation {
		return false
	}

	// Fixed addresses take precedence over discovery
	if settings.DeviceHost != "" {
		return false
	}
	if settings.DeviceSerial != "" {
		return true
	}

	switch settings.Discovery {
	case model.DiscoveryUSB:
		return true
	case model.DiscoveryAll, "":
	default:
		return false
	}

	// Spark 4 uses 12 character ids and does not connect over USB
	if len(settings.DeviceID) == 12 {
		return false
	}

	return true
}
