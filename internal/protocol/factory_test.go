package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spark-service/internal/model"
)

func TestSelectTarget(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		expected Target
	}{
		{
			name:     "mock wins",
			settings: Settings{Mock: true, Simulation: true, DeviceHost: "host", DeviceSerial: "/dev/ttyACM0"},
			expected: MockTarget{},
		},
		{
			name:     "simulation before addresses",
			settings: Settings{Simulation: true, DeviceHost: "host"},
			expected: SimulationTarget{},
		},
		{
			name:     "host before serial",
			settings: Settings{DeviceHost: "192.168.0.10", DevicePort: 8332, DeviceSerial: "/dev/ttyACM0"},
			expected: TCPTarget{Host: "192.168.0.10", Port: 8332},
		},
		{
			name:     "serial",
			settings: Settings{DeviceSerial: "/dev/ttyACM0"},
			expected: USBTarget{Port: "/dev/ttyACM0"},
		},
		{
			name:     "discovery defaults to all",
			settings: Settings{},
			expected: DiscoverTarget{Discovery: model.DiscoveryAll},
		},
		{
			name:     "discovery keeps filter",
			settings: Settings{Discovery: model.DiscoveryMQTT},
			expected: DiscoverTarget{Discovery: model.DiscoveryMQTT},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectTarget(tt.settings))
		})
	}
}

func TestUSBCompatible(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		expected bool
	}{
		{"mock", Settings{Mock: true, DeviceSerial: "/dev/ttyACM0"}, false},
		{"simulation", Settings{Simulation: true}, false},
		{"serial", Settings{DeviceSerial: "/dev/ttyACM0"}, true},
		{"host and serial", Settings{DeviceSerial: "/dev/ttyACM0", DeviceHost: "host"}, false},
		{"host", Settings{DeviceHost: "host"}, false},
		{"usb discovery", Settings{Discovery: model.DiscoveryUSB, DeviceID: "123456789012"}, true},
		{"mdns discovery", Settings{Discovery: model.DiscoveryMDNS}, false},
		{"spark 4 id", Settings{Discovery: model.DiscoveryAll, DeviceID: "123456789012"}, false},
		{"spark 3 id", Settings{Discovery: model.DiscoveryAll, DeviceID: "123456789012345678901234"}, true},
		{"unknown", Settings{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, USBCompatible(tt.settings))
		})
	}
}

func TestSimulatorBinary(t *testing.T) {
	binary, err := SimulatorBinary("amd64")
	assert.NoError(t, err)
	assert.Equal(t, "brewblox-amd64.sim", binary)

	binary, err = SimulatorBinary("arm")
	assert.NoError(t, err)
	assert.Equal(t, "brewblox-arm32.sim", binary)

	_, err = SimulatorBinary("riscv64")
	assert.ErrorIs(t, err, model.ErrConnectionImpossible)
}
