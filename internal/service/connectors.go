// internal/service/connectors.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/codec"
	"spark-service/internal/config"
	"spark-service/internal/discovery"
	"spark-service/internal/model"
	"spark-service/internal/mqtt"
	"spark-service/internal/protocol"
)

// ConnectFunc opens a connection to a fixed target
type ConnectFunc func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error)

// DiscoverFunc looks for the controller with deviceID through one discovery method.
// It returns a nil connection without error when nothing was found.
type DiscoverFunc func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error)

// Connectors holds one constructor per transport target
type Connectors struct {
	Mock         ConnectFunc
	Simulation   ConnectFunc
	TCP          func(ctx context.Context, host string, port int, callbacks protocol.Callbacks) (protocol.Connection, error)
	USB          func(ctx context.Context, port string, callbacks protocol.Callbacks) (protocol.Connection, error)
	DiscoverUSB  DiscoverFunc
	DiscoverMDNS DiscoverFunc
	DiscoverMQTT DiscoverFunc
}

// NewConnectors wires the real transports.
// scanners provides the usb and mdns scanners; tracker may be nil when MQTT discovery is unused.
func NewConnectors(
	cfg *config.Config,
	c codec.Codec,
	scanners *discovery.ScannerManager,
	tracker *mqtt.DeviceTracker,
	logger *zap.Logger,
) Connectors {
	logger = logger.With(zap.String("component", "connectors"))
	device := cfg.Device
	conn := cfg.Connection

	tcpConnect := func(ctx context.Context, host string, port int, callbacks protocol.Callbacks) (protocol.Connection, error) {
		return stream(protocol.ConnectTCP(ctx, protocol.TCPConfig{Host: host, Port: port}, callbacks, logger))
	}

	usbConnect := func(ctx context.Context, port string, callbacks protocol.Callbacks) (protocol.Connection, error) {
		return stream(protocol.ConnectUSB(protocol.SerialConfig{Port: port, BaudRate: protocol.USBBaudRate}, callbacks, logger))
	}

	return Connectors{
		Mock: func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return protocol.ConnectMock(c, protocol.MockConfig{
				DeviceID:        device.DeviceID,
				FirmwareVersion: cfg.Firmware.FirmwareVersion,
				ProtoVersion:    cfg.Firmware.ProtoVersion,
				FirmwareDate:    cfg.Firmware.FirmwareDate,
				ProtoDate:       cfg.Firmware.ProtoDate,
				SystemVersion:   cfg.Firmware.SystemVersion,
			}, callbacks, logger), nil
		},

		Simulation: func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return stream(protocol.ConnectSimulation(ctx, protocol.SimulatorConfig{
				DeviceID:        device.DeviceID,
				Port:            device.DevicePort,
				DisplayWSPort:   device.DisplayWSPort,
				FirmwareDir:     device.FirmwareDir,
				WorkDir:         device.SimulatorDir,
				ConnectInterval: conn.SubprocessConnectInterval,
				ConnectTimeout:  conn.SubprocessConnectTimeout,
			}, callbacks, logger))
		},

		TCP: tcpConnect,
		USB: usbConnect,

		DiscoverUSB: scannerDiscovery(scanners, model.DiscoveryUSB, conn.SubprocessConnectTimeout,
			func(ctx context.Context, d *discovery.DiscoveredDevice, callbacks protocol.Callbacks) (protocol.Connection, error) {
				return usbConnect(ctx, d.Address, callbacks)
			}),

		DiscoverMDNS: scannerDiscovery(scanners, model.DiscoveryMDNS, conn.DiscoveryTimeoutMDNS,
			func(ctx context.Context, d *discovery.DiscoveredDevice, callbacks protocol.Callbacks) (protocol.Connection, error) {
				return tcpConnect(ctx, d.Address, d.Port, callbacks)
			}),

		DiscoverMQTT: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			if tracker == nil {
				return nil, nil
			}
			mc, err := tracker.Discover(ctx, deviceID, callbacks)
			if mc == nil || err != nil {
				return nil, err
			}
			return mc, nil
		},
	}
}

// scannerDiscovery finds a device with the scanner registered for method, then connects to it.
// Finding is bounded by timeout, connecting is not.
func scannerDiscovery(
	scanners *discovery.ScannerManager,
	method model.DiscoveryType,
	timeout time.Duration,
	connect func(ctx context.Context, d *discovery.DiscoveredDevice, callbacks protocol.Callbacks) (protocol.Connection, error),
) DiscoverFunc {
	return func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
		if scanners == nil {
			return nil, nil
		}
		scanner, ok := scanners.Scanner(method)
		if !ok || !scanner.IsAvailable() {
			return nil, nil
		}

		findCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		device, err := scanner.Find(findCtx, deviceID)
		if err != nil || device == nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		return connect(ctx, device, callbacks)
	}
}

// stream keeps a failed connect from turning into a non-nil interface
func stream(sc *protocol.StreamConnection, err error) (protocol.Connection, error) {
	if err != nil {
		return nil, err
	}
	return sc, nil
}
