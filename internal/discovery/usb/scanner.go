// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"spark-service/internal/discovery"
	"spark-service/internal/model"
)

// Scanner finds controllers attached as USB serial ports
type Scanner struct {
	logger       *zap.Logger
	knownDevices *DeviceDatabase
	listPorts    func() ([]*enumerator.PortDetails, error)
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:       logger.With(zap.String("scanner", "usb")),
		knownDevices: NewDeviceDatabase(),
		listPorts:    enumerator.GetDetailedPortsList,
	}
}

// Type returns the discovery method
func (s *Scanner) Type() model.DiscoveryType {
	return model.DiscoveryUSB
}

// IsAvailable checks whether serial ports can be enumerated on this host
func (s *Scanner) IsAvailable() bool {
	if _, err := s.listPorts(); err != nil {
		s.logger.Debug("Serial port enumeration unavailable", zap.Error(err))
		return false
	}
	return true
}

// Scan lists Spark controllers plugged in over USB.
// When deviceID is set, only the port with that USB serial number is returned.
func (s *Scanner) Scan(ctx context.Context, deviceID string) ([]*discovery.DiscoveredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []*discovery.DiscoveredDevice
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}

		info, known := s.knownDevices.Lookup(port.VID, port.PID)
		if !known {
			continue
		}

		if !discovery.MatchesID(deviceID, port.SerialNumber) {
			s.logger.Debug("Discarding USB device",
				zap.String("port", port.Name),
				zap.String("serial_number", port.SerialNumber),
			)
			continue
		}

		s.logger.Info("Discovered USB device",
			zap.String("port", port.Name),
			zap.String("model", info.Model),
			zap.String("serial_number", port.SerialNumber),
		)
		devices = append(devices, &discovery.DiscoveredDevice{
			Method:   model.DiscoveryUSB,
			DeviceID: port.SerialNumber,
			Address:  port.Name,
			Name:     info.Model,
		})
	}

	return devices, nil
}

// Find returns the first matching USB controller, or nil if none is plugged in
func (s *Scanner) Find(ctx context.Context, deviceID string) (*discovery.DiscoveredDevice, error) {
	devices, err := s.Scan(ctx, deviceID)
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return devices[0], nil
}
