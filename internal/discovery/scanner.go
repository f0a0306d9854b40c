// internal/discovery/scanner.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

// ErrScannerUnavailable is returned when a scanner cannot run on this host
var ErrScannerUnavailable = errors.New("scanner not available")

// Scanner finds controllers reachable through a single discovery method
type Scanner interface {
	// Scan lists every controller matching deviceID until ctx is done.
	// An empty deviceID matches any controller.
	Scan(ctx context.Context, deviceID string) ([]*DiscoveredDevice, error)

	// Find returns the first controller matching deviceID,
	// or nil when none was seen before ctx is done.
	Find(ctx context.Context, deviceID string) (*DiscoveredDevice, error)

	Type() model.DiscoveryType
	IsAvailable() bool
}

// DiscoveredDevice describes where a controller can be reached
type DiscoveredDevice struct {
	Method   model.DiscoveryType `json:"method"`
	DeviceID string              `json:"device_id"`
	Address  string              `json:"address"`
	Port     int                 `json:"port,omitempty"`
	Name     string              `json:"name,omitempty"`
}

// MatchesID compares device ids case-insensitively. An empty desired id matches everything.
func MatchesID(desired, actual string) bool {
	return desired == "" || strings.EqualFold(desired, actual)
}

// ScannerManager keeps one scanner per discovery method
type ScannerManager struct {
	scanners map[model.DiscoveryType]Scanner
	order    []model.DiscoveryType
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[model.DiscoveryType]Scanner),
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// RegisterScanner registers a scanner. Scanners are tried in registration order.
func (sm *ScannerManager) RegisterScanner(scanner Scanner) {
	scannerType := scanner.Type()
	if _, exists := sm.scanners[scannerType]; !exists {
		sm.order = append(sm.order, scannerType)
	}
	sm.scanners[scannerType] = scanner
	sm.logger.Debug("Scanner registered", zap.String("type", string(scannerType)))
}

// Scanner returns the scanner registered for a discovery method
func (sm *ScannerManager) Scanner(scannerType model.DiscoveryType) (Scanner, bool) {
	scanner, exists := sm.scanners[scannerType]
	return scanner, exists
}

// ScanAll runs every available scanner allowed by discovery
func (sm *ScannerManager) ScanAll(ctx context.Context, discovery model.DiscoveryType, deviceID string) ([]*DiscoveredDevice, error) {
	var allDevices []*DiscoveredDevice

	for _, scannerType := range sm.order {
		if !discovery.Includes(scannerType) {
			continue
		}

		scanner := sm.scanners[scannerType]
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", string(scannerType)))
			continue
		}

		devices, err := scanner.Scan(ctx, deviceID)
		if err != nil {
			if ctx.Err() != nil {
				return allDevices, ctx.Err()
			}
			sm.logger.Error("Scanner failed", zap.String("type", string(scannerType)), zap.Error(err))
			continue
		}

		allDevices = append(allDevices, devices...)
		sm.logger.Info("Scanner completed",
			zap.String("type", string(scannerType)),
			zap.Int("devices_found", len(devices)),
		)
	}

	return allDevices, nil
}

// ScanByType runs a single scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType model.DiscoveryType, deviceID string) ([]*DiscoveredDevice, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("%w: %s", ErrScannerUnavailable, scannerType)
	}

	return scanner.Scan(ctx, deviceID)
}

// GetAvailableScanners returns the available discovery methods in registration order
func (sm *ScannerManager) GetAvailableScanners() []model.DiscoveryType {
	var available []model.DiscoveryType
	for _, scannerType := range sm.order {
		if sm.scanners[scannerType].IsAvailable() {
			available = append(available, scannerType)
		}
	}
	return available
}
