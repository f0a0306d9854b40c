// internal/discovery/mdns/scanner.go
package mdns

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"

	"spark-service/internal/discovery"
	"spark-service/internal/model"
)

const (
	// ServiceType is the DNS-SD service advertised by Spark controllers
	ServiceType = "_brewblox._tcp"
	Domain      = "local."

	idKey = "ID"
)

// Scanner browses the local network for advertised controllers
type Scanner struct {
	logger  *zap.Logger
	service string
	domain  string
}

// NewScanner creates a new mDNS scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:  logger.With(zap.String("scanner", "mdns")),
		service: ServiceType,
		domain:  Domain,
	}
}

// Type returns the discovery method
func (s *Scanner) Type() model.DiscoveryType {
	return model.DiscoveryMDNS
}

// IsAvailable reports whether any interface can send multicast traffic
func (s *Scanner) IsAvailable() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagMulticast != 0 {
			return true
		}
	}
	return false
}

// Scan collects matching controllers until ctx is done
func (s *Scanner) Scan(ctx context.Context, deviceID string) ([]*discovery.DiscoveredDevice, error) {
	var devices []*discovery.DiscoveredDevice
	seen := make(map[string]bool)

	err := s.browse(ctx, deviceID, func(device *discovery.DiscoveredDevice) bool {
		if !seen[device.DeviceID] {
			seen[device.DeviceID] = true
			devices = append(devices, device)
		}
		return true
	})
	return devices, err
}

// Find returns the first matching controller, or nil if none answered before ctx is done
func (s *Scanner) Find(ctx context.Context, deviceID string) (*discovery.DiscoveredDevice, error) {
	var found *discovery.DiscoveredDevice

	err := s.browse(ctx, deviceID, func(device *discovery.DiscoveredDevice) bool {
		found = device
		return false
	})
	return found, err
}

// browse calls visit for every matching entry until visit returns false or ctx is done
func (s *Scanner) browse(ctx context.Context, deviceID string, visit func(*discovery.DiscoveredDevice) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- zeroconf.Browse(ctx, s.service, s.domain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			device, ok := s.deviceFromService(serviceFromEntry(entry), deviceID)
			if ok && !visit(device) {
				return nil
			}

		case _, ok := <-removed:
			if !ok {
				removed = nil
			}

		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("failed to browse %s: %w", s.service, err)
			}
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// service holds the entry fields used to locate a controller
type service struct {
	instance string
	port     int
	text     []string
	addrs    []net.IP
}

func serviceFromEntry(entry *zeroconf.ServiceEntry) *service {
	if entry == nil {
		return nil
	}
	return &service{
		instance: entry.Instance,
		port:     entry.Port,
		text:     entry.Text,
		addrs:    entry.AddrIPv4,
	}
}

// deviceFromService discards simulators, entries without an id and other devices
func (s *Scanner) deviceFromService(svc *service, deviceID string) (*discovery.DiscoveredDevice, bool) {
	if svc == nil {
		return nil, false
	}

	addr := firstAddress(svc.addrs)
	if addr == "" {
		return nil, false
	}

	id := strings.ToLower(txtValue(svc.text, idKey))
	if id == "" {
		s.logger.Error("Invalid device: no ID TXT property",
			zap.String("name", svc.instance),
			zap.String("address", addr),
			zap.Int("port", svc.port),
		)
		return nil, false
	}

	if !discovery.MatchesID(deviceID, id) {
		s.logger.Info("Discarding mDNS device",
			zap.String("name", svc.instance),
			zap.String("address", addr),
			zap.Int("port", svc.port),
		)
		return nil, false
	}

	s.logger.Info("Discovered mDNS device",
		zap.String("device_id", id),
		zap.String("address", addr),
		zap.Int("port", svc.port),
	)
	return &discovery.DiscoveredDevice{
		Method:   model.DiscoveryMDNS,
		DeviceID: id,
		Address:  addr,
		Port:     svc.port,
		Name:     svc.instance,
	}, true
}

// firstAddress skips unspecified addresses, which simulators advertise
func firstAddress(addrs []net.IP) string {
	for _, ip := range addrs {
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		return ip.String()
	}
	return ""
}

func txtValue(records []string, key string) string {
	for _, record := range records {
		k, v, found := strings.Cut(record, "=")
		if found && strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
