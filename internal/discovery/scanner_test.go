package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spark-service/internal/model"
)

type fakeScanner struct {
	scannerType model.DiscoveryType
	available   bool
	devices     []*DiscoveredDevice
	err         error
	calls       int
}

func (f *fakeScanner) Scan(ctx context.Context, deviceID string) ([]*DiscoveredDevice, error) {
	f.calls++
	var matched []*DiscoveredDevice
	for _, d := range f.devices {
		if MatchesID(deviceID, d.DeviceID) {
			matched = append(matched, d)
		}
	}
	return matched, f.err
}

func (f *fakeScanner) Find(ctx context.Context, deviceID string) (*DiscoveredDevice, error) {
	devices, err := f.Scan(ctx, deviceID)
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return devices[0], nil
}

func (f *fakeScanner) Type() model.DiscoveryType { return f.scannerType }
func (f *fakeScanner) IsAvailable() bool         { return f.available }

func TestMatchesID(t *testing.T) {
	assert.True(t, MatchesID("", "anything"))
	assert.True(t, MatchesID("ABCD", "abcd"))
	assert.False(t, MatchesID("abcd", "abce"))
}

func TestScannerManager(t *testing.T) {
	usb := &fakeScanner{
		scannerType: model.DiscoveryUSB,
		available:   true,
		devices:     []*DiscoveredDevice{{Method: model.DiscoveryUSB, DeviceID: "aa", Address: "/dev/ttyACM0"}},
	}
	mdns := &fakeScanner{
		scannerType: model.DiscoveryMDNS,
		available:   true,
		devices: []*DiscoveredDevice{
			{Method: model.DiscoveryMDNS, DeviceID: "bb", Address: "10.0.0.2", Port: 8332},
			{Method: model.DiscoveryMDNS, DeviceID: "aa", Address: "10.0.0.3", Port: 8332},
		},
	}
	broken := &fakeScanner{scannerType: model.DiscoveryMQTT, available: true, err: errors.New("boom")}

	sm := NewScannerManager(zaptest.NewLogger(t))
	sm.RegisterScanner(usb)
	sm.RegisterScanner(mdns)
	sm.RegisterScanner(broken)

	devices, err := sm.ScanAll(context.Background(), model.DiscoveryAll, "")
	require.NoError(t, err)
	assert.Len(t, devices, 3)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Address)

	devices, err = sm.ScanAll(context.Background(), model.DiscoveryMDNS, "aa")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "10.0.0.3", devices[0].Address)
	assert.Equal(t, 1, usb.calls)

	_, err = sm.ScanByType(context.Background(), "bluetooth", "")
	assert.ErrorContains(t, err, "scanner type not found")

	mdns.available = false
	_, err = sm.ScanByType(context.Background(), model.DiscoveryMDNS, "")
	assert.ErrorIs(t, err, ErrScannerUnavailable)
	assert.Equal(t, []model.DiscoveryType{model.DiscoveryUSB, model.DiscoveryMQTT}, sm.GetAvailableScanners())

	scanner, ok := sm.Scanner(model.DiscoveryUSB)
	assert.True(t, ok)
	assert.Same(t, usb, scanner)
}
