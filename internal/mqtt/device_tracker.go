// internal/mqtt/device_tracker.go
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/event"
	"spark-service/internal/protocol"
)

// DeviceTracker follows handshake messages of all controllers on the eventbus
type DeviceTracker struct {
	bus      protocol.Bus
	isolated bool
	timeout  time.Duration
	logger   *zap.Logger

	mutex   sync.Mutex
	devices map[string]*event.Event
}

// NewDeviceTracker creates a tracker. Isolated services never discover over MQTT.
func NewDeviceTracker(bus protocol.Bus, isolated bool, timeout time.Duration, logger *zap.Logger) *DeviceTracker {
	return &DeviceTracker{
		bus:      bus,
		isolated: isolated,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "mqtt_tracker")),
		devices:  make(map[string]*event.Event),
	}
}

// Start subscribes to the handshake topics of all devices
func (dt *DeviceTracker) Start(ctx context.Context) error {
	if dt.isolated {
		return nil
	}
	if err := dt.bus.Subscribe(ctx, protocol.HandshakeTopic+"+", dt.handleHandshake); err != nil {
		return fmt.Errorf("failed to start device tracker: %w", err)
	}
	return nil
}

// Stop unsubscribes from the handshake topics
func (dt *DeviceTracker) Stop(ctx context.Context) error {
	if dt.isolated {
		return nil
	}
	return dt.bus.Unsubscribe(ctx, protocol.HandshakeTopic+"+")
}

func (dt *DeviceTracker) presence(deviceID string) *event.Event {
	dt.mutex.Lock()
	defer dt.mutex.Unlock()

	evt, ok := dt.devices[deviceID]
	if !ok {
		evt = event.New()
		dt.devices[deviceID] = evt
	}
	return evt
}

func (dt *DeviceTracker) handleHandshake(topic string, payload string) {
	deviceID := strings.TrimPrefix(topic, protocol.HandshakeTopic)
	if payload != "" {
		dt.logger.Info("MQTT device published", zap.String("device_id", deviceID))
		dt.presence(deviceID).Set()
	} else {
		dt.logger.Debug("MQTT device removed", zap.String("device_id", deviceID))
		dt.presence(deviceID).Clear()
	}
}

// IsPresent reports whether a device currently publishes a handshake
func (dt *DeviceTracker) IsPresent(deviceID string) bool {
	return dt.presence(deviceID).IsSet()
}

// Discover waits for the device to be present and connects to it.
// It returns nil without error when the device did not show up in time.
func (dt *DeviceTracker) Discover(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (*protocol.MQTTConnection, error) {
	if dt.isolated || deviceID == "" {
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, dt.timeout)
	defer cancel()

	if err := dt.presence(deviceID).Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}

	return protocol.ConnectMQTT(ctx, dt.bus, deviceID, callbacks, dt.logger)
}
