// internal/protocol/mqtt_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

// Topic prefixes used by controllers that talk over the eventbus.
// The device ID is appended to each prefix.
const (
	HandshakeTopic = "brewcast/cbox/handshake/"
	LogTopic       = "brewcast/cbox/log/"
	RequestTopic   = "brewcast/cbox/req/"
	ResponseTopic  = "brewcast/cbox/resp/"
)

// MessageHandler receives a message published on a subscribed topic
type MessageHandler func(topic string, payload string)

// Bus is the subset of an MQTT client used by connections
type Bus interface {
	Publish(ctx context.Context, topic string, payload string) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topics ...string) error
}

// MQTTConnection exchanges requests and responses over eventbus topics
type MQTTConnection struct {
	baseConnection
	bus    Bus
	logger *zap.Logger

	requestTopic   string
	responseTopic  string
	handshakeTopic string
	logTopic       string

	closeOnce sync.Once
}

// NewMQTTConnection creates an unconnected MQTT connection for a device
func NewMQTTConnection(bus Bus, deviceID string, callbacks Callbacks, logger *zap.Logger) *MQTTConnection {
	return &MQTTConnection{
		baseConnection: newBaseConnection(model.ConnectionKindMQTT, deviceID, callbacks),
		bus:            bus,
		logger: logger.With(
			zap.String("protocol", "mqtt"),
			zap.String("device_id", deviceID),
		),
		requestTopic:   RequestTopic + deviceID,
		responseTopic:  ResponseTopic + deviceID,
		handshakeTopic: HandshakeTopic + deviceID,
		logTopic:       LogTopic + deviceID,
	}
}

// ConnectMQTT subscribes to the device topics and returns a live connection
func ConnectMQTT(ctx context.Context, bus Bus, deviceID string, callbacks Callbacks, logger *zap.Logger) (*MQTTConnection, error) {
	conn := NewMQTTConnection(bus, deviceID, callbacks, logger)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect subscribes to the handshake, response and log topics
func (mc *MQTTConnection) Connect(ctx context.Context) error {
	subscriptions := []struct {
		topic   string
		handler MessageHandler
	}{
		{mc.handshakeTopic, mc.handleHandshake},
		{mc.responseTopic, mc.handleResponse},
		{mc.logTopic, mc.handleLog},
	}

	for _, sub := range subscriptions {
		if err := mc.bus.Subscribe(ctx, sub.topic, sub.handler); err != nil {
			_ = mc.bus.Unsubscribe(ctx, mc.topics()...)
			return fmt.Errorf("failed to subscribe to %s: %w", sub.topic, err)
		}
	}

	mc.markConnected()
	mc.logger.Info("MQTT connection established")
	return nil
}

// An empty handshake is the retained message cleared by the device going away
func (mc *MQTTConnection) handleHandshake(_ string, payload string) {
	if payload == "" {
		mc.logger.Info("MQTT device handshake cleared")
		mc.markDisconnected()
	}
}

func (mc *MQTTConnection) handleResponse(_ string, payload string) {
	mc.onResponse(payload)
}

func (mc *MQTTConnection) handleLog(_ string, payload string) {
	mc.onEvent(payload)
}

// SendRequest publishes the request on the device request topic
func (mc *MQTTConnection) SendRequest(ctx context.Context, msg string) error {
	if !mc.IsConnected() {
		return fmt.Errorf("%s: %w", mc, model.ErrNotConnected)
	}
	if err := mc.bus.Publish(ctx, mc.requestTopic, msg); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}
	return nil
}

// Close unsubscribes from all device topics
func (mc *MQTTConnection) Close() error {
	defer mc.markDisconnected()

	if !mc.wasConnected() {
		return nil
	}

	var err error
	mc.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		defer cancel()
		err = mc.bus.Unsubscribe(ctx, mc.topics()...)
	})

	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (mc *MQTTConnection) topics() []string {
	return []string{mc.handshakeTopic, mc.responseTopic, mc.logTopic}
}
