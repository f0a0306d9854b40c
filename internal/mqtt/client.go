// internal/mqtt/client.go
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"spark-service/internal/protocol"
)

const (
	qos            = 0
	connectTimeout = 10 * time.Second
)

// ClientConfig represents eventbus client configuration
type ClientConfig struct {
	BrokerURL   string
	ServiceName string
}

// Client is a paho-backed eventbus client.
// Subscriptions are restored after the broker connection is re-established.
type Client struct {
	client paho.Client
	logger *zap.Logger

	mutex         sync.RWMutex
	subscriptions map[string]protocol.MessageHandler
}

// NewClient creates an eventbus client. It does not connect until Connect is called.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	c := &Client{
		logger: logger.With(
			zap.String("component", "mqtt"),
			zap.String("broker", cfg.BrokerURL),
		),
		subscriptions: make(map[string]protocol.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ServiceName, uuid.NewString())).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(opts)
	return c
}

// Connect starts connecting to the broker.
// With connect retry enabled paho keeps trying in the background, so a
// timeout here is logged and not returned.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to eventbus: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		c.logger.Warn("Eventbus not reachable yet, retrying in background")
	}
	return nil
}

// Disconnect closes the broker connection
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("Eventbus client disconnected")
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish implements protocol.Bus
func (c *Client) Publish(ctx context.Context, topic string, payload string) error {
	return wait(ctx, c.client.Publish(topic, qos, false, payload))
}

// Subscribe implements protocol.Bus
func (c *Client) Subscribe(ctx context.Context, topic string, handler protocol.MessageHandler) error {
	c.mutex.Lock()
	c.subscriptions[topic] = handler
	c.mutex.Unlock()

	if !c.client.IsConnectionOpen() {
		// onConnect subscribes once the broker is reachable
		return nil
	}

	if err := wait(ctx, c.client.Subscribe(topic, qos, c.dispatch(handler))); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe implements protocol.Bus
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	c.mutex.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.mutex.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}

	if err := wait(ctx, c.client.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (c *Client) dispatch(handler protocol.MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), string(msg.Payload()))
	}
}

func (c *Client) onConnect(client paho.Client) {
	c.logger.Info("Eventbus connected")

	c.mutex.RLock()
	filters := make(map[string]byte, len(c.subscriptions))
	handlers := make(map[string]protocol.MessageHandler, len(c.subscriptions))
	for topic, handler := range c.subscriptions {
		filters[topic] = qos
		handlers[topic] = handler
	}
	c.mutex.RUnlock()

	if len(filters) == 0 {
		return
	}

	// Each filter gets its own route so wildcard handlers keep working
	for topic, handler := range handlers {
		client.AddRoute(topic, c.dispatch(handler))
	}

	token := client.SubscribeMultiple(filters, nil)
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			c.logger.Error("Failed to restore subscriptions", zap.Error(token.Error()))
		}
	}()
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("Eventbus connection lost", zap.Error(err))
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
