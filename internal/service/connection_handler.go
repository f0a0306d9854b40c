// internal/service/connection_handler.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/event"
	"spark-service/internal/model"
	"spark-service/internal/protocol"
	"spark-service/internal/state"
	"spark-service/internal/utils"
)

// HandlerConfig holds the connection target and retry timing
type HandlerConfig struct {
	Settings           protocol.Settings
	ConnectInterval    time.Duration
	ConnectIntervalMax time.Duration
	DiscoveryInterval  time.Duration
	DiscoveryTimeout   time.Duration
	MaxRetryCount      int
}

// ConnectionHandler keeps a single connection to the controller alive
type ConnectionHandler struct {
	cfg        HandlerConfig
	state      *state.StateMachine
	connectors Connectors
	logger     *utils.ConnectionLogger

	mutex     sync.Mutex
	impl      protocol.Connection
	callbacks protocol.Callbacks

	attempts    int
	discoveryMu sync.Mutex
	ended       *event.Event

	// sleep waits between connection attempts
	sleep func(ctx context.Context, d time.Duration)
}

// NewConnectionHandler creates a connection handler
func NewConnectionHandler(cfg HandlerConfig, sm *state.StateMachine, connectors Connectors, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		cfg:        cfg,
		state:      sm,
		connectors: connectors,
		logger:     utils.NewConnectionLogger(logger, "connection-handler"),
		ended:      event.New(),
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// SetCallbacks sets the receiver of inbound messages for all future connections
func (h *ConnectionHandler) SetCallbacks(callbacks protocol.Callbacks) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.callbacks = callbacks
}

// OnEvent forwards an event message to the registered callbacks
func (h *ConnectionHandler) OnEvent(msg string) {
	if cb := h.currentCallbacks(); cb != nil {
		cb.OnEvent(msg)
	}
}

// OnResponse forwards a response message to the registered callbacks
func (h *ConnectionHandler) OnResponse(msg string) {
	if cb := h.currentCallbacks(); cb != nil {
		cb.OnResponse(msg)
	}
}

func (h *ConnectionHandler) currentCallbacks() protocol.Callbacks {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.callbacks
}

func (h *ConnectionHandler) String() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.impl == nil {
		return "<ConnectionHandler>"
	}
	return fmt.Sprintf("<ConnectionHandler for %s %s>", h.impl.Kind(), h.impl.Address())
}

// Connected reports whether a connection is active
func (h *ConnectionHandler) Connected() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.impl != nil && h.impl.IsConnected()
}

// USBCompatible reports whether the configured target may be a USB controller
func (h *ConnectionHandler) USBCompatible() bool {
	return protocol.USBCompatible(h.cfg.Settings)
}

// calcInterval returns the backoff interval that follows prev
func (h *ConnectionHandler) calcInterval(prev time.Duration) time.Duration {
	if prev == 0 {
		return h.cfg.ConnectInterval
	}
	next := prev * 3 / 2
	if next > h.cfg.ConnectIntervalMax {
		return h.cfg.ConnectIntervalMax
	}
	return next
}

// Repeat calls Run until ctx is cancelled, End is called, or a restart is required
func (h *ConnectionHandler) Repeat(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-h.ended.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	var interval time.Duration
	for {
		connected, err := h.run(runCtx)
		if h.ended.IsSet() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}

		if connected {
			interval = 0
		}
		interval = h.calcInterval(interval)
		h.sleep(runCtx, interval)
	}
}

// Run performs a single connection attempt and returns when the connection is lost.
// Transport failures are logged and absorbed. The returned error is either a
// context error or a DiscoveryAbortedError that requires a restart.
func (h *ConnectionHandler) Run(ctx context.Context) error {
	_, err := h.run(ctx)
	return err
}

func (h *ConnectionHandler) run(ctx context.Context) (connected bool, err error) {
	defer h.cleanup()

	connected, err = h.attempt(ctx)
	if err == nil {
		return connected, nil
	}
	if ctx.Err() != nil {
		return connected, ctx.Err()
	}

	var aborted *model.DiscoveryAbortedError
	if errors.As(err, &aborted) {
		h.logger.Error("Connection aborted", zap.Error(err))
		h.attempts = 0
		h.logger.ResetFailures()
		// Devices plugged in after startup are only visible after a restart
		if h.USBCompatible() {
			return connected, &model.DiscoveryAbortedError{Reason: aborted.Reason, RebootRequired: true}
		}
		return connected, nil
	}

	h.attempts++
	h.logger.LogFailure("Connection failed", err, zap.String("target", protocol.SelectTarget(h.cfg.Settings).String()))
	return connected, nil
}

func (h *ConnectionHandler) attempt(ctx context.Context) (bool, error) {
	if h.attempts > h.cfg.MaxRetryCount {
		return false, &model.DiscoveryAbortedError{Reason: "Retry attempts exhausted"}
	}

	if err := h.state.WaitEnabled(ctx); err != nil {
		return false, err
	}

	conn, err := h.Connect(ctx)
	if err != nil {
		return false, err
	}
	h.setImpl(conn)

	select {
	case <-conn.Connected():
	case <-conn.Disconnected():
		return false, fmt.Errorf("%s disconnected before connecting", conn.Kind())
	case <-ctx.Done():
		return false, ctx.Err()
	}

	h.state.SetConnected(conn.Kind(), conn.Address())
	h.attempts = 0
	h.logger.LogConnected(conn.Kind(), conn.Address())

	select {
	case <-conn.Disconnected():
		h.logger.Info("Disconnected",
			zap.String("kind", string(conn.Kind())),
			zap.String("address", conn.Address()),
		)
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (h *ConnectionHandler) setImpl(conn protocol.Connection) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.impl = conn
}

// cleanup closes and clears the active connection
func (h *ConnectionHandler) cleanup() {
	h.mutex.Lock()
	impl := h.impl
	h.impl = nil
	h.mutex.Unlock()

	if impl != nil {
		if err := impl.Close(); err != nil {
			h.logger.Debug("Failed to close connection", zap.Error(err))
		}
	}
	h.state.SetDisconnected()
}

// Connect opens a connection to the configured target
func (h *ConnectionHandler) Connect(ctx context.Context) (protocol.Connection, error) {
	var conn protocol.Connection
	var err error

	switch target := protocol.SelectTarget(h.cfg.Settings).(type) {
	case protocol.MockTarget:
		conn, err = h.connectors.Mock(ctx, h)
	case protocol.SimulationTarget:
		conn, err = h.connectors.Simulation(ctx, h)
	case protocol.TCPTarget:
		conn, err = h.connectors.TCP(ctx, target.Host, target.Port, h)
	case protocol.USBTarget:
		conn, err = h.connectors.USB(ctx, target.Port, h)
	case protocol.DiscoverTarget:
		conn, err = h.Discover(ctx, target.Discovery)
	default:
		return nil, fmt.Errorf("%w: unknown target %s", model.ErrConnectionImpossible, target)
	}

	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection returned", model.ErrConnectionImpossible)
	}
	return conn, nil
}

// Discover tries every allowed discovery method until a device is found.
// It fails with a DiscoveryAbortedError once the discovery timeout elapses.
func (h *ConnectionHandler) Discover(ctx context.Context, discovery model.DiscoveryType) (protocol.Connection, error) {
	h.discoveryMu.Lock()
	defer h.discoveryMu.Unlock()

	h.logger.Info("Discovering devices...", zap.String("discovery", string(discovery)))

	timeoutCtx, cancel := context.WithTimeout(ctx, h.cfg.DiscoveryTimeout)
	defer cancel()

	methods := []struct {
		discovery model.DiscoveryType
		discover  DiscoverFunc
	}{
		{model.DiscoveryUSB, h.connectors.DiscoverUSB},
		{model.DiscoveryMDNS, h.connectors.DiscoverMDNS},
		{model.DiscoveryMQTT, h.connectors.DiscoverMQTT},
	}

	for {
		for _, method := range methods {
			if !discovery.Includes(method.discovery) || method.discover == nil {
				continue
			}

			conn, err := method.discover(timeoutCtx, h.cfg.Settings.DeviceID, h)
			if conn != nil && err == nil {
				return conn, nil
			}
			if err != nil && timeoutCtx.Err() == nil {
				h.logger.Debug("Discovery failed",
					zap.String("method", string(method.discovery)),
					zap.Error(err),
				)
			}
			if timeoutCtx.Err() != nil {
				break
			}
		}

		if timeoutCtx.Err() == nil {
			select {
			case <-timeoutCtx.Done():
			case <-time.After(h.cfg.DiscoveryInterval):
				continue
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.DiscoveryAbortedError{Reason: "Discovery timeout"}
	}
}

// SendRequest writes a request to the active connection
func (h *ConnectionHandler) SendRequest(ctx context.Context, msg string) error {
	h.mutex.Lock()
	impl := h.impl
	h.mutex.Unlock()

	if impl == nil || !impl.IsConnected() {
		return fmt.Errorf("%s: %w", h, model.ErrNotConnected)
	}
	return impl.SendRequest(ctx, msg)
}

// Reset closes the active connection and waits until it is torn down.
// Repeat will reconnect afterwards.
func (h *ConnectionHandler) Reset(ctx context.Context) error {
	h.mutex.Lock()
	impl := h.impl
	h.mutex.Unlock()

	if impl == nil {
		return nil
	}

	if err := impl.Close(); err != nil {
		h.logger.Debug("Failed to close connection", zap.Error(err))
	}

	select {
	case <-impl.Disconnected():
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.state.WaitDisconnected(ctx)
}

// End stops reconnecting permanently and closes the active connection
func (h *ConnectionHandler) End(ctx context.Context) error {
	h.ended.Set()
	return h.Reset(ctx)
}
