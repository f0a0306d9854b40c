// internal/state/state_machine.go
package state

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"spark-service/internal/event"
	"spark-service/internal/model"
)

// Config describes the controller the service expects
type Config struct {
	ServiceName      string
	Firmware         model.FirmwareDescription
	DeviceID         string
	SkipVersionCheck bool
}

// Listener is notified with a snapshot after every state change
type Listener func(desc model.StatusDescription)

// StateMachine tracks the connection lifecycle.
// Each state is a flag with a non-blocking check and a blocking wait.
type StateMachine struct {
	mu               sync.RWMutex
	desc             model.StatusDescription
	skipVersionCheck bool
	listeners        []Listener
	logger           *zap.Logger

	enabled      *event.Event
	connected    *event.Event
	acknowledged *event.Event
	synchronized *event.Event
	updating     *event.Event
	disconnected *event.Event
}

// NewStateMachine creates a state machine in the disconnected state
func NewStateMachine(cfg Config, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		desc: model.StatusDescription{
			Service: model.ServiceDescription{
				Name: cfg.ServiceName,
				Firmware: model.NewFirmwareDescription(
					cfg.Firmware.FirmwareVersion,
					cfg.Firmware.ProtoVersion,
					cfg.Firmware.FirmwareDate,
					cfg.Firmware.ProtoDate,
				),
				Device: model.NewDeviceDescription(cfg.DeviceID),
			},
			ConnectionStatus: model.ConnectionStatusDisconnected,
		},
		skipVersionCheck: cfg.SkipVersionCheck,
		logger:           logger.With(zap.String("component", "state")),
		enabled:          event.New(),
		connected:        event.New(),
		acknowledged:     event.New(),
		synchronized:     event.New(),
		updating:         event.New(),
		disconnected:     event.NewSet(),
	}
}

// OnChange registers a listener for state changes
func (sm *StateMachine) OnChange(listener Listener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// Desc returns a snapshot of the current status
func (sm *StateMachine) Desc() model.StatusDescription {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshot()
}

func (sm *StateMachine) snapshot() model.StatusDescription {
	desc := sm.desc
	if sm.desc.Controller != nil {
		controller := *sm.desc.Controller
		desc.Controller = &controller
	}
	return desc
}

// notify must be called without holding mu
func (sm *StateMachine) notify() {
	sm.mu.RLock()
	desc := sm.snapshot()
	listeners := append([]Listener(nil), sm.listeners...)
	sm.mu.RUnlock()

	for _, listener := range listeners {
		listener(desc)
	}
}

// CheckCompatible returns an error if the acknowledged controller cannot be used
func (sm *StateMachine) CheckCompatible() error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.desc.FirmwareError == model.FirmwareErrorIncompatible {
		return model.ErrIncompatibleFirmware
	}
	if sm.desc.IdentityError == model.IdentityErrorIncompatible {
		return model.ErrInvalidDeviceID
	}
	return nil
}

// SetEnabled toggles whether the service may connect
func (sm *StateMachine) SetEnabled(enabled bool) {
	sm.mu.Lock()
	sm.desc.Enabled = enabled
	if enabled {
		sm.enabled.Set()
	} else {
		sm.enabled.Clear()
	}
	sm.mu.Unlock()

	sm.notify()
}

// SetConnected records a new transport connection
func (sm *StateMachine) SetConnected(kind model.ConnectionKind, address string) {
	sm.mu.Lock()
	sm.desc.Address = address
	sm.desc.ConnectionKind = kind
	sm.desc.ConnectionStatus = model.ConnectionStatusConnected

	sm.connected.Set()
	sm.acknowledged.Clear()
	sm.synchronized.Clear()
	sm.updating.Clear()
	sm.disconnected.Clear()
	sm.mu.Unlock()

	sm.logger.Info(">>> CONNECTED", zap.String("kind", string(kind)), zap.String("address", address))
	sm.notify()
}

// SetAcknowledged records the controller handshake.
// It is ignored once synchronized: only a disconnect can invalidate the handshake.
func (sm *StateMachine) SetAcknowledged(controller model.ControllerDescription) {
	sm.mu.Lock()
	if sm.synchronized.IsSet() {
		sm.mu.Unlock()
		return
	}

	service := sm.desc.Service
	wildcardID := service.Device.DeviceID == ""
	compatibleFirmware := sm.skipVersionCheck ||
		service.Firmware.ProtoVersion == controller.Firmware.ProtoVersion
	matchingFirmware := service.Firmware.FirmwareVersion == controller.Firmware.FirmwareVersion
	compatibleIdentity := wildcardID || service.Device.DeviceID == controller.Device.DeviceID

	var firmwareError model.FirmwareError
	switch {
	case !compatibleFirmware:
		firmwareError = model.FirmwareErrorIncompatible
	case !matchingFirmware:
		firmwareError = model.FirmwareErrorMismatched
	}

	var identityError model.IdentityError
	switch {
	case !compatibleIdentity:
		identityError = model.IdentityErrorIncompatible
	case wildcardID:
		identityError = model.IdentityErrorWildcardID
	}

	sm.desc.ConnectionStatus = model.ConnectionStatusAcknowledged
	sm.desc.Controller = &controller
	sm.desc.FirmwareError = firmwareError
	sm.desc.IdentityError = identityError
	sm.acknowledged.Set()
	sm.mu.Unlock()

	if !compatibleFirmware {
		sm.logger.Warn("Handshake error: incompatible firmware",
			zap.String("service_proto", service.Firmware.ProtoVersion),
			zap.String("controller_proto", controller.Firmware.ProtoVersion),
		)
	}
	if !compatibleIdentity {
		sm.logger.Warn("Handshake error: incompatible device ID",
			zap.String("service_device_id", service.Device.DeviceID),
			zap.String("controller_device_id", controller.Device.DeviceID),
		)
	}

	sm.logger.Info(">>> ACKNOWLEDGED")
	sm.notify()
}

// SetSynchronized marks the controller as ready for use
func (sm *StateMachine) SetSynchronized() error {
	sm.mu.Lock()
	if !sm.acknowledged.IsSet() {
		status := sm.desc.ConnectionStatus
		sm.mu.Unlock()
		// Callers must wait for the handshake first
		sm.logger.Error("Synchronized requested before handshake was acknowledged",
			zap.String("connection_status", string(status)),
		)
		return fmt.Errorf("failed to set synchronized status: %w", model.ErrNotAcknowledged)
	}

	sm.desc.ConnectionStatus = model.ConnectionStatusSynchronized
	sm.synchronized.Set()
	sm.mu.Unlock()

	sm.logger.Info(">>> SYNCHRONIZED")
	sm.notify()
	return nil
}

// SetUpdating marks a firmware update in progress
func (sm *StateMachine) SetUpdating() {
	sm.mu.Lock()
	sm.desc.ConnectionStatus = model.ConnectionStatusUpdating
	sm.updating.Set()
	sm.mu.Unlock()

	sm.logger.Info(">>> UPDATING")
	sm.notify()
}

// SetDisconnected resets all connection state
func (sm *StateMachine) SetDisconnected() {
	sm.mu.Lock()
	sm.desc.Controller = nil
	sm.desc.Address = ""
	sm.desc.ConnectionKind = ""
	sm.desc.ConnectionStatus = model.ConnectionStatusDisconnected
	sm.desc.FirmwareError = ""
	sm.desc.IdentityError = ""

	sm.connected.Clear()
	sm.acknowledged.Clear()
	sm.synchronized.Clear()
	sm.updating.Clear()
	sm.disconnected.Set()
	sm.mu.Unlock()

	sm.logger.Info(">>> DISCONNECTED")
	sm.notify()
}

func (sm *StateMachine) IsEnabled() bool      { return sm.enabled.IsSet() }
func (sm *StateMachine) IsConnected() bool    { return sm.connected.IsSet() }
func (sm *StateMachine) IsAcknowledged() bool { return sm.acknowledged.IsSet() }
func (sm *StateMachine) IsSynchronized() bool { return sm.synchronized.IsSet() }
func (sm *StateMachine) IsUpdating() bool     { return sm.updating.IsSet() }
func (sm *StateMachine) IsDisconnected() bool { return sm.disconnected.IsSet() }

func (sm *StateMachine) WaitEnabled(ctx context.Context) error { return sm.enabled.Wait(ctx) }

func (sm *StateMachine) WaitConnected(ctx context.Context) error { return sm.connected.Wait(ctx) }

func (sm *StateMachine) WaitAcknowledged(ctx context.Context) error {
	return sm.acknowledged.Wait(ctx)
}

func (sm *StateMachine) WaitSynchronized(ctx context.Context) error {
	return sm.synchronized.Wait(ctx)
}

func (sm *StateMachine) WaitUpdating(ctx context.Context) error { return sm.updating.Wait(ctx) }

func (sm *StateMachine) WaitDisconnected(ctx context.Context) error {
	return sm.disconnected.Wait(ctx)
}
