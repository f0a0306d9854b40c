// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a request is sent without an active connection
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionImpossible marks a configuration that can never produce a connection
	ErrConnectionImpossible = errors.New("connection impossible")

	// ErrNotAcknowledged is returned when synchronizing before a handshake was received
	ErrNotAcknowledged = errors.New("controller not acknowledged")

	// ErrUpdateInProgress is returned for block requests made while firmware is being flashed
	ErrUpdateInProgress = errors.New("update in progress")

	ErrIncompatibleFirmware = errors.New("incompatible firmware")
	ErrInvalidDeviceID      = errors.New("invalid device id")

	ErrEncode = errors.New("encode failed")
	ErrDecode = errors.New("decode failed")
)

// CommandError is returned when the controller answers with a non-OK error code
type CommandError struct {
	Opcode Opcode
	Code   ErrorCode
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s, %s", e.Opcode, e.Code)
}

// CommandTimeoutError is returned when no response arrived in time
type CommandTimeoutError struct {
	Opcode Opcode
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command timeout: %s", e.Opcode)
}

// DiscoveryAbortedError signals that connecting was given up for this attempt.
// RebootRequired is set when USB devices may have been plugged in after startup.
type DiscoveryAbortedError struct {
	Reason         string
	RebootRequired bool
}

func (e *DiscoveryAbortedError) Error() string {
	if e.RebootRequired {
		return fmt.Sprintf("connection aborted: %s (restart required)", e.Reason)
	}
	return fmt.Sprintf("connection aborted: %s", e.Reason)
}

// IsDiscoveryAborted reports whether err is, or wraps, a DiscoveryAbortedError
func IsDiscoveryAborted(err error) bool {
	var aborted *DiscoveryAbortedError
	return errors.As(err, &aborted)
}
