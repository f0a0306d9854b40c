// internal/model/status.go
package model

import "strings"

// versionLength is the number of git hash characters compared between versions
const versionLength = 8

// FirmwareDescription identifies a firmware build
type FirmwareDescription struct {
	FirmwareVersion string `json:"firmware_version"`
	ProtoVersion    string `json:"proto_version"`
	FirmwareDate    string `json:"firmware_date"`
	ProtoDate       string `json:"proto_date"`
}

// NewFirmwareDescription truncates versions to their comparable prefix
func NewFirmwareDescription(firmwareVersion, protoVersion, firmwareDate, protoDate string) FirmwareDescription {
	return FirmwareDescription{
		FirmwareVersion: truncate(firmwareVersion, versionLength),
		ProtoVersion:    truncate(protoVersion, versionLength),
		FirmwareDate:    firmwareDate,
		ProtoDate:       protoDate,
	}
}

// DeviceDescription identifies a controller
type DeviceDescription struct {
	DeviceID string `json:"device_id"`
}

// NewDeviceDescription normalizes the device id to lower case
func NewDeviceDescription(deviceID string) DeviceDescription {
	return DeviceDescription{DeviceID: strings.ToLower(deviceID)}
}

// ServiceDescription is what the service expects to connect to
type ServiceDescription struct {
	Name     string              `json:"name"`
	Firmware FirmwareDescription `json:"firmware"`
	Device   DeviceDescription   `json:"device"`
}

// ControllerDescription is what the controller reported in its handshake
type ControllerDescription struct {
	SystemVersion string              `json:"system_version"`
	Platform      string              `json:"platform"`
	ResetReason   string              `json:"reset_reason"`
	Firmware      FirmwareDescription `json:"firmware"`
	Device        DeviceDescription   `json:"device"`
}

// StatusDescription is a snapshot of the connection lifecycle
type StatusDescription struct {
	Enabled          bool                   `json:"enabled"`
	Service          ServiceDescription     `json:"service"`
	Controller       *ControllerDescription `json:"controller,omitempty"`
	Address          string                 `json:"address,omitempty"`
	ConnectionKind   ConnectionKind         `json:"connection_kind,omitempty"`
	ConnectionStatus ConnectionStatus       `json:"connection_status"`
	FirmwareError    FirmwareError          `json:"firmware_error,omitempty"`
	IdentityError    IdentityError          `json:"identity_error,omitempty"`
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
