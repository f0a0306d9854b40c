// internal/model/device.go
package model

import (
	"fmt"
	"strings"
)

// ConnectionKind identifies the transport behind the active connection
type ConnectionKind string

const (
	ConnectionKindMock ConnectionKind = "MOCK"
	ConnectionKindSim  ConnectionKind = "SIM"
	ConnectionKindUSB  ConnectionKind = "USB"
	ConnectionKindTCP  ConnectionKind = "TCP"
	ConnectionKindMQTT ConnectionKind = "MQTT"
)

// ConnectionStatus is the lifecycle state reported by the state machine
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusAcknowledged ConnectionStatus = "ACKNOWLEDGED"
	ConnectionStatusSynchronized ConnectionStatus = "SYNCHRONIZED"
	ConnectionStatusUpdating     ConnectionStatus = "UPDATING"
)

// DiscoveryType limits which discovery methods are attempted
type DiscoveryType string

const (
	DiscoveryAll  DiscoveryType = "all"
	DiscoveryUSB  DiscoveryType = "usb"
	DiscoveryMDNS DiscoveryType = "mdns"
	DiscoveryMQTT DiscoveryType = "mqtt"
)

// ParseDiscoveryType parses a configured discovery type.
// "wifi" and "lan" are accepted as aliases for mdns.
func ParseDiscoveryType(value string) (DiscoveryType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return DiscoveryAll, nil
	case "usb":
		return DiscoveryUSB, nil
	case "mdns", "wifi", "lan":
		return DiscoveryMDNS, nil
	case "mqtt":
		return DiscoveryMQTT, nil
	default:
		return "", fmt.Errorf("invalid discovery type: %s", value)
	}
}

// Includes reports whether discovery method m is allowed by this setting
func (d DiscoveryType) Includes(m DiscoveryType) bool {
	return d == DiscoveryAll || d == m
}

// FirmwareError describes how controller firmware differs from the service
type FirmwareError string

const (
	FirmwareErrorIncompatible FirmwareError = "INCOMPATIBLE"
	FirmwareErrorMismatched   FirmwareError = "MISMATCHED"
)

// IdentityError describes how the controller identity differs from the configured one
type IdentityError string

const (
	IdentityErrorIncompatible IdentityError = "INCOMPATIBLE"
	IdentityErrorWildcardID   IdentityError = "WILDCARD_ID"
)

// Well-known numeric block ids
const (
	SysInfoNID         uint16 = 2
	OneWireBusNID      uint16 = 4
	WiFiSettingsNID    uint16 = 5
	TouchSettingsNID   uint16 = 6
	DisplaySettingsNID uint16 = 7
	SparkPinsNID       uint16 = 19

	// UserNIDStart is the first id handed out to user-created blocks
	UserNIDStart uint16 = 100
)

// FirmwareBlock is a block as it exists on the controller
type FirmwareBlock struct {
	ID   string         `json:"id,omitempty"`
	NID  uint16         `json:"nid"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// FirmwareBlockIdentity addresses a block without carrying its data
type FirmwareBlockIdentity struct {
	ID   string `json:"id,omitempty"`
	NID  uint16 `json:"nid"`
	Type string `json:"type,omitempty"`
}
