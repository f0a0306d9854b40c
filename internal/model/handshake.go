// internal/model/handshake.go
package model

import (
	"fmt"
	"strings"
)

// WelcomePrefix marks the controller handshake event
const WelcomePrefix = "!BREWBLOX"

// ResetNotSpecified is used for reset codes that are not recognized
const ResetNotSpecified = "NOT_SPECIFIED"

var resetReasons = map[string]string{
	"00": "NONE",
	"0A": "UNKNOWN",
	"14": "PIN_RESET",
	"1E": "POWER_MANAGEMENT",
	"28": "POWER_DOWN",
	"32": "POWER_BROWNOUT",
	"3C": "WATCHDOG",
	"46": "UPDATE",
	"50": "UPDATE_ERROR",
	"5A": "UPDATE_TIMEOUT",
	"64": "FACTORY_RESET",
	"6E": "SAFE_MODE",
	"78": "DFU_MODE",
	"82": "PANIC",
	"8C": "USER",
}

var resetData = map[string]string{
	"00": "NOT_SPECIFIED",
	"01": "WATCHDOG",
	"02": "CBOX_RESET",
	"03": "CBOX_FACTORY_RESET",
	"04": "FIRMWARE_UPDATE_FAILED",
	"05": "LISTENING_MODE_EXIT",
	"06": "FIRMWARE_UPDATE_SUCCESS",
	"07": "OUT_OF_MEMORY",
}

// ResetReasonName maps a hex reset reason to its symbolic name
func ResetReasonName(hex string) string {
	if name, ok := resetReasons[strings.ToUpper(hex)]; ok {
		return name
	}
	return ResetNotSpecified
}

// ResetDataName maps hex reset data to its symbolic name
func ResetDataName(hex string) string {
	if name, ok := resetData[strings.ToUpper(hex)]; ok {
		return name
	}
	return ResetNotSpecified
}

// HandshakeMessage is the welcome line a controller sends after connecting
type HandshakeMessage struct {
	Name            string `json:"name"`
	FirmwareVersion string `json:"firmware_version"`
	ProtoVersion    string `json:"proto_version"`
	FirmwareDate    string `json:"firmware_date"`
	ProtoDate       string `json:"proto_date"`
	SystemVersion   string `json:"system_version"`
	Platform        string `json:"platform"`
	ResetReasonHex  string `json:"reset_reason_hex"`
	ResetDataHex    string `json:"reset_data_hex"`
	DeviceID        string `json:"device_id"`
	ResetReason     string `json:"reset_reason"`
	ResetData       string `json:"reset_data"`
}

// Older firmware omits the trailing device ID
const (
	handshakeFieldCount    = 10
	handshakeMinFieldCount = 9
)

// IsHandshake reports whether an event message is a controller handshake
func IsHandshake(msg string) bool {
	return strings.HasPrefix(msg, WelcomePrefix)
}

// ParseHandshake parses "!BREWBLOX,<fields...>" into a HandshakeMessage
func ParseHandshake(msg string) (*HandshakeMessage, error) {
	if !IsHandshake(msg) {
		return nil, fmt.Errorf("not a handshake message: %q", msg)
	}

	fields := strings.Split(strings.TrimPrefix(msg, "!"), ",")
	if len(fields) < handshakeMinFieldCount || len(fields) > handshakeFieldCount {
		return nil, fmt.Errorf("handshake has %d fields, expected %d or %d",
			len(fields), handshakeMinFieldCount, handshakeFieldCount)
	}

	var deviceID string
	if len(fields) == handshakeFieldCount {
		deviceID = fields[9]
	}

	return &HandshakeMessage{
		Name:            fields[0],
		FirmwareVersion: fields[1],
		ProtoVersion:    fields[2],
		FirmwareDate:    fields[3],
		ProtoDate:       fields[4],
		SystemVersion:   fields[5],
		Platform:        fields[6],
		ResetReasonHex:  fields[7],
		ResetDataHex:    fields[8],
		DeviceID:        deviceID,
		ResetReason:     ResetReasonName(fields[7]),
		ResetData:       ResetDataName(fields[8]),
	}, nil
}

// Describe converts the handshake into a ControllerDescription
func (h *HandshakeMessage) Describe() ControllerDescription {
	return ControllerDescription{
		SystemVersion: h.SystemVersion,
		Platform:      h.Platform,
		ResetReason:   h.ResetReason,
		Firmware:      NewFirmwareDescription(h.FirmwareVersion, h.ProtoVersion, h.FirmwareDate, h.ProtoDate),
		Device:        NewDeviceDescription(h.DeviceID),
	}
}

// Encode renders the handshake back into its wire form
func (h *HandshakeMessage) Encode() string {
	return strings.Join([]string{
		WelcomePrefix,
		h.FirmwareVersion,
		h.ProtoVersion,
		h.FirmwareDate,
		h.ProtoDate,
		h.SystemVersion,
		h.Platform,
		h.ResetReasonHex,
		h.ResetDataHex,
		h.DeviceID,
	}, ",")
}
