// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents USB serial connection configuration
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
}

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Timeout   time.Duration `json:"timeout"`
	KeepAlive time.Duration `json:"keep_alive"`
}

// SimulatorConfig represents the locally started firmware simulator
type SimulatorConfig struct {
	DeviceID        string        `json:"device_id"`
	Port            int           `json:"port"`
	DisplayWSPort   int           `json:"display_ws_port"`
	FirmwareDir     string        `json:"firmware_dir"`
	WorkDir         string        `json:"work_dir"`
	ConnectInterval time.Duration `json:"connect_interval"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
}

// MockConfig represents the identity reported by the in-process mock firmware
type MockConfig struct {
	DeviceID        string `json:"device_id"`
	FirmwareVersion string `json:"firmware_version"`
	ProtoVersion    string `json:"proto_version"`
	FirmwareDate    string `json:"firmware_date"`
	ProtoDate       string `json:"proto_date"`
	SystemVersion   string `json:"system_version"`
}

const (
	// USBBaudRate is the fixed baud rate of the controller's USB serial port
	USBBaudRate = 115200

	defaultDialTimeout = 10 * time.Second
	defaultKeepAlive   = 30 * time.Second
)
