// internal/protocol/serial_connection.go
package protocol

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"spark-service/internal/model"
)

// ConnectUSB opens the controller's USB serial port
func ConnectUSB(config SerialConfig, callbacks Callbacks, logger *zap.Logger) (*StreamConnection, error) {
	baudRate := config.BaudRate
	if baudRate == 0 {
		baudRate = USBBaudRate
	}

	logger.Info("Opening serial port",
		zap.String("port", config.Port),
		zap.Int("baud_rate", baudRate),
	)

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		logger.Debug("Failed to open serial port", zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
	}

	if err := port.SetRTS(false); err != nil {
		logger.Debug("Failed to clear RTS", zap.Error(err))
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return NewStreamConnection(model.ConnectionKindUSB, config.Port, port, callbacks, logger), nil
}
