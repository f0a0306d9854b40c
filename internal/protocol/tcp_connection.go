// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

// ConnectTCP opens a TCP stream connection to a controller
func ConnectTCP(ctx context.Context, config TCPConfig, callbacks Callbacks, logger *zap.Logger) (*StreamConnection, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	keepAlive := config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	logger.Info("Opening TCP connection",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	// Create dialer with timeout
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Debug("Failed to open TCP connection", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return NewStreamConnection(model.ConnectionKindTCP, address, conn, callbacks, logger), nil
}
