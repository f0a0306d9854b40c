// internal/protocol/stream_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

const readBufferSize = 4096

// StreamConnection runs the controller protocol over a duplex byte stream.
// Inbound bytes go through a StreamTokenizer; requests are written as lines.
type StreamConnection struct {
	baseConnection
	stream    io.ReadWriteCloser
	tokenizer *StreamTokenizer
	logger    *zap.Logger

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closing    chan struct{}
	onClose    func() error
}

// NewStreamConnection wraps an open stream and starts reading from it
func NewStreamConnection(
	kind model.ConnectionKind,
	address string,
	stream io.ReadWriteCloser,
	callbacks Callbacks,
	logger *zap.Logger,
) *StreamConnection {
	return newStreamConnection(kind, address, stream, nil, callbacks, logger)
}

func newStreamConnection(
	kind model.ConnectionKind,
	address string,
	stream io.ReadWriteCloser,
	onClose func() error,
	callbacks Callbacks,
	logger *zap.Logger,
) *StreamConnection {
	sc := &StreamConnection{
		baseConnection: newBaseConnection(kind, address, callbacks),
		stream:         stream,
		tokenizer:      NewStreamTokenizer(),
		closing:        make(chan struct{}),
		onClose:        onClose,
		logger: logger.With(
			zap.String("protocol", "stream"),
			zap.String("kind", string(kind)),
			zap.String("address", address),
		),
	}

	sc.markConnected()
	go sc.readLoop()

	return sc
}

// readLoop is the only user of the tokenizer
func (sc *StreamConnection) readLoop() {
	defer sc.markDisconnected()

	buffer := make([]byte, readBufferSize)
	for {
		n, err := sc.stream.Read(buffer)
		if n > 0 {
			sc.tokenizer.Push(string(buffer[:n]))

			for _, msg := range sc.tokenizer.EventMessages() {
				sc.onEvent(msg)
			}
			for _, msg := range sc.tokenizer.DataMessages() {
				sc.onResponse(msg)
			}
		}

		if err != nil {
			select {
			case <-sc.closing:
			default:
				if !errors.Is(err, io.EOF) {
					sc.logger.Error("Connection closed with error", zap.Error(err))
				}
			}
			sc.shutdown()
			return
		}
	}
}

// SendRequest writes one newline-terminated request
func (sc *StreamConnection) SendRequest(ctx context.Context, msg string) error {
	if !sc.IsConnected() {
		return fmt.Errorf("%s: %w", sc, model.ErrNotConnected)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if conn, ok := sc.stream.(interface{ SetWriteDeadline(t time.Time) error }); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
	}

	if _, err := io.WriteString(sc.stream, msg+"\n"); err != nil {
		sc.logger.Error("Write failed", zap.Error(err))
		sc.Close()
		return fmt.Errorf("failed to write request: %w", err)
	}

	sc.logger.Debug("Request written", zap.Int("bytes", len(msg)+1))
	return nil
}

// Close closes the stream. Repeated calls are no-ops.
func (sc *StreamConnection) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		close(sc.closing)
		err = sc.stream.Close()
		if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			err = nil
		}
		if sc.onClose != nil {
			if hookErr := sc.onClose(); hookErr != nil && err == nil {
				err = hookErr
			}
		}
	})
	sc.markDisconnected()

	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// shutdown releases resources after the remote end closed the stream
func (sc *StreamConnection) shutdown() {
	if err := sc.Close(); err != nil {
		sc.logger.Debug("Close after read error failed", zap.Error(err))
	}
}
