// internal/protocol/protocol.go
package protocol

import (
	"context"
	"fmt"
	"sync"

	"spark-service/internal/model"
)

// Callbacks receive inbound messages from a connection.
// OnResponse gets one encoded response envelope per call, possibly made of
// comma-separated chunks. OnEvent gets firmware log lines and handshakes.
type Callbacks interface {
	OnEvent(msg string)
	OnResponse(msg string)
}

// Connection is a single transport session with a controller.
//
// Connected and Disconnected are one-shot signals: once Disconnected is
// closed the connection never becomes usable again. Close is idempotent and
// always results in Disconnected being closed.
type Connection interface {
	Kind() model.ConnectionKind
	Address() string

	Connected() <-chan struct{}
	Disconnected() <-chan struct{}
	IsConnected() bool

	SendRequest(ctx context.Context, msg string) error
	Close() error
}

// baseConnection implements the signal bookkeeping shared by all connections
type baseConnection struct {
	kind      model.ConnectionKind
	address   string
	callbacks Callbacks

	connectOnce    sync.Once
	disconnectOnce sync.Once
	connected      chan struct{}
	disconnected   chan struct{}
}

func newBaseConnection(kind model.ConnectionKind, address string, callbacks Callbacks) baseConnection {
	return baseConnection{
		kind:         kind,
		address:      address,
		callbacks:    callbacks,
		connected:    make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

func (b *baseConnection) Kind() model.ConnectionKind { return b.kind }

func (b *baseConnection) Address() string { return b.address }

func (b *baseConnection) Connected() <-chan struct{} { return b.connected }

func (b *baseConnection) Disconnected() <-chan struct{} { return b.disconnected }

func (b *baseConnection) String() string {
	return fmt.Sprintf("<%s %s>", b.kind, b.address)
}

// IsConnected is true between the connected and disconnected signals
func (b *baseConnection) IsConnected() bool {
	select {
	case <-b.disconnected:
		return false
	default:
	}

	select {
	case <-b.connected:
		return true
	default:
		return false
	}
}

func (b *baseConnection) isDisconnected() bool {
	select {
	case <-b.disconnected:
		return true
	default:
		return false
	}
}

// markConnected has no effect after markDisconnected
func (b *baseConnection) markConnected() {
	if b.isDisconnected() {
		return
	}
	b.connectOnce.Do(func() { close(b.connected) })
}

func (b *baseConnection) markDisconnected() {
	b.disconnectOnce.Do(func() { close(b.disconnected) })
}

func (b *baseConnection) onEvent(msg string) {
	if b.callbacks != nil {
		b.callbacks.OnEvent(msg)
	}
}

func (b *baseConnection) onResponse(msg string) {
	if b.callbacks != nil {
		b.callbacks.OnResponse(msg)
	}
}

func (b *baseConnection) wasConnected() bool {
	select {
	case <-b.connected:
		return true
	default:
		return false
	}
}
