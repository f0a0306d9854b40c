package protocol

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spark-service/internal/model"
)

func newPipeConnection(t *testing.T) (*StreamConnection, net.Conn, *recorder) {
	t.Helper()
	local, remote := net.Pipe()
	cb := &recorder{}
	sc := NewStreamConnection(model.ConnectionKindTCP, "pipe", local, cb, zaptest.NewLogger(t))
	t.Cleanup(func() {
		sc.Close()
		remote.Close()
	})
	return sc, remote, cb
}

func TestStreamConnectionReceive(t *testing.T) {
	sc, remote, cb := newPipeConnection(t)

	waitClosed(t, sc.Connected())
	assert.True(t, sc.IsConnected())
	assert.Equal(t, model.ConnectionKindTCP, sc.Kind())
	assert.Equal(t, "pipe", sc.Address())

	_, err := remote.Write([]byte("<!BREWBLOX,a,b>resp"))
	require.NoError(t, err)
	_, err = remote.Write([]byte("onse\n<log>"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(cb.Events()) == 2 && len(cb.Responses()) == 1
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, []string{"!BREWBLOX,a,b", "log"}, cb.Events())
	assert.Equal(t, []string{"response"}, cb.Responses())
}

func TestStreamConnectionSend(t *testing.T) {
	sc, remote, _ := newPipeConnection(t)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\n')
		lines <- line
	}()

	require.NoError(t, sc.SendRequest(context.Background(), "abcd"))

	select {
	case line := <-lines:
		assert.Equal(t, "abcd\n", line)
	case <-time.After(waitTimeout):
		require.FailNow(t, "request not received")
	}
}

func TestStreamConnectionRemoteClose(t *testing.T) {
	sc, remote, _ := newPipeConnection(t)

	require.NoError(t, remote.Close())
	waitClosed(t, sc.Disconnected())

	assert.False(t, sc.IsConnected())
	err := sc.SendRequest(context.Background(), "abcd")
	assert.ErrorIs(t, err, model.ErrNotConnected)
}

func TestStreamConnectionCloseIdempotent(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	hookCalls := 0
	sc := newStreamConnection(model.ConnectionKindSim, "sim", local, func() error {
		hookCalls++
		return nil
	}, &recorder{}, zaptest.NewLogger(t))

	assert.NoError(t, sc.Close())
	assert.NoError(t, sc.Close())
	waitClosed(t, sc.Disconnected())
	assert.Equal(t, 1, hookCalls)

	// Connected cannot be signalled after a disconnect
	sc.markConnected()
	assert.False(t, sc.IsConnected())
}

func TestBaseConnectionSignals(t *testing.T) {
	base := newBaseConnection(model.ConnectionKindMock, "addr", nil)
	assert.False(t, base.IsConnected())
	assert.Equal(t, "<MOCK addr>", base.String())

	base.markConnected()
	assert.True(t, base.IsConnected())

	base.markDisconnected()
	base.markDisconnected()
	assert.False(t, base.IsConnected())

	// Nil callbacks are ignored
	base.onEvent("event")
	base.onResponse("response")
}
