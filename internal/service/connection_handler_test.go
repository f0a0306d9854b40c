package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"spark-service/internal/model"
	"spark-service/internal/protocol"
)

func newTestHandler(t *testing.T, settings protocol.Settings, connectors Connectors) *ConnectionHandler {
	sm := newTestState(t)
	sm.SetEnabled(true)
	return NewConnectionHandler(testHandlerConfig(settings), sm, connectors, zaptest.NewLogger(t))
}

func mockConnectors(t *testing.T) Connectors {
	c := newTestCodec(t)
	return Connectors{
		Mock: func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return protocol.ConnectMock(c, mockConfig(), callbacks, zaptest.NewLogger(t)), nil
		},
	}
}

func TestCalcInterval(t *testing.T) {
	h := NewConnectionHandler(HandlerConfig{
		ConnectInterval:    2 * time.Second,
		ConnectIntervalMax: 30 * time.Second,
	}, newTestState(t), Connectors{}, zaptest.NewLogger(t))

	assert.Equal(t, 2*time.Second, h.calcInterval(0))
	assert.Equal(t, 3*time.Second, h.calcInterval(2*time.Second))
	assert.Equal(t, 4500*time.Millisecond, h.calcInterval(3*time.Second))
	assert.Equal(t, 30*time.Second, h.calcInterval(25*time.Second))
	assert.Equal(t, 30*time.Second, h.calcInterval(30*time.Second))
}

func TestSendRequestNotConnected(t *testing.T) {
	h := newTestHandler(t, protocol.Settings{Mock: true}, mockConnectors(t))

	err := h.SendRequest(context.Background(), "abcd")
	assert.ErrorIs(t, err, model.ErrNotConnected)
	assert.False(t, h.Connected())
}

func TestDiscoverUSBTimeout(t *testing.T) {
	var usbCalls, mdnsCalls atomic.Int32
	h := newTestHandler(t, protocol.Settings{Discovery: model.DiscoveryUSB}, Connectors{
		DiscoverUSB: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			usbCalls.Add(1)
			return nil, nil
		},
		DiscoverMDNS: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			mdnsCalls.Add(1)
			return nil, nil
		},
	})

	start := time.Now()
	conn, err := h.Discover(context.Background(), model.DiscoveryUSB)
	elapsed := time.Since(start)

	assert.Nil(t, conn)
	assert.True(t, model.IsDiscoveryAborted(err))
	assert.GreaterOrEqual(t, elapsed, h.cfg.DiscoveryTimeout)
	assert.Greater(t, usbCalls.Load(), int32(1))
	assert.Equal(t, int32(0), mdnsCalls.Load())
}

func TestDiscoverFallsThrough(t *testing.T) {
	var order []model.DiscoveryType
	connectors := mockConnectors(t)
	connectors.DiscoverUSB = func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
		order = append(order, model.DiscoveryUSB)
		return nil, errors.New("no permission")
	}
	connectors.DiscoverMDNS = func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
		order = append(order, model.DiscoveryMDNS)
		return nil, nil
	}
	connectors.DiscoverMQTT = func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
		order = append(order, model.DiscoveryMQTT)
		assert.Equal(t, testDeviceID, deviceID)
		return connectors.Mock(ctx, callbacks)
	}

	h := newTestHandler(t, protocol.Settings{DeviceID: testDeviceID, Discovery: model.DiscoveryAll}, connectors)

	conn, err := h.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, model.ConnectionKindMock, conn.Kind())
	assert.Equal(t, []model.DiscoveryType{model.DiscoveryUSB, model.DiscoveryMDNS, model.DiscoveryMQTT}, order)
}

func TestDiscoverCancelled(t *testing.T) {
	h := newTestHandler(t, protocol.Settings{Discovery: model.DiscoveryMDNS}, Connectors{
		DiscoverMDNS: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return nil, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Discover(ctx, model.DiscoveryMDNS)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsDiscoveryAborted(err))
}

func TestRunAbortRequiresRebootForUSB(t *testing.T) {
	h := newTestHandler(t, protocol.Settings{Discovery: model.DiscoveryUSB}, Connectors{
		DiscoverUSB: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return nil, nil
		},
	})

	err := h.Run(context.Background())
	var aborted *model.DiscoveryAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.True(t, aborted.RebootRequired)
	assert.True(t, h.state.IsDisconnected())
}

func TestRunAbortRetriesWithoutUSB(t *testing.T) {
	h := newTestHandler(t, protocol.Settings{Discovery: model.DiscoveryMDNS}, Connectors{
		DiscoverMDNS: func(ctx context.Context, deviceID string, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return nil, nil
		},
	})

	assert.NoError(t, h.Run(context.Background()))
	assert.Equal(t, 0, h.attempts)
}

func TestRunAbsorbsConnectFailures(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(t, protocol.Settings{DeviceHost: "10.0.0.2", DevicePort: 8332}, Connectors{
		TCP: func(ctx context.Context, host string, port int, callbacks protocol.Callbacks) (protocol.Connection, error) {
			calls.Add(1)
			assert.Equal(t, "10.0.0.2", host)
			assert.Equal(t, 8332, port)
			return nil, errors.New("connection refused")
		},
	})

	for i := 1; i <= h.cfg.MaxRetryCount+1; i++ {
		require.NoError(t, h.Run(context.Background()))
		assert.Equal(t, i, h.attempts)
	}

	// Retry ceiling reached: the attempt is aborted without connecting
	require.NoError(t, h.Run(context.Background()))
	assert.Equal(t, 0, h.attempts)
	assert.Equal(t, int32(h.cfg.MaxRetryCount+1), calls.Load())
}

func TestRunAbortStartsNewFailureStreak(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sm := newTestState(t)
	sm.SetEnabled(true)
	h := NewConnectionHandler(testHandlerConfig(protocol.Settings{DeviceHost: "10.0.0.2"}), sm, Connectors{
		TCP: func(ctx context.Context, host string, port int, callbacks protocol.Callbacks) (protocol.Connection, error) {
			return nil, errors.New("connection refused")
		},
	}, zap.New(core))

	// Fail until the retry ceiling aborts, then fail once more
	for i := 0; i < h.cfg.MaxRetryCount+3; i++ {
		require.NoError(t, h.Run(context.Background()))
	}

	var levels []zapcore.Level
	for _, entry := range logs.FilterMessage("Connection failed").All() {
		levels = append(levels, entry.Level)
	}
	assert.Equal(t, []zapcore.Level{
		zapcore.ErrorLevel,
		zapcore.DebugLevel,
		zapcore.DebugLevel,
		zapcore.DebugLevel,
		zapcore.ErrorLevel,
	}, levels)
	assert.Equal(t, 1, logs.FilterMessage("Connection aborted").Len())
}

func TestRunCancelledWhileDisabled(t *testing.T) {
	h := newTestHandler(t, protocol.Settings{Mock: true}, mockConnectors(t))
	h.state.SetEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Run(ctx), context.DeadlineExceeded)
}

func TestRepeatLifecycle(t *testing.T) {
	var connects atomic.Int32
	connectors := mockConnectors(t)
	mock := connectors.Mock
	connectors.Mock = func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error) {
		connects.Add(1)
		return mock(ctx, callbacks)
	}

	h := newTestHandler(t, protocol.Settings{Mock: true}, connectors)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Repeat(ctx) }()

	waitFor(t, h.state.WaitConnected)
	assert.True(t, h.Connected())
	assert.Equal(t, model.ConnectionKindMock, h.state.Desc().ConnectionKind)

	require.NoError(t, h.Reset(ctx))
	waitFor(t, h.state.WaitConnected)
	assert.Equal(t, int32(2), connects.Load())

	require.NoError(t, h.End(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Repeat did not return after End")
	}
	assert.True(t, h.state.IsDisconnected())
	assert.False(t, h.Connected())
}

func TestRepeatBackoffResetsAfterConnecting(t *testing.T) {
	var calls atomic.Int32
	connectors := mockConnectors(t)
	mock := connectors.Mock
	connectors.Mock = func(ctx context.Context, callbacks protocol.Callbacks) (protocol.Connection, error) {
		if calls.Add(1) == 3 {
			return mock(ctx, callbacks)
		}
		return nil, errors.New("connection refused")
	}

	h := newTestHandler(t, protocol.Settings{Mock: true}, connectors)

	var mutex sync.Mutex
	var intervals []time.Duration
	recorded := func() []time.Duration {
		mutex.Lock()
		defer mutex.Unlock()
		return append([]time.Duration(nil), intervals...)
	}
	h.sleep = func(ctx context.Context, d time.Duration) {
		mutex.Lock()
		intervals = append(intervals, d)
		n := len(intervals)
		mutex.Unlock()
		if n >= 4 {
			<-ctx.Done()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Repeat(ctx) }()

	waitFor(t, h.state.WaitConnected)
	require.NoError(t, h.Reset(ctx))
	require.Eventually(t, func() bool { return len(recorded()) == 4 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.End(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Repeat did not return after End")
	}

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond,
		10 * time.Millisecond,
		15 * time.Millisecond,
	}, recorded())
	assert.Equal(t, int32(4), calls.Load())
}
