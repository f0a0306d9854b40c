package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spark-service/internal/codec"
	"spark-service/internal/model"
	"spark-service/internal/protocol"
	"spark-service/internal/state"
)

const testDeviceID = "123456789012345678901234"

func testFirmware() model.FirmwareDescription {
	return model.NewFirmwareDescription("a1b2c3d4", "e5f6a7b8", "2021-01-01", "2021-01-02")
}

func newTestCodec(t *testing.T) codec.Codec {
	t.Helper()
	c, err := codec.NewCBORCodec()
	require.NoError(t, err)
	return c
}

func newTestState(t *testing.T) *state.StateMachine {
	return state.NewStateMachine(state.Config{
		ServiceName: "sparkey",
		Firmware:    testFirmware(),
		DeviceID:    testDeviceID,
	}, zaptest.NewLogger(t))
}

func mockConfig() protocol.MockConfig {
	fw := testFirmware()
	return protocol.MockConfig{
		DeviceID:        testDeviceID,
		FirmwareVersion: fw.FirmwareVersion,
		ProtoVersion:    fw.ProtoVersion,
		FirmwareDate:    fw.FirmwareDate,
		ProtoDate:       fw.ProtoDate,
		SystemVersion:   "3.1.0",
	}
}

func testHandlerConfig(settings protocol.Settings) HandlerConfig {
	return HandlerConfig{
		Settings:           settings,
		ConnectInterval:    10 * time.Millisecond,
		ConnectIntervalMax: 50 * time.Millisecond,
		DiscoveryInterval:  20 * time.Millisecond,
		DiscoveryTimeout:   200 * time.Millisecond,
		MaxRetryCount:      3,
	}
}

// fakeSender records requests and optionally answers them
type fakeSender struct {
	mutex    sync.Mutex
	err      error
	requests []string
	resets   int
	respond  func(msg string)
}

func (f *fakeSender) SendRequest(ctx context.Context, msg string) error {
	f.mutex.Lock()
	err := f.err
	respond := f.respond
	if err == nil {
		f.requests = append(f.requests, msg)
	}
	f.mutex.Unlock()

	if err != nil {
		return err
	}
	if respond != nil {
		respond(msg)
	}
	return nil
}

func (f *fakeSender) Reset(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.resets++
	return nil
}

func (f *fakeSender) Requests() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeSender) Resets() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.resets
}

func waitFor(t *testing.T, wait func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wait(ctx))
}
