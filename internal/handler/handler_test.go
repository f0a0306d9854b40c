// internal/handler/handler_test.go
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spark-service/internal/config"
	"spark-service/internal/discovery"
	"spark-service/internal/model"
	"spark-service/internal/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestState(t *testing.T) *state.StateMachine {
	return state.NewStateMachine(state.Config{
		ServiceName: "spark-test",
		DeviceID:    "1234567890AB1234567890AB",
	}, zaptest.NewLogger(t))
}

type fakeBlocks struct {
	err    error
	blocks []model.FirmwareBlock
	stored bool
}

func (f *fakeBlocks) Noop(ctx context.Context) error { return f.err }

func (f *fakeBlocks) ReadBlock(ctx context.Context, ident model.FirmwareBlockIdentity, mode model.ReadMode) (model.FirmwareBlock, error) {
	if f.err != nil {
		return model.FirmwareBlock{}, f.err
	}
	return model.FirmwareBlock{NID: ident.NID, Type: "SysInfo"}, nil
}

func (f *fakeBlocks) ReadAllBlocks(ctx context.Context, mode model.ReadMode) ([]model.FirmwareBlock, error) {
	return f.blocks, f.err
}

func (f *fakeBlocks) ReadStoredBlock(ctx context.Context, ident model.FirmwareBlockIdentity) (model.FirmwareBlock, error) {
	f.stored = true
	return f.ReadBlock(ctx, ident, model.ReadModeStored)
}

func (f *fakeBlocks) ReadAllStoredBlocks(ctx context.Context) ([]model.FirmwareBlock, error) {
	f.stored = true
	return f.blocks, f.err
}

func (f *fakeBlocks) DiscoverBlocks(ctx context.Context) ([]model.FirmwareBlock, error) {
	return nil, f.err
}

type fakeScanners struct {
	devices   []*discovery.DiscoveredDevice
	discovery model.DiscoveryType
	deviceID  string
}

func (f *fakeScanners) ScanAll(ctx context.Context, d model.DiscoveryType, deviceID string) ([]*discovery.DiscoveredDevice, error) {
	f.discovery = d
	f.deviceID = deviceID
	return f.devices, nil
}

func (f *fakeScanners) GetAvailableScanners() []model.DiscoveryType {
	return []model.DiscoveryType{model.DiscoveryUSB}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func perform(t *testing.T, router http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func newTestRouter(t *testing.T, sm *state.StateMachine, blocks BlockReader, scanners DeviceScanner) *gin.Engine {
	cfg := &config.Config{App: config.AppConfig{Name: "spark-service", Version: "test"}}
	logger := zaptest.NewLogger(t)

	router := gin.New()
	NewHealthHandler(sm, cfg, logger).RegisterRoutes(router)
	api := router.Group("/api/v1")
	NewStatusHandler(sm, logger).RegisterRoutes(api)
	NewBlockHandler(blocks, sm, logger).RegisterRoutes(api)
	NewDiscoveryHandler(scanners, logger).RegisterRoutes(api)
	return router
}

func TestHealthAndReadiness(t *testing.T) {
	sm := newTestState(t)
	router := newTestRouter(t, sm, &fakeBlocks{}, &fakeScanners{})

	rec, _ := perform(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, string(model.ConnectionStatusDisconnected), health.Checks["controller"].Status)

	rec, _ = perform(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = perform(t, router, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusAndEnabled(t *testing.T) {
	sm := newTestState(t)
	router := newTestRouter(t, sm, &fakeBlocks{}, &fakeScanners{})

	rec, resp := perform(t, router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var desc model.StatusDescription
	require.NoError(t, json.Unmarshal(resp.Data, &desc))
	assert.False(t, desc.Enabled)
	assert.Equal(t, "1234567890ab1234567890ab", desc.Service.Device.DeviceID)

	rec, _ = perform(t, router, http.MethodPut, "/api/v1/enabled", []byte(`{"enabled":true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sm.IsEnabled())

	rec, _ = perform(t, router, http.MethodPut, "/api/v1/enabled", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, sm.IsEnabled())
}

func TestBlockRoutes(t *testing.T) {
	blocks := &fakeBlocks{blocks: []model.FirmwareBlock{{NID: 2, Type: "SysInfo"}, {NID: 100, Type: "TempSensorMock"}}}
	router := newTestRouter(t, newTestState(t), blocks, &fakeScanners{})

	rec, resp := perform(t, router, http.MethodGet, "/api/v1/blocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 2, list.Count)
	assert.False(t, blocks.stored)

	rec, resp = perform(t, router, http.MethodGet, "/api/v1/blocks/2?stored=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var block model.FirmwareBlock
	require.NoError(t, json.Unmarshal(resp.Data, &block))
	assert.Equal(t, uint16(2), block.NID)
	assert.True(t, blocks.stored)

	rec, _ = perform(t, router, http.MethodGet, "/api/v1/blocks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockRoutesMapErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", model.ErrNotConnected, http.StatusServiceUnavailable},
		{"command error", &model.CommandError{Opcode: model.OpcodeNone, Code: model.ErrorCodeUnknownError}, http.StatusBadRequest},
		{"timeout", &model.CommandTimeoutError{Opcode: model.OpcodeNone}, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, newTestState(t), &fakeBlocks{err: tt.err}, &fakeScanners{})
			rec, resp := perform(t, router, http.MethodPost, "/api/v1/noop", nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestBlockRoutesRejectedWhileUpdating(t *testing.T) {
	sm := newTestState(t)
	router := newTestRouter(t, sm, &fakeBlocks{}, &fakeScanners{})
	sm.SetUpdating()

	rec, resp := perform(t, router, http.MethodPost, "/api/v1/noop", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	rec, _ = perform(t, router, http.MethodGet, "/api/v1/blocks", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = perform(t, router, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDiscoveryScan(t *testing.T) {
	scanners := &fakeScanners{devices: []*discovery.DiscoveredDevice{
		{Method: model.DiscoveryUSB, DeviceID: "abcd", Address: "/dev/ttyACM0"},
	}}
	router := newTestRouter(t, newTestState(t), &fakeBlocks{}, scanners)

	rec, resp := perform(t, router, http.MethodGet, "/api/v1/discovery/scan?type=usb&device_id=abcd&timeout=1s", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DiscoveryUSB, scanners.discovery)
	assert.Equal(t, "abcd", scanners.deviceID)

	var result struct {
		DevicesFound int `json:"devices_found"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.DevicesFound)

	rec, _ = perform(t, router, http.MethodGet, "/api/v1/discovery/scan?type=bluetooth", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = perform(t, router, http.MethodGet, "/api/v1/discovery/scan?timeout=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketStatusStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zaptest.NewLogger(t)
	sm := newTestState(t)
	bus := NewEventBus(logger)
	sm.OnChange(bus.PublishStatus)
	ws := NewWebSocketHandler(sm, bus, logger)
	go bus.Start(ctx)
	go ws.Run(ctx)

	router := gin.New()
	ws.RegisterRoutes(router.Group("/ws"))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type statusFrame struct {
		Type string                  `json:"type"`
		Data model.StatusDescription `json:"data"`
	}

	read := func() statusFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame statusFrame
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}

	initial := read()
	assert.Equal(t, MessageTypeStatus, initial.Type)
	assert.False(t, initial.Data.Enabled)

	sm.SetEnabled(true)
	changed := read()
	assert.Equal(t, MessageTypeStatus, changed.Type)
	assert.True(t, changed.Data.Enabled)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, read().Type)

	assert.Equal(t, 1, ws.GetConnectionStats().TotalConnections)
}

func TestConnectionManagerUnregisterTwice(t *testing.T) {
	cm := NewConnectionManager()
	client := &Client{ID: "a", Send: make(chan []byte, 1)}

	cm.Register(client)
	assert.True(t, cm.Send(client, []byte("x")))
	assert.False(t, cm.Send(client, []byte("y")), "buffer full")

	cm.Unregister(client)
	cm.Unregister(client)
	assert.Equal(t, 0, cm.Count())
	assert.False(t, cm.Send(client, []byte("z")))
}
