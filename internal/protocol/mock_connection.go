// internal/protocol/mock_connection.go
package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/codec"
	"spark-service/internal/model"
)

// mockReply is a queued override for the next request.
// A nil code means the request gets no response at all.
type mockReply struct {
	code *model.ErrorCode
}

// MockConnection is an in-process fake controller.
// It only produces responses that make sense to the service; it does not
// simulate firmware behavior.
type MockConnection struct {
	baseConnection
	codec  codec.Codec
	config MockConfig
	logger *zap.Logger

	mutex     sync.Mutex
	startTime time.Time
	nextNID   uint16
	blocks    map[uint16]*model.FirmwareBlock
	replies   []mockReply
}

func defaultMockBlocks(deviceID string) map[uint16]*model.FirmwareBlock {
	blocks := []*model.FirmwareBlock{
		{
			NID:  model.SysInfoNID,
			Type: "SysInfo",
			Data: map[string]any{
				"deviceId":         deviceID,
				"timeZone":         "Africa/Casablanca",
				"updatesPerSecond": 9001,
			},
		},
		{NID: model.OneWireBusNID, Type: "OneWireBus", Data: map[string]any{}},
		{NID: model.WiFiSettingsNID, Type: "WiFiSettings", Data: map[string]any{}},
		{NID: model.TouchSettingsNID, Type: "TouchSettings", Data: map[string]any{}},
		{NID: model.DisplaySettingsNID, Type: "DisplaySettings", Data: map[string]any{}},
		{
			NID:  model.SparkPinsNID,
			Type: "Spark3Pins",
			Data: map[string]any{
				"channels": []any{
					map[string]any{"id": 1},
					map[string]any{"id": 2},
					map[string]any{"id": 3},
					map[string]any{"id": 4},
					map[string]any{"id": 5},
				},
			},
		},
	}

	result := make(map[uint16]*model.FirmwareBlock, len(blocks))
	for _, block := range blocks {
		result[block.NID] = block
	}
	return result
}

// NewMockConnection creates a mock controller with the default system blocks
func NewMockConnection(c codec.Codec, config MockConfig, callbacks Callbacks, logger *zap.Logger) *MockConnection {
	return &MockConnection{
		baseConnection: newBaseConnection(model.ConnectionKindMock, config.DeviceID, callbacks),
		codec:          c,
		config:         config,
		logger:         logger.With(zap.String("protocol", "mock")),
		startTime:      time.Now(),
		nextNID:        model.UserNIDStart,
		blocks:         defaultMockBlocks(config.DeviceID),
	}
}

// ConnectMock creates a mock controller that is immediately connected
func ConnectMock(c codec.Codec, config MockConfig, callbacks Callbacks, logger *zap.Logger) *MockConnection {
	conn := NewMockConnection(c, config, callbacks, logger)
	conn.markConnected()
	return conn
}

// QueueError makes the next request fail with the given error code
func (mc *MockConnection) QueueError(code model.ErrorCode) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.replies = append(mc.replies, mockReply{code: &code})
}

// QueueNoResponse makes the next request go unanswered
func (mc *MockConnection) QueueNoResponse() {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.replies = append(mc.replies, mockReply{})
}

// Welcome emits the handshake event
func (mc *MockConnection) Welcome() {
	handshake := model.HandshakeMessage{
		FirmwareVersion: mc.config.FirmwareVersion,
		ProtoVersion:    mc.config.ProtoVersion,
		FirmwareDate:    mc.config.FirmwareDate,
		ProtoDate:       mc.config.ProtoDate,
		SystemVersion:   mc.config.SystemVersion,
		Platform:        "mock",
		ResetReasonHex:  "00",
		ResetDataHex:    "00",
		DeviceID:        mc.config.DeviceID,
	}
	mc.onEvent(handshake.Encode())
}

// SendRequest decodes the request, handles it, and answers synchronously
func (mc *MockConnection) SendRequest(ctx context.Context, msg string) error {
	if !mc.IsConnected() {
		return fmt.Errorf("%s: %w", mc, model.ErrNotConnected)
	}

	request, err := mc.codec.DecodeRequest(msg)
	if err != nil {
		return fmt.Errorf("failed to decode mock request: %w", err)
	}

	// Callbacks run after the mutex is released
	response, welcome, err := mc.handle(request)
	if err != nil {
		return err
	}

	if welcome {
		mc.Welcome()
	}

	if response == nil {
		return nil
	}

	encoded, err := mc.codec.EncodeResponse(*response)
	if err != nil {
		return fmt.Errorf("failed to encode mock response: %w", err)
	}
	mc.onResponse(encoded)
	return nil
}

// Close marks the mock as disconnected
func (mc *MockConnection) Close() error {
	mc.markDisconnected()
	return nil
}

func (mc *MockConnection) handle(request model.Request) (*model.Response, bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.updateSystime()

	response := &model.Response{
		MsgID:   request.MsgID,
		Error:   model.ErrorCodeOK,
		Payload: []model.EncodedPayload{},
	}

	if len(mc.replies) > 0 {
		reply := mc.replies[0]
		mc.replies = mc.replies[1:]
		if reply.code == nil {
			return nil, false, nil
		}
		response.Error = *reply.code
		return response, false, nil
	}

	var err error
	welcome := false

	switch request.Opcode {
	case model.OpcodeNone, model.OpcodeVersion:
		welcome = true

	case model.OpcodeBlockRead, model.OpcodeBlockStoredRead, model.OpcodeStorageRead:
		block := mc.lookup(request.Payload)
		if block == nil {
			response.Error = model.ErrorCodeInvalidBlockID
			break
		}
		response.Payload, err = mc.toPayloads(block)

	case model.OpcodeBlockReadAll, model.OpcodeBlockStoredReadAll, model.OpcodeStorageReadAll:
		response.Payload, err = mc.toPayloads(mc.sortedBlocks(0)...)

	case model.OpcodeBlockWrite:
		response.Error, response.Payload, err = mc.writeBlock(request)

	case model.OpcodeBlockCreate:
		response.Error, response.Payload, err = mc.createBlock(request)

	case model.OpcodeBlockDelete:
		response.Error = mc.deleteBlock(request)

	case model.OpcodeBlockDiscover:
		// Discovery always reports the pins block
		response.Payload, err = mc.toPayloads(mc.blocks[model.SparkPinsNID])

	case model.OpcodeReboot:
		mc.startTime = time.Now()
		mc.updateSystime()

	case model.OpcodeClearBlocks:
		response.Payload, err = mc.toPayloads(mc.sortedBlocks(model.UserNIDStart)...)
		mc.blocks = defaultMockBlocks(mc.config.DeviceID)
		mc.updateSystime()

	case model.OpcodeClearWifi:
		mc.blocks[model.WiFiSettingsNID].Data = map[string]any{}

	case model.OpcodeFactoryReset:
		mc.blocks = defaultMockBlocks(mc.config.DeviceID)
		mc.updateSystime()

	case model.OpcodeFirmwareUpdate:

	default:
		response.Error = model.ErrorCodeInvalidOpcode
	}

	if err != nil {
		return nil, false, err
	}
	return response, welcome, nil
}

func (mc *MockConnection) lookup(payload *model.EncodedPayload) *model.FirmwareBlock {
	if payload == nil {
		return nil
	}
	return mc.blocks[payload.BlockID]
}

func (mc *MockConnection) writeBlock(request model.Request) (model.ErrorCode, []model.EncodedPayload, error) {
	block := mc.lookup(request.Payload)
	if block == nil {
		return model.ErrorCodeInvalidBlockID, nil, nil
	}
	if request.Payload.Content == "" {
		return model.ErrorCodeInvalidBlock, nil, nil
	}
	if codec.JoinType(request.Payload.BlockType, request.Payload.Subtype) != block.Type {
		return model.ErrorCodeInvalidBlockType, nil, nil
	}

	decoded, err := mc.codec.DecodePayload(*request.Payload, request.Mode)
	if err != nil {
		return model.ErrorCodeInvalidBlockContent, nil, nil
	}

	mergeBlockData(block, decoded)
	payloads, err := mc.toPayloads(block)
	return model.ErrorCodeOK, payloads, err
}

func (mc *MockConnection) createBlock(request model.Request) (model.ErrorCode, []model.EncodedPayload, error) {
	if request.Payload == nil || request.Payload.Content == "" {
		return model.ErrorCodeInvalidBlock, nil, nil
	}

	nid := request.Payload.BlockID
	if _, exists := mc.blocks[nid]; exists {
		return model.ErrorCodeBlockNotCreatable, nil, nil
	}
	if nid > 0 && nid < model.UserNIDStart {
		return model.ErrorCodeBlockNotCreatable, nil, nil
	}

	decoded, err := mc.codec.DecodePayload(*request.Payload, request.Mode)
	if err != nil {
		return model.ErrorCodeInvalidBlockContent, nil, nil
	}

	if nid == 0 {
		nid = mc.allocateNID()
	}

	block := &model.FirmwareBlock{
		NID:  nid,
		Type: codec.JoinType(decoded.BlockType, decoded.Subtype),
		Data: map[string]any{},
	}
	for key, value := range decoded.Content {
		block.Data[key] = value
	}
	mc.blocks[nid] = block

	payloads, err := mc.toPayloads(block)
	return model.ErrorCodeOK, payloads, err
}

func (mc *MockConnection) deleteBlock(request model.Request) model.ErrorCode {
	block := mc.lookup(request.Payload)
	if block == nil {
		return model.ErrorCodeInvalidBlockID
	}
	if block.NID < model.UserNIDStart {
		return model.ErrorCodeBlockNotDeletable
	}
	delete(mc.blocks, block.NID)
	return model.ErrorCodeOK
}

func (mc *MockConnection) allocateNID() uint16 {
	for {
		nid := mc.nextNID
		mc.nextNID++
		if _, exists := mc.blocks[nid]; !exists {
			return nid
		}
	}
}

// sortedBlocks returns all blocks with nid >= minNID, ordered by nid
func (mc *MockConnection) sortedBlocks(minNID uint16) []*model.FirmwareBlock {
	result := make([]*model.FirmwareBlock, 0, len(mc.blocks))
	for nid, block := range mc.blocks {
		if nid >= minNID {
			result = append(result, block)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NID < result[j].NID })
	return result
}

func (mc *MockConnection) toPayloads(blocks ...*model.FirmwareBlock) ([]model.EncodedPayload, error) {
	payloads := make([]model.EncodedPayload, 0, len(blocks))
	for _, block := range blocks {
		blockType, subtype := codec.SplitType(block.Type)
		encoded, err := mc.codec.EncodePayload(model.DecodedPayload{
			BlockID:   block.NID,
			BlockType: blockType,
			Subtype:   subtype,
			Content:   block.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode block %d: %w", block.NID, err)
		}
		payloads = append(payloads, encoded)
	}
	return payloads, nil
}

func (mc *MockConnection) updateSystime() {
	sysinfo, ok := mc.blocks[model.SysInfoNID]
	if !ok {
		return
	}
	elapsed := time.Since(mc.startTime)
	sysinfo.Data["uptime"] = float64(elapsed.Milliseconds())
	sysinfo.Data["systemTime"] = float64(mc.startTime.Add(elapsed).UnixMilli()) / 1000
}

// mergeBlockData applies a write payload to an existing block
func mergeBlockData(block *model.FirmwareBlock, payload model.DecodedPayload) {
	switch payload.MaskMode {
	case model.MaskModeInclusive:
		for _, key := range payload.Mask {
			if value, ok := payload.Content[key]; ok {
				block.Data[key] = value
			}
		}

	case model.MaskModeExclusive:
		excluded := make(map[string]struct{}, len(payload.Mask))
		for _, key := range payload.Mask {
			excluded[key] = struct{}{}
		}
		for key, value := range payload.Content {
			if _, skip := excluded[key]; !skip {
				block.Data[key] = value
			}
		}

	default:
		data := make(map[string]any, len(payload.Content))
		for key, value := range payload.Content {
			data[key] = value
		}
		block.Data = data
	}
}
