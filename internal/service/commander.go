// internal/service/commander.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/codec"
	"spark-service/internal/event"
	"spark-service/internal/model"
	"spark-service/internal/state"
)

// RequestSender delivers encoded requests to the controller
type RequestSender interface {
	SendRequest(ctx context.Context, msg string) error
	Reset(ctx context.Context) error
}

// Commander matches requests with responses by message id
type Commander struct {
	codec   codec.Codec
	sender  RequestSender
	state   *state.StateMachine
	timeout time.Duration
	logger  *zap.Logger

	idMutex sync.Mutex
	msgID   uint16

	mutex   sync.Mutex
	pending map[uint16]chan model.Response
	empty   *event.Event

	connCheckMu sync.Mutex
	checks      sync.WaitGroup
}

// NewCommander creates a commander. timeout applies to every command separately.
func NewCommander(c codec.Codec, sender RequestSender, sm *state.StateMachine, timeout time.Duration, logger *zap.Logger) *Commander {
	return &Commander{
		codec:   c,
		sender:  sender,
		state:   sm,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "commander")),
		pending: make(map[uint16]chan model.Response),
		empty:   event.NewSet(),
	}
}

// NextID returns the next message id. Ids wrap to 0 after 0xFFFF.
func (c *Commander) NextID() uint16 {
	c.idMutex.Lock()
	defer c.idMutex.Unlock()
	c.msgID++
	return c.msgID
}

// PendingCount returns the number of requests awaiting a response
func (c *Commander) PendingCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)
}

// WaitEmpty blocks until no requests are awaiting a response
func (c *Commander) WaitEmpty(ctx context.Context) error {
	return c.empty.Wait(ctx)
}

func (c *Commander) register(msgID uint16) chan model.Response {
	slot := make(chan model.Response, 1)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pending[msgID] = slot
	c.empty.Clear()
	return slot
}

func (c *Commander) remove(msgID uint16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.pending, msgID)
	if len(c.pending) == 0 {
		c.empty.Set()
	}
}

// OnEvent handles handshakes and firmware log lines
func (c *Commander) OnEvent(msg string) {
	if !model.IsHandshake(msg) {
		c.logger.Info("Spark log", zap.String("msg", msg))
		return
	}

	handshake, err := model.ParseHandshake(msg)
	if err != nil {
		c.logger.Error("Invalid handshake", zap.String("msg", msg), zap.Error(err))
		return
	}

	c.logger.Info("Handshake received",
		zap.String("device_id", handshake.DeviceID),
		zap.String("firmware_version", handshake.FirmwareVersion),
		zap.String("platform", handshake.Platform),
		zap.String("reset_reason", handshake.ResetReason),
		zap.String("reset_data", handshake.ResetData),
	)
	c.state.SetAcknowledged(handshake.Describe())
}

// OnResponse resolves the pending request with the same message id.
// Responses nobody is waiting for are logged and dropped.
func (c *Commander) OnResponse(msg string) {
	response, err := c.codec.DecodeResponse(msg)
	if err != nil {
		c.logger.Error("Error parsing message", zap.String("msg", msg), zap.Error(err))
		return
	}

	c.mutex.Lock()
	slot, ok := c.pending[response.MsgID]
	c.mutex.Unlock()

	if !ok {
		c.logger.Error("Unexpected message", zap.Uint16("msg_id", response.MsgID))
		return
	}

	select {
	case slot <- response:
	default:
		c.logger.Warn("Duplicate response", zap.Uint16("msg_id", response.MsgID))
	}
}

// Execute sends a request and waits for the matching response
func (c *Commander) Execute(ctx context.Context, opcode model.Opcode, mode model.ReadMode, payload *model.DecodedPayload) ([]model.EncodedPayload, error) {
	payloads, err := c.execute(ctx, opcode, mode, payload)

	var cmdErr *model.CommandError
	var timeoutErr *model.CommandTimeoutError
	if errors.As(err, &cmdErr) || errors.As(err, &timeoutErr) {
		c.checks.Add(1)
		go func() {
			defer c.checks.Done()
			c.checkConnection()
		}()
	}

	return payloads, err
}

func (c *Commander) execute(ctx context.Context, opcode model.Opcode, mode model.ReadMode, payload *model.DecodedPayload) ([]model.EncodedPayload, error) {
	request := model.Request{
		MsgID:  c.NextID(),
		Opcode: opcode,
		Mode:   mode,
	}

	if payload != nil {
		encoded, err := c.codec.EncodePayload(*payload)
		if err != nil {
			return nil, err
		}
		request.Payload = &encoded
	}

	msg, err := c.codec.EncodeRequest(request)
	if err != nil {
		return nil, err
	}

	slot := c.register(request.MsgID)
	defer c.remove(request.MsgID)

	if err := c.sender.SendRequest(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case response := <-slot:
		if response.Error != model.ErrorCodeOK {
			return nil, &model.CommandError{Opcode: opcode, Code: response.Error}
		}
		return response.Payload, nil
	case <-timer.C:
		return nil, &model.CommandTimeoutError{Opcode: opcode}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkConnection pings a synchronized controller and resets the connection if it does not answer.
// Concurrent checks are skipped while one is running.
func (c *Commander) checkConnection() {
	if !c.connCheckMu.TryLock() {
		return
	}
	defer c.connCheckMu.Unlock()

	if !c.state.IsSynchronized() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout+time.Second)
	defer cancel()

	if _, err := c.execute(ctx, model.OpcodeNone, model.ReadModeDefault, nil); err != nil {
		c.logger.Warn("Connection check failed, resetting connection", zap.Error(err))
		if err := c.sender.Reset(ctx); err != nil {
			c.logger.Debug("Failed to reset connection", zap.Error(err))
		}
	}
}

func (c *Commander) toPayload(ident model.FirmwareBlockIdentity, data map[string]any, identityOnly, patch bool) *model.DecodedPayload {
	if ident.Type == "" {
		return &model.DecodedPayload{BlockID: ident.NID, Name: ident.ID}
	}

	blockType, subtype := codec.SplitType(ident.Type)
	payload := &model.DecodedPayload{
		BlockID:   ident.NID,
		BlockType: blockType,
		Subtype:   subtype,
		Name:      ident.ID,
		MaskMode:  model.MaskModeNoMask,
	}
	if !identityOnly {
		payload.Content = data
		if payload.Content == nil {
			payload.Content = map[string]any{}
		}
	}
	if patch {
		payload.MaskMode = model.MaskModeInclusive
	}
	return payload
}

func (c *Commander) toBlock(payload model.EncodedPayload, mode model.ReadMode) (model.FirmwareBlock, error) {
	decoded, err := c.codec.DecodePayload(payload, mode)
	if err != nil {
		return model.FirmwareBlock{}, err
	}

	data := decoded.Content
	if data == nil {
		data = map[string]any{}
	}
	return model.FirmwareBlock{
		ID:   decoded.Name,
		NID:  decoded.BlockID,
		Type: codec.JoinType(decoded.BlockType, decoded.Subtype),
		Data: data,
	}, nil
}

func (c *Commander) toBlocks(payloads []model.EncodedPayload, mode model.ReadMode) ([]model.FirmwareBlock, error) {
	blocks := make([]model.FirmwareBlock, 0, len(payloads))
	for _, payload := range payloads {
		block, err := c.toBlock(payload, mode)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (c *Commander) firstBlock(opcode model.Opcode, payloads []model.EncodedPayload, mode model.ReadMode) (model.FirmwareBlock, error) {
	if len(payloads) == 0 {
		return model.FirmwareBlock{}, fmt.Errorf("%w: %s response has no payload", model.ErrDecode, opcode)
	}
	return c.toBlock(payloads[0], mode)
}

func identityOf(block model.FirmwareBlock) model.FirmwareBlockIdentity {
	return model.FirmwareBlockIdentity{ID: block.ID, NID: block.NID, Type: block.Type}
}

// Validate checks that a block can be encoded without sending it
func (c *Commander) Validate(block model.FirmwareBlock) (model.FirmwareBlock, error) {
	request := model.Request{Opcode: model.OpcodeNone}
	payload := c.toPayload(identityOf(block), block.Data, false, false)

	encoded, err := c.codec.EncodePayload(*payload)
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	request.Payload = &encoded

	if _, err := c.codec.EncodeRequest(request); err != nil {
		return model.FirmwareBlock{}, err
	}
	return block, nil
}

// Noop sends an empty request
func (c *Commander) Noop(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeNone, model.ReadModeDefault, nil)
	return err
}

// Version prompts the controller to send its handshake
func (c *Commander) Version(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeVersion, model.ReadModeDefault, nil)
	return err
}

// ReadBlock reads a single block
func (c *Commander) ReadBlock(ctx context.Context, ident model.FirmwareBlockIdentity, mode model.ReadMode) (model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockRead, mode, c.toPayload(ident, nil, true, false))
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	return c.firstBlock(model.OpcodeBlockRead, payloads, mode)
}

// ReadStoredBlock reads the persisted settings of a single block
func (c *Commander) ReadStoredBlock(ctx context.Context, ident model.FirmwareBlockIdentity) (model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockStoredRead, model.ReadModeStored, c.toPayload(ident, nil, true, false))
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	return c.firstBlock(model.OpcodeBlockStoredRead, payloads, model.ReadModeStored)
}

// ReadAllBlocks reads every block on the controller
func (c *Commander) ReadAllBlocks(ctx context.Context, mode model.ReadMode) ([]model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockReadAll, mode, nil)
	if err != nil {
		return nil, err
	}
	return c.toBlocks(payloads, mode)
}

// ReadAllStoredBlocks reads the persisted settings of every block
func (c *Commander) ReadAllStoredBlocks(ctx context.Context) ([]model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockStoredReadAll, model.ReadModeStored, nil)
	if err != nil {
		return nil, err
	}
	return c.toBlocks(payloads, model.ReadModeStored)
}

// WriteBlock replaces the data of an existing block
func (c *Commander) WriteBlock(ctx context.Context, block model.FirmwareBlock) (model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockWrite, model.ReadModeDefault, c.toPayload(identityOf(block), block.Data, false, false))
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	return c.firstBlock(model.OpcodeBlockWrite, payloads, model.ReadModeDefault)
}

// PatchBlock writes only the fields present in block.Data
func (c *Commander) PatchBlock(ctx context.Context, block model.FirmwareBlock) (model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockWrite, model.ReadModeDefault, c.toPayload(identityOf(block), block.Data, false, true))
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	return c.firstBlock(model.OpcodeBlockWrite, payloads, model.ReadModeDefault)
}

// CreateBlock creates a new block. A zero NID lets the controller assign one.
func (c *Commander) CreateBlock(ctx context.Context, block model.FirmwareBlock) (model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockCreate, model.ReadModeDefault, c.toPayload(identityOf(block), block.Data, false, false))
	if err != nil {
		return model.FirmwareBlock{}, err
	}
	return c.firstBlock(model.OpcodeBlockCreate, payloads, model.ReadModeDefault)
}

// DeleteBlock removes a block
func (c *Commander) DeleteBlock(ctx context.Context, ident model.FirmwareBlockIdentity) error {
	_, err := c.Execute(ctx, model.OpcodeBlockDelete, model.ReadModeDefault, c.toPayload(ident, nil, true, false))
	return err
}

// DiscoverBlocks returns blocks for newly detected hardware
func (c *Commander) DiscoverBlocks(ctx context.Context) ([]model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeBlockDiscover, model.ReadModeDefault, nil)
	if err != nil {
		return nil, err
	}
	return c.toBlocks(payloads, model.ReadModeDefault)
}

// Reboot restarts the controller
func (c *Commander) Reboot(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeReboot, model.ReadModeDefault, nil)
	return err
}

// ClearBlocks removes all user blocks and returns them
func (c *Commander) ClearBlocks(ctx context.Context) ([]model.FirmwareBlock, error) {
	payloads, err := c.Execute(ctx, model.OpcodeClearBlocks, model.ReadModeDefault, nil)
	if err != nil {
		return nil, err
	}
	return c.toBlocks(payloads, model.ReadModeDefault)
}

// ClearWifi removes stored WiFi credentials
func (c *Commander) ClearWifi(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeClearWifi, model.ReadModeDefault, nil)
	return err
}

// FactoryReset restores the controller to its factory state
func (c *Commander) FactoryReset(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeFactoryReset, model.ReadModeDefault, nil)
	return err
}

// FirmwareUpdate puts the controller in firmware update mode
func (c *Commander) FirmwareUpdate(ctx context.Context) error {
	_, err := c.Execute(ctx, model.OpcodeFirmwareUpdate, model.ReadModeDefault, nil)
	return err
}

// ResetConnection forces a reconnect
func (c *Commander) ResetConnection(ctx context.Context) error {
	return c.sender.Reset(ctx)
}

// WaitChecks waits for running connection checks to finish
func (c *Commander) WaitChecks() {
	c.checks.Wait()
}
