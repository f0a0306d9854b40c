package codec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark-service/internal/codec"
	"spark-service/internal/model"
)

func newCodec(t *testing.T) *codec.CBORCodec {
	t.Helper()
	c, err := codec.NewCBORCodec()
	require.NoError(t, err)
	return c
}

func TestRequestEnvelope(t *testing.T) {
	c := newCodec(t)

	payload, err := c.EncodePayload(model.DecodedPayload{
		BlockID:   101,
		BlockType: "TempSensorOneWire",
		Content:   map[string]any{"offset": "1.5"},
	})
	require.NoError(t, err)

	msg, err := c.EncodeRequest(model.Request{
		MsgID:   42,
		Opcode:  model.OpcodeBlockWrite,
		Payload: &payload,
	})
	require.NoError(t, err)
	assert.NotContains(t, msg, "\n")

	req, err := c.DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), req.MsgID)
	assert.Equal(t, model.OpcodeBlockWrite, req.Opcode)
	require.NotNil(t, req.Payload)

	decoded, err := c.DecodePayload(*req.Payload, model.ReadModeDefault)
	require.NoError(t, err)
	assert.Equal(t, uint16(101), decoded.BlockID)
	assert.Equal(t, "1.5", decoded.Content["offset"])
}

func TestResponseChunks(t *testing.T) {
	c := newCodec(t)

	first, err := c.EncodePayload(model.DecodedPayload{BlockID: 1, BlockType: "A", Content: map[string]any{}})
	require.NoError(t, err)
	second, err := c.EncodePayload(model.DecodedPayload{BlockID: 2, BlockType: "B", Content: map[string]any{}})
	require.NoError(t, err)

	msg, err := c.EncodeResponse(model.Response{
		MsgID:   7,
		Error:   model.ErrorCodeOK,
		Payload: []model.EncodedPayload{first, second},
	})
	require.NoError(t, err)
	assert.Len(t, strings.Split(msg, ","), 3)

	resp, err := c.DecodeResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), resp.MsgID)
	require.Len(t, resp.Payload, 2)
	assert.Equal(t, uint16(1), resp.Payload[0].BlockID)
	assert.Equal(t, "B", resp.Payload[1].BlockType)
}

func TestIdentityOnlyPayload(t *testing.T) {
	c := newCodec(t)

	encoded, err := c.EncodePayload(model.DecodedPayload{BlockID: 5})
	require.NoError(t, err)
	assert.Empty(t, encoded.Content)

	decoded, err := c.DecodePayload(encoded, model.ReadModeDefault)
	require.NoError(t, err)
	assert.Nil(t, decoded.Content)
}

func TestPatchMaskFromContent(t *testing.T) {
	c := newCodec(t)

	encoded, err := c.EncodePayload(model.DecodedPayload{
		BlockID:  5,
		Content:  map[string]any{"b": 1, "a": 2},
		MaskMode: model.MaskModeInclusive,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, encoded.Mask)
}

func TestDecodeErrors(t *testing.T) {
	c := newCodec(t)

	_, err := c.DecodeResponse("not base64!")
	assert.ErrorIs(t, err, model.ErrDecode)

	_, err = c.DecodeResponse("")
	assert.ErrorIs(t, err, model.ErrDecode)

	_, err = c.DecodePayload(model.EncodedPayload{Content: "%%%"}, model.ReadModeDefault)
	assert.ErrorIs(t, err, model.ErrDecode)

	_, err = c.EncodeRequest(model.Request{Payload: &model.EncodedPayload{Content: "%%%"}})
	assert.ErrorIs(t, err, model.ErrEncode)
}

func TestSplitJoinType(t *testing.T) {
	blockType, subtype := codec.SplitType("Block.Sub")
	assert.Equal(t, "Block", blockType)
	assert.Equal(t, "Sub", subtype)
	assert.Equal(t, "Block.Sub", codec.JoinType(blockType, subtype))
	assert.Equal(t, "Block", codec.JoinType("Block", ""))
}
