// internal/codec/cbor_codec.go
package codec

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"spark-service/internal/model"
)

// chunkSeparator joins the response envelope and its payloads on the wire
const chunkSeparator = ","

type wirePayload struct {
	BlockID   uint16   `cbor:"1,keyasint"`
	BlockType string   `cbor:"2,keyasint,omitempty"`
	Subtype   string   `cbor:"3,keyasint,omitempty"`
	Name      string   `cbor:"4,keyasint,omitempty"`
	Content   []byte   `cbor:"5,keyasint,omitempty"`
	Mask      []string `cbor:"6,keyasint,omitempty"`
	MaskMode  uint8    `cbor:"7,keyasint,omitempty"`
}

type wireRequest struct {
	MsgID   uint16       `cbor:"1,keyasint"`
	Opcode  uint8        `cbor:"2,keyasint"`
	Mode    uint8        `cbor:"3,keyasint,omitempty"`
	Payload *wirePayload `cbor:"4,keyasint,omitempty"`
}

type wireResponse struct {
	MsgID uint16 `cbor:"1,keyasint"`
	Error uint8  `cbor:"2,keyasint"`
}

// CBORCodec encodes envelopes as base64 CBOR.
// Responses are sent as the envelope followed by one chunk per payload.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a codec with canonical encoding
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor decoder: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

// EncodeRequest implements Codec
func (c *CBORCodec) EncodeRequest(req model.Request) (string, error) {
	wire := wireRequest{
		MsgID:  req.MsgID,
		Opcode: uint8(req.Opcode),
		Mode:   uint8(req.Mode),
	}

	if req.Payload != nil {
		payload, err := toWire(*req.Payload)
		if err != nil {
			return "", err
		}
		wire.Payload = &payload
	}

	return c.marshal(wire)
}

// DecodeRequest implements Codec
func (c *CBORCodec) DecodeRequest(msg string) (model.Request, error) {
	var wire wireRequest
	if err := c.unmarshal(strings.TrimSpace(msg), &wire); err != nil {
		return model.Request{}, err
	}

	req := model.Request{
		MsgID:  wire.MsgID,
		Opcode: model.Opcode(wire.Opcode),
		Mode:   model.ReadMode(wire.Mode),
	}
	if wire.Payload != nil {
		payload := fromWire(*wire.Payload)
		req.Payload = &payload
	}

	return req, nil
}

// EncodeResponse implements Codec
func (c *CBORCodec) EncodeResponse(resp model.Response) (string, error) {
	envelope, err := c.marshal(wireResponse{
		MsgID: resp.MsgID,
		Error: uint8(resp.Error),
	})
	if err != nil {
		return "", err
	}

	chunks := []string{envelope}
	for _, p := range resp.Payload {
		wire, err := toWire(p)
		if err != nil {
			return "", err
		}
		chunk, err := c.marshal(wire)
		if err != nil {
			return "", err
		}
		chunks = append(chunks, chunk)
	}

	return strings.Join(chunks, chunkSeparator), nil
}

// DecodeResponse implements Codec
func (c *CBORCodec) DecodeResponse(msg string) (model.Response, error) {
	chunks := strings.Split(strings.TrimSpace(msg), chunkSeparator)

	var envelope wireResponse
	if err := c.unmarshal(chunks[0], &envelope); err != nil {
		return model.Response{}, err
	}

	resp := model.Response{
		MsgID:   envelope.MsgID,
		Error:   model.ErrorCode(envelope.Error),
		Payload: make([]model.EncodedPayload, 0, len(chunks)-1),
	}

	for _, chunk := range chunks[1:] {
		var wire wirePayload
		if err := c.unmarshal(chunk, &wire); err != nil {
			return model.Response{}, err
		}
		resp.Payload = append(resp.Payload, fromWire(wire))
	}

	return resp, nil
}

// EncodePayload implements Codec.
// Patches without an explicit mask are masked on the keys present in Content.
func (c *CBORCodec) EncodePayload(payload model.DecodedPayload) (model.EncodedPayload, error) {
	encoded := model.EncodedPayload{
		BlockID:   payload.BlockID,
		BlockType: payload.BlockType,
		Subtype:   payload.Subtype,
		Name:      payload.Name,
		Mask:      payload.Mask,
		MaskMode:  payload.MaskMode,
	}

	if payload.Content == nil {
		return encoded, nil
	}

	raw, err := c.enc.Marshal(payload.Content)
	if err != nil {
		return model.EncodedPayload{}, fmt.Errorf("%w: payload content: %v", model.ErrEncode, err)
	}
	encoded.Content = base64.StdEncoding.EncodeToString(raw)

	if encoded.MaskMode != model.MaskModeNoMask && len(encoded.Mask) == 0 {
		encoded.Mask = sortedKeys(payload.Content)
	}

	return encoded, nil
}

// DecodePayload implements Codec
func (c *CBORCodec) DecodePayload(payload model.EncodedPayload, mode model.ReadMode) (model.DecodedPayload, error) {
	decoded := model.DecodedPayload{
		BlockID:   payload.BlockID,
		BlockType: payload.BlockType,
		Subtype:   payload.Subtype,
		Name:      payload.Name,
		Mask:      payload.Mask,
		MaskMode:  payload.MaskMode,
	}

	if payload.Content == "" {
		return decoded, nil
	}

	raw, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return model.DecodedPayload{}, fmt.Errorf("%w: payload content (%s): %v", model.ErrDecode, mode, err)
	}

	content := map[string]any{}
	if err := c.dec.Unmarshal(raw, &content); err != nil {
		return model.DecodedPayload{}, fmt.Errorf("%w: payload content (%s): %v", model.ErrDecode, mode, err)
	}
	decoded.Content = content

	return decoded, nil
}

func (c *CBORCodec) marshal(v any) (string, error) {
	raw, err := c.enc.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrEncode, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *CBORCodec) unmarshal(chunk string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return fmt.Errorf("%w: invalid base64: %v", model.ErrDecode, err)
	}
	if err := c.dec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return nil
}

func toWire(p model.EncodedPayload) (wirePayload, error) {
	wire := wirePayload{
		BlockID:   p.BlockID,
		BlockType: p.BlockType,
		Subtype:   p.Subtype,
		Name:      p.Name,
		Mask:      p.Mask,
		MaskMode:  uint8(p.MaskMode),
	}

	if p.Content != "" {
		raw, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return wirePayload{}, fmt.Errorf("%w: payload content is not base64: %v", model.ErrEncode, err)
		}
		wire.Content = raw
	}

	return wire, nil
}

func fromWire(w wirePayload) model.EncodedPayload {
	p := model.EncodedPayload{
		BlockID:   w.BlockID,
		BlockType: w.BlockType,
		Subtype:   w.Subtype,
		Name:      w.Name,
		Mask:      w.Mask,
		MaskMode:  model.MaskMode(w.MaskMode),
	}
	if len(w.Content) > 0 {
		p.Content = base64.StdEncoding.EncodeToString(w.Content)
	}
	return p
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
