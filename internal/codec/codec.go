// internal/codec/codec.go
package codec

import (
	"strings"

	"spark-service/internal/model"
)

// Codec converts envelopes and payloads between their wire and structured forms.
// All methods are pure and fail with an error wrapping model.ErrEncode or
// model.ErrDecode on malformed input.
type Codec interface {
	EncodeRequest(req model.Request) (string, error)
	DecodeRequest(msg string) (model.Request, error)
	EncodeResponse(resp model.Response) (string, error)
	DecodeResponse(msg string) (model.Response, error)
	EncodePayload(payload model.DecodedPayload) (model.EncodedPayload, error)
	DecodePayload(payload model.EncodedPayload, mode model.ReadMode) (model.DecodedPayload, error)
}

// SplitType splits "Type.Subtype" into its parts
func SplitType(fullType string) (string, string) {
	blockType, subtype, _ := strings.Cut(fullType, ".")
	return blockType, subtype
}

// JoinType is the inverse of SplitType
func JoinType(blockType, subtype string) string {
	if subtype == "" {
		return blockType
	}
	return blockType + "." + subtype
}
