// internal/model/command.go
package model

import "strconv"

// Opcode selects the operation carried by a request envelope
type Opcode uint8

const (
	OpcodeNone    Opcode = 0
	OpcodeVersion Opcode = 1

	OpcodeBlockRead          Opcode = 10
	OpcodeBlockReadAll       Opcode = 11
	OpcodeBlockWrite         Opcode = 12
	OpcodeBlockCreate        Opcode = 13
	OpcodeBlockDelete        Opcode = 14
	OpcodeBlockDiscover      Opcode = 15
	OpcodeBlockStoredRead    Opcode = 16
	OpcodeBlockStoredReadAll Opcode = 17

	OpcodeStorageRead    Opcode = 20
	OpcodeStorageReadAll Opcode = 21

	OpcodeReboot       Opcode = 30
	OpcodeClearBlocks  Opcode = 31
	OpcodeClearWifi    Opcode = 32
	OpcodeFactoryReset Opcode = 33

	OpcodeFirmwareUpdate Opcode = 40
)

var opcodeNames = map[Opcode]string{
	OpcodeNone:               "NONE",
	OpcodeVersion:            "VERSION",
	OpcodeBlockRead:          "BLOCK_READ",
	OpcodeBlockReadAll:       "BLOCK_READ_ALL",
	OpcodeBlockWrite:         "BLOCK_WRITE",
	OpcodeBlockCreate:        "BLOCK_CREATE",
	OpcodeBlockDelete:        "BLOCK_DELETE",
	OpcodeBlockDiscover:      "BLOCK_DISCOVER",
	OpcodeBlockStoredRead:    "BLOCK_STORED_READ",
	OpcodeBlockStoredReadAll: "BLOCK_STORED_READ_ALL",
	OpcodeStorageRead:        "STORAGE_READ",
	OpcodeStorageReadAll:     "STORAGE_READ_ALL",
	OpcodeReboot:             "REBOOT",
	OpcodeClearBlocks:        "CLEAR_BLOCKS",
	OpcodeClearWifi:          "CLEAR_WIFI",
	OpcodeFactoryReset:       "FACTORY_RESET",
	OpcodeFirmwareUpdate:     "FIRMWARE_UPDATE",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "OPCODE_" + strconv.Itoa(int(o))
}

// ErrorCode is the status returned by the controller in a response envelope
type ErrorCode uint8

const (
	ErrorCodeOK            ErrorCode = 0
	ErrorCodeUnknownError  ErrorCode = 1
	ErrorCodeInvalidOpcode ErrorCode = 2

	// Memory errors
	ErrorCodeInsufficientHeap    ErrorCode = 4
	ErrorCodeInsufficientStorage ErrorCode = 5

	// Network I/O errors
	ErrorCodeNetworkError         ErrorCode = 10
	ErrorCodeNetworkReadError     ErrorCode = 11
	ErrorCodeNetworkDecodingError ErrorCode = 12
	ErrorCodeNetworkWriteError    ErrorCode = 13
	ErrorCodeNetworkEncodingError ErrorCode = 14

	// Storage I/O errors
	ErrorCodeStorageError         ErrorCode = 20
	ErrorCodeStorageReadError     ErrorCode = 21
	ErrorCodeStorageDecodingError ErrorCode = 22
	ErrorCodeStorageCRCError      ErrorCode = 23
	ErrorCodeStorageWriteError    ErrorCode = 24
	ErrorCodeStorageEncodingError ErrorCode = 25

	// Invalid actions
	ErrorCodeBlockNotWritable  ErrorCode = 30
	ErrorCodeBlockNotReadable  ErrorCode = 31
	ErrorCodeBlockNotCreatable ErrorCode = 32
	ErrorCodeBlockNotDeletable ErrorCode = 33

	// Invalid block data
	ErrorCodeInvalidBlock        ErrorCode = 40
	ErrorCodeInvalidBlockID      ErrorCode = 41
	ErrorCodeInvalidBlockType    ErrorCode = 42
	ErrorCodeInvalidBlockSubtype ErrorCode = 43
	ErrorCodeInvalidBlockContent ErrorCode = 44

	// Invalid stored block data
	ErrorCodeInvalidStoredBlock        ErrorCode = 50
	ErrorCodeInvalidStoredBlockID      ErrorCode = 51
	ErrorCodeInvalidStoredBlockType    ErrorCode = 52
	ErrorCodeInvalidStoredBlockSubtype ErrorCode = 53
	ErrorCodeInvalidStoredBlockContent ErrorCode = 54
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeOK:                        "OK",
	ErrorCodeUnknownError:              "UNKNOWN_ERROR",
	ErrorCodeInvalidOpcode:             "INVALID_OPCODE",
	ErrorCodeInsufficientHeap:          "INSUFFICIENT_HEAP",
	ErrorCodeInsufficientStorage:       "INSUFFICIENT_STORAGE",
	ErrorCodeNetworkError:              "NETWORK_ERROR",
	ErrorCodeNetworkReadError:          "NETWORK_READ_ERROR",
	ErrorCodeNetworkDecodingError:      "NETWORK_DECODING_ERROR",
	ErrorCodeNetworkWriteError:         "NETWORK_WRITE_ERROR",
	ErrorCodeNetworkEncodingError:      "NETWORK_ENCODING_ERROR",
	ErrorCodeStorageError:              "STORAGE_ERROR",
	ErrorCodeStorageReadError:          "STORAGE_READ_ERROR",
	ErrorCodeStorageDecodingError:      "STORAGE_DECODING_ERROR",
	ErrorCodeStorageCRCError:           "STORAGE_CRC_ERROR",
	ErrorCodeStorageWriteError:         "STORAGE_WRITE_ERROR",
	ErrorCodeStorageEncodingError:      "STORAGE_ENCODING_ERROR",
	ErrorCodeBlockNotWritable:          "BLOCK_NOT_WRITABLE",
	ErrorCodeBlockNotReadable:          "BLOCK_NOT_READABLE",
	ErrorCodeBlockNotCreatable:         "BLOCK_NOT_CREATABLE",
	ErrorCodeBlockNotDeletable:         "BLOCK_NOT_DELETABLE",
	ErrorCodeInvalidBlock:              "INVALID_BLOCK",
	ErrorCodeInvalidBlockID:            "INVALID_BLOCK_ID",
	ErrorCodeInvalidBlockType:          "INVALID_BLOCK_TYPE",
	ErrorCodeInvalidBlockSubtype:       "INVALID_BLOCK_SUBTYPE",
	ErrorCodeInvalidBlockContent:       "INVALID_BLOCK_CONTENT",
	ErrorCodeInvalidStoredBlock:        "INVALID_STORED_BLOCK",
	ErrorCodeInvalidStoredBlockID:      "INVALID_STORED_BLOCK_ID",
	ErrorCodeInvalidStoredBlockType:    "INVALID_STORED_BLOCK_TYPE",
	ErrorCodeInvalidStoredBlockSubtype: "INVALID_STORED_BLOCK_SUBTYPE",
	ErrorCodeInvalidStoredBlockContent: "INVALID_STORED_BLOCK_CONTENT",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return "ERROR_" + strconv.Itoa(int(e))
}

// ReadMode selects how block content is presented when decoding
type ReadMode uint8

const (
	ReadModeDefault ReadMode = iota
	ReadModeStored
	ReadModeLogged
)

func (m ReadMode) String() string {
	switch m {
	case ReadModeStored:
		return "STORED"
	case ReadModeLogged:
		return "LOGGED"
	default:
		return "DEFAULT"
	}
}

// MaskMode determines how a payload mask is applied on write
type MaskMode uint8

const (
	MaskModeNoMask MaskMode = iota
	MaskModeInclusive
	MaskModeExclusive
)

func (m MaskMode) String() string {
	switch m {
	case MaskModeInclusive:
		return "INCLUSIVE"
	case MaskModeExclusive:
		return "EXCLUSIVE"
	default:
		return "NO_MASK"
	}
}

// EncodedPayload is a block payload with opaque, codec-encoded content
type EncodedPayload struct {
	BlockID   uint16   `json:"blockId"`
	BlockType string   `json:"blockType,omitempty"`
	Subtype   string   `json:"subtype,omitempty"`
	Name      string   `json:"name,omitempty"`
	Content   string   `json:"content"`
	Mask      []string `json:"mask,omitempty"`
	MaskMode  MaskMode `json:"maskMode"`
}

// DecodedPayload is a block payload with structured content.
// A nil Content means the payload only identifies a block.
type DecodedPayload struct {
	BlockID   uint16         `json:"blockId"`
	BlockType string         `json:"blockType,omitempty"`
	Subtype   string         `json:"subtype,omitempty"`
	Name      string         `json:"name,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Mask      []string       `json:"mask,omitempty"`
	MaskMode  MaskMode       `json:"maskMode"`
}

// Request is the envelope sent to the controller
type Request struct {
	MsgID   uint16          `json:"msgId"`
	Opcode  Opcode          `json:"opcode"`
	Mode    ReadMode        `json:"mode"`
	Payload *EncodedPayload `json:"payload,omitempty"`
}

// Response is the envelope returned by the controller
type Response struct {
	MsgID   uint16           `json:"msgId"`
	Error   ErrorCode        `json:"error"`
	Payload []EncodedPayload `json:"payload"`
}
