package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark-service/internal/model"
)

func TestParseHandshake(t *testing.T) {
	msg := "!BREWBLOX,ed70d66f0,3f2243a,2019-06-18,2019-06-17,1.2.1-rc.2,p1,78,02,1234567F0CASE"

	hs, err := model.ParseHandshake(msg)
	require.NoError(t, err)

	assert.Equal(t, "BREWBLOX", hs.Name)
	assert.Equal(t, "ed70d66f0", hs.FirmwareVersion)
	assert.Equal(t, "3f2243a", hs.ProtoVersion)
	assert.Equal(t, "p1", hs.Platform)
	assert.Equal(t, "DFU_MODE", hs.ResetReason)
	assert.Equal(t, "CBOX_RESET", hs.ResetData)
	assert.Equal(t, "1234567F0CASE", hs.DeviceID)

	desc := hs.Describe()
	assert.Equal(t, "ed70d66f", desc.Firmware.FirmwareVersion)
	assert.Equal(t, "3f2243a", desc.Firmware.ProtoVersion)
	assert.Equal(t, "1234567f0case", desc.Device.DeviceID)
	assert.Equal(t, "DFU_MODE", desc.ResetReason)
}

func TestParseHandshakeWithoutDeviceID(t *testing.T) {
	hs, err := model.ParseHandshake("!BREWBLOX,ed70d66f0,3f2243a,2019-06-18,2019-06-17,1.2.1-rc.2,p1,00,00")
	require.NoError(t, err)

	assert.Equal(t, "p1", hs.Platform)
	assert.Equal(t, "ed70d66f0", hs.FirmwareVersion)
	assert.Empty(t, hs.DeviceID)
	assert.Empty(t, hs.Describe().Device.DeviceID)
}

func TestParseHandshakeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"no prefix", "BREWBLOX,a,b,c,d,e,f,00,00,id"},
		{"too few fields", "!BREWBLOX,a,b,c,d,e,f,00"},
		{"too many fields", "!BREWBLOX,a,b,c,d,e,f,00,00,id,extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.ParseHandshake(tt.msg)
			assert.Error(t, err)
		})
	}
}

func TestResetNames(t *testing.T) {
	assert.Equal(t, "USER", model.ResetReasonName("8c"))
	assert.Equal(t, "NONE", model.ResetReasonName("00"))
	assert.Equal(t, model.ResetNotSpecified, model.ResetReasonName("FF"))
	assert.Equal(t, "OUT_OF_MEMORY", model.ResetDataName("07"))
	assert.Equal(t, model.ResetNotSpecified, model.ResetDataName("xx"))
}

func TestHandshakeEncodeRoundTrip(t *testing.T) {
	msg := "!BREWBLOX,fw,proto,2020-01-01,2020-01-02,3.0.0,mock,00,00,abcdef"
	hs, err := model.ParseHandshake(msg)
	require.NoError(t, err)
	assert.Equal(t, msg, hs.Encode())
}

func TestParseDiscoveryType(t *testing.T) {
	tests := []struct {
		in   string
		want model.DiscoveryType
	}{
		{"", model.DiscoveryAll},
		{"all", model.DiscoveryAll},
		{"USB", model.DiscoveryUSB},
		{"wifi", model.DiscoveryMDNS},
		{"lan", model.DiscoveryMDNS},
		{"mdns", model.DiscoveryMDNS},
		{"mqtt", model.DiscoveryMQTT},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := model.ParseDiscoveryType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := model.ParseDiscoveryType("bluetooth")
	assert.Error(t, err)

	assert.True(t, model.DiscoveryAll.Includes(model.DiscoveryMQTT))
	assert.True(t, model.DiscoveryUSB.Includes(model.DiscoveryUSB))
	assert.False(t, model.DiscoveryUSB.Includes(model.DiscoveryMDNS))
}

func TestCommandErrorText(t *testing.T) {
	err := &model.CommandError{Opcode: model.OpcodeBlockRead, Code: model.ErrorCodeInvalidBlockID}
	assert.Equal(t, "BLOCK_READ, INVALID_BLOCK_ID", err.Error())

	timeout := &model.CommandTimeoutError{Opcode: model.OpcodeVersion}
	assert.Contains(t, timeout.Error(), "VERSION")

	assert.True(t, model.IsDiscoveryAborted(&model.DiscoveryAbortedError{Reason: "Discovery timeout"}))
	assert.False(t, model.IsDiscoveryAborted(model.ErrNotConnected))
}
