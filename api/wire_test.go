package api

import (
	"testing"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestUnmarshalKeyClaimResponse(t *testing.T) {
	serverKey := make([]byte, 32)
	for i := range serverKey {
		serverKey[i] = byte(i)
	}

	// hand-built message: error=INVALID_KEY, server_public_key, tries_remaining=3,
	// an unknown field 9, and a 90s ban duration
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 4)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, serverKey)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 3)
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x08, 90}) // Duration{seconds: 90}

	resp, err := UnmarshalKeyClaimResponse(b)
	require.NoError(t, err)
	assert.Equal(t, KeyClaimInvalidKey, resp.Error)
	assert.Equal(t, serverKey, resp.ServerPublicKey)
	assert.Equal(t, uint32(3), resp.TriesRemaining)
	assert.Equal(t, 90*time.Second, resp.RemainingBanDuration)
}

func TestKeyClaimResponseMarshal(t *testing.T) {
	resp := &KeyClaimResponse{
		Error:                KeyClaimTemporaryBan,
		TriesRemaining:       0,
		RemainingBanDuration: 15 * time.Minute,
	}
	b, err := resp.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalKeyClaimResponse(b)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestUnmarshalEncryptedUploadResponse(t *testing.T) {
	resp, err := UnmarshalEncryptedUploadResponse(nil)
	require.NoError(t, err)
	assert.Equal(t, UploadNone, resp.Error)

	resp, err = UnmarshalEncryptedUploadResponse([]byte{0x08, 0x07})
	require.NoError(t, err)
	assert.Equal(t, UploadTooManyKeys, resp.Error)
	assert.Equal(t, "TOO_MANY_KEYS", resp.Error.String())
}

func TestUnmarshalMalformed(t *testing.T) {
	for name, b := range map[string][]byte{
		"truncated varint":  {0x08, 0x80},
		"truncated bytes":   {0x12, 0x05, 0x01},
		"invalid field num": {0x00},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalKeyClaimResponse(b)
			require.ErrorIs(t, err, interfaces.ErrDecode)
			_, err = UnmarshalEncryptedUploadResponse(b)
			require.ErrorIs(t, err, interfaces.ErrDecode)
		})
	}
}

func TestWireTypeMismatchIsSkipped(t *testing.T) {
	// field 1 as bytes instead of varint
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "x")

	resp, err := UnmarshalEncryptedUploadResponse(b)
	require.NoError(t, err)
	assert.Equal(t, UploadNone, resp.Error)
}

func TestTemporaryExposureKeyKeyDataLength(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, make([]byte, 15))

	_, err := UnmarshalTemporaryExposureKey(b)
	require.ErrorIs(t, err, ErrKeyDataLength)
	require.ErrorIs(t, err, interfaces.ErrDecode)
}

func TestUploadRoundTrip(t *testing.T) {
	upload := &interfaces.Upload{
		Timestamp: time.Unix(1632960000, 500).UTC(),
		Keys: []interfaces.TemporaryExposureKey{
			{KeyData: [16]byte{1, 2, 3}, TransmissionRiskLevel: 4, RollingStartIntervalNumber: 2721600, RollingPeriod: 144},
			{KeyData: [16]byte{4, 5, 6}, TransmissionRiskLevel: 4, RollingStartIntervalNumber: 2721456, RollingPeriod: 144},
		},
	}
	b, err := MarshalUpload(upload)
	require.NoError(t, err)

	decoded, err := UnmarshalUpload(b)
	require.NoError(t, err)
	assert.Equal(t, upload, decoded)
}

func TestEncryptedUploadRequestEnvelope(t *testing.T) {
	env := &interfaces.UploadEnvelope{
		ServerPublicKey: interfaces.PublicKey{1},
		AppPublicKey:    interfaces.PublicKey{2},
		Nonce:           interfaces.Nonce{3},
		Payload:         []byte("ciphertext"),
	}

	decoded, err := UnmarshalEncryptedUploadRequest(NewEncryptedUploadRequest(env).Marshal())
	require.NoError(t, err)

	got, err := decoded.Envelope()
	require.NoError(t, err)
	assert.Equal(t, env, got)

	decoded.Nonce = decoded.Nonce[:12]
	_, err = decoded.Envelope()
	require.ErrorIs(t, err, interfaces.ErrInvalidKey)
}

func TestKeyExport(t *testing.T) {
	export := &KeyExport{
		StartTimestamp: time.Unix(18900*86400, 0).UTC(),
		EndTimestamp:   time.Unix(18901*86400, 0).UTC(),
		Region:         "302",
		BatchNum:       1,
		BatchSize:      1,
		Keys: []interfaces.TemporaryExposureKey{
			{KeyData: [16]byte{9}, TransmissionRiskLevel: 4, RollingStartIntervalNumber: 2721600, RollingPeriod: 144},
		},
	}

	b := MarshalKeyExport(export)
	assert.Equal(t, ExportHeader, string(b[:16]))

	decoded, err := UnmarshalKeyExport(b)
	require.NoError(t, err)
	assert.Equal(t, export, decoded)

	_, err = UnmarshalKeyExport(b[16:])
	require.ErrorIs(t, err, interfaces.ErrDecode)
}
