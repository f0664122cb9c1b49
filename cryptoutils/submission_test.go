package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T, n int) []interfaces.TemporaryExposureKey {
	t.Helper()
	keys := make([]interfaces.TemporaryExposureKey, n)
	for i := range keys {
		_, err := rand.Read(keys[i].KeyData[:])
		require.NoError(t, err)
		keys[i].TransmissionRiskLevel = interfaces.DefaultTransmissionRiskLevel
		keys[i].RollingStartIntervalNumber = int32(2_700_000 - i*interfaces.RollingPeriod)
		keys[i].RollingPeriod = interfaces.RollingPeriod
	}
	return keys
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestEncryptAndOpen(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	keys := testKeys(t, 14)
	now := time.Unix(1632960000, 0).UTC()

	enc := &Encryptor{}
	env, err := enc.EncryptAndBuild(server.Public.Bytes(), app, keys, now)
	require.NoError(t, err)

	assert.Equal(t, server.Public, env.ServerPublicKey)
	assert.Equal(t, app.Public, env.AppPublicKey)

	plaintext, err := api.MarshalUpload(&interfaces.Upload{Timestamp: now, Keys: keys})
	require.NoError(t, err)
	// ciphertext plus 16 byte poly1305 tag, no nonce prefix
	assert.Len(t, env.Payload, len(plaintext)+16)

	opened, err := OpenEnvelopeBytes(env, server.Private)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	upload, err := OpenEnvelope(env, server.Private)
	require.NoError(t, err)
	assert.True(t, now.Equal(upload.Timestamp))
	assert.Equal(t, keys, upload.Keys)
}

func TestOpenEnvelopeRejectsTampering(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	enc := &Encryptor{}
	env, err := enc.EncryptAndBuild(server.Public.Bytes(), app, testKeys(t, 3), time.Now())
	require.NoError(t, err)

	for i := range env.Payload {
		tampered := *env
		tampered.Payload = bytes.Clone(env.Payload)
		tampered.Payload[i] ^= 0x01
		_, err := OpenEnvelopeBytes(&tampered, server.Private)
		require.ErrorIs(t, err, interfaces.ErrEncryption, "payload byte %d", i)
	}

	for i := range env.Nonce {
		tampered := *env
		tampered.Nonce[i] ^= 0x80
		_, err := OpenEnvelopeBytes(&tampered, server.Private)
		require.ErrorIs(t, err, interfaces.ErrEncryption, "nonce byte %d", i)
	}

	other, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	_, err = OpenEnvelopeBytes(env, other.Private)
	require.ErrorIs(t, err, interfaces.ErrEncryption)
}

func TestEncryptAndBuildUniqueNonces(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	keys := testKeys(t, 1)
	enc := &Encryptor{}
	seen := make(map[interfaces.Nonce]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		env, err := enc.EncryptAndBuild(server.Public.Bytes(), app, keys, time.Now())
		require.NoError(t, err)
		seen[env.Nonce] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestEncryptAndBuildDeterministicReader(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	nonce := bytes.Repeat([]byte{0x42}, interfaces.NonceLength)
	enc := &Encryptor{Rand: bytes.NewReader(nonce)}
	env, err := enc.EncryptAndBuild(server.Public.Bytes(), app, testKeys(t, 2), time.Now())
	require.NoError(t, err)
	assert.Equal(t, nonce, env.Nonce[:])

	// the reader is drained, so the next nonce cannot be drawn
	_, err = enc.EncryptAndBuild(server.Public.Bytes(), app, testKeys(t, 2), time.Now())
	require.ErrorIs(t, err, interfaces.ErrEncryption)
}

func TestEncryptAndBuildErrors(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	enc := &Encryptor{}
	keys := testKeys(t, 1)

	_, err = enc.EncryptAndBuild(server.Public.Bytes()[:31], app, keys, time.Now())
	require.ErrorIs(t, err, interfaces.ErrEncryption)

	_, err = enc.EncryptAndBuild(append(server.Public.Bytes(), 0), app, keys, time.Now())
	require.ErrorIs(t, err, interfaces.ErrEncryption)

	_, err = enc.EncryptAndBuild(server.Public.Bytes(), nil, keys, time.Now())
	require.ErrorIs(t, err, interfaces.ErrEncryption)

	failing := &Encryptor{Rand: failingReader{}}
	_, err = failing.EncryptAndBuild(server.Public.Bytes(), app, keys, time.Now())
	require.ErrorIs(t, err, interfaces.ErrEncryption)

	_, err = GenerateKeyPair(failingReader{})
	require.ErrorIs(t, err, interfaces.ErrEncryption)
}

func TestSharedSecretContextSealsOnce(t *testing.T) {
	server, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	app, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	ctx, err := NewSharedSecretContext(server.Public.Bytes(), app, nil)
	require.NoError(t, err)

	_, err = ctx.Seal([]byte("first"))
	require.NoError(t, err)

	_, err = ctx.Seal([]byte("second"))
	require.ErrorIs(t, err, interfaces.ErrEncryption)
}
