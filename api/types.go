package api

import (
	"fmt"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// Header and content type constants used by the key server endpoints.
const (
	// ProtobufContentType is sent with every protobuf request and response body.
	ProtobufContentType = "application/x-protobuf"

	// ZipContentType is returned by the retrieval endpoint.
	ZipContentType = "application/zip"

	// AuthorizationHeader carries the bearer credential for claim-token issuance.
	AuthorizationHeader = "Authorization"

	// ExportBinName is the zip entry holding the serialized key export.
	ExportBinName = "export.bin"

	// ExportHeader prefixes the serialized export, padded to 16 bytes.
	ExportHeader = "EK Export v1    "

	// MaxKeysInUpload is the largest batch the server accepts.
	MaxKeysInUpload = 28
)

// Endpoint paths.
const (
	NewKeyClaimPath = "/new-key-claim"
	ClaimKeyPath    = "/claim-key"
	UploadPath      = "/upload"
	RetrievePrefix  = "/retrieve"
)

// RetrievePath returns the retrieval path for the given window.
func RetrievePath(region string, period int64, signature string) string {
	return fmt.Sprintf("%s/%s/%d/%s", RetrievePrefix, region, period, signature)
}

// KeyClaimErrorCode is the error enum of KeyClaimResponse.
type KeyClaimErrorCode int32

const (
	KeyClaimNone               KeyClaimErrorCode = 0
	KeyClaimUnknown            KeyClaimErrorCode = 1
	KeyClaimInvalidOneTimeCode KeyClaimErrorCode = 2
	KeyClaimServerError        KeyClaimErrorCode = 3
	KeyClaimInvalidKey         KeyClaimErrorCode = 4
	KeyClaimTemporaryBan       KeyClaimErrorCode = 5
)

var keyClaimErrorNames = map[KeyClaimErrorCode]string{
	KeyClaimNone:               "NONE",
	KeyClaimUnknown:            "UNKNOWN",
	KeyClaimInvalidOneTimeCode: "INVALID_ONE_TIME_CODE",
	KeyClaimServerError:        "SERVER_ERROR",
	KeyClaimInvalidKey:         "INVALID_KEY",
	KeyClaimTemporaryBan:       "TEMPORARY_BAN",
}

func (c KeyClaimErrorCode) String() string {
	if name, ok := keyClaimErrorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("KeyClaimErrorCode(%d)", int32(c))
}

// UploadErrorCode is the error enum of EncryptedUploadResponse.
type UploadErrorCode int32

const (
	UploadNone                              UploadErrorCode = 0
	UploadUnknown                           UploadErrorCode = 1
	UploadInvalidKeypair                    UploadErrorCode = 2
	UploadDecryptionFailed                  UploadErrorCode = 3
	UploadInvalidPayload                    UploadErrorCode = 4
	UploadServerError                       UploadErrorCode = 5
	UploadInvalidCryptoParameters           UploadErrorCode = 6
	UploadTooManyKeys                       UploadErrorCode = 7
	UploadInvalidTimestamp                  UploadErrorCode = 8
	UploadInvalidOneTimeCode                UploadErrorCode = 9
	UploadInvalidRollingPeriod              UploadErrorCode = 10
	UploadInvalidKeyData                    UploadErrorCode = 11
	UploadInvalidRollingStartIntervalNumber UploadErrorCode = 12
	UploadInvalidTransmissionRiskLevel      UploadErrorCode = 13
	UploadNoKeysInPayload                   UploadErrorCode = 14
)

var uploadErrorNames = map[UploadErrorCode]string{
	UploadNone:                              "NONE",
	UploadUnknown:                           "UNKNOWN",
	UploadInvalidKeypair:                    "INVALID_KEYPAIR",
	UploadDecryptionFailed:                  "DECRYPTION_FAILED",
	UploadInvalidPayload:                    "INVALID_PAYLOAD",
	UploadServerError:                       "SERVER_ERROR",
	UploadInvalidCryptoParameters:           "INVALID_CRYPTO_PARAMETERS",
	UploadTooManyKeys:                       "TOO_MANY_KEYS",
	UploadInvalidTimestamp:                  "INVALID_TIMESTAMP",
	UploadInvalidOneTimeCode:                "INVALID_ONE_TIME_CODE",
	UploadInvalidRollingPeriod:              "INVALID_ROLLING_PERIOD",
	UploadInvalidKeyData:                    "INVALID_KEY_DATA",
	UploadInvalidRollingStartIntervalNumber: "INVALID_ROLLING_START_INTERVAL_NUMBER",
	UploadInvalidTransmissionRiskLevel:      "INVALID_TRANSMISSION_RISK_LEVEL",
	UploadNoKeysInPayload:                   "NO_KEYS_IN_PAYLOAD",
}

func (c UploadErrorCode) String() string {
	if name, ok := uploadErrorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UploadErrorCode(%d)", int32(c))
}

// KeyClaimRequest exchanges a one-time code and app public key for a server public key.
type KeyClaimRequest struct {
	OneTimeCode  string
	AppPublicKey []byte
}

// KeyClaimResponse is the answer to a KeyClaimRequest.
type KeyClaimResponse struct {
	Error                KeyClaimErrorCode
	ServerPublicKey      []byte
	TriesRemaining       uint32
	RemainingBanDuration time.Duration
}

// EncryptedUploadRequest is the wire form of an UploadEnvelope. Fields are
// raw bytes so that length checks happen explicitly on both sides.
type EncryptedUploadRequest struct {
	ServerPublicKey []byte
	AppPublicKey    []byte
	Nonce           []byte
	Payload         []byte
}

// NewEncryptedUploadRequest converts an envelope into its wire form.
func NewEncryptedUploadRequest(env *interfaces.UploadEnvelope) *EncryptedUploadRequest {
	return &EncryptedUploadRequest{
		ServerPublicKey: env.ServerPublicKey.Bytes(),
		AppPublicKey:    env.AppPublicKey.Bytes(),
		Nonce:           env.Nonce[:],
		Payload:         env.Payload,
	}
}

// Envelope validates field sizes and returns the typed envelope.
func (r *EncryptedUploadRequest) Envelope() (*interfaces.UploadEnvelope, error) {
	serverPub, err := interfaces.NewPublicKeyFromBytes(r.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("server public key: %w", err)
	}

	appPub, err := interfaces.NewPublicKeyFromBytes(r.AppPublicKey)
	if err != nil {
		return nil, fmt.Errorf("app public key: %w", err)
	}

	if len(r.Nonce) != interfaces.NonceLength {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", interfaces.ErrInvalidKey, interfaces.NonceLength, len(r.Nonce))
	}

	env := &interfaces.UploadEnvelope{
		ServerPublicKey: serverPub,
		AppPublicKey:    appPub,
		Payload:         r.Payload,
	}
	copy(env.Nonce[:], r.Nonce)
	return env, nil
}

// EncryptedUploadResponse acknowledges an upload.
type EncryptedUploadResponse struct {
	Error UploadErrorCode
}

// KeyExport is the content of export.bin in a retrieved batch.
type KeyExport struct {
	StartTimestamp time.Time
	EndTimestamp   time.Time
	Region         string
	BatchNum       int32
	BatchSize      int32
	Keys           []interfaces.TemporaryExposureKey
}
