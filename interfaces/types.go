package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// KeyLength is the length of a Curve25519 (NaCl box) public or private key.
	KeyLength = 32

	// NonceLength is the length of an XSalsa20-Poly1305 nonce.
	NonceLength = 24

	// KeyDataLength is the length of a Temporary Exposure Key.
	KeyDataLength = 16

	// RollingPeriod is the number of 10 minute intervals a TEK is valid for (one day).
	RollingPeriod = 144

	// DefaultTransmissionRiskLevel is the risk level stamped on synthetic keys.
	DefaultTransmissionRiskLevel = 4

	// IntervalSeconds is the length of one rolling interval.
	IntervalSeconds = 600

	// SecondsInHour and SecondsInDay define the retrieval windows.
	SecondsInHour = 3600
	SecondsInDay  = 86400
)

// TemporaryExposureKey is a synthetic rolling proximity key covering one day.
// Values are immutable once generated.
type TemporaryExposureKey struct {
	KeyData                    [KeyDataLength]byte
	TransmissionRiskLevel      int32
	RollingStartIntervalNumber int32
	RollingPeriod              int32
}

// IntervalNumber returns the 10 minute interval index that t falls into.
func IntervalNumber(t time.Time) int64 {
	return floorDiv(t.Unix(), IntervalSeconds)
}

// DateNumber returns the number of whole days between the epoch and t.
func DateNumber(t time.Time) int64 {
	return floorDiv(t.Unix(), SecondsInDay)
}

// HourNumber returns the number of whole hours between the epoch and t.
func HourNumber(t time.Time) int64 {
	return floorDiv(t.Unix(), SecondsInHour)
}

// UnixSeconds returns t as fractional seconds since the epoch. It stays
// valid past the range of UnixNano.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// PublicKey is a Curve25519 public key.
type PublicKey [KeyLength]byte

// PrivateKey is a Curve25519 private key.
type PrivateKey [KeyLength]byte

// NewPublicKeyFromBytes converts a wire-level key into a PublicKey.
func NewPublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != KeyLength {
		return PublicKey{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, KeyLength, len(b))
	}

	var key PublicKey
	copy(key[:], b)
	return key, nil
}

// String returns the hex representation of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw key.
func (k PublicKey) Bytes() []byte {
	return k[:]
}

// KeyPair is the ephemeral key pair owned by a single submission run.
// The private half never leaves the client.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// ClaimToken is the one-time code returned by the claim-token endpoint.
type ClaimToken string

// String returns the token text.
func (t ClaimToken) String() string {
	return string(t)
}

// Nonce is a 24 byte XSalsa20-Poly1305 nonce.
type Nonce [NonceLength]byte

// UploadEnvelope is the wire-level container for one submission.
type UploadEnvelope struct {
	ServerPublicKey PublicKey
	AppPublicKey    PublicKey
	Nonce           Nonce

	// Payload is the ciphertext followed by the Poly1305 tag.
	Payload []byte
}

// Upload is the plaintext carried inside an UploadEnvelope.
type Upload struct {
	Timestamp time.Time
	Keys      []TemporaryExposureKey
}

// RetrievalSignature authorizes a fetch of one day's key batch.
type RetrievalSignature struct {
	Period    int64
	Hour      int64
	Signature string
}

// ContentType indicates the storage namespace of archived data.
type ContentType int

const (
	// BatchType for retrieved key batches
	BatchType ContentType = iota
	// EnvelopeType for submitted upload envelopes
	EnvelopeType
)

// String returns type name.
func (ct ContentType) String() string {
	switch ct {
	case BatchType:
		return "batch"
	case EnvelopeType:
		return "envelope"
	default:
		return "unknown"
	}
}

// ContentID is a 32-byte SHA-256 hash uniquely identifying archived content.
type ContentID [32]byte

// NewContentIDFromHex parses a 64 character hex content ID.
func NewContentIDFromHex(source string) (ContentID, error) {
	if len(source) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(source)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id ContentID
	copy(id[:], hashBytes)
	return id, nil
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}
