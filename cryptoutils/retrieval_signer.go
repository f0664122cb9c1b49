package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// RetrievalSigner produces HMAC-SHA256 signatures authorizing the fetch of
// one day's key batch. The signer holds only the decoded key and is safe for
// concurrent use.
type RetrievalSigner struct {
	key []byte
}

// NewRetrievalSigner decodes the hex secret shared with the key server.
// Empty, odd-length or non-hex secrets are rejected with ErrInvalidKey.
func NewRetrievalSigner(hexKey string) (*RetrievalSigner, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: empty hmac key", interfaces.ErrInvalidKey)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}

	return &RetrievalSigner{key: key}, nil
}

// RetrievalMessage returns the canonical message for a retrieval window.
func RetrievalMessage(region string, period, hour int64) string {
	return region + ":" + strconv.FormatInt(period, 10) + ":" + strconv.FormatInt(hour, 10)
}

// Sign derives the day and hour buckets of a timestamp given in seconds
// since the epoch and signs them for region.
func (s *RetrievalSigner) Sign(timestamp float64, region string) (interfaces.RetrievalSignature, error) {
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) || timestamp < 0 {
		return interfaces.RetrievalSignature{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidTimestamp, timestamp)
	}
	// hour must fit in an int64
	if timestamp/interfaces.SecondsInHour >= math.MaxInt64 {
		return interfaces.RetrievalSignature{}, fmt.Errorf("%w: %v out of range", interfaces.ErrInvalidTimestamp, timestamp)
	}

	period := int64(math.Floor(timestamp / interfaces.SecondsInDay))
	hour := int64(math.Floor(timestamp / interfaces.SecondsInHour))

	return interfaces.RetrievalSignature{
		Period:    period,
		Hour:      hour,
		Signature: hex.EncodeToString(s.mac(RetrievalMessage(region, period, hour))),
	}, nil
}

// SignTime is Sign for a time.Time.
func (s *RetrievalSigner) SignTime(t time.Time, region string) (interfaces.RetrievalSignature, error) {
	return s.Sign(interfaces.UnixSeconds(t), region)
}

// Verify reports whether signatureHex authorizes the retrieval of period for
// region at time now. Signatures made for the previous, current or next hour
// are accepted to absorb clock skew between client and server.
func (s *RetrievalSigner) Verify(region string, period int64, signatureHex string, now time.Time) bool {
	if len(signatureHex) != hex.EncodedLen(sha256.Size) {
		return false
	}

	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	hour := interfaces.HourNumber(now)
	for _, h := range []int64{hour, hour - 1, hour + 1} {
		if hmac.Equal(sig, s.mac(RetrievalMessage(region, period, h))) {
			return true
		}
	}
	return false
}

func (s *RetrievalSigner) mac(message string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(message))
	return m.Sum(nil)
}
