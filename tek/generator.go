// Package tek generates synthetic Temporary Exposure Keys for submission runs.
package tek

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// DefaultCount is the number of days of keys a device uploads.
const DefaultCount = 14

// ErrInvalidCount is returned for a negative key count.
var ErrInvalidCount = errors.New("key count must not be negative")

// Generator produces one key per day of lookback, newest first. It has no
// state besides the random source and may be shared between runs.
type Generator struct {
	rand io.Reader
}

// NewGenerator creates a generator reading key data from r, or crypto/rand when r is nil.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// Generate returns count keys. Key i starts at the rolling interval that
// contains now minus i days.
func (g *Generator) Generate(count int, now time.Time) ([]interfaces.TemporaryExposureKey, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	keys := make([]interfaces.TemporaryExposureKey, count)
	for i := range keys {
		interval := interfaces.IntervalNumber(now.Add(-time.Duration(i) * interfaces.SecondsInDay * time.Second))
		if interval < 0 {
			return nil, fmt.Errorf("%w: rolling start interval %d for day offset %d", interfaces.ErrInvalidTimestamp, interval, i)
		}

		if _, err := io.ReadFull(g.rand, keys[i].KeyData[:]); err != nil {
			return nil, fmt.Errorf("failed to generate key data: %w", err)
		}

		keys[i].TransmissionRiskLevel = interfaces.DefaultTransmissionRiskLevel
		keys[i].RollingStartIntervalNumber = int32(interval)
		keys[i].RollingPeriod = interfaces.RollingPeriod
	}
	return keys, nil
}
