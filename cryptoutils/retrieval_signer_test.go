package cryptoutils

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var zeroKey40 = strings.Repeat("00", 40)

func TestRetrievalSignerPinnedVector(t *testing.T) {
	signer, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)

	// 18900 days == 453600 hours == 1632960000 seconds
	sig, err := signer.Sign(1632960000, "302")
	require.NoError(t, err)

	assert.Equal(t, int64(18900), sig.Period)
	assert.Equal(t, int64(453600), sig.Hour)
	assert.Equal(t, "97ff12a5c373be2605a38f9c831bda35ba0d828fd237eab53e20418252f85ca2", sig.Signature)
	assert.Equal(t, "302:18900:453600", RetrievalMessage("302", sig.Period, sig.Hour))
}

func TestRetrievalSignerDeterministic(t *testing.T) {
	signer, err := NewRetrievalSigner("a1b2c3d4e5f60718293a4b5c6d7e8f90")
	require.NoError(t, err)

	for _, ts := range []float64{0, 1, 1589000000.25, 1632960000, 4102444800} {
		first, err := signer.Sign(ts, "302")
		require.NoError(t, err)
		second, err := signer.Sign(ts, "302")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, first.Signature, 64)
		assert.Equal(t, strings.ToLower(first.Signature), first.Signature)
	}
}

func TestRetrievalSignerSameDaySharesPeriod(t *testing.T) {
	signer, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)

	dayStart := float64(18900 * interfaces.SecondsInDay)
	var hours []int64
	for _, offset := range []float64{0, 1, 3599, 3600, 43200, 86399.999} {
		sig, err := signer.Sign(dayStart+offset, "302")
		require.NoError(t, err)
		assert.Equal(t, int64(18900), sig.Period)
		hours = append(hours, sig.Hour)
	}
	assert.Equal(t, []int64{453600, 453600, 453600, 453601, 453612, 453623}, hours)

	next, err := signer.Sign(dayStart+interfaces.SecondsInDay, "302")
	require.NoError(t, err)
	assert.Equal(t, int64(18901), next.Period)
}

func TestRetrievalSignerSignatureChanges(t *testing.T) {
	base, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)
	other, err := NewRetrievalSigner(strings.Repeat("01", 40))
	require.NoError(t, err)

	ts := float64(1632960000)
	ref, err := base.Sign(ts, "302")
	require.NoError(t, err)

	t.Run("key", func(t *testing.T) {
		sig, err := other.Sign(ts, "302")
		require.NoError(t, err)
		assert.Equal(t, ref.Period, sig.Period)
		assert.NotEqual(t, ref.Signature, sig.Signature)
	})

	t.Run("hour", func(t *testing.T) {
		sig, err := base.Sign(ts+interfaces.SecondsInHour, "302")
		require.NoError(t, err)
		assert.Equal(t, ref.Period, sig.Period)
		assert.NotEqual(t, ref.Hour, sig.Hour)
		assert.NotEqual(t, ref.Signature, sig.Signature)
	})

	t.Run("period", func(t *testing.T) {
		sig, err := base.Sign(ts-interfaces.SecondsInHour, "302")
		require.NoError(t, err)
		assert.Equal(t, ref.Period-1, sig.Period)
		assert.NotEqual(t, ref.Signature, sig.Signature)
	})

	t.Run("region", func(t *testing.T) {
		sig, err := base.Sign(ts, "303")
		require.NoError(t, err)
		assert.NotEqual(t, ref.Signature, sig.Signature)
	})
}

func TestNewRetrievalSignerInvalidKey(t *testing.T) {
	for name, key := range map[string]string{
		"empty":      "",
		"odd length": "abc",
		"non hex":    "zz00",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewRetrievalSigner(key)
			require.ErrorIs(t, err, interfaces.ErrInvalidKey)
		})
	}
}

func TestRetrievalSignerInvalidTimestamp(t *testing.T) {
	signer, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)

	for _, ts := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1, 1e300, math.MaxFloat64, math.Ldexp(1, 63) * interfaces.SecondsInHour} {
		_, err := signer.Sign(ts, "302")
		require.ErrorIs(t, err, interfaces.ErrInvalidTimestamp)
	}
}

func TestRetrievalSignerSignTimeFarFuture(t *testing.T) {
	signer, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)

	ts := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	sig, err := signer.SignTime(ts, "302")
	require.NoError(t, err)
	assert.Equal(t, int64(120530), sig.Period)
	assert.Equal(t, int64(2892720), sig.Hour)

	want, err := signer.Sign(float64(ts.Unix()), "302")
	require.NoError(t, err)
	assert.Equal(t, want, sig)
}

func TestRetrievalSignerVerify(t *testing.T) {
	signer, err := NewRetrievalSigner(zeroKey40)
	require.NoError(t, err)

	now := time.Unix(1632960000+30*60, 0)
	sig, err := signer.SignTime(now, "302")
	require.NoError(t, err)

	assert.True(t, signer.Verify("302", sig.Period, sig.Signature, now))
	assert.True(t, signer.Verify("302", sig.Period, sig.Signature, now.Add(time.Hour)))
	assert.True(t, signer.Verify("302", sig.Period, sig.Signature, now.Add(-time.Hour)))
	assert.False(t, signer.Verify("302", sig.Period, sig.Signature, now.Add(2*time.Hour)))
	assert.False(t, signer.Verify("303", sig.Period, sig.Signature, now))
	assert.False(t, signer.Verify("302", sig.Period+1, sig.Signature, now))
	assert.False(t, signer.Verify("302", sig.Period, "not-hex", now))
	assert.False(t, signer.Verify("302", sig.Period, sig.Signature[:62], now))
}
