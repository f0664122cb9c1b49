package clients

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/cryptoutils"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "3030303030303030303030303030303030303030303030303030303030303030303030303030303030303030"

func testBatch(t *testing.T) []byte {
	t.Helper()

	export := &api.KeyExport{
		StartTimestamp: time.Unix(1632960000, 0).UTC(),
		EndTimestamp:   time.Unix(1633046400, 0).UTC(),
		Region:         "302",
		BatchNum:       1,
		BatchSize:      1,
		Keys: []interfaces.TemporaryExposureKey{{
			KeyData:                    [16]byte{1, 2, 3},
			TransmissionRiskLevel:      4,
			RollingStartIntervalNumber: 2721600,
			RollingPeriod:              144,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, api.WriteBatch(&buf, export))
	return buf.Bytes()
}

// newRetrievalServer serves batch for requests signed by signer for region.
func newRetrievalServer(t *testing.T, signer *cryptoutils.RetrievalSigner, region string, batch []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /retrieve/{region}/{period}/{auth}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("region") != region {
			http.NotFound(w, r)
			return
		}
		sig, err := signer.Sign(1632960000, region)
		if err != nil || r.PathValue("auth") != sig.Signature {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", api.ZipContentType)
		w.Write(batch)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRetrievalClientRetrieve(t *testing.T) {
	signer, err := cryptoutils.NewRetrievalSigner(testHMACKey)
	require.NoError(t, err)
	batch := testBatch(t)
	ts := newRetrievalServer(t, signer, "302", batch)

	c := NewRetrievalClient(ts.URL, signer, nil, nil, testLogger)
	got, err := c.Retrieve(context.Background(), "302", 1632960000)
	require.NoError(t, err)

	assert.Equal(t, "302", got.Region)
	assert.Equal(t, int64(18900), got.Signature.Period)
	assert.Equal(t, int64(453600), got.Signature.Hour)
	assert.Equal(t, batch, got.Data)
	assert.Nil(t, got.ContentID)

	export, err := got.Export()
	require.NoError(t, err)
	assert.Equal(t, "302", export.Region)
	require.Len(t, export.Keys, 1)
	assert.Equal(t, int32(144), export.Keys[0].RollingPeriod)
}

func TestRetrievalClientArchivesBatch(t *testing.T) {
	signer, err := cryptoutils.NewRetrievalSigner(testHMACKey)
	require.NoError(t, err)
	batch := testBatch(t)
	ts := newRetrievalServer(t, signer, "302", batch)

	id := interfaces.ContentID(sha256.Sum256(batch))
	archive := storage.NewMockStorageBackend("mock-archive")
	archive.On("Store", mock.Anything, batch, interfaces.BatchType).Return(id, nil).Once()

	c := NewRetrievalClient(ts.URL, signer, archive, nil, testLogger)
	got, err := c.Retrieve(context.Background(), "302", 1632960000)
	require.NoError(t, err)
	require.NotNil(t, got.ContentID)
	assert.Equal(t, id, *got.ContentID)
	archive.AssertExpectations(t)
}

func TestRetrievalClientArchiveFailure(t *testing.T) {
	signer, err := cryptoutils.NewRetrievalSigner(testHMACKey)
	require.NoError(t, err)
	ts := newRetrievalServer(t, signer, "302", testBatch(t))

	archive := storage.NewMockStorageBackend("mock-archive")
	archive.On("Store", mock.Anything, mock.Anything, interfaces.BatchType).Return(interfaces.ContentID{}, interfaces.ErrBackendUnavailable)

	_, err = NewRetrievalClient(ts.URL, signer, archive, nil, testLogger).Retrieve(context.Background(), "302", 1632960000)
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestRetrievalClientErrors(t *testing.T) {
	ctx := context.Background()
	signer, err := cryptoutils.NewRetrievalSigner(testHMACKey)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		other, err := cryptoutils.NewRetrievalSigner("ff")
		require.NoError(t, err)
		ts := newRetrievalServer(t, signer, "302", testBatch(t))

		_, err = NewRetrievalClient(ts.URL, other, nil, nil, testLogger).Retrieve(ctx, "302", 1632960000)
		require.ErrorIs(t, err, interfaces.ErrAuthentication)

		var reqErr *interfaces.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	})

	t.Run("unknown region", func(t *testing.T) {
		ts := newRetrievalServer(t, signer, "302", testBatch(t))
		_, err := NewRetrievalClient(ts.URL, signer, nil, nil, testLogger).Retrieve(ctx, "999", 1632960000)
		require.ErrorIs(t, err, interfaces.ErrTransport)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		ts := newRetrievalServer(t, signer, "302", testBatch(t))
		_, err := NewRetrievalClient(ts.URL, signer, nil, nil, testLogger).Retrieve(ctx, "302", -1)
		require.ErrorIs(t, err, interfaces.ErrInvalidTimestamp)
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()
		_, err := NewRetrievalClient(url, signer, nil, nil, testLogger).Retrieve(ctx, "302", 1632960000)
		require.ErrorIs(t, err, interfaces.ErrTransport)
		assert.False(t, errors.Is(err, interfaces.ErrAuthentication))
	})
}

func TestRetrievedBatchExportRejectsGarbage(t *testing.T) {
	_, err := (&RetrievedBatch{Data: []byte("not a zip")}).Export()
	require.ErrorIs(t, err, interfaces.ErrDecode)
}
