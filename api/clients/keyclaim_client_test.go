package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeKeyServer scripts the two claim endpoints. Tokens are single use.
type fakeKeyServer struct {
	token       string
	serverKey   []byte
	claimStatus int
	claimResp   *api.KeyClaimResponse
	claimBody   []byte
	tokenStatus int

	claimCalls atomic.Int32
	consumed   atomic.Bool
}

func newFakeKeyServer(t *testing.T, f *fakeKeyServer) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.NewKeyClaimPath, func(w http.ResponseWriter, r *http.Request) {
		if f.tokenStatus != 0 {
			http.Error(w, "nope", f.tokenStatus)
			return
		}
		if r.Header.Get(api.AuthorizationHeader) != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(f.token + "\n"))
	})
	mux.HandleFunc("POST "+api.ClaimKeyPath, func(w http.ResponseWriter, r *http.Request) {
		f.claimCalls.Add(1)

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req, err := api.UnmarshalKeyClaimRequest(data)
		require.NoError(t, err)

		if f.claimBody != nil {
			w.WriteHeader(f.claimStatus)
			w.Write(f.claimBody)
			return
		}

		resp := f.claimResp
		status := f.claimStatus
		if resp == nil {
			if req.OneTimeCode != f.token || f.consumed.Swap(true) {
				resp = &api.KeyClaimResponse{Error: api.KeyClaimInvalidOneTimeCode, TriesRemaining: 7}
				status = http.StatusUnauthorized
			} else {
				resp = &api.KeyClaimResponse{ServerPublicKey: f.serverKey, TriesRemaining: 8}
				status = http.StatusOK
			}
		}

		body, err := resp.Marshal()
		require.NoError(t, err)
		w.Header().Set("Content-Type", api.ProtobufContentType)
		w.WriteHeader(status)
		w.Write(body)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func appKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(0xa0 + i)
	}
	return k
}

func serverKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestKeyClaimClientTokenReuse(t *testing.T) {
	f := &fakeKeyServer{token: "T1", serverKey: serverKey()}
	ts := newFakeKeyServer(t, f)
	ctx := context.Background()

	c := NewKeyClaimClient(ts.URL, nil, testLogger)
	assert.Equal(t, StateUnclaimed, c.State())

	token, err := c.RequestClaimToken(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimToken("T1"), token)
	assert.Equal(t, StateTokenIssued, c.State())

	key, err := c.ClaimKey(ctx, "T1", appKey())
	require.NoError(t, err)
	assert.Equal(t, serverKey(), key.Bytes())
	assert.Equal(t, StateClaimed, c.State())

	stored, ok := c.ServerPublicKey()
	assert.True(t, ok)
	assert.Equal(t, key, stored)

	_, err = c.ClaimKey(ctx, "T1", appKey())
	require.ErrorIs(t, err, interfaces.ErrTokenAlreadyUsed)
	assert.Equal(t, int32(1), f.claimCalls.Load(), "reuse must not reach the server")
	assert.Equal(t, StateClaimed, c.State())
}

func TestKeyClaimClientServerRejectsConsumedToken(t *testing.T) {
	f := &fakeKeyServer{token: "T1", serverKey: serverKey()}
	f.consumed.Store(true)
	ts := newFakeKeyServer(t, f)
	ctx := context.Background()

	c := NewKeyClaimClient(ts.URL, nil, testLogger)
	_, err := c.RequestClaimToken(ctx, "good")
	require.NoError(t, err)

	_, err = c.ClaimKey(ctx, "T1", appKey())
	require.ErrorIs(t, err, interfaces.ErrTokenAlreadyUsed)

	var reqErr *interfaces.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, StateTokenIssued, c.State())
}

func TestKeyClaimClientProtocolState(t *testing.T) {
	f := &fakeKeyServer{token: "T1", serverKey: serverKey()}
	ts := newFakeKeyServer(t, f)
	ctx := context.Background()

	c := NewKeyClaimClient(ts.URL, nil, testLogger)

	_, err := c.ClaimKey(ctx, "T1", appKey())
	require.ErrorIs(t, err, interfaces.ErrProtocolState)

	_, err = c.RequestClaimToken(ctx, "good")
	require.NoError(t, err)

	_, err = c.RequestClaimToken(ctx, "good")
	require.ErrorIs(t, err, interfaces.ErrProtocolState)

	_, err = c.ClaimKey(ctx, "T2", appKey())
	require.ErrorIs(t, err, interfaces.ErrProtocolState)

	_, err = c.ClaimKey(ctx, "T1", appKey())
	require.NoError(t, err)

	_, err = c.ClaimKey(ctx, "T2", appKey())
	require.ErrorIs(t, err, interfaces.ErrProtocolState)

	assert.Equal(t, int32(1), f.claimCalls.Load())
}

func TestKeyClaimClientRequestTokenErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("bad bearer", func(t *testing.T) {
		ts := newFakeKeyServer(t, &fakeKeyServer{token: "T1"})
		c := NewKeyClaimClient(ts.URL, nil, testLogger)
		_, err := c.RequestClaimToken(ctx, "bad")
		require.ErrorIs(t, err, interfaces.ErrAuthentication)
		assert.Equal(t, StateUnclaimed, c.State())
	})

	t.Run("forbidden", func(t *testing.T) {
		ts := newFakeKeyServer(t, &fakeKeyServer{token: "T1", tokenStatus: http.StatusForbidden})
		_, err := NewKeyClaimClient(ts.URL, nil, testLogger).RequestClaimToken(ctx, "good")
		require.ErrorIs(t, err, interfaces.ErrAuthentication)
	})

	t.Run("server error", func(t *testing.T) {
		ts := newFakeKeyServer(t, &fakeKeyServer{token: "T1", tokenStatus: http.StatusInternalServerError})
		_, err := NewKeyClaimClient(ts.URL, nil, testLogger).RequestClaimToken(ctx, "good")
		require.ErrorIs(t, err, interfaces.ErrTransport)
	})

	t.Run("empty token", func(t *testing.T) {
		ts := newFakeKeyServer(t, &fakeKeyServer{token: "  "})
		_, err := NewKeyClaimClient(ts.URL, nil, testLogger).RequestClaimToken(ctx, "good")
		require.ErrorIs(t, err, interfaces.ErrDecode)
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()
		_, err := NewKeyClaimClient(url, nil, testLogger).RequestClaimToken(ctx, "good")
		require.ErrorIs(t, err, interfaces.ErrTransport)
	})

	t.Run("timeout", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(ts.Close)
		_, err := NewKeyClaimClient(ts.URL, NewHTTPClient(20*time.Millisecond), testLogger).RequestClaimToken(ctx, "good")
		require.ErrorIs(t, err, interfaces.ErrTransport)
	})
}

func TestKeyClaimClientClaimErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		server *fakeKeyServer
		want   error
	}{
		{
			name:   "invalid key",
			server: &fakeKeyServer{claimStatus: http.StatusUnauthorized, claimResp: &api.KeyClaimResponse{Error: api.KeyClaimInvalidKey}},
			want:   interfaces.ErrInvalidKey,
		},
		{
			name: "temporary ban",
			server: &fakeKeyServer{claimStatus: http.StatusTooManyRequests, claimResp: &api.KeyClaimResponse{
				Error: api.KeyClaimTemporaryBan, RemainingBanDuration: time.Hour,
			}},
			want: interfaces.ErrAuthentication,
		},
		{
			name:   "unknown code",
			server: &fakeKeyServer{claimStatus: http.StatusBadRequest, claimResp: &api.KeyClaimResponse{Error: api.KeyClaimUnknown}},
			want:   interfaces.ErrTransport,
		},
		{
			name:   "server error",
			server: &fakeKeyServer{claimStatus: http.StatusInternalServerError, claimResp: &api.KeyClaimResponse{Error: api.KeyClaimServerError}},
			want:   interfaces.ErrTransport,
		},
		{
			name:   "short server key",
			server: &fakeKeyServer{claimStatus: http.StatusOK, claimResp: &api.KeyClaimResponse{ServerPublicKey: make([]byte, 31)}},
			want:   interfaces.ErrDecode,
		},
		{
			name:   "malformed body",
			server: &fakeKeyServer{claimStatus: http.StatusOK, claimBody: []byte{0x0a, 0x05, 0x01}},
			want:   interfaces.ErrDecode,
		},
		{
			name:   "malformed body on unauthorized",
			server: &fakeKeyServer{claimStatus: http.StatusUnauthorized, claimBody: []byte{0x0a, 0x05, 0x01}},
			want:   interfaces.ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.server.token = "T1"
			ts := newFakeKeyServer(t, tt.server)

			c := NewKeyClaimClient(ts.URL, nil, testLogger)
			_, err := c.RequestClaimToken(ctx, "good")
			require.NoError(t, err)

			_, err = c.ClaimKey(ctx, "T1", appKey())
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateTokenIssued, c.State())
		})
	}
}

func TestKeyClaimClientInvalidLocalKey(t *testing.T) {
	f := &fakeKeyServer{token: "T1", serverKey: serverKey()}
	ts := newFakeKeyServer(t, f)
	ctx := context.Background()

	c := NewKeyClaimClient(ts.URL, nil, testLogger)
	_, err := c.RequestClaimToken(ctx, "good")
	require.NoError(t, err)

	_, err = c.ClaimKey(ctx, "T1", appKey()[:16])
	require.ErrorIs(t, err, interfaces.ErrInvalidKey)
	assert.Equal(t, int32(0), f.claimCalls.Load())
	assert.Equal(t, StateTokenIssued, c.State())
}

func TestKeyClaimClientStateReadableDuringClaim(t *testing.T) {
	received := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.NewKeyClaimPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("T1\n"))
	})
	mux.HandleFunc("POST "+api.ClaimKeyPath, func(w http.ResponseWriter, r *http.Request) {
		close(received)
		<-release
		body, _ := (&api.KeyClaimResponse{ServerPublicKey: serverKey(), TriesRemaining: 8}).Marshal()
		w.Write(body)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	ctx := context.Background()

	c := NewKeyClaimClient(ts.URL, nil, testLogger)
	_, err := c.RequestClaimToken(ctx, "good")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.ClaimKey(ctx, "T1", appKey())
		done <- err
	}()
	<-received

	state := make(chan ClaimState, 1)
	go func() { state <- c.State() }()
	select {
	case s := <-state:
		assert.Equal(t, StateTokenIssued, s)
	case <-time.After(time.Second):
		close(release)
		t.Fatal("State blocked while a claim was in flight")
	}

	_, ok := c.ServerPublicKey()
	assert.False(t, ok)

	_, err = c.ClaimKey(ctx, "T1", appKey())
	require.ErrorIs(t, err, interfaces.ErrProtocolState)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClaimed, c.State())

	_, err = c.ClaimKey(ctx, "T1", appKey())
	require.ErrorIs(t, err, interfaces.ErrTokenAlreadyUsed)
}
