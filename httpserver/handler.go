package httpserver

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/cryptoutils"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/metrics"
)

const (
	// maxClaimBodySize and maxUploadBodySize bound request bodies.
	maxClaimBodySize  = 256
	maxUploadBodySize = 1024

	// maxTransmissionRiskLevel is the largest accepted risk level.
	maxTransmissionRiskLevel = 8

	// oneTimeCodeLength is the number of digits in an issued code.
	oneTimeCodeLength = 10

	// maxUploadClockSkew bounds the distance between the upload timestamp and now.
	maxUploadClockSkew = time.Hour
)

// serverKey is a server key pair handed out by a successful claim.
type serverKey struct {
	private  interfaces.PrivateKey
	appKey   interfaces.PublicKey
	consumed bool
}

// Handler implements the key server endpoints in memory. It is test tooling
// for the submission and retrieval clients: state lives for the lifetime of
// the process and is guarded by a single mutex.
type Handler struct {
	region       string
	signer       *cryptoutils.RetrievalSigner
	bearerTokens [][]byte
	metrics      *metrics.ServerMetrics
	log          *slog.Logger

	// now is replaceable for tests.
	now func() time.Time

	mu          sync.Mutex
	codes       map[string]bool // issued one-time codes, true once claimed
	appKeys     map[interfaces.PublicKey]bool
	serverKeys  map[interfaces.PublicKey]*serverKey
	batches     map[int64][]interfaces.TemporaryExposureKey
	uploadCount int
}

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	// Region is served by the retrieval endpoint.
	Region string

	// Signer verifies retrieval signatures.
	Signer *cryptoutils.RetrievalSigner

	// BearerTokens are accepted by the claim-token endpoint.
	BearerTokens []string

	// Metrics may be nil.
	Metrics *metrics.ServerMetrics

	Log *slog.Logger
}

// NewHandler creates an empty in-memory key server.
func NewHandler(cfg *HandlerConfig) *Handler {
	tokens := make([][]byte, 0, len(cfg.BearerTokens))
	for _, t := range cfg.BearerTokens {
		tokens = append(tokens, []byte(t))
	}

	return &Handler{
		region:       cfg.Region,
		signer:       cfg.Signer,
		bearerTokens: tokens,
		metrics:      cfg.Metrics,
		log:          cfg.Log,
		now:          time.Now,
		codes:        make(map[string]bool),
		appKeys:      make(map[interfaces.PublicKey]bool),
		serverKeys:   make(map[interfaces.PublicKey]*serverKey),
		batches:      make(map[int64][]interfaces.TemporaryExposureKey),
	}
}

// HandleNewKeyClaim issues a one-time code to a bearer of a configured token.
//
// URL format: POST /new-key-claim
// Required headers:
//   - Authorization: Bearer <token>
//
// Response: the code as text/plain followed by a newline.
func (h *Handler) HandleNewKeyClaim(w http.ResponseWriter, r *http.Request) {
	started := h.now()

	if !h.authorized(r.Header.Get(api.AuthorizationHeader)) {
		h.log.Info("bad auth header")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		h.metrics.ObserveRequest("new-key-claim", http.StatusUnauthorized, started)
		return
	}

	code, err := newOneTimeCode()
	if err != nil {
		h.log.Error("Failed to generate one-time code", "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		h.metrics.ObserveRequest("new-key-claim", http.StatusInternalServerError, started)
		return
	}

	h.mu.Lock()
	h.codes[code] = false
	h.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(code + "\n"))
	h.metrics.ObserveRequest("new-key-claim", http.StatusOK, started)
}

// HandleClaimKey exchanges an unused one-time code and an app public key for
// a fresh server public key.
//
// URL format: POST /claim-key
// Request body: KeyClaimRequest
// Response body: KeyClaimResponse
func (h *Handler) HandleClaimKey(w http.ResponseWriter, r *http.Request) {
	started := h.now()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxClaimBodySize))
	if err != nil {
		h.claimError(w, started, http.StatusBadRequest, api.KeyClaimUnknown, "error reading request", err)
		return
	}

	req, err := api.UnmarshalKeyClaimRequest(data)
	if err != nil {
		h.claimError(w, started, http.StatusBadRequest, api.KeyClaimUnknown, "error unmarshalling request", err)
		return
	}

	code := strings.NewReplacer(" ", "", "-", "").Replace(req.OneTimeCode)

	appKey, err := interfaces.NewPublicKeyFromBytes(req.AppPublicKey)
	if err != nil {
		h.claimError(w, started, http.StatusBadRequest, api.KeyClaimInvalidKey, "invalid key format", err)
		return
	}

	kp, err := cryptoutils.GenerateKeyPair(nil)
	if err != nil {
		h.claimError(w, started, http.StatusInternalServerError, api.KeyClaimServerError, "failed to generate server key", err)
		return
	}

	h.mu.Lock()
	claimed, issued := h.codes[code]
	switch {
	case h.appKeys[appKey]:
		h.mu.Unlock()
		h.claimError(w, started, http.StatusUnauthorized, api.KeyClaimInvalidKey, "duplicate key", nil)
		return
	case !issued || claimed:
		h.mu.Unlock()
		h.claimError(w, started, http.StatusUnauthorized, api.KeyClaimInvalidOneTimeCode, "invalid one time code", nil)
		return
	}
	h.codes[code] = true
	h.appKeys[appKey] = true
	h.serverKeys[kp.Public] = &serverKey{private: kp.Private, appKey: appKey}
	h.mu.Unlock()

	h.writeProto(w, started, "claim-key", http.StatusOK, func() ([]byte, error) {
		return (&api.KeyClaimResponse{ServerPublicKey: kp.Public.Bytes()}).Marshal()
	})
}

// HandleUpload opens an encrypted upload with the claimed server key and
// stores its keys in the batch of the current day. A server key accepts
// one successful upload.
//
// URL format: POST /upload
// Request body: EncryptedUploadRequest
// Response body: EncryptedUploadResponse
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	started := h.now()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBodySize))
	if err != nil {
		h.uploadError(w, started, http.StatusBadRequest, api.UploadUnknown, "error reading request", err)
		return
	}

	req, err := api.UnmarshalEncryptedUploadRequest(data)
	if err != nil {
		h.uploadError(w, started, http.StatusBadRequest, api.UploadUnknown, "error unmarshalling request", err)
		return
	}

	env, err := req.Envelope()
	if err != nil {
		h.uploadError(w, started, http.StatusBadRequest, api.UploadInvalidCryptoParameters, "invalid crypto parameters", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key, ok := h.serverKeys[env.ServerPublicKey]
	if !ok || key.consumed || key.appKey != env.AppPublicKey {
		h.uploadError(w, started, http.StatusUnauthorized, api.UploadInvalidKeypair, "unknown or used key pair", nil)
		return
	}

	plaintext, err := cryptoutils.OpenEnvelopeBytes(env, key.private)
	if err != nil {
		h.uploadError(w, started, http.StatusBadRequest, api.UploadDecryptionFailed, "decryption failed", err)
		return
	}

	upload, err := api.UnmarshalUpload(plaintext)
	if err != nil {
		h.uploadError(w, started, http.StatusBadRequest, api.UploadInvalidPayload, "error unmarshalling payload", err)
		return
	}

	now := h.now()
	if code := validateUpload(upload, now); code != api.UploadNone {
		h.uploadError(w, started, http.StatusBadRequest, code, "invalid upload", nil)
		return
	}

	key.consumed = true
	period := interfaces.DateNumber(now)
	h.batches[period] = append(h.batches[period], upload.Keys...)
	h.uploadCount++
	h.metrics.AddUploadedKeys(len(upload.Keys))

	h.writeProto(w, started, "upload", http.StatusOK, func() ([]byte, error) {
		return (&api.EncryptedUploadResponse{Error: api.UploadNone}).Marshal(), nil
	})
}

// validateUpload applies the server-side checks on a decrypted upload.
func validateUpload(upload *interfaces.Upload, now time.Time) api.UploadErrorCode {
	switch {
	case len(upload.Keys) == 0:
		return api.UploadNoKeysInPayload
	case len(upload.Keys) > api.MaxKeysInUpload:
		return api.UploadTooManyKeys
	}

	skew := now.Sub(upload.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxUploadClockSkew {
		return api.UploadInvalidTimestamp
	}

	seen := make(map[int32]bool, len(upload.Keys))
	for _, k := range upload.Keys {
		switch {
		case k.RollingPeriod != interfaces.RollingPeriod:
			return api.UploadInvalidRollingPeriod
		case k.RollingStartIntervalNumber <= 0 || seen[k.RollingStartIntervalNumber]:
			return api.UploadInvalidRollingStartIntervalNumber
		case k.TransmissionRiskLevel < 0 || k.TransmissionRiskLevel > maxTransmissionRiskLevel:
			return api.UploadInvalidTransmissionRiskLevel
		}
		seen[k.RollingStartIntervalNumber] = true
	}
	return api.UploadNone
}

// HandleRetrieve serves the keys uploaded during one day as a zip archive.
//
// URL format: GET /retrieve/{region}/{period}/{auth}
// The auth component is the hex HMAC of "{region}:{period}:{hour}" for the
// current hour or one of its neighbours.
func (h *Handler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	started := h.now()

	region := r.PathValue("region")
	auth := r.PathValue("auth")

	period, err := strconv.ParseInt(r.PathValue("period"), 10, 64)
	if err != nil || period < 0 {
		http.Error(w, "invalid period", http.StatusBadRequest)
		h.metrics.ObserveRequest("retrieve", http.StatusBadRequest, started)
		return
	}

	if region != h.region || !h.signer.Verify(region, period, auth, h.now()) {
		h.log.Info("invalid auth parameter", "region", region, "period", period)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		h.metrics.ObserveRequest("retrieve", http.StatusUnauthorized, started)
		return
	}

	h.mu.Lock()
	keys := append([]interfaces.TemporaryExposureKey(nil), h.batches[period]...)
	h.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].KeyData[:], keys[j].KeyData[:]) < 0
	})

	export := &api.KeyExport{
		StartTimestamp: time.Unix(period*interfaces.SecondsInDay, 0).UTC(),
		EndTimestamp:   time.Unix((period+1)*interfaces.SecondsInDay, 0).UTC(),
		Region:         region,
		BatchNum:       1,
		BatchSize:      1,
		Keys:           keys,
	}

	var buf bytes.Buffer
	if err := api.WriteBatch(&buf, export); err != nil {
		h.log.Error("Failed to write batch", "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		h.metrics.ObserveRequest("retrieve", http.StatusInternalServerError, started)
		return
	}

	w.Header().Set("Content-Type", api.ZipContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	h.log.Info("Wrote retrieval", "period", period, "keys", len(keys))
	h.metrics.ObserveRequest("retrieve", http.StatusOK, started)
}

// Uploads returns the number of accepted uploads.
func (h *Handler) Uploads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.uploadCount
}

func (h *Handler) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	for _, t := range h.bearerTokens {
		if subtle.ConstantTimeCompare([]byte(token), t) == 1 {
			return true
		}
	}
	return false
}

func (h *Handler) claimError(w http.ResponseWriter, started time.Time, status int, code api.KeyClaimErrorCode, msg string, err error) {
	h.logRequestError(status, msg, err)
	h.writeProto(w, started, "claim-key", status, func() ([]byte, error) {
		return (&api.KeyClaimResponse{Error: code}).Marshal()
	})
}

func (h *Handler) uploadError(w http.ResponseWriter, started time.Time, status int, code api.UploadErrorCode, msg string, err error) {
	h.logRequestError(status, msg, err)
	h.writeProto(w, started, "upload", status, func() ([]byte, error) {
		return (&api.EncryptedUploadResponse{Error: code}).Marshal(), nil
	})
}

func (h *Handler) logRequestError(status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Warn(msg, "err", err)
	}
}

func (h *Handler) writeProto(w http.ResponseWriter, started time.Time, endpoint string, status int, marshal func() ([]byte, error)) {
	data, err := marshal()
	if err != nil {
		h.log.Error("error marshalling response", "err", err)
		status = http.StatusInternalServerError
		data = nil
	}

	w.Header().Set("Content-Type", api.ProtobufContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("error writing response", "err", err)
	}
	h.metrics.ObserveRequest(endpoint, status, started)
}

func newOneTimeCode() (string, error) {
	max := big.NewInt(10)
	var sb strings.Builder
	for i := 0; i < oneTimeCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}
