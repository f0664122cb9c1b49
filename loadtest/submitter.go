package loadtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/api/clients"
	"github.com/ruteri/exposure-keyserver-client/cryptoutils"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/metrics"
	"github.com/ruteri/exposure-keyserver-client/tek"
)

// Run kinds reported to RunMetrics.
const (
	SubmissionRun = "submission"
	RetrievalRun  = "retrieval"
)

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	// ServerURL is the base URL of the key server.
	ServerURL string

	// BearerToken authorizes new-key-claim.
	BearerToken string

	// KeyCount is the number of keys per upload. Zero selects tek.DefaultCount.
	KeyCount int

	// HTTPClient is shared by every run. Nil selects a client with the
	// default timeout.
	HTTPClient *http.Client

	// Archive stores the submitted envelopes when set.
	Archive interfaces.StorageBackend

	// Metrics may be nil.
	Metrics *metrics.RunMetrics

	// Rand supplies key pairs, key material and nonces. Nil selects crypto/rand.
	Rand io.Reader

	// Now is replaceable for tests.
	Now func() time.Time

	Log *slog.Logger
}

// RunResult describes one submission run.
type RunResult struct {
	ID      string
	Keys    int
	Elapsed time.Duration

	// ServerPublicKey is the key claimed for this run.
	ServerPublicKey interfaces.PublicKey

	// EnvelopeID is set when the envelope was archived.
	EnvelopeID *interfaces.ContentID

	// Err is the first error of the run. A failed run is never retried.
	Err error
}

// Submitter performs complete submission runs: a fresh key pair and claim
// client per run, then claim token, claim key, generate, encrypt and upload.
// Runs share only the HTTP client, the archive and the metrics, so a
// Submitter is safe for concurrent use.
type Submitter struct {
	cfg       SubmitterConfig
	uploader  *clients.UploadClient
	generator *tek.Generator
	encryptor *cryptoutils.Encryptor
}

// NewSubmitter creates a Submitter from cfg.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = clients.NewHTTPClient(0)
	}
	if cfg.KeyCount == 0 {
		cfg.KeyCount = tek.DefaultCount
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Submitter{
		cfg:       cfg,
		uploader:  clients.NewUploadClient(cfg.ServerURL, cfg.HTTPClient, cfg.Log),
		generator: tek.NewGenerator(cfg.Rand),
		encryptor: &cryptoutils.Encryptor{Rand: cfg.Rand},
	}
}

// Run performs one submission run. Errors are reported in the result.
func (s *Submitter) Run(ctx context.Context) RunResult {
	started := time.Now()
	result := RunResult{ID: uuid.NewString()}
	log := s.cfg.Log.With("run", result.ID)

	result.Err = s.run(ctx, log, &result)
	result.Elapsed = time.Since(started)
	s.cfg.Metrics.ObserveRun(SubmissionRun, interfaces.ErrorKind(result.Err), result.Elapsed)

	if result.Err != nil {
		log.Warn("submission run failed", "kind", interfaces.ErrorKind(result.Err), "err", result.Err, "elapsed", result.Elapsed)
	} else {
		log.Info("submission run succeeded", "keys", result.Keys, "elapsed", result.Elapsed)
	}
	return result
}

func (s *Submitter) run(ctx context.Context, log *slog.Logger, result *RunResult) error {
	kp, err := cryptoutils.GenerateKeyPair(s.cfg.Rand)
	if err != nil {
		return err
	}

	claim := clients.NewKeyClaimClient(s.cfg.ServerURL, s.cfg.HTTPClient, log)

	token, err := claim.RequestClaimToken(ctx, s.cfg.BearerToken)
	if err != nil {
		return fmt.Errorf("claim token: %w", err)
	}

	serverKey, err := claim.ClaimKey(ctx, token, kp.Public.Bytes())
	if err != nil {
		return fmt.Errorf("claim key: %w", err)
	}
	result.ServerPublicKey = serverKey

	now := s.cfg.Now()
	keys, err := s.generator.Generate(s.cfg.KeyCount, now)
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}

	env, err := s.encryptor.EncryptAndBuild(serverKey.Bytes(), kp, keys, now)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	if err := s.uploader.Upload(ctx, env); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	result.Keys = len(keys)

	if s.cfg.Archive != nil {
		id, err := s.cfg.Archive.Store(ctx, api.NewEncryptedUploadRequest(env).Marshal(), interfaces.EnvelopeType)
		if err != nil {
			return fmt.Errorf("archive envelope: %w", err)
		}
		result.EnvelopeID = &id
	}
	return nil
}
