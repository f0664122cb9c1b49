// Package secrets supplies the credentials the load tooling needs: the hex
// HMAC key for retrieval signatures and the bearer token for new-key-claim.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
)

const (
	// HMACKeyEnv and BearerTokenEnv are read by EnvSource.
	HMACKeyEnv     = "QA_HMAC"
	BearerTokenEnv = "QA_BEARER_TOKEN"

	// Field names of the Vault KV v2 secret.
	hmacKeyField     = "hmac_key"
	bearerTokenField = "bearer_token"
)

var (
	// ErrMissingSecret is returned when a source has no value for a required credential.
	ErrMissingSecret = errors.New("missing secret")

	// ErrSecretsUnavailable is returned when a secret store cannot be read.
	ErrSecretsUnavailable = errors.New("secret store unavailable")
)

// Credentials are the secrets shared with the key server operators.
type Credentials struct {
	HMACKeyHex  string
	BearerToken string
}

// Source provides Credentials.
type Source interface {
	Secrets(ctx context.Context) (Credentials, error)
}

// Require checks that the credentials needed by a command are present.
func (c Credentials) Require(hmacKey, bearer bool) error {
	if hmacKey && c.HMACKeyHex == "" {
		return fmt.Errorf("%w: HMAC key", ErrMissingSecret)
	}
	if bearer && c.BearerToken == "" {
		return fmt.Errorf("%w: bearer token", ErrMissingSecret)
	}
	return nil
}

// StaticSource returns fixed credentials, typically taken from flags.
type StaticSource Credentials

func (s StaticSource) Secrets(ctx context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// EnvSource reads credentials from QA_HMAC and QA_BEARER_TOKEN.
type EnvSource struct{}

func (EnvSource) Secrets(ctx context.Context) (Credentials, error) {
	return Credentials{
		HMACKeyHex:  strings.TrimSpace(os.Getenv(HMACKeyEnv)),
		BearerToken: strings.TrimSpace(os.Getenv(BearerTokenEnv)),
	}, nil
}

// VaultSource reads credentials from a Vault KV v2 secret holding the
// hmac_key and bearer_token fields.
type VaultSource struct {
	client    *vault.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// VaultConfig configures NewVaultSource.
type VaultConfig struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200
	Address string

	// Token authenticates the client. When empty VAULT_TOKEN applies.
	Token string

	// MountPath is the KV v2 mount, e.g. "secret".
	MountPath string

	// DataPath is the secret path within the mount, e.g. "qa/keyserver".
	DataPath string

	Timeout time.Duration
}

// NewVaultSource creates a Vault client for cfg.
func NewVaultSource(cfg VaultConfig, log *slog.Logger) (*VaultSource, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	config := vault.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = &http.Client{Timeout: cfg.Timeout}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultSource{
		client:    client,
		mountPath: strings.Trim(cfg.MountPath, "/"),
		dataPath:  strings.Trim(cfg.DataPath, "/"),
		log:       log,
	}, nil
}

// Secrets reads the latest version of the configured secret.
func (s *VaultSource) Secrets(ctx context.Context) (Credentials, error) {
	path := fmt.Sprintf("%s/data/%s", s.mountPath, s.dataPath)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", "path", path, "err", err)
		return Credentials{}, fmt.Errorf("%w: %v", ErrSecretsUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("%w: no secret at %s", ErrMissingSecret, path)
	}

	// KV v2 nests the fields under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("%w: unexpected secret format at %s", ErrSecretsUnavailable, path)
	}

	creds := Credentials{
		HMACKeyHex:  stringField(data, hmacKeyField),
		BearerToken: stringField(data, bearerTokenField),
	}

	s.log.Debug("Read credentials from Vault",
		"path", path,
		"hasHMACKey", creds.HMACKeyHex != "",
		"hasBearerToken", creds.BearerToken != "")
	return creds, nil
}

func stringField(data map[string]interface{}, name string) string {
	v, _ := data[name].(string)
	return strings.TrimSpace(v)
}

// Chain merges sources in order: the first non-empty value of each
// credential wins. A failing source fails the chain.
type Chain []Source

func (c Chain) Secrets(ctx context.Context) (Credentials, error) {
	var merged Credentials
	for _, src := range c {
		creds, err := src.Secrets(ctx)
		if err != nil {
			return Credentials{}, err
		}
		if merged.HMACKeyHex == "" {
			merged.HMACKeyHex = creds.HMACKeyHex
		}
		if merged.BearerToken == "" {
			merged.BearerToken = creds.BearerToken
		}
	}
	return merged, nil
}
