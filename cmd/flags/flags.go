// Package flags holds the command line flags and setup helpers shared by
// the key server client binaries.
package flags

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/api/clients"
	"github.com/ruteri/exposure-keyserver-client/common"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/secrets"
	"github.com/ruteri/exposure-keyserver-client/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// Credentials resolves the shared secrets. Flags take precedence over the
// QA_HMAC and QA_BEARER_TOKEN environment, which take precedence over Vault.
func Credentials(cCtx *cli.Context, logger *slog.Logger) (secrets.Credentials, error) {
	chain := secrets.Chain{
		secrets.StaticSource{
			HMACKeyHex:  cCtx.String(HMACKeyFlag.Name),
			BearerToken: cCtx.String(BearerTokenFlag.Name),
		},
		secrets.EnvSource{},
	}

	if addr := cCtx.String(VaultAddrFlag.Name); addr != "" {
		vault, err := secrets.NewVaultSource(secrets.VaultConfig{
			Address:   addr,
			Token:     cCtx.String(VaultTokenFlag.Name),
			MountPath: cCtx.String(VaultMountFlag.Name),
			DataPath:  cCtx.String(VaultPathFlag.Name),
		}, logger)
		if err != nil {
			return secrets.Credentials{}, err
		}
		chain = append(chain, vault)
	}

	return chain.Secrets(cCtx.Context)
}

// Archive creates the archive backend from --storage, or nil when no
// location is configured.
func Archive(cCtx *cli.Context, logger *slog.Logger) (interfaces.StorageBackend, error) {
	uris := cCtx.StringSlice(StorageFlag.Name)
	if len(uris) == 0 {
		return nil, nil
	}
	return storage.NewStorageBackendFactory(logger).CreateMultiBackend(uris)
}

// RetrievalURL returns --retrieval-url, or --server-url when retrieval and
// submission share a host.
func RetrievalURL(cCtx *cli.Context) string {
	if url := cCtx.String(RetrievalURLFlag.Name); url != "" {
		return url
	}
	return cCtx.String(ServerURLFlag.Name)
}

// HTTPClient returns the client shared by every request of a command.
func HTTPClient(cCtx *cli.Context) *http.Client {
	return clients.NewHTTPClient(cCtx.Duration(TimeoutFlag.Name))
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "keyserver-client",
	Usage: "add 'service' tag to logs",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var ServerURLFlag = &cli.StringFlag{
	Name:    "server-url",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"KEYSERVER_URL"},
	Usage:   "base URL of the key server",
}
var RetrievalURLFlag = &cli.StringFlag{
	Name:    "retrieval-url",
	EnvVars: []string{"KEYSERVER_RETRIEVAL_URL"},
	Usage:   "base URL of the retrieval server, defaults to --server-url",
}
var RegionFlag = &cli.StringFlag{
	Name:  "region",
	Value: "302",
	Usage: "region code (MCC) served by the key server",
}
var HMACKeyFlag = &cli.StringFlag{
	Name:  "hmac-key",
	Usage: "hex-encoded retrieval HMAC key, falls back to $" + secrets.HMACKeyEnv,
}
var BearerTokenFlag = &cli.StringFlag{
	Name:  "bearer-token",
	Usage: "bearer token for new-key-claim, falls back to $" + secrets.BearerTokenEnv,
}
var TimeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: clients.DefaultTimeout,
	Usage: "timeout of each HTTP request",
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	EnvVars: []string{"VAULT_ADDR"},
	Usage:   "read credentials missing from flags and environment from this Vault server",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "Vault token",
}
var VaultMountFlag = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "Vault KV v2 mount",
}
var VaultPathFlag = &cli.StringFlag{
	Name:  "vault-path",
	Value: "qa/keyserver",
	Usage: "Vault secret path holding hmac_key and bearer_token",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Usage: "archive location URI (file:// or s3://), may be repeated",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var SecretFlags = []cli.Flag{
	HMACKeyFlag,
	BearerTokenFlag,
	VaultAddrFlag,
	VaultTokenFlag,
	VaultMountFlag,
	VaultPathFlag,
}

var ClientFlags = []cli.Flag{
	ServerURLFlag,
	RetrievalURLFlag,
	RegionFlag,
	TimeoutFlag,
	StorageFlag,
}
