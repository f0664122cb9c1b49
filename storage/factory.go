package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// StorageBackendFactory creates archive backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a factory logging through logger.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a backend from a location.
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=http://minio:9000&path_style=true
func (sf *StorageBackendFactory) StorageBackendFor(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch strings.ToLower(loc.Scheme) {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// StorageBackendForURI parses uri and creates its backend.
func (sf *StorageBackendFactory) StorageBackendForURI(uri string) (interfaces.StorageBackend, error) {
	loc, err := interfaces.NewStorageBackendLocation(uri)
	if err != nil {
		return nil, err
	}
	return sf.StorageBackendFor(loc)
}

// CreateMultiBackend creates a multi backend from uris. Invalid URIs are
// logged and skipped; at least one backend must be created.
func (sf *StorageBackendFactory) CreateMultiBackend(uris []string) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(uris))

	for _, uri := range uris {
		backend, err := sf.StorageBackendForURI(uri)
		if err != nil {
			sf.log.Warn("Failed to create storage backend", "err", err, "locationURI", redactURI(uri))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no valid storage backends created", interfaces.ErrInvalidLocationURI)
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, redactURI(loc.Raw))
	}

	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParam("path_style") == "true",
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if loc.Auth != "" {
		accessKey, secretKey, _ := strings.Cut(loc.Auth, ":")
		cfg.AccessKey = accessKey
		cfg.SecretKey = secretKey
	}

	sf.log.Debug("Creating S3 backend", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return NewS3Backend(cfg, sf.log)
}

func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	sf.log.Debug("Creating file backend", "path", path)
	return NewFileBackend(path, sf.log)
}

// redactURI drops the credentials of a location before it is logged.
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.Index(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}
