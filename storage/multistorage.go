package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// MultiStorageBackend archives to every available backend and fetches from
// the first backend that has the content.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a multi backend over backends, in fetch order.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch tries each available backend in order. When every backend that
// answered reported the content missing, ErrContentNotFound is returned.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	var errs []error
	tried := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name(), "contentID", id.String())
			continue
		}
		tried++

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil {
			m.log.Debug("Fetched archived content",
				"backend", backend.Name(),
				"contentID", id.String(),
				"duration", time.Since(start))
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if tried == 0 {
		return nil, fmt.Errorf("%w: no backend available to fetch %s", interfaces.ErrBackendUnavailable, id)
	}

	err := errors.Join(errs...)
	if allNotFound(errs) {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrContentNotFound, err)
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", id, err)
}

// Store writes data to every available backend. It succeeds when at least
// one backend stored the content.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	start := time.Now()
	var (
		result  interfaces.ContentID
		stored  int
		errs    []error
		skipped int
	)

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name())
			skipped++
			continue
		}

		id, err := backend.Store(ctx, data, contentType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to archive to backend", "backend", backend.Name(), "err", err)
			continue
		}

		if stored > 0 && id != result {
			m.log.Warn("Inconsistent content ids from backends",
				"backend", backend.Name(),
				"expected", result.String(),
				"actual", id.String())
			continue
		}
		result = id
		stored++
	}

	if stored == 0 {
		if len(errs) == 0 {
			return result, fmt.Errorf("%w: %d backends skipped", interfaces.ErrBackendUnavailable, skipped)
		}
		return result, fmt.Errorf("all backends failed to store data: %w", errors.Join(errs...))
	}

	m.log.Debug("Archived content",
		"contentID", result.String(),
		"backends", stored,
		"duration", time.Since(start))
	return result, nil
}

// Available reports whether any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI lists the URIs of the underlying backends.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

func allNotFound(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, interfaces.ErrContentNotFound) {
			return false
		}
	}
	return len(errs) > 0
}
