package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// contentDirs maps each content type to its namespace under a backend root.
var contentDirs = map[interfaces.ContentType]string{
	interfaces.BatchType:    "batches",
	interfaces.EnvelopeType: "envelopes",
}

// FileBackend archives content on the local file system, one file per
// content ID under a directory per content type.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates the base directory and its per-type subdirectories.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, dir := range contentDirs {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: "file://" + baseDir,
	}, nil
}

// Fetch reads archived content. The content is re-hashed so that a
// corrupted file is never returned under its ID.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	path, err := b.path(id, contentType)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if sha256.Sum256(data) != id {
		return nil, fmt.Errorf("content of %s does not match its id", path)
	}

	b.log.Debug("Fetched archived content", "path", path, "size", len(data))
	return data, nil
}

// Store writes data under its SHA-256 content ID. Storing the same content
// twice is a no-op.
func (b *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ContentID(sha256.Sum256(data))

	path, err := b.path(id, contentType)
	if err != nil {
		return id, err
	}

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	// write then rename so readers never observe a partial file
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return id, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return id, fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return id, fmt.Errorf("failed to move archive into place: %w", err)
	}

	b.log.Debug("Archived content", "path", path, "contentID", id.String())
	return id, nil
}

// Available reports whether the base directory is reachable.
func (b *FileBackend) Available(ctx context.Context) bool {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.baseDir)
}

func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) (string, error) {
	dir, ok := contentDirs[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type %s", contentType)
	}
	return filepath.Join(b.baseDir, dir, id.String()), nil
}
