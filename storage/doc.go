// Package storage archives load-test artifacts in content-addressed storage
// with pluggable backends.
//
// Two kinds of content are archived:
//
//   - retrieval batches, the zip archives served by the retrieve endpoint
//   - upload envelopes, the encrypted payloads submitted by load runs
//
// Content is identified by the SHA-256 hash of its bytes. Each content type
// lives in its own namespace, so the same bytes archived as a batch and as an
// envelope are stored twice.
//
// # Storage URI Format
//
// Backends are selected by URI:
//
//	[scheme]://[auth@]host[/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/qa/archive
//   - file://./archive
//   - s3://bucket-name/prefix?region=ca-central-1
//   - s3://ACCESS_KEY:SECRET_KEY@bucket-name/prefix?endpoint=http://minio:9000&path_style=true
//
// When the S3 URI carries no credentials the default AWS credential chain
// is used.
//
// # Multiple Backends
//
// StorageBackendFactory.CreateMultiBackend combines several locations.
// Stores go to every available backend and succeed when one of them
// succeeds; fetches are served by the first backend that has the content.
//
// # Usage
//
//	factory := storage.NewStorageBackendFactory(logger)
//	archive, err := factory.CreateMultiBackend([]string{
//	    "file:///var/lib/qa/archive",
//	    "s3://qa-archive/runs?region=ca-central-1",
//	})
//	if err != nil {
//	    return err
//	}
//	id, err := archive.Store(ctx, batch, interfaces.BatchType)
package storage
