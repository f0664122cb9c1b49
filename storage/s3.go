package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// objectContentTypes is the Content-Type stored with each archived object.
var objectContentTypes = map[interfaces.ContentType]string{
	interfaces.BatchType:    api.ZipContentType,
	interfaces.EnvelopeType: api.ProtobufContentType,
}

// S3Config configures NewS3Backend.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint selects an S3 compatible service. Empty means AWS.
	Endpoint string

	// PathStyle addresses the bucket in the path, as MinIO expects.
	PathStyle bool

	// AccessKey and SecretKey select static credentials. When empty the
	// default AWS credential chain applies.
	AccessKey string
	SecretKey string
}

// S3Backend archives content in an S3 or S3 compatible bucket. Objects are
// private; keys are <prefix>/<content type>/<content id>.
type S3Backend struct {
	client      s3iface.S3API
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 client from cfg.
func NewS3Backend(cfg S3Config, log *slog.Logger) (*S3Backend, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.PathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3BackendWithClient(s3.New(sess), cfg, log), nil
}

// NewS3BackendWithClient wraps an existing client.
func NewS3BackendWithClient(client s3iface.S3API, cfg S3Config, log *slog.Logger) *S3Backend {
	prefix := strings.Trim(cfg.Prefix, "/")
	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, prefix, cfg.Region)
	if cfg.Endpoint != "" {
		uri += "&endpoint=" + cfg.Endpoint
	}

	return &S3Backend{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}
}

// Fetch downloads an archived object.
func (b *S3Backend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()

	key, err := b.objectKey(id, contentType)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to get object from S3", "bucket", b.bucket, "key", key, "err", err)
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	if sha256.Sum256(data) != id {
		return nil, fmt.Errorf("content of %s does not match its id", key)
	}

	b.log.Debug("Fetched archived content from S3",
		"bucket", b.bucket,
		"key", key,
		"size", len(data),
		"duration", time.Since(start))
	return data, nil
}

// Store uploads data under its SHA-256 content ID.
func (b *S3Backend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ContentID(sha256.Sum256(data))

	key, err := b.objectKey(id, contentType)
	if err != nil {
		return id, err
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(objectContentTypes[contentType]),
	})
	if err != nil {
		return id, fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	b.log.Debug("Archived content in S3", "bucket", b.bucket, "key", key)
	return id, nil
}

// Available reports whether the bucket can be reached with the configured credentials.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable", "bucket", b.bucket, "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string {
	return "s3-" + b.bucket
}

func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(id interfaces.ContentID, contentType interfaces.ContentType) (string, error) {
	dir, ok := contentDirs[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type %s", contentType)
	}
	return path.Join(b.prefix, dir, id.String()), nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}
