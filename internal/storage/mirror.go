// Package storage publishes finalized artifacts to a mirror (S3-compatible
// object storage or a local directory) so a CDN can serve them, and removes
// them again at shutdown.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// objectClient is the subset of *minio.Client the mirror uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// S3Mirror publishes artifacts to an S3-compatible bucket (AWS S3, MinIO, etc.)
type S3Mirror struct {
	client  objectClient
	bucket  string
	prefix  string
	maxAge  time.Duration
	metrics *observability.Metrics

	published *keySet
}

// NewS3Mirror creates a mirror backed by a MinIO client.
func NewS3Mirror(opts Options, metrics *observability.Metrics) (*S3Mirror, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", opts.Endpoint).
		Str("bucket", opts.Bucket).
		Str("region", opts.Region).
		Bool("ssl", opts.UseSSL).
		Msg("Artifact mirror initialized")

	return newS3Mirror(client, opts, metrics), nil
}

func newS3Mirror(client objectClient, opts Options, metrics *observability.Metrics) *S3Mirror {
	return &S3Mirror{
		client:    client,
		bucket:    opts.Bucket,
		prefix:    bundle.CleanPath(opts.Prefix),
		maxAge:    opts.CacheMaxAge,
		metrics:   metrics,
		published: newKeySet(),
	}
}

// Name returns the provider name
func (m *S3Mirror) Name() string {
	return "s3"
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *S3Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	log.Info().Str("bucket", m.bucket).Msg("Mirror bucket created")
	return nil
}

// Key returns the object key an artifact path is published under.
func (m *S3Mirror) Key(artifactPath string) string {
	return bundle.CleanPath(path.Join(m.prefix, artifactPath))
}

// Publish uploads a finalized artifact.
func (m *S3Mirror) Publish(ctx context.Context, artifactPath string, category bundle.Category, body []byte) (err error) {
	key := m.Key(artifactPath)
	ctx, span := observability.StartStorageSpan(ctx, "publish", m.bucket, key)
	defer func() { observability.EndSpan(span, err) }()

	putOpts := minio.PutObjectOptions{
		ContentType:  category.ContentType(),
		CacheControl: "public, max-age=" + strconv.FormatInt(int64(m.maxAge/time.Second), 10),
		UserMetadata: map[string]string{"category": category.String()},
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), putOpts)
	m.metrics.RecordMirrorOperation("publish", info.Size, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	m.published.add(key)

	log.Debug().
		Str("bucket", m.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Artifact published to mirror")
	return nil
}

// Published returns the keys published by this process, sorted.
func (m *S3Mirror) Published() []string {
	return m.published.sorted()
}

// Purge removes every object this process published. Failures are logged
// and the remaining objects are still attempted.
func (m *S3Mirror) Purge(ctx context.Context) error {
	var errs []error
	for _, key := range m.Published() {
		spanCtx, span := observability.StartStorageSpan(ctx, "purge", m.bucket, key)
		err := m.client.RemoveObject(spanCtx, m.bucket, key, minio.RemoveObjectOptions{})
		observability.EndSpan(span, err)
		m.metrics.RecordMirrorOperation("purge", 0, err)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to remove mirrored artifact")
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		m.published.remove(key)
	}
	return errors.Join(errs...)
}
