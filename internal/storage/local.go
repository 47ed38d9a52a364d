package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// LocalMirror copies artifacts into a directory, typically the document root
// of a separate static file server.
type LocalMirror struct {
	basePath string
	prefix   string
	metrics  *observability.Metrics

	published *keySet
}

// NewLocalMirror creates a local directory mirror
func NewLocalMirror(opts Options, metrics *observability.Metrics) (*LocalMirror, error) {
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("local mirror path cannot be empty")
	}
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(opts.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	log.Info().Str("path", opts.LocalPath).Msg("Artifact mirror initialized")

	return &LocalMirror{
		basePath:  opts.LocalPath,
		prefix:    bundle.CleanPath(opts.Prefix),
		metrics:   metrics,
		published: newKeySet(),
	}, nil
}

// Name returns the provider name
func (lm *LocalMirror) Name() string {
	return "local"
}

// Key returns the relative path an artifact is published under.
func (lm *LocalMirror) Key(artifactPath string) string {
	return bundle.CleanPath(path.Join(lm.prefix, artifactPath))
}

// getPath returns the full filesystem path for a key, refusing keys that
// would leave the base directory.
func (lm *LocalMirror) getPath(key string) (string, error) {
	if key == "" || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("invalid mirror key %q", key)
	}
	return filepath.Join(lm.basePath, filepath.FromSlash(key)), nil
}

// Publish writes the artifact through a temporary file so readers never see
// a partial body.
func (lm *LocalMirror) Publish(ctx context.Context, artifactPath string, category bundle.Category, body []byte) (err error) {
	key := lm.Key(artifactPath)
	_, span := observability.StartStorageSpan(ctx, "publish", lm.basePath, key)
	defer func() { observability.EndSpan(span, err) }()
	defer func() { lm.metrics.RecordMirrorOperation("publish", int64(len(body)), err) }()

	filePath, err := lm.getPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".publish-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	lm.published.add(key)

	sum := md5.Sum(body)
	log.Debug().
		Str("key", key).
		Str("category", category.String()).
		Str("etag", hex.EncodeToString(sum[:])).
		Int("size", len(body)).
		Msg("Artifact published to local mirror")
	return nil
}

// Published returns the keys published by this process, sorted.
func (lm *LocalMirror) Published() []string {
	return lm.published.sorted()
}

// Purge deletes every published file. Files already gone count as removed.
func (lm *LocalMirror) Purge(ctx context.Context) error {
	var errs []error
	for _, key := range lm.Published() {
		_, span := observability.StartStorageSpan(ctx, "purge", lm.basePath, key)
		err := lm.remove(key)
		observability.EndSpan(span, err)
		lm.metrics.RecordMirrorOperation("purge", 0, err)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to remove mirrored artifact")
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		lm.published.remove(key)
	}
	return errors.Join(errs...)
}

func (lm *LocalMirror) remove(key string) error {
	filePath, err := lm.getPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
