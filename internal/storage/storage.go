package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// Mirror receives finalized artifacts and removes them again at shutdown.
type Mirror interface {
	// Name returns the provider name
	Name() string
	// Publish stores a finalized artifact under its output path.
	Publish(ctx context.Context, artifactPath string, category bundle.Category, body []byte) error
	// Published returns the keys published by this process, sorted.
	Published() []string
	// Purge removes everything Publish stored. Keys that fail to be removed
	// stay in Published.
	Purge(ctx context.Context) error
}

// Options configures a mirror.
type Options struct {
	// Provider is "s3" or "local".
	Provider string

	// S3 settings
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool

	// LocalPath is the directory the local provider writes into.
	LocalPath string

	// Prefix is prepended to every key.
	Prefix string
	// CacheMaxAge is sent as the object's Cache-Control max-age.
	CacheMaxAge time.Duration
}

// New creates the mirror selected by opts.Provider.
func New(ctx context.Context, opts Options, metrics *observability.Metrics) (Mirror, error) {
	switch opts.Provider {
	case "", "s3":
		m, err := NewS3Mirror(opts, metrics)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to ensure mirror bucket")
		}
		return m, nil
	case "local":
		return NewLocalMirror(opts, metrics)
	default:
		return nil, fmt.Errorf("unsupported mirror provider: %s", opts.Provider)
	}
}

// keySet tracks published keys for Purge.
type keySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{keys: make(map[string]struct{})}
}

func (s *keySet) add(key string) {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func (s *keySet) remove(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (s *keySet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
