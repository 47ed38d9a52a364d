// Package source enumerates the files a bundle pattern names: a glob walk of
// the local tree, or a single resource fetched over HTTP into a temp file.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

const tempPrefix = "assetcache-"

// Env is the per-request context a pattern resolves against.
type Env struct {
	// Root is the directory request paths and base directories are relative to.
	Root string
	// LoopbackBase is the running server's own address plus the application
	// root prefix, e.g. "http://127.0.0.1:8080/app".
	LoopbackBase string
}

// Dir returns the filesystem directory for a slash separated path relative to Root.
func (e Env) Dir(rel string) string {
	return filepath.Join(e.Root, filepath.FromSlash(bundle.CleanPath(rel)))
}

// File is one resolved source.
type File struct {
	// Key identifies the source when folding include and exclude patterns:
	// the local file path, or the fetched URL.
	Key string
	// Path is where the content can be read. Empty for an exclude of a
	// network source, which is never fetched.
	Path string
	// Temp marks a fetched copy that must be removed after the build.
	Temp bool
}

// Resolver turns source patterns into files.
type Resolver struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	tempDir string
	metrics *observability.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetchTimeout bounds each network fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithRateLimit caps outbound fetches per second. Zero or less is unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTempDir sets where fetched sources are written. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(r *Resolver) { r.tempDir = dir }
}

// WithMetrics records fetches and walk failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver with a 30 second fetch timeout and no rate limit.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:  &http.Client{},
		timeout: 30 * time.Second,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve enumerates the files pattern names relative to baseDir.
//
// Local patterns walk Env.Dir(baseDir) in filesystem order; entries that
// cannot be visited are logged and skipped. Network include patterns fetch
// exactly one resource into a temp file and fail with *SourceFetchError.
// Network exclude patterns only need the identity, so nothing is fetched.
func (r *Resolver) Resolve(ctx context.Context, p bundle.Pattern, baseDir string, env Env) ([]File, error) {
	switch p.Protocol {
	case bundle.Local:
		return r.walk(ctx, p.Value, env.Dir(baseDir))
	case bundle.RemoteHTTP, bundle.Loopback:
		target, err := r.locate(p, baseDir, env)
		if err != nil {
			return nil, err
		}
		if p.Polarity == bundle.Exclude {
			return []File{{Key: target}}, nil
		}
		f, err := r.fetch(ctx, p.Protocol, target)
		if err != nil {
			return nil, err
		}
		return []File{f}, nil
	default:
		return nil, fmt.Errorf("unsupported source protocol %s", p.Protocol)
	}
}

func (r *Resolver) walk(ctx context.Context, pattern, base string) ([]File, error) {
	pattern = strings.TrimLeft(filepath.ToSlash(pattern), "/")

	var files []File
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Error().Err(err).Str("path", p).Msg("Cannot visit source file, skipping")
			r.metrics.RecordWalkError()
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return nil
		}
		ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("match %q: %w", pattern, err)
		}
		if ok {
			files = append(files, File{Key: p, Path: p})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Resolver) locate(p bundle.Pattern, baseDir string, env Env) (string, error) {
	if p.Protocol == bundle.RemoteHTTP {
		return p.Value, nil
	}
	if env.LoopbackBase == "" {
		return "", &SourceFetchError{Protocol: p.Protocol, URL: p.Value, Err: errors.New("server address unknown")}
	}
	return strings.TrimRight(env.LoopbackBase, "/") + "/" + bundle.JoinPath(baseDir, p.Value), nil
}

func (r *Resolver) fetch(ctx context.Context, protocol bundle.Protocol, target string) (f File, err error) {
	start := time.Now()
	ctx, span := observability.StartFetchSpan(ctx, protocol.String(), target)
	defer func() {
		observability.EndSpan(span, err)
		r.metrics.RecordFetch(protocol.String(), time.Since(start), err)
	}()

	fail := func(status int, cause error) (File, error) {
		return File{}, &SourceFetchError{Protocol: protocol, URL: target, StatusCode: status, Err: cause}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fail(0, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(r.tempDir, tempPrefix+"*"+extension(target))
	if err != nil {
		return fail(0, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fail(0, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fail(0, err)
	}

	log.Debug().Str("url", target).Str("temp_file", tmp.Name()).Msg("Fetched source into temporary file")
	return File{Key: target, Path: tmp.Name(), Temp: true}, nil
}

// RemoveTemp deletes the fetched copies among files.
func RemoveTemp(files []File) {
	for _, f := range files {
		if !f.Temp {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("temp_file", f.Path).Msg("Failed to remove temporary source file")
		}
	}
}

func extension(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
