// Package interceptor decides, per request, whether a path is served as is,
// built as a bundle or transformed in place, and keeps the shared cache
// state consistent while doing so.
package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/assetcache/internal/build"
	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/cache"
	"github.com/fluxbase-eu/assetcache/internal/observability"
	"github.com/fluxbase-eu/assetcache/internal/rollback"
	"github.com/fluxbase-eu/assetcache/internal/source"
	"github.com/fluxbase-eu/assetcache/internal/transform"
)

// Decision is the branch a request took.
type Decision int

const (
	Passthrough Decision = iota
	BuildBundle
	BuildAtomic
)

func (d Decision) String() string {
	switch d {
	case BuildBundle:
		return "build_bundle"
	case BuildAtomic:
		return "build_atomic"
	default:
		return "passthrough"
	}
}

// Request is one intercepted request.
type Request struct {
	// Path is relative to the application root. Separators are normalized
	// before any lookup.
	Path string
	// Port the server received the request on, used for loopback sources.
	Port int
	// RootPrefix is the application root prefix, used for loopback sources.
	RootPrefix string
}

// Result tells the host how to answer.
type Result struct {
	Decision Decision
	Path     string
	Category bundle.Category
	// Body is the artifact for build decisions.
	Body []byte
	// Final is set when the artifact is built for the process lifetime,
	// including passthrough of an already final path.
	Final bool
}

// Publisher receives every artifact the moment it becomes final.
type Publisher interface {
	Publish(ctx context.Context, path string, category bundle.Category, body []byte) error
}

// Config holds the collaborators of an Interceptor.
type Config struct {
	Catalog      *cache.Catalog
	Builder      *build.Builder
	Transformer  transform.Transformer
	Registry     *rollback.Registry
	Metrics      *observability.Metrics
	Publisher    Publisher // optional
	WebRoot      string
	LoopbackHost string
}

// Interceptor runs the per-request state machine.
type Interceptor struct {
	catalog      *cache.Catalog
	builder      *build.Builder
	transformer  transform.Transformer
	registry     *rollback.Registry
	metrics      *observability.Metrics
	publisher    Publisher
	webRoot      string
	loopbackHost string
}

// New creates an interceptor.
func New(cfg Config) *Interceptor {
	host := cfg.LoopbackHost
	if host == "" {
		host = "127.0.0.1"
	}
	return &Interceptor{
		catalog:      cfg.Catalog,
		builder:      cfg.Builder,
		transformer:  cfg.Transformer,
		registry:     cfg.Registry,
		metrics:      cfg.Metrics,
		publisher:    cfg.Publisher,
		webRoot:      cfg.WebRoot,
		loopbackHost: host,
	}
}

// Handle evaluates the transition rules in order: final paths pass through,
// active bundles are built, existing files are transformed in place, and
// everything else passes through.
func (i *Interceptor) Handle(ctx context.Context, req Request) (Result, error) {
	path := bundle.CleanPath(req.Path)
	if path == "" || escapesRoot(path) {
		return Result{Decision: Passthrough, Path: path}, nil
	}

	claim := i.catalog.TryClaim(path)
	if claim.Outcome == cache.AlreadyBuilt {
		return Result{Decision: Passthrough, Path: path, Category: claim.Category, Final: true}, nil
	}

	env := i.env(req)
	if claim.Bundle != nil {
		return i.buildBundle(ctx, claim.Bundle, env)
	}

	file := env.Dir(path)
	info, err := os.Stat(file)
	switch {
	case err == nil && info.Mode().IsRegular():
		return i.buildAtomic(ctx, path, file)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		log.Warn().Err(err).Str("path", path).Msg("Cannot stat requested file, passing through")
	default:
		log.Warn().Str("path", path).Msg("Request for a non-static resource intercepted, this can impact performance")
	}
	return Result{Decision: Passthrough, Path: path}, nil
}

func (i *Interceptor) env(req Request) source.Env {
	prefix := bundle.CleanPath(req.RootPrefix)
	if prefix != "" {
		prefix = "/" + prefix
	}
	var base string
	if req.Port > 0 {
		base = "http://" + net.JoinHostPort(i.loopbackHost, strconv.Itoa(req.Port)) + prefix
	}
	return source.Env{Root: i.webRoot, LoopbackBase: base}
}

func (i *Interceptor) buildBundle(ctx context.Context, def *bundle.Definition, env source.Env) (Result, error) {
	buildID := uuid.NewString()
	logger := log.With().Str("bundle", def.OutputPath).Str("build_id", buildID).Logger()
	logger.Info().Str("profile", def.Profile.String()).Msg("Bundle build requested")

	ctx, span := observability.StartBuildSpan(ctx, "request", def.OutputPath, def.Category.String())
	span.SetAttributes(attribute.String("build.id", buildID))

	start := time.Now()
	step := func(ctx context.Context, d *bundle.Definition, fn build.Func) ([]byte, error) {
		res, err := i.catalog.Build(ctx, d.OutputPath, func(ctx context.Context) (cache.Result, error) {
			body, err := fn(ctx)
			if err != nil {
				return cache.Result{}, err
			}
			final := d.Profile.Present()
			if final {
				i.publish(ctx, d.OutputPath, d.Category, body)
			}
			return cache.Result{Body: body, Category: d.Category, Final: final}, nil
		})
		if err != nil {
			return nil, err
		}
		if res.Reused && res.Body == nil && d.OutputPath == def.OutputPath {
			return os.ReadFile(env.Dir(d.OutputPath))
		}
		return res.Body, nil
	}

	body, err := i.builder.Build(ctx, def.OutputPath, i.catalog.Model(), env, step)
	i.metrics.RecordBuild("bundle", def.Category.String(), time.Since(start), err)
	observability.EndSpan(span, err)
	if err != nil {
		logger.Error().Err(err).Msg("Bundle build failed")
		return Result{}, err
	}

	final := def.Profile.Present()
	if !final {
		logger.Warn().Msg("Serving bundle without a compilation profile, this is not optimized for performance")
	}
	return Result{Decision: BuildBundle, Path: def.OutputPath, Category: def.Category, Body: body, Final: final}, nil
}

func (i *Interceptor) buildAtomic(ctx context.Context, path, file string) (Result, error) {
	category, ok := bundle.CategoryFromPath(path)
	if !ok {
		return Result{}, &UnsupportedAssetError{Path: path}
	}
	profile := i.catalog.Model().DefaultProfile

	log.Info().Str("path", path).Str("profile", profile.String()).Msg("Atomic build requested")
	ctx, span := observability.StartBuildSpan(ctx, "atomic", path, category.String())
	start := time.Now()

	res, err := i.catalog.Build(ctx, path, func(ctx context.Context) (cache.Result, error) {
		body, err := i.transformInPlace(ctx, file, path, category, profile)
		if err != nil {
			return cache.Result{}, err
		}
		if profile.Present() {
			i.publish(ctx, path, category, body)
		}
		return cache.Result{Body: body, Category: category, Final: profile.Present()}, nil
	})
	if err == nil && res.Reused && res.Body == nil {
		res.Body, err = os.ReadFile(file)
	}
	i.metrics.RecordBuild("atomic", category.String(), time.Since(start), err)
	observability.EndSpan(span, err)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Atomic build failed")
		return Result{}, err
	}

	if !res.Final {
		log.Warn().Str("path", path).Msg("Serving file without a compilation profile, this is not optimized for performance")
	}
	return Result{Decision: BuildAtomic, Path: path, Category: category, Body: res.Body, Final: res.Final}, nil
}

// transformInPlace transforms the original content of file back into file.
// The original is saved on first touch and every later transform reads from
// that copy, so repeated debug builds never feed on their own output.
func (i *Interceptor) transformInPlace(ctx context.Context, file, path string, category bundle.Category, profile bundle.Profile) ([]byte, error) {
	entry, err := i.registry.Touch(file)
	if err != nil {
		return nil, err
	}
	original := file
	if entry.HasBackup {
		original = entry.Backup
	}
	content, err := os.ReadFile(original)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", original, err)
	}

	var out bytes.Buffer
	if err := i.transformer.Transform(ctx, category, []transform.Source{{Name: path, Content: content}}, &out, profile); err != nil {
		return nil, err
	}
	if err := os.WriteFile(file, out.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", file, err)
	}
	if err := os.Chtimes(file, rollback.ProcessedModTime, rollback.ProcessedModTime); err != nil {
		return nil, fmt.Errorf("stamp %s: %w", file, err)
	}
	return out.Bytes(), nil
}

func (i *Interceptor) publish(ctx context.Context, path string, category bundle.Category, body []byte) {
	if i.publisher == nil {
		return
	}
	if err := i.publisher.Publish(ctx, path, category, body); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to publish artifact to mirror")
	}
}

func escapesRoot(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
