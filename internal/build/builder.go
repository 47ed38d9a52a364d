// Package build produces bundle artifacts: it orders dependency builds,
// resolves each bundle's file list and hands the sources to the transformer.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
	"github.com/fluxbase-eu/assetcache/internal/rollback"
	"github.com/fluxbase-eu/assetcache/internal/source"
	"github.com/fluxbase-eu/assetcache/internal/transform"
)

// SourceResolver enumerates the files a pattern names.
type SourceResolver interface {
	Resolve(ctx context.Context, p bundle.Pattern, baseDir string, env source.Env) ([]source.File, error)
}

// Func builds one definition and returns the artifact bytes.
type Func func(ctx context.Context) ([]byte, error)

// Step runs fn for one planned definition. The cache uses it to give every
// output path a single owner and to skip paths that are already final.
type Step func(ctx context.Context, def *bundle.Definition, fn Func) ([]byte, error)

// Builder writes bundle artifacts under the web root.
type Builder struct {
	resolver    SourceResolver
	transformer transform.Transformer
	registry    *rollback.Registry
}

// New creates a builder. Every file it writes is registered with registry.
func New(resolver SourceResolver, transformer transform.Transformer, registry *rollback.Registry) *Builder {
	return &Builder{
		resolver:    resolver,
		transformer: transformer,
		registry:    registry,
	}
}

// Build builds id after all of its dependencies, following Plan. Each
// definition goes through step, or is built directly when step is nil. It
// returns the artifact bytes of id.
func (b *Builder) Build(ctx context.Context, id string, model *bundle.Model, env source.Env, step Step) ([]byte, error) {
	plan, err := Plan(model, id)
	if err != nil {
		return nil, err
	}
	if step == nil {
		step = func(ctx context.Context, _ *bundle.Definition, fn Func) ([]byte, error) { return fn(ctx) }
	}

	var out []byte
	for i, def := range plan {
		def := def
		out, err = step(ctx, def, func(ctx context.Context) ([]byte, error) {
			return b.BuildOne(ctx, def, env)
		})
		if err != nil {
			if i < len(plan)-1 {
				return nil, fmt.Errorf("build dependency %s of %s: %w", def.OutputPath, bundle.CleanPath(id), err)
			}
			return nil, err
		}
		if i < len(plan)-1 {
			observability.AddSpanEvent(ctx, "dependency.built")
		}
	}
	return out, nil
}

// BuildOne builds def alone, assuming its dependencies exist. The artifact is
// only written once the transformer succeeded; the previous content, if any,
// is replaced, never appended to.
func (b *Builder) BuildOne(ctx context.Context, def *bundle.Definition, env source.Env) ([]byte, error) {
	ctx, span := observability.StartBuildSpan(ctx, "bundle", def.OutputPath, def.Category.String())
	out, err := b.buildOne(ctx, def, env)
	observability.EndSpan(span, err)
	return out, err
}

func (b *Builder) buildOne(ctx context.Context, def *bundle.Definition, env source.Env) ([]byte, error) {
	artifact := env.Dir(def.OutputPath)

	files, fetched, err := b.ResolveFiles(ctx, def, env)
	defer source.RemoveTemp(fetched)
	if err != nil {
		return nil, err
	}
	files = withoutArtifact(files, artifact)

	sources := make([]transform.Source, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", f.Key, err)
		}
		sources = append(sources, transform.Source{Name: f.Key, Content: content})
	}

	var out bytes.Buffer
	if err := b.transformer.Transform(ctx, def.Category, sources, &out, def.Profile); err != nil {
		return nil, err
	}

	if def.Category == bundle.Style {
		if err := b.relocateResources(files, artifact, def.Profile); err != nil {
			return nil, err
		}
	}

	if err := b.writeArtifact(artifact, out.Bytes()); err != nil {
		return nil, err
	}
	log.Debug().
		Str("bundle", def.OutputPath).
		Int("sources", len(sources)).
		Int("bytes", out.Len()).
		Str("profile", def.Profile.String()).
		Msg("Bundle written")
	return out.Bytes(), nil
}

// withoutArtifact drops the bundle's own output and its backup from files.
// Both show up when the output directory lies under the base directory.
func withoutArtifact(files []source.File, artifact string) []source.File {
	artifact = filepath.Clean(artifact)
	backup := artifact + rollback.BackupSuffix
	return slices.DeleteFunc(files, func(f source.File) bool {
		if f.Temp {
			return false
		}
		p := filepath.Clean(f.Path)
		if p == artifact || p == backup {
			log.Debug().Str("path", p).Msg("Skipping bundle output matched by its own patterns")
			return true
		}
		return false
	})
}

func (b *Builder) writeArtifact(path string, data []byte) error {
	if err := b.registry.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create output directory for %s: %w", path, err)
	}
	if _, err := b.registry.Touch(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}
