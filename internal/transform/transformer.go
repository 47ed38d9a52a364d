// Package transform is the default asset transformer: it turns an ordered
// list of script, style or template sources into one artifact.
package transform

import (
	"context"
	"fmt"
	"io"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// Source is one input file, in bundle order.
type Source struct {
	Name    string
	Content []byte
}

// Transformer compiles sources of one category into dst.
//
// With an absent profile, scripts and styles are concatenated verbatim;
// templates are still compiled to JavaScript but not minified.
type Transformer interface {
	Transform(ctx context.Context, category bundle.Category, sources []Source, dst io.Writer, profile bundle.Profile) error
}

// TransformError wraps any failure raised while transforming a category.
type TransformError struct {
	Category bundle.Category
	Profile  bundle.Profile
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s (profile %s): %v", e.Category, e.Profile, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

type strategy interface {
	apply(sources []Source, dst io.Writer, profile bundle.Profile) error
}

// Default dispatches to one strategy per category.
type Default struct {
	strategies map[bundle.Category]strategy
	metrics    *observability.Metrics
}

// New creates the default transformer. metrics may be nil.
func New(metrics *observability.Metrics) *Default {
	scripts := newScriptStrategy()
	return &Default{
		strategies: map[bundle.Category]strategy{
			bundle.Script:   scripts,
			bundle.Style:    newStyleStrategy(),
			bundle.Template: &templateStrategy{scripts: scripts},
		},
		metrics: metrics,
	}
}

// Transform implements Transformer.
func (d *Default) Transform(ctx context.Context, category bundle.Category, sources []Source, dst io.Writer, profile bundle.Profile) error {
	s, ok := d.strategies[category]
	if !ok {
		return &TransformError{Category: category, Profile: profile, Err: fmt.Errorf("no transformer for %s", category)}
	}
	if err := ctx.Err(); err != nil {
		return &TransformError{Category: category, Profile: profile, Err: err}
	}
	d.metrics.RecordTransform(category.String(), profile.String())
	if err := s.apply(sources, dst, profile); err != nil {
		return &TransformError{Category: category, Profile: profile, Err: err}
	}
	return nil
}

// concat writes every source verbatim and in order.
func concat(sources []Source, dst io.Writer) error {
	for _, s := range sources {
		if _, err := dst.Write(s.Content); err != nil {
			return err
		}
	}
	return nil
}
