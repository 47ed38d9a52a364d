package build

import (
	"context"
	"slices"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/source"
)

// ResolveFiles applies def's patterns in declared order. An include appends
// files not already present, keeping first-seen order; an exclude removes
// every matching file present so far. fetched lists every temp file created
// along the way, kept or not, and is returned even on error so the caller can
// clean up.
func (b *Builder) ResolveFiles(ctx context.Context, def *bundle.Definition, env source.Env) (files, fetched []source.File, err error) {
	seen := make(map[string]bool)
	for _, p := range def.Patterns {
		resolved, err := b.resolver.Resolve(ctx, p, def.BaseDir, env)
		for _, f := range resolved {
			if f.Temp {
				fetched = append(fetched, f)
			}
		}
		if err != nil {
			return nil, fetched, err
		}

		switch p.Polarity {
		case bundle.Include:
			for _, f := range resolved {
				if !seen[f.Key] {
					seen[f.Key] = true
					files = append(files, f)
				}
			}
		case bundle.Exclude:
			drop := make(map[string]bool, len(resolved))
			for _, f := range resolved {
				drop[f.Key] = true
				delete(seen, f.Key)
			}
			files = slices.DeleteFunc(files, func(f source.File) bool { return drop[f.Key] })
		}
	}
	return files, fetched, nil
}
