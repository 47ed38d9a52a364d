package transform

import (
	"bytes"
	"fmt"
	"io"

	"github.com/robfig/soy"
	"github.com/robfig/soy/soyjs"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

// templateStrategy compiles Closure templates to JavaScript. The result is
// passed through the script strategy only when a profile is set.
type templateStrategy struct {
	scripts *minifyStrategy
}

func (s *templateStrategy) apply(sources []Source, dst io.Writer, profile bundle.Profile) error {
	if len(sources) == 0 {
		return nil
	}

	b := soy.NewBundle()
	for _, src := range sources {
		b.AddTemplateString(src.Name, string(src.Content))
	}
	registry, err := b.Compile()
	if err != nil {
		return fmt.Errorf("compile templates: %w", err)
	}

	var js bytes.Buffer
	gen := soyjs.NewGenerator(registry)
	for _, file := range registry.SoyFiles {
		if err := gen.WriteFile(&js, file.Name); err != nil {
			return fmt.Errorf("generate %s: %w", file.Name, err)
		}
	}

	if !profile.Present() {
		_, err := dst.Write(js.Bytes())
		return err
	}
	return s.scripts.apply([]Source{{Name: "templates.js", Content: js.Bytes()}}, dst, profile)
}
