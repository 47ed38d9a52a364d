package transform

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

const (
	mimeJS  = "application/javascript"
	mimeCSS = "text/css"
)

// minifyStrategy concatenates sources and, when a profile is set, minifies
// the joined text. WHITESPACE_ONLY uses the conservative minifier; the other
// profiles use the aggressive one.
type minifyStrategy struct {
	mediaType    string
	conservative *minify.M
	aggressive   *minify.M
}

func newScriptStrategy() *minifyStrategy {
	conservative := minify.New()
	conservative.Add(mimeJS, &js.Minifier{KeepVarNames: true})
	aggressive := minify.New()
	aggressive.Add(mimeJS, &js.Minifier{})
	return &minifyStrategy{mediaType: mimeJS, conservative: conservative, aggressive: aggressive}
}

func newStyleStrategy() *minifyStrategy {
	conservative := minify.New()
	conservative.Add(mimeCSS, &css.Minifier{KeepCSS2: true})
	aggressive := minify.New()
	aggressive.Add(mimeCSS, &css.Minifier{})
	return &minifyStrategy{mediaType: mimeCSS, conservative: conservative, aggressive: aggressive}
}

func (s *minifyStrategy) apply(sources []Source, dst io.Writer, profile bundle.Profile) error {
	if !profile.Present() {
		return concat(sources, dst)
	}

	// Sources are newline separated so a trailing line comment in one file
	// cannot swallow the first statement of the next.
	var joined bytes.Buffer
	for i, src := range sources {
		if i > 0 {
			joined.WriteByte('\n')
		}
		joined.Write(src.Content)
	}

	m := s.aggressive
	if profile == bundle.ProfileWhitespaceOnly {
		m = s.conservative
	}
	if err := m.Minify(s.mediaType, dst, &joined); err != nil {
		return fmt.Errorf("minify: %w", err)
	}
	return nil
}
