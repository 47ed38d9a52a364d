package build

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/source"
)

// relocateResources copies every local url(...) reference of the style
// sources to the same relative location next to the artifact, so that the
// merged stylesheet still finds its images and fonts. With a profile set,
// resources already present at the destination are left alone.
func (b *Builder) relocateResources(files []source.File, artifact string, profile bundle.Profile) error {
	outDir := filepath.Dir(artifact)
	for _, f := range files {
		if f.Temp {
			continue
		}
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read source %s: %w", f.Key, err)
		}
		srcDir := filepath.Dir(f.Path)
		for _, ref := range resourceRefs(content) {
			from := filepath.Join(srcDir, filepath.FromSlash(ref))
			to := filepath.Join(outDir, filepath.FromSlash(ref))
			if from == to {
				continue
			}
			if err := b.copyResource(from, to, profile); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) copyResource(from, to string, profile bundle.Profile) error {
	if _, err := os.Stat(to); err == nil && profile.Present() {
		return nil
	}
	src, err := os.Open(from)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("resource", from).Msg("Referenced style resource not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open resource %s: %w", from, err)
	}
	defer src.Close()

	if err := b.registry.MkdirAll(filepath.Dir(to)); err != nil {
		return fmt.Errorf("create resource directory: %w", err)
	}
	if _, err := b.registry.Touch(to); err != nil {
		return err
	}
	dst, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("create resource %s: %w", to, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy resource %s: %w", to, err)
	}
	return dst.Close()
}

// resourceRefs returns the relative local references of a stylesheet,
// without query strings or fragments, in order of appearance. Comments and
// strings are skipped by the lexer.
func resourceRefs(stylesheet []byte) []string {
	var refs []string
	seen := make(map[string]bool)
	lexer := css.NewLexer(parse.NewInputBytes(stylesheet))
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			return refs
		}
		if tt != css.URLToken {
			continue
		}
		ref := urlValue(data)
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
		if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, ":") {
			continue
		}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
}

// urlValue unwraps a url(...) token.
func urlValue(token []byte) string {
	v := string(token)
	if i := strings.IndexByte(v, '('); i >= 0 {
		v = v[i+1:]
	}
	v = strings.TrimSpace(strings.TrimSuffix(v, ")"))
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return strings.TrimSpace(v)
}
