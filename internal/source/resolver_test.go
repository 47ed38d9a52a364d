package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func keys(t *testing.T, root string, files []File) []string {
	t.Helper()
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f.Key)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestResolver_Local(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"script/a.js":              "1;",
		"script/b.js":              "2;",
		"script/readme.txt":        "",
		"script/vendor/special.js": "3;",
		"script/vendor/other.js":   "4;",
		"other/c.js":               "5;",
	})
	env := Env{Root: root}
	r := NewResolver()

	tests := []struct {
		name     string
		pattern  string
		expected []string
	}{
		{"single level glob", "*.js", []string{"script/a.js", "script/b.js"}},
		{"recursive glob", "**/*.js", []string{"script/a.js", "script/b.js", "script/vendor/other.js", "script/vendor/special.js"}},
		{"subdirectory glob", "vendor/*.js", []string{"script/vendor/other.js", "script/vendor/special.js"}},
		{"literal file", "vendor/special.js", []string{"script/vendor/special.js"}},
		{"leading slash ignored", "/a.js", []string{"script/a.js"}},
		{"no match", "*.css", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := r.Resolve(context.Background(), bundle.Pattern{Value: tt.pattern}, "script", env)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, keys(t, root, files))
			for _, f := range files {
				assert.False(t, f.Temp)
				assert.Equal(t, f.Key, f.Path)
			}
		})
	}
}

func TestResolver_LocalMissingBaseDir(t *testing.T) {
	r := NewResolver()
	files, err := r.Resolve(context.Background(), bundle.Pattern{Value: "*.js"}, "missing", Env{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolver_LocalCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": "1;"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver().Resolve(ctx, bundle.Pattern{Value: "*.js"}, "", Env{Root: root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver_RemoteHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lib.js":
			_, _ = w.Write([]byte("var lib;"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tempDir := t.TempDir()
	r := NewResolver(WithTempDir(tempDir), WithRateLimit(100))

	t.Run("fetches into a temp file", func(t *testing.T) {
		p := bundle.Pattern{Protocol: bundle.RemoteHTTP, Value: srv.URL + "/lib.js"}
		files, err := r.Resolve(context.Background(), p, "ignored", Env{})
		require.NoError(t, err)
		require.Len(t, files, 1)

		f := files[0]
		assert.True(t, f.Temp)
		assert.Equal(t, srv.URL+"/lib.js", f.Key)
		assert.Equal(t, ".js", filepath.Ext(f.Path))
		assert.Equal(t, tempDir, filepath.Dir(f.Path))

		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		assert.Equal(t, "var lib;", string(data))

		RemoveTemp(files)
		_, err = os.Stat(f.Path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("non-200 is a fetch error", func(t *testing.T) {
		p := bundle.Pattern{Protocol: bundle.RemoteHTTP, Value: srv.URL + "/missing.js"}
		_, err := r.Resolve(context.Background(), p, "", Env{})

		var fetchErr *SourceFetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
		assert.Contains(t, err.Error(), "unexpected status 404")

		entries, err := os.ReadDir(tempDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("exclude does not fetch", func(t *testing.T) {
		p := bundle.Pattern{Protocol: bundle.RemoteHTTP, Polarity: bundle.Exclude, Value: srv.URL + "/missing.js"}
		files, err := r.Resolve(context.Background(), p, "", Env{})
		require.NoError(t, err)
		assert.Equal(t, []File{{Key: srv.URL + "/missing.js"}}, files)
	})
}

func TestResolver_Loopback(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write([]byte("window.config={};"))
	}))
	defer srv.Close()

	r := NewResolver(WithTempDir(t.TempDir()))
	p := bundle.Pattern{Protocol: bundle.Loopback, Value: "generated/config.js"}
	files, err := r.Resolve(context.Background(), p, "/script/", Env{LoopbackBase: srv.URL + "/app/"})
	require.NoError(t, err)
	defer RemoveTemp(files)

	assert.Equal(t, "/app/script/generated/config.js", requested)
	require.Len(t, files, 1)
	assert.Equal(t, srv.URL+"/app/script/generated/config.js", files[0].Key)

	_, err = r.Resolve(context.Background(), p, "script", Env{})
	var fetchErr *SourceFetchError
	assert.True(t, errors.As(err, &fetchErr))
}

func TestResolver_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r := NewResolver(WithFetchTimeout(50*time.Millisecond), WithTempDir(t.TempDir()))
	p := bundle.Pattern{Protocol: bundle.RemoteHTTP, Value: srv.URL + "/slow.js"}
	_, err := r.Resolve(context.Background(), p, "", Env{})

	var fetchErr *SourceFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Zero(t, fetchErr.StatusCode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
