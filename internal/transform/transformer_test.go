package transform

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

func run(t *testing.T, category bundle.Category, profile bundle.Profile, sources ...Source) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := New(nil).Transform(context.Background(), category, sources, &out, profile)
	return out.String(), err
}

func TestTransform_AbsentProfileConcatenates(t *testing.T) {
	for _, category := range []bundle.Category{bundle.Script, bundle.Style} {
		t.Run(category.String(), func(t *testing.T) {
			out, err := run(t, category, bundle.ProfileNone,
				Source{Name: "a", Content: []byte("1;")},
				Source{Name: "b", Content: []byte("2;")},
			)
			require.NoError(t, err)
			assert.Equal(t, "1;2;", out)
		})
	}
}

func TestTransform_ScriptMinify(t *testing.T) {
	src := Source{Name: "app.js", Content: []byte(`
function add ( first , second ) {
    // sum
    return first + second ;
}

var total = add( 1 , 2 ) ;
`)}

	t.Run("whitespace only keeps names", func(t *testing.T) {
		out, err := run(t, bundle.Script, bundle.ProfileWhitespaceOnly, src)
		require.NoError(t, err)
		assert.Less(t, len(out), len(src.Content))
		assert.Contains(t, out, "first")
		assert.Contains(t, out, "second")
		assert.NotContains(t, out, "// sum")
	})

	t.Run("simple optimizations", func(t *testing.T) {
		out, err := run(t, bundle.Script, bundle.ProfileSimple, src)
		require.NoError(t, err)
		assert.Less(t, len(out), len(src.Content))
		assert.Contains(t, out, "total")
		assert.NotContains(t, out, "\n\n")
	})

	t.Run("trailing line comment does not swallow next source", func(t *testing.T) {
		out, err := run(t, bundle.Script, bundle.ProfileSimple,
			Source{Name: "a.js", Content: []byte("var a=1;// end")},
			Source{Name: "b.js", Content: []byte("var b=2;")},
		)
		require.NoError(t, err)
		assert.Contains(t, out, "b=2")
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := run(t, bundle.Script, bundle.ProfileSimple, Source{Name: "bad.js", Content: []byte("var = ;")})
		var tErr *TransformError
		require.True(t, errors.As(err, &tErr))
		assert.Equal(t, bundle.Script, tErr.Category)
		assert.Equal(t, bundle.ProfileSimple, tErr.Profile)
	})
}

func TestTransform_StyleMinify(t *testing.T) {
	out, err := run(t, bundle.Style, bundle.ProfileSimple,
		Source{Name: "a.css", Content: []byte("body {\n    color : #ff0000 ;\n}\n")},
		Source{Name: "b.css", Content: []byte("/* header */\nh1 { margin : 0px ; }\n")},
	)
	require.NoError(t, err)
	assert.Contains(t, out, "body{")
	assert.Contains(t, out, "h1{")
	assert.NotContains(t, out, "header")
	assert.NotContains(t, out, "\n")
}

const helloTemplate = `{namespace example}

/**
 * Greets someone.
 * @param name who to greet
 */
{template .hello}
  Hello {$name}!
{/template}
`

func TestTransform_Template(t *testing.T) {
	src := Source{Name: "hello.soy", Content: []byte(helloTemplate)}

	t.Run("absent profile still compiles", func(t *testing.T) {
		out, err := run(t, bundle.Template, bundle.ProfileNone, src)
		require.NoError(t, err)
		assert.Contains(t, out, "example.hello")
		assert.NotContains(t, out, "{template")
	})

	t.Run("profile minifies generated script", func(t *testing.T) {
		plain, err := run(t, bundle.Template, bundle.ProfileNone, src)
		require.NoError(t, err)
		out, err := run(t, bundle.Template, bundle.ProfileSimple, src)
		require.NoError(t, err)
		assert.Contains(t, out, "example.hello")
		assert.Less(t, len(out), len(plain))
	})

	t.Run("invalid template", func(t *testing.T) {
		_, err := run(t, bundle.Template, bundle.ProfileNone,
			Source{Name: "bad.soy", Content: []byte("{namespace x}\n{template .y}\n")})
		var tErr *TransformError
		require.True(t, errors.As(err, &tErr))
		assert.Equal(t, bundle.Template, tErr.Category)
	})

	t.Run("no sources", func(t *testing.T) {
		out, err := run(t, bundle.Template, bundle.ProfileSimple)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestTransform_UnknownCategory(t *testing.T) {
	_, err := run(t, bundle.Category(42), bundle.ProfileNone)
	var tErr *TransformError
	require.True(t, errors.As(err, &tErr))
	assert.True(t, strings.Contains(err.Error(), "no transformer"))
}

func TestTransform_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Transform(ctx, bundle.Script, nil, &bytes.Buffer{}, bundle.ProfileNone)
	assert.ErrorIs(t, err, context.Canceled)
}
