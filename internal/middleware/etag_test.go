package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateETag(t *testing.T) {
	body := []byte("var a=1;")

	t.Run("weak ETag", func(t *testing.T) {
		etag := generateETag(body, true)
		if etag == "" {
			t.Error("Expected non-empty ETag")
		}
		if etag[:3] != `W/"` {
			t.Errorf("Expected weak ETag to start with W/\", got %s", etag)
		}
		if etag[len(etag)-1] != '"' {
			t.Errorf("Expected ETag to end with \", got %s", etag)
		}
	})

	t.Run("strong ETag", func(t *testing.T) {
		etag := generateETag(body, false)
		if etag == "" {
			t.Error("Expected non-empty ETag")
		}
		if etag[0] != '"' {
			t.Errorf("Expected strong ETag to start with \", got %s", etag)
		}
		if etag[len(etag)-1] != '"' {
			t.Errorf("Expected ETag to end with \", got %s", etag)
		}
	})

	t.Run("same body same ETag", func(t *testing.T) {
		etag1 := generateETag(body, true)
		etag2 := generateETag(body, true)
		if etag1 != etag2 {
			t.Errorf("Expected same body to produce same ETag, got %s and %s", etag1, etag2)
		}
	})

	t.Run("different body different ETag", func(t *testing.T) {
		body2 := []byte("var a=2;")
		etag1 := generateETag(body, true)
		etag2 := generateETag(body2, true)
		if etag1 == etag2 {
			t.Errorf("Expected different body to produce different ETag")
		}
	})
}

func TestEtagMatches(t *testing.T) {
	tests := []struct {
		name        string
		etag        string
		ifNoneMatch string
		expected    bool
	}{
		{
			name:        "exact match",
			etag:        `"abc123"`,
			ifNoneMatch: `"abc123"`,
			expected:    true,
		},
		{
			name:        "weak match",
			etag:        `W/"abc123"`,
			ifNoneMatch: `W/"abc123"`,
			expected:    true,
		},
		{
			name:        "weak vs strong match (weak comparison)",
			etag:        `W/"abc123"`,
			ifNoneMatch: `"abc123"`,
			expected:    true,
		},
		{
			name:        "strong vs weak match (weak comparison)",
			etag:        `"abc123"`,
			ifNoneMatch: `W/"abc123"`,
			expected:    true,
		},
		{
			name:        "no match",
			etag:        `"abc123"`,
			ifNoneMatch: `"xyz789"`,
			expected:    false,
		},
		{
			name:        "wildcard match",
			etag:        `"abc123"`,
			ifNoneMatch: `*`,
			expected:    true,
		},
		{
			name:        "multiple ETags - first matches",
			etag:        `"abc123"`,
			ifNoneMatch: `"abc123", "xyz789"`,
			expected:    true,
		},
		{
			name:        "multiple ETags - second matches",
			etag:        `"xyz789"`,
			ifNoneMatch: `"abc123", "xyz789"`,
			expected:    true,
		},
		{
			name:        "multiple ETags - none match",
			etag:        `"def456"`,
			ifNoneMatch: `"abc123", "xyz789"`,
			expected:    false,
		},
		{
			name:        "empty If-None-Match",
			etag:        `"abc123"`,
			ifNoneMatch: ``,
			expected:    false,
		},
		{
			name:        "whitespace handling",
			etag:        `"abc123"`,
			ifNoneMatch: `  "abc123"  `,
			expected:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := etagMatches(tt.etag, tt.ifNoneMatch)
			if result != tt.expected {
				t.Errorf("etagMatches(%q, %q) = %v, want %v", tt.etag, tt.ifNoneMatch, result, tt.expected)
			}
		})
	}
}

func TestNormalizeETag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`"abc123"`, `"abc123"`},
		{`W/"abc123"`, `"abc123"`},
		{`  "abc123"  `, `"abc123"`},
		{`  W/"abc123"  `, `"abc123"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := normalizeETag(tt.input)
			if result != tt.expected {
				t.Errorf("normalizeETag(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// builtAsset mimics the asset compiler answering with a built artifact.
func builtAsset(decision, body string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(DecisionLocal, decision)
		return c.SendString(body)
	}
}

func TestETagMiddleware(t *testing.T) {
	t.Run("adds ETag header to built artifacts", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETag())
		app.Get("/app.js", builtAsset("build_bundle", "1;2;"))

		resp, err := app.Test(httptest.NewRequest("GET", "/app.js", nil))
		require.NoError(t, err)
		assert.Equal(t, generateETag([]byte("1;2;"), true), resp.Header.Get("ETag"))
	})

	t.Run("leaves passthrough responses alone", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETag())
		app.Get("/static.js", builtAsset("passthrough", "static"))
		app.Get("/plain", func(c *fiber.Ctx) error { return c.SendString("plain") })

		for _, target := range []string{"/static.js", "/plain"} {
			resp, err := app.Test(httptest.NewRequest("GET", target, nil))
			require.NoError(t, err)
			assert.Empty(t, resp.Header.Get("ETag"), target)
		}
	})

	t.Run("returns 304 when ETag matches", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETagWithConfig(ETagConfig{
			Weak:              true,
			EnableConditional: true,
		}))
		app.Get("/site.css", builtAsset("build_atomic", "a{}"))

		resp1, err := app.Test(httptest.NewRequest("GET", "/site.css", nil))
		require.NoError(t, err)
		etag := resp1.Header.Get("ETag")
		require.NotEmpty(t, etag)

		req2 := httptest.NewRequest("GET", "/site.css", nil)
		req2.Header.Set("If-None-Match", etag)
		resp2, err := app.Test(req2)
		require.NoError(t, err)
		assert.Equal(t, 304, resp2.StatusCode)

		body, _ := io.ReadAll(resp2.Body)
		assert.Empty(t, body)
	})

	t.Run("returns full response when ETag doesn't match", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETag())
		app.Get("/app.js", builtAsset("build_bundle", "1;2;"))

		req := httptest.NewRequest("GET", "/app.js", nil)
		req.Header.Set("If-None-Match", `"non-matching-etag"`)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "1;2;", string(body))
	})

	t.Run("skips non-GET methods and configured paths", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETagWithConfig(ETagConfig{SkipPaths: []string{"/health"}}))
		app.Post("/app.js", builtAsset("build_bundle", "x"))
		app.Get("/health", builtAsset("build_bundle", "ok"))

		resp, err := app.Test(httptest.NewRequest("POST", "/app.js", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("ETag"))

		resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("ETag"))
	})

	t.Run("no ETag for error responses", func(t *testing.T) {
		app := fiber.New()
		app.Use(ETag())
		app.Get("/error.js", func(c *fiber.Ctx) error {
			c.Locals(DecisionLocal, "build_bundle")
			return c.Status(500).SendString("internal error")
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/error.js", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("ETag"))
	})
}

func TestCacheControlValue(t *testing.T) {
	assert.Equal(t, "public, max-age=2592000", cacheControlValue(720*time.Hour))
	assert.Equal(t, "public, max-age=60", cacheControlValue(time.Minute+500*time.Millisecond))
	assert.Equal(t, "no-cache", cacheControlValue(0))
	assert.Equal(t, "no-cache", cacheControlValue(-time.Second))
}
