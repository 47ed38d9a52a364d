package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ETagConfig defines the configuration for ETag middleware
type ETagConfig struct {
	// Weak determines if the ETag should be a weak validator (W/"...")
	// Weak ETags indicate semantic equivalence, not byte-for-byte equality
	Weak bool

	// SkipPaths are path prefixes that should not have ETags
	SkipPaths []string

	// EnableConditional enables checking If-None-Match header
	// and returning 304 Not Modified when ETag matches
	EnableConditional bool
}

// DefaultETagConfig returns the default configuration
func DefaultETagConfig() ETagConfig {
	return ETagConfig{
		Weak:              true,
		SkipPaths:         []string{"/health", "/metrics"},
		EnableConditional: true,
	}
}

// ETag creates a middleware that adds ETag headers to built asset responses
// and handles conditional requests (If-None-Match). Passthrough responses are
// left to the static file handler, which sets its own validators.
func ETag() fiber.Handler {
	return ETagWithConfig(DefaultETagConfig())
}

// ETagWithConfig creates an ETag middleware with custom configuration
func ETagWithConfig(config ETagConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Only built artifacts carry a body this middleware owns
		decision, _ := c.Locals(DecisionLocal).(string)
		if decision == "" || decision == "passthrough" || decision == "error" {
			return nil
		}
		if c.Response().StatusCode() != fiber.StatusOK {
			return nil
		}
		body := c.Response().Body()
		if len(body) == 0 {
			return nil
		}

		etag := generateETag(body, config.Weak)
		c.Set(fiber.HeaderETag, etag)

		if config.EnableConditional {
			if ifNoneMatch := c.Get(fiber.HeaderIfNoneMatch); ifNoneMatch != "" && etagMatches(etag, ifNoneMatch) {
				c.Status(fiber.StatusNotModified)
				c.Response().ResetBody()
			}
		}
		return nil
	}
}

// generateETag creates an ETag from response body
func generateETag(body []byte, weak bool) string {
	hash := sha256.Sum256(body)
	// Use first 16 bytes of hash (32 hex chars)
	hashStr := hex.EncodeToString(hash[:16])

	if weak {
		return `W/"` + hashStr + `"`
	}
	return `"` + hashStr + `"`
}

// etagMatches checks if the current ETag matches any in the If-None-Match header
// Handles multiple ETags separated by commas and the * wildcard
func etagMatches(etag, ifNoneMatch string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "*" {
		return true
	}

	want := normalizeETag(etag)
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && normalizeETag(candidate) == want {
			return true
		}
	}
	return false
}

// normalizeETag removes weak indicator for comparison
// RFC 7232: For weak comparison, ETags are equivalent if their opaque-tags match
func normalizeETag(etag string) string {
	return strings.TrimPrefix(strings.TrimSpace(etag), "W/")
}

// cacheControlValue renders the Cache-Control header for final artifacts.
func cacheControlValue(maxAge time.Duration) string {
	if maxAge <= 0 {
		return "no-cache"
	}
	return "public, max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
}
