package middleware

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/interceptor"
)

// DecisionLocal is the fiber local holding the interception decision of a
// request, read by the logging and metrics middlewares.
const DecisionLocal = "asset_decision"

// AssetHandler runs the interception state machine for one request.
type AssetHandler interface {
	Handle(ctx context.Context, req interceptor.Request) (interceptor.Result, error)
}

// AssetCompilerConfig holds configuration for the asset compiler middleware
type AssetCompilerConfig struct {
	// Handler decides and builds. Required.
	Handler AssetHandler

	// Bundles is consulted so that bundle output paths are always
	// intercepted, whatever the Intercept filter says.
	Bundles *bundle.Model

	// RootPrefix is the application root prefix. Requests outside of it are
	// not intercepted; the prefix is stripped before the path is handled.
	RootPrefix string

	// Intercept lists globs over root relative paths selecting which requests
	// enter the state machine. Empty intercepts everything.
	Intercept []string

	// CacheMaxAge is the max-age sent with final artifacts.
	CacheMaxAge time.Duration

	// Port overrides the local port used for loopback sources. Zero reads it
	// from the connection.
	Port int
}

// DefaultAssetCompilerConfig returns default configuration
func DefaultAssetCompilerConfig() AssetCompilerConfig {
	return AssetCompilerConfig{
		Intercept:   []string{"**/*.js", "**/*.css", "**/*.gss", "**/*.soy"},
		CacheMaxAge: 30 * 24 * time.Hour,
	}
}

// AssetCompiler returns a middleware that hands intercepted requests to the
// asset handler. Built artifacts are answered directly; passthrough requests
// continue down the chain to the static file handler.
func AssetCompiler(cfg AssetCompilerConfig) fiber.Handler {
	if cfg.Handler == nil {
		panic("middleware: AssetCompiler requires a Handler")
	}
	prefix := bundle.CleanPath(cfg.RootPrefix)
	longLived := cacheControlValue(cfg.CacheMaxAge)

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		path, ok := stripRootPrefix(c.Path(), prefix)
		if !ok || !intercepted(path, cfg.Intercept, cfg.Bundles) {
			return c.Next()
		}

		res, err := cfg.Handler.Handle(requestContext(c), interceptor.Request{
			Path:       path,
			Port:       localPort(c, cfg.Port),
			RootPrefix: prefix,
		})
		if err != nil {
			c.Locals(DecisionLocal, "error")
			var unsupported *interceptor.UnsupportedAssetError
			if errors.As(err, &unsupported) {
				return fiber.NewError(fiber.StatusUnsupportedMediaType, err.Error())
			}
			log.Error().Err(err).Str("path", path).Msg("Asset build failed")
			return fiber.NewError(fiber.StatusInternalServerError, "asset build failed: "+err.Error())
		}
		c.Locals(DecisionLocal, res.Decision.String())

		if res.Decision == interceptor.Passthrough {
			if err := c.Next(); err != nil {
				return err
			}
			if res.Final && c.Response().StatusCode() == fiber.StatusOK {
				c.Set(fiber.HeaderCacheControl, longLived)
			}
			return nil
		}

		c.Set(fiber.HeaderContentType, res.Category.ContentType())
		if res.Final {
			c.Set(fiber.HeaderCacheControl, longLived)
		} else {
			c.Set(fiber.HeaderCacheControl, "no-cache")
		}
		return c.Status(fiber.StatusOK).Send(res.Body)
	}
}

// stripRootPrefix returns the request path relative to the application root.
func stripRootPrefix(requestPath, prefix string) (string, bool) {
	path := bundle.CleanPath(requestPath)
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "", true
	}
	rest, ok := strings.CutPrefix(path, prefix+"/")
	return rest, ok
}

func intercepted(path string, globs []string, bundles *bundle.Model) bool {
	if bundles != nil {
		if _, ok := bundles.Lookup(path); ok {
			return true
		}
	}
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// requestContext prefers the trace context stored by the tracing middleware.
func requestContext(c *fiber.Ctx) context.Context {
	if ctx, ok := c.Locals("trace_ctx").(context.Context); ok {
		return ctx
	}
	return c.UserContext()
}

func localPort(c *fiber.Ctx, override int) int {
	if override > 0 {
		return override
	}
	if addr, ok := c.Context().LocalAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
