package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SecurityHeadersConfig holds the response headers added to every served file.
// Empty values are not sent.
type SecurityHeadersConfig struct {
	// ContentSecurityPolicy is empty by default: the web root may contain
	// pages with their own policy requirements.
	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	// StrictTransportSecurity is only sent over https.
	StrictTransportSecurity string
	ReferrerPolicy          string
	// HideServer clears the Server header.
	HideServer bool
}

// DefaultSecurityHeadersConfig returns the headers used for the web root.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		XFrameOptions:           "SAMEORIGIN",
		XContentTypeOptions:     "nosniff", // built assets carry an explicit Content-Type
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		HideServer:              true,
	}
}

// SecurityHeaders returns a middleware that sets cfg's headers before the
// rest of the chain runs, so passthrough and built responses both get them.
func SecurityHeaders(config ...SecurityHeadersConfig) fiber.Handler {
	cfg := DefaultSecurityHeadersConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	headers := make([][2]string, 0, 4)
	for _, h := range [][2]string{
		{fiber.HeaderContentSecurityPolicy, cfg.ContentSecurityPolicy},
		{fiber.HeaderXFrameOptions, cfg.XFrameOptions},
		{fiber.HeaderXContentTypeOptions, cfg.XContentTypeOptions},
		{fiber.HeaderReferrerPolicy, cfg.ReferrerPolicy},
	} {
		if h[1] != "" {
			headers = append(headers, h)
		}
	}

	return func(c *fiber.Ctx) error {
		for _, h := range headers {
			c.Set(h[0], h[1])
		}
		if cfg.StrictTransportSecurity != "" && c.Protocol() == "https" {
			c.Set(fiber.HeaderStrictTransportSecurity, cfg.StrictTransportSecurity)
		}
		if cfg.HideServer {
			c.Set(fiber.HeaderServer, "")
		}
		return c.Next()
	}
}
