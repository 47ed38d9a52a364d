// Package webroot serves the application web root, the target every
// passthrough request falls through to.
package webroot

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
)

// Handler serves files below a directory on disk.
type Handler struct {
	root   string
	prefix string
	maxAge time.Duration
}

// New creates a web root handler for dir. prefix is the application root
// prefix the files are mounted under.
func New(dir, prefix string) *Handler {
	return &Handler{root: dir, prefix: prefix}
}

// WithMaxAge sets the Cache-Control max-age for plain static files. Zero
// sends no Cache-Control header.
func (h *Handler) WithMaxAge(d time.Duration) *Handler {
	h.maxAge = d
	return h
}

// RegisterRoutes registers the web root after every other route.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	prefix := "/" + h.prefix
	app.Use(prefix, filesystem.New(filesystem.Config{
		Root:   http.Dir(h.root),
		Browse: false,
		Index:  "index.html",
		MaxAge: int(h.maxAge / time.Second),
	}))
}
