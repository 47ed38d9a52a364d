package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/build"
	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/cache"
	"github.com/fluxbase-eu/assetcache/internal/config"
	"github.com/fluxbase-eu/assetcache/internal/interceptor"
	"github.com/fluxbase-eu/assetcache/internal/middleware"
	"github.com/fluxbase-eu/assetcache/internal/observability"
	"github.com/fluxbase-eu/assetcache/internal/rollback"
	"github.com/fluxbase-eu/assetcache/internal/source"
	"github.com/fluxbase-eu/assetcache/internal/storage"
	"github.com/fluxbase-eu/assetcache/internal/transform"
	"github.com/fluxbase-eu/assetcache/internal/webroot"
)

// Server represents the HTTP server
type Server struct {
	app         *fiber.App
	config      *config.Config
	model       *bundle.Model
	catalog     *cache.Catalog
	registry    *rollback.Registry
	interceptor *interceptor.Interceptor
	mirror      storage.Mirror
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	startTime   time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer wires the asset compiler for model into a fiber app.
func NewServer(cfg *config.Config, model *bundle.Model) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               "assetcache " + observability.ServiceVersion,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	tracer, err := observability.NewTracer(context.Background(), cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	catalog, err := cache.New(model,
		cache.WithBodyCache(cfg.Assets.BodyCacheEntries),
		cache.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create build cache: %w", err)
	}

	resolver := source.NewResolver(
		source.WithFetchTimeout(cfg.Assets.FetchTimeout),
		source.WithRateLimit(cfg.Assets.FetchRateLimit),
		source.WithMetrics(metrics),
	)
	transformer := transform.New(metrics)
	registry := rollback.NewRegistry(metrics)

	s := &Server{
		app:       app,
		config:    cfg,
		model:     model,
		catalog:   catalog,
		registry:  registry,
		metrics:   metrics,
		tracer:    tracer,
		startTime: time.Now(),
	}

	icfg := interceptor.Config{
		Catalog:      catalog,
		Builder:      build.New(resolver, transformer, registry),
		Transformer:  transformer,
		Registry:     registry,
		Metrics:      metrics,
		WebRoot:      cfg.Assets.WebRoot,
		LoopbackHost: cfg.Assets.LoopbackHost,
	}
	if cfg.Mirror.Enabled {
		mirror, err := storage.New(context.Background(), storage.Options{
			Provider:    cfg.Mirror.Provider,
			Endpoint:    cfg.Mirror.Endpoint,
			AccessKey:   cfg.Mirror.AccessKey,
			SecretKey:   cfg.Mirror.SecretKey,
			Region:      cfg.Mirror.Region,
			Bucket:      cfg.Mirror.Bucket,
			UseSSL:      cfg.Mirror.UseSSL,
			LocalPath:   cfg.Mirror.LocalPath,
			Prefix:      cfg.Mirror.Prefix,
			CacheMaxAge: cfg.Assets.CacheMaxAge,
		}, metrics)
		if err != nil {
			return nil, err
		}
		s.mirror = mirror
		icfg.Publisher = mirror
	}
	s.interceptor = interceptor.New(icfg)

	s.setupMiddlewares()
	s.setupRoutes()

	log.Info().
		Int("bundles", len(model.Bundles)).
		Str("web_root", cfg.Assets.WebRoot).
		Str("default_profile", model.DefaultProfile.String()).
		Msg("Asset compiler ready")
	return s, nil
}

// setupMiddlewares sets up global middlewares
func (s *Server) setupMiddlewares() {
	// Request ID middleware - must be first for tracing
	s.app.Use(requestid.New())

	if s.config.Tracing.Enabled && s.tracer != nil && s.tracer.IsEnabled() {
		log.Debug().Msg("Adding OpenTelemetry tracing middleware")
		s.app.Use(middleware.TracingMiddleware(middleware.TracingConfig{
			Enabled:   true,
			SkipPaths: []string{"/health", s.config.Metrics.Path},
		}))
	}

	loggerCfg := middleware.DefaultStructuredLoggerConfig()
	loggerCfg.SkipPaths = []string{"/health", s.config.Metrics.Path}
	loggerCfg.SkipPassthrough = !s.config.Debug
	s.app.Use(middleware.StructuredLogger(loggerCfg))

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	s.app.Use(middleware.SecurityHeaders())

	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
}

// setupRoutes sets up the service endpoints, the asset compiler and the web root
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.metrics != nil {
		metricsHandler := s.metrics.Handler()
		s.app.Get(s.config.Metrics.Path, func(c *fiber.Ctx) error {
			s.metrics.UpdateUptime(s.startTime)
			return metricsHandler(c)
		})
	}

	s.app.Use(middleware.ETag())

	compilerCfg := middleware.DefaultAssetCompilerConfig()
	compilerCfg.Handler = s.interceptor
	compilerCfg.Bundles = s.model
	compilerCfg.RootPrefix = s.config.Server.RootPrefix
	compilerCfg.Intercept = s.config.Assets.Intercept
	compilerCfg.CacheMaxAge = s.config.Assets.CacheMaxAge
	s.app.Use(middleware.AssetCompiler(compilerCfg))

	webroot.New(s.config.Assets.WebRoot, bundle.CleanPath(s.config.Server.RootPrefix)).
		WithMaxAge(s.config.Assets.StaticMaxAge).
		RegisterRoutes(s.app)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"bundles":   len(s.model.Bundles),
		"compiled":  len(s.catalog.Compiled()),
		"mirror":    s.mirror != nil,
		"timestamp": time.Now().UTC(),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown stops accepting requests, waits for in-flight ones, then restores
// the web root to its pre-start state. It runs at most once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		var errs []error

		log.Info().Msg("Shutting down HTTP server")
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		log.Info().Int("entries", len(s.registry.Entries())).Msg("Rolling back generated artifacts")
		if err := s.registry.Rollback(); err != nil {
			log.Error().Err(err).Msg("Rollback finished with errors")
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		}

		if s.mirror != nil {
			if err := s.mirror.Purge(ctx); err != nil {
				errs = append(errs, fmt.Errorf("mirror purge: %w", err))
			}
		}

		// Shutdown OpenTelemetry tracer (flush remaining spans)
		if s.tracer != nil {
			if err := s.tracer.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to shutdown OpenTelemetry tracer")
			}
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Catalog returns the shared build state
func (s *Server) Catalog() *cache.Catalog {
	return s.catalog
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	resp := fiber.Map{
		"error": message,
		"code":  code,
	}
	if traceID := middleware.GetTraceID(c); traceID != "" {
		resp["trace_id"] = traceID
	}
	return c.Status(code).JSON(resp)
}
