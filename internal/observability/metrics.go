package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the asset cache.
//
// Every method is safe to call on a nil *Metrics, which is how components run
// with metrics disabled.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Build metrics
	buildsTotal     *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec
	transformsTotal *prometheus.CounterVec
	buildsInFlight  prometheus.Gauge

	// Cache metrics
	cacheLookupsTotal *prometheus.CounterVec
	compiledPaths     prometheus.Gauge

	// Source metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	walkErrors    prometheus.Counter

	// Rollback and mirror metrics
	rollbackTotal         *prometheus.CounterVec
	mirrorOperationsTotal *prometheus.CounterVec
	mirrorBytesTotal      prometheus.Counter

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "decision", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetcache_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "decision", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetcache_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_builds_total",
				Help: "Total number of artifact builds",
			},
			[]string{"kind", "category", "status"},
		),
		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetcache_build_duration_seconds",
				Help:    "Artifact build duration in seconds, including dependencies",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind", "category"},
		),
		transformsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_transforms_total",
				Help: "Total number of transformer invocations",
			},
			[]string{"category", "profile"},
		),
		buildsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetcache_builds_in_flight",
				Help: "Current number of builds holding a build claim",
			},
		),

		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_cache_lookups_total",
				Help: "Compiled-set lookups by outcome",
			},
			[]string{"outcome"},
		),
		compiledPaths: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetcache_compiled_paths",
				Help: "Number of paths finalized for the process lifetime",
			},
		),

		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_source_fetches_total",
				Help: "Total number of network source fetches",
			},
			[]string{"protocol", "status"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetcache_source_fetch_duration_seconds",
				Help:    "Network source fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		walkErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assetcache_source_walk_errors_total",
				Help: "Files skipped because the local walk could not visit them",
			},
		),

		rollbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_rollback_total",
				Help: "Rollback actions taken at shutdown",
			},
			[]string{"action"},
		),
		mirrorOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcache_mirror_operations_total",
				Help: "Artifact mirror operations",
			},
			[]string{"operation", "status"},
		),
		mirrorBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assetcache_mirror_bytes_total",
				Help: "Bytes published to the artifact mirror",
			},
		),

		systemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetcache_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics.
// The decision label is read from the "asset_decision" local set by the
// interception middleware.
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		method := c.Method()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		decision, _ := c.Locals("asset_decision").(string)
		if decision == "" {
			decision = "none"
		}

		m.httpRequestsTotal.WithLabelValues(method, decision, statusClass(status)).Inc()
		m.httpRequestDuration.WithLabelValues(method, decision, statusClass(status)).Observe(time.Since(start).Seconds())
		return err
	}
}

// RecordBuild records a finished bundle or atomic build.
func (m *Metrics) RecordBuild(kind, category string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(kind, category, resultLabel(err)).Inc()
	m.buildDuration.WithLabelValues(kind, category).Observe(duration.Seconds())
}

// RecordTransform records one transformer invocation.
func (m *Metrics) RecordTransform(category, profile string) {
	if m == nil {
		return
	}
	m.transformsTotal.WithLabelValues(category, profile).Inc()
}

// BuildStarted and BuildFinished bracket a claimed build.
func (m *Metrics) BuildStarted() {
	if m == nil {
		return
	}
	m.buildsInFlight.Inc()
}

func (m *Metrics) BuildFinished() {
	if m == nil {
		return
	}
	m.buildsInFlight.Dec()
}

// RecordCacheLookup records the outcome of a compiled-set probe.
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// SetCompiledPaths updates the compiled path gauge.
func (m *Metrics) SetCompiledPaths(n int) {
	if m == nil {
		return
	}
	m.compiledPaths.Set(float64(n))
}

// RecordFetch records a network source fetch.
func (m *Metrics) RecordFetch(protocol string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(protocol, resultLabel(err)).Inc()
	m.fetchDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// RecordWalkError records a file skipped during a local walk.
func (m *Metrics) RecordWalkError() {
	if m == nil {
		return
	}
	m.walkErrors.Inc()
}

// RecordRollback records one shutdown rollback action (restored, deleted, failed).
func (m *Metrics) RecordRollback(action string) {
	if m == nil {
		return
	}
	m.rollbackTotal.WithLabelValues(action).Inc()
}

// RecordMirrorOperation records an artifact mirror upload or removal.
func (m *Metrics) RecordMirrorOperation(operation string, bytes int64, err error) {
	if m == nil {
		return
	}
	m.mirrorOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	if err == nil && bytes > 0 {
		m.mirrorBytesTotal.Add(float64(bytes))
	}
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
