// Package cache holds the shared build state of the process: which paths are
// final, which bundles are still waiting for their first build, and who owns
// a build in progress.
package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// Outcome is the result of probing a path.
type Outcome int

const (
	NotCached Outcome = iota
	NowBuilding
	AlreadyBuilt
)

func (o Outcome) String() string {
	switch o {
	case AlreadyBuilt:
		return "already_built"
	case NowBuilding:
		return "now_building"
	default:
		return "not_cached"
	}
}

// Claim is a consistent snapshot of one path's state.
type Claim struct {
	Outcome  Outcome
	Category bundle.Category    // set when AlreadyBuilt
	Bundle   *bundle.Definition // the active bundle for the path, nil once consumed
}

// Result is what a build produced.
type Result struct {
	Body     []byte
	Category bundle.Category
	// Final marks the artifact as built for the process lifetime.
	Final bool
	// Reused is set when the path was already final and nothing ran. Body
	// is nil when the artifact is no longer in the body cache.
	Reused bool
}

// Catalog is the shared cache service. It is safe for concurrent use.
type Catalog struct {
	model *bundle.Model

	mu       sync.Mutex
	active   map[string]*bundle.Definition
	compiled map[string]bundle.Category
	order    []string
	building map[string]int

	group   singleflight.Group
	bodies  *lru.Cache[string, []byte]
	metrics *observability.Metrics
}

// Option configures a Catalog.
type Option func(*Catalog) error

// WithBodyCache keeps up to size finalized artifact bodies in memory. Zero
// disables the body cache.
func WithBodyCache(size int) Option {
	return func(c *Catalog) error {
		if size <= 0 {
			c.bodies = nil
			return nil
		}
		bodies, err := lru.New[string, []byte](size)
		if err != nil {
			return fmt.Errorf("create body cache: %w", err)
		}
		c.bodies = bodies
		return nil
	}
}

// WithMetrics records lookups, builds in flight and the compiled set size.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Catalog) error {
		c.metrics = m
		return nil
	}
}

// New creates a catalog whose active bundles are every bundle of model.
func New(model *bundle.Model, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		model:    model,
		active:   make(map[string]*bundle.Definition, len(model.Bundles)),
		compiled: make(map[string]bundle.Category),
		building: make(map[string]int),
	}
	for id, def := range model.Bundles {
		c.active[id] = def
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Model returns the full configuration model, consumed bundles included.
// Dependency planning resolves against it.
func (c *Catalog) Model() *bundle.Model {
	return c.model
}

// TryClaim probes path. Final membership and the active bundle map are read
// under one lock, so a consumed bundle is always reported AlreadyBuilt.
// Ownership of a build is taken by Build, not by this probe.
func (c *Catalog) TryClaim(path string) Claim {
	c.mu.Lock()
	defer c.mu.Unlock()

	var claim Claim
	switch category, ok := c.compiled[path]; {
	case ok:
		claim = Claim{Outcome: AlreadyBuilt, Category: category}
	case c.building[path] > 0:
		claim = Claim{Outcome: NowBuilding, Bundle: c.active[path]}
	default:
		claim = Claim{Outcome: NotCached, Bundle: c.active[path]}
	}
	c.metrics.RecordCacheLookup(claim.Outcome.String())
	return claim
}

// Build runs fn for path unless path is already final. Concurrent calls for
// the same path share one run of fn. A successful Final result is added to
// the compiled set and its bundle removed from the active map in one step;
// failures leave the state untouched so the next request retries.
//
// fn runs with a context that is not cancelled when the caller that started
// it goes away, because other callers may be waiting on it. Each caller
// stops waiting when its own ctx is done.
func (c *Catalog) Build(ctx context.Context, path string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	ch := c.group.DoChan(path, func() (any, error) {
		c.mu.Lock()
		if category, ok := c.compiled[path]; ok {
			c.mu.Unlock()
			return Result{Category: category, Final: true, Reused: true, Body: c.body(path)}, nil
		}
		c.building[path]++
		c.mu.Unlock()

		c.metrics.BuildStarted()
		res, err := fn(context.WithoutCancel(ctx))
		c.metrics.BuildFinished()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.building[path]--; c.building[path] <= 0 {
			delete(c.building, path)
		}
		if err != nil {
			return Result{}, err
		}
		if res.Final {
			c.finalizeLocked(path, res)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Catalog) finalizeLocked(path string, res Result) {
	if _, ok := c.compiled[path]; !ok {
		c.compiled[path] = res.Category
		c.order = append(c.order, path)
	}
	delete(c.active, path)
	if c.bodies != nil {
		c.bodies.Add(path, res.Body)
	}
	c.metrics.SetCompiledPaths(len(c.order))
	log.Debug().Str("path", path).Msg("Path finalized")
}

func (c *Catalog) body(path string) []byte {
	if c.bodies == nil {
		return nil
	}
	body, _ := c.bodies.Get(path)
	return body
}

// IsCompiled reports whether path is final.
func (c *Catalog) IsCompiled(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.compiled[path]
	return ok
}

// Compiled returns the compiled set in the order paths became final.
func (c *Catalog) Compiled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Active reports whether path is still an unbuilt bundle.
func (c *Catalog) Active(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[path]
	return ok
}
