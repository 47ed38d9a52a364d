package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

func testModel() *bundle.Model {
	m := bundle.NewModel(bundle.ProfileSimple)
	m.Add(bundle.NewDefinition(bundle.Section{Category: bundle.Script, OutputDir: "js", Profile: bundle.ProfileSimple}, "app.js", bundle.Overrides{}))
	m.Add(bundle.NewDefinition(bundle.Section{Category: bundle.Style, OutputDir: "css"}, "site.css", bundle.Overrides{}))
	return m
}

func newCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	c, err := New(testModel(), opts...)
	require.NoError(t, err)
	return c
}

func TestCatalog_TryClaim(t *testing.T) {
	c := newCatalog(t, WithBodyCache(8))

	claim := c.TryClaim("js/app.js")
	assert.Equal(t, NotCached, claim.Outcome)
	require.NotNil(t, claim.Bundle)
	assert.Equal(t, "js/app.js", claim.Bundle.OutputPath)

	claim = c.TryClaim("styles/plain.css")
	assert.Equal(t, NotCached, claim.Outcome)
	assert.Nil(t, claim.Bundle)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Build(context.Background(), "js/app.js", func(context.Context) (Result, error) {
			close(started)
			<-release
			return Result{Body: []byte("x"), Category: bundle.Script, Final: true}, nil
		})
	}()

	<-started
	assert.Equal(t, NowBuilding, c.TryClaim("js/app.js").Outcome)
	close(release)
	<-done

	claim = c.TryClaim("js/app.js")
	assert.Equal(t, AlreadyBuilt, claim.Outcome)
	assert.Equal(t, bundle.Script, claim.Category)
	assert.Nil(t, claim.Bundle, "bundle is consumed once final")
	assert.False(t, c.Active("js/app.js"))
	assert.True(t, c.IsCompiled("js/app.js"))

	_, stillDefined := c.Model().Lookup("js/app.js")
	assert.True(t, stillDefined, "the full model keeps consumed bundles for dependency planning")
}

func TestCatalog_SingleBuildUnderConcurrency(t *testing.T) {
	c := newCatalog(t, WithBodyCache(8))

	var calls atomic.Int32
	gate := make(chan struct{})
	fn := func(context.Context) (Result, error) {
		calls.Add(1)
		<-gate
		return Result{Body: []byte("built"), Category: bundle.Script, Final: true}, nil
	}

	const n = 32
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Build(context.Background(), "js/app.js", fn)
			bodies[i], errs[i] = res.Body, err
		}(i)
	}

	// Let the goroutines pile up on the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	// Stragglers that arrive after the flight ended see the final path.
	res, err := c.Build(context.Background(), "js/app.js", fn)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, "built", string(res.Body))

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "built", string(bodies[i]))
	}
}

func TestCatalog_NonFinalRebuilds(t *testing.T) {
	c := newCatalog(t)

	var calls int
	fn := func(context.Context) (Result, error) {
		calls++
		return Result{Body: []byte("debug"), Category: bundle.Style, Final: false}, nil
	}

	for i := 0; i < 3; i++ {
		res, err := c.Build(context.Background(), "css/site.css", fn)
		require.NoError(t, err)
		assert.False(t, res.Reused)
	}
	assert.Equal(t, 3, calls)
	assert.Empty(t, c.Compiled())
	assert.True(t, c.Active("css/site.css"))
}

func TestCatalog_FailureIsRetried(t *testing.T) {
	c := newCatalog(t)

	boom := errors.New("transform failed")
	_, err := c.Build(context.Background(), "js/app.js", func(context.Context) (Result, error) {
		return Result{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.IsCompiled("js/app.js"))
	assert.True(t, c.Active("js/app.js"))
	assert.Equal(t, NotCached, c.TryClaim("js/app.js").Outcome)

	res, err := c.Build(context.Background(), "js/app.js", func(context.Context) (Result, error) {
		return Result{Body: []byte("ok"), Category: bundle.Script, Final: true}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.True(t, c.IsCompiled("js/app.js"))
}

func TestCatalog_WaiterCancellationDoesNotAbortBuild(t *testing.T) {
	c := newCatalog(t, WithBodyCache(8))

	release := make(chan struct{})
	var buildCtxErr error
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := c.Build(ctx, "js/app.js", func(buildCtx context.Context) (Result, error) {
			<-release
			buildCtxErr = buildCtx.Err()
			return Result{Body: []byte("done"), Category: bundle.Script, Final: true}, nil
		})
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return c.IsCompiled("js/app.js") }, time.Second, 5*time.Millisecond)
	assert.NoError(t, buildCtxErr)
}

func TestCatalog_CompiledOrderAndBodyCache(t *testing.T) {
	c := newCatalog(t)

	for _, p := range []string{"b.css", "a.js", "b.css"} {
		_, err := c.Build(context.Background(), p, func(context.Context) (Result, error) {
			return Result{Body: []byte(p), Category: bundle.Style, Final: true}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b.css", "a.js"}, c.Compiled())

	// No body cache configured: reused results carry no body.
	res, err := c.Build(context.Background(), "a.js", nil)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Nil(t, res.Body)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "already_built", AlreadyBuilt.String())
	assert.Equal(t, "now_building", NowBuilding.String())
	assert.Equal(t, "not_cached", NotCached.String())
}
