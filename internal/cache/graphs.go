package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/pkg/schema"
)

// DefaultLoadTimeout bounds one graph load, independent of the request
// that triggered it.
const DefaultLoadTimeout = 10 * time.Second

// GraphSource loads persisted route graphs. Satisfied by store.Store.
type GraphSource interface {
	LoadGraph(ctx context.Context, routeID string) (*schema.RouteGraph, error)
}

// snapshot is an immutable generation of the cache. Writers copy it.
type snapshot struct {
	version uint64
	graphs  map[string]*graph.Graph
}

// GraphCache hands out built graphs by route id. Reads are lock-free
// against an atomically swapped snapshot; misses are loaded once per route
// no matter how many requests wait on them. A graph that fails to build or
// verify is never cached.
type GraphCache struct {
	source  GraphSource
	builder *graph.Builder
	logger  *slog.Logger

	// LoadTimeout bounds each load. Zero means DefaultLoadTimeout.
	LoadTimeout time.Duration

	snap  atomic.Pointer[snapshot]
	mu    sync.Mutex // serializes snapshot writers
	group singleflight.Group
}

// NewGraphCache creates an empty cache.
func NewGraphCache(source GraphSource, builder *graph.Builder, logger *slog.Logger) *GraphCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &GraphCache{source: source, builder: builder, logger: logger}
	c.snap.Store(&snapshot{graphs: map[string]*graph.Graph{}})
	return c
}

// Get returns the built graph of a route, loading it on a miss. In-flight
// walks keep the instance they started with even if the route is replaced.
//
// Loads are shared per route and cache generation, so a caller arriving
// after an invalidation never joins a load that began before it. A shared
// load outlives the caller that started it; each caller stops waiting when
// its own ctx is done.
func (c *GraphCache) Get(ctx context.Context, routeID string) (*graph.Graph, error) {
	cur := c.snap.Load()
	if g, ok := cur.graphs[routeID]; ok {
		return g, nil
	}

	key := routeID + "@" + strconv.FormatUint(cur.version, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout())
		defer cancel()
		g, err := c.load(lctx, routeID)
		if err != nil {
			return nil, err
		}
		c.put(routeID, g, cur.version)
		return g, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*graph.Graph), nil
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "route %s: gave up waiting for graph load", routeID).WithCause(ctx.Err())
	}
}

func (c *GraphCache) loadTimeout() time.Duration {
	if c.LoadTimeout > 0 {
		return c.LoadTimeout
	}
	return DefaultLoadTimeout
}

func (c *GraphCache) load(ctx context.Context, routeID string) (*graph.Graph, error) {
	rg, err := c.source.LoadGraph(ctx, routeID)
	if err != nil {
		return nil, err
	}
	g, err := c.builder.Build(rg)
	if err != nil {
		c.logger.WarnContext(ctx, "route graph does not build", "route_id", routeID, "error", err)
		return nil, err
	}

	report := graph.Verify(g)
	for _, w := range report.Warnings {
		c.logger.DebugContext(ctx, "route graph warning", "route_id", routeID, "path", w.Path, "code", w.Code, "message", w.Message)
	}
	if err := report.ToError(schema.ErrCodeBuild); err != nil {
		c.logger.WarnContext(ctx, "route graph does not verify", "route_id", routeID, "error", err)
		return nil, err
	}
	return g, nil
}

// put stores g unless the cache was invalidated since the load began.
func (c *GraphCache) put(routeID string, g *graph.Graph, loadedAt uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur.version != loadedAt {
		return
	}
	next := &snapshot{version: cur.version, graphs: make(map[string]*graph.Graph, len(cur.graphs)+1)}
	for k, v := range cur.graphs {
		next.graphs[k] = v
	}
	next.graphs[routeID] = g
	c.snap.Store(next)
}

// Invalidate drops one route. The next Get rebuilds it.
func (c *GraphCache) Invalidate(routeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	next := &snapshot{version: cur.version + 1, graphs: make(map[string]*graph.Graph, len(cur.graphs))}
	for k, v := range cur.graphs {
		if k != routeID {
			next.graphs[k] = v
		}
	}
	c.snap.Store(next)
}

// InvalidateAll drops every route.
func (c *GraphCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	c.snap.Store(&snapshot{version: cur.version + 1, graphs: map[string]*graph.Graph{}})
}

// Version returns the cache generation. It grows on every invalidation.
func (c *GraphCache) Version() uint64 { return c.snap.Load().version }

// Len returns the number of cached graphs.
func (c *GraphCache) Len() int { return len(c.snap.Load().graphs) }

// Warm loads the given routes with at most concurrency loads in flight.
// Routes that fail to build are logged and skipped; the number of routes
// loaded is returned. Warm stops early only when ctx is done.
func (c *GraphCache) Warm(ctx context.Context, routeIDs []string, concurrency int) (int, error) {
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))

	var loaded atomic.Int64
	for _, id := range routeIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := c.Get(ctx, id); err != nil {
				c.logger.WarnContext(ctx, "warm route failed", "route_id", id, "error", err)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(loaded.Load()), ctx.Err()
}
