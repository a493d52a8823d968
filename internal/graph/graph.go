package graph

import (
	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

// Node is one executable block of a built graph.
type Node struct {
	ID       string
	Type     schema.BlockType
	Payload  blocks.Payload
	Position schema.Position
}

// Link is one outgoing edge of a port.
type Link struct {
	EdgeID   string
	To       string
	ToHandle string
}

type port struct {
	block  string
	handle schema.Handle
}

// Graph is the compiled, immutable form of a route graph. It is shared
// read-only by every concurrent execution of the route.
type Graph struct {
	RouteID    string
	Entrypoint string

	nodes map[string]*Node
	order []string
	adj   map[port][]Link
	ports []port
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the executable nodes in persisted order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Len returns the number of executable nodes.
func (g *Graph) Len() int { return len(g.order) }

// Next returns the links leaving a block on a handle, in edge order.
// The slice must not be modified.
func (g *Graph) Next(id string, h schema.Handle) []Link {
	return g.adj[port{block: id, handle: h}]
}

// Handles returns the handles of a block that have outgoing edges.
func (g *Graph) Handles(id string) []schema.Handle {
	var hs []schema.Handle
	for _, p := range g.ports {
		if p.block == id {
			hs = append(hs, p.handle)
		}
	}
	return hs
}

// Edges reconstructs the edge set from the adjacency, grouped by port in
// the order ports first appeared. Handles are normalized.
func (g *Graph) Edges() []schema.Edge {
	var out []schema.Edge
	for _, p := range g.ports {
		for _, l := range g.adj[p] {
			out = append(out, schema.Edge{
				ID:         l.EdgeID,
				From:       p.block,
				To:         l.To,
				FromHandle: string(p.handle),
				ToHandle:   l.ToHandle,
			})
		}
	}
	return out
}

// Builder compiles persisted route graphs.
type Builder struct {
	registry  *blocks.Registry
	validator validation.Validator
}

// NewBuilder creates a Builder. The validator may be nil, in which case the
// document shape is not checked before compiling.
func NewBuilder(reg *blocks.Registry, v validation.Validator) *Builder {
	return &Builder{registry: reg, validator: v}
}

// Build compiles rg. Sticky notes and the edges touching them are dropped.
// Every failure is a BuildError.
func (b *Builder) Build(rg *schema.RouteGraph) (*Graph, error) {
	if rg == nil {
		return nil, schema.NewError(schema.ErrCodeBuild, "route graph is nil")
	}
	if b.validator != nil {
		if err := b.validator.ValidateGraph(rg); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "route %s: %s", rg.RouteID, schema.PublicMessage(err)).WithCause(err)
		}
	}

	g := &Graph{
		RouteID: rg.RouteID,
		nodes:   make(map[string]*Node, len(rg.Blocks)),
		adj:     make(map[port][]Link),
	}

	inert := make(map[string]struct{})
	specs := make(map[string]blocks.Spec, len(rg.Blocks))
	var entrypoints []string

	for _, blk := range rg.Blocks {
		if blk.ID == "" {
			return nil, schema.NewError(schema.ErrCodeBuild, "block with empty id")
		}
		if _, dup := specs[blk.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "duplicate block id %q", blk.ID).WithBlock(blk.ID)
		}
		spec, ok := b.registry.Get(blk.Type)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "unknown block type %q", blk.Type).WithBlock(blk.ID)
		}
		specs[blk.ID] = spec
		if spec.Inert {
			inert[blk.ID] = struct{}{}
			continue
		}

		p, err := b.registry.Decode(blk)
		if err != nil {
			return nil, err
		}
		g.nodes[blk.ID] = &Node{ID: blk.ID, Type: blk.Type, Payload: p, Position: blk.Position}
		g.order = append(g.order, blk.ID)
		if blk.Type == schema.BlockEntrypoint {
			entrypoints = append(entrypoints, blk.ID)
		}
	}

	switch len(entrypoints) {
	case 1:
		g.Entrypoint = entrypoints[0]
	case 0:
		return nil, schema.NewErrorf(schema.ErrCodeBuild, "route %s has no entrypoint", rg.RouteID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeBuild, "route %s has %d entrypoints", rg.RouteID, len(entrypoints)).
			WithDetails(map[string]any{"entrypoints": entrypoints})
	}

	for _, e := range rg.Edges {
		fromSpec, fromOK := specs[e.From]
		_, toOK := specs[e.To]
		if !fromOK || !toOK {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "edge %s connects %q to %q: endpoint does not exist", e.ID, e.From, e.To).
				WithDetails(map[string]any{"edge_id": e.ID})
		}
		_, fromInert := inert[e.From]
		_, toInert := inert[e.To]
		if fromInert || toInert {
			continue
		}

		h := schema.NormalizeHandle(e.FromHandle)
		if !fromSpec.AllowsHandle(h) {
			return nil, schema.NewErrorf(schema.ErrCodeBuild, "edge %s leaves %s on handle %q, which it does not have", e.ID, fromSpec.Type, h).
				WithBlock(e.From).WithDetails(map[string]any{"edge_id": e.ID})
		}

		p := port{block: e.From, handle: h}
		if _, seen := g.adj[p]; !seen {
			g.ports = append(g.ports, p)
		}
		g.adj[p] = append(g.adj[p], Link{EdgeID: e.ID, To: e.To, ToHandle: e.ToHandle})
	}

	return g, nil
}
