package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg, err := blocks.NewRegistry(v)
	require.NoError(t, err)
	return NewBuilder(reg, v)
}

func block(id string, typ schema.BlockType, data string) schema.Block {
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	return schema.Block{ID: id, Type: typ, Data: raw}
}

func edge(id, from, to, handle string) schema.Edge {
	return schema.Edge{ID: id, From: from, To: to, FromHandle: handle}
}

func branchGraph() *schema.RouteGraph {
	return &schema.RouteGraph{
		RouteID: "r1",
		Blocks: []schema.Block{
			block("start", schema.BlockEntrypoint, ""),
			block("check", schema.BlockIf, `{"expression": "input.ok"}`),
			block("yes", schema.BlockResponse, `{"httpCode": 200}`),
			block("no", schema.BlockResponse, `{"httpCode": 400}`),
			block("note", schema.BlockStickyNote, `{"text": "remember"}`),
		},
		Edges: []schema.Edge{
			edge("e1", "start", "check", ""),
			edge("e2", "check", "yes", "success"),
			edge("e3", "check", "no", "failure"),
			edge("e4", "note", "check", ""),
		},
	}
}

func TestBuild_Branch(t *testing.T) {
	g, err := newTestBuilder(t).Build(branchGraph())
	require.NoError(t, err)

	assert.Equal(t, "r1", g.RouteID)
	assert.Equal(t, "start", g.Entrypoint)
	assert.Equal(t, 4, g.Len())

	_, ok := g.Node("note")
	assert.False(t, ok, "sticky notes are not executable")

	next := g.Next("check", schema.HandleSuccess)
	require.Len(t, next, 1)
	assert.Equal(t, "yes", next[0].To)
	assert.Empty(t, g.Next("check", schema.HandleDefault))

	n, ok := g.Node("check")
	require.True(t, ok)
	assert.IsType(t, &blocks.If{}, n.Payload)
}

func TestBuild_EdgesRoundTrip(t *testing.T) {
	rg := branchGraph()
	g, err := newTestBuilder(t).Build(rg)
	require.NoError(t, err)

	want := []schema.Edge{
		{ID: "e1", From: "start", To: "check", FromHandle: "default"},
		{ID: "e2", From: "check", To: "yes", FromHandle: "success"},
		{ID: "e3", From: "check", To: "no", FromHandle: "failure"},
	}
	assert.ElementsMatch(t, want, g.Edges())

	rebuilt, err := newTestBuilder(t).Build(&schema.RouteGraph{RouteID: "r1", Blocks: rg.Blocks, Edges: g.Edges()})
	require.NoError(t, err)
	assert.Equal(t, g.Edges(), rebuilt.Edges())
}

func TestBuild_FanOutKeepsEdgeOrder(t *testing.T) {
	rg := &schema.RouteGraph{
		RouteID: "r",
		Blocks: []schema.Block{
			block("start", schema.BlockEntrypoint, ""),
			block("a", schema.BlockConsoleLog, `{"message": "a"}`),
			block("b", schema.BlockConsoleLog, `{"message": "b"}`),
			block("c", schema.BlockResponse, ``),
		},
		Edges: []schema.Edge{
			edge("e1", "start", "b", "source"),
			edge("e2", "start", "a", "default"),
			edge("e3", "a", "c", ""),
		},
	}
	g, err := newTestBuilder(t).Build(rg)
	require.NoError(t, err)

	next := g.Next("start", schema.HandleDefault)
	require.Len(t, next, 2)
	assert.Equal(t, "b", next[0].To)
	assert.Equal(t, "a", next[1].To)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.RouteGraph)
	}{
		{"nil-like empty graph", func(rg *schema.RouteGraph) { rg.Blocks = nil; rg.Edges = nil }},
		{"no entrypoint", func(rg *schema.RouteGraph) { rg.Blocks[0].Type = schema.BlockConsoleLog; rg.Blocks[0].Data = []byte(`{"message":"x"}`) }},
		{"two entrypoints", func(rg *schema.RouteGraph) { rg.Blocks[3] = block("no", schema.BlockEntrypoint, "") }},
		{"dangling edge", func(rg *schema.RouteGraph) { rg.Edges = append(rg.Edges, edge("e9", "check", "ghost", "success")) }},
		{"unknown type", func(rg *schema.RouteGraph) { rg.Blocks[2].Type = "teleport" }},
		{"invalid payload", func(rg *schema.RouteGraph) { rg.Blocks[2].Data = []byte(`{"httpCode": true}`) }},
		{"invalid handle", func(rg *schema.RouteGraph) { rg.Edges[0].FromHandle = "success" }},
		{"response has no ports", func(rg *schema.RouteGraph) { rg.Edges = append(rg.Edges, edge("e9", "yes", "no", "")) }},
		{"duplicate block", func(rg *schema.RouteGraph) { rg.Blocks = append(rg.Blocks, rg.Blocks[2]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := branchGraph()
			tt.mutate(rg)
			_, err := newTestBuilder(t).Build(rg)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeBuild, schema.CodeOf(err))
		})
	}

	_, err := newTestBuilder(t).Build(nil)
	assert.Equal(t, schema.ErrCodeBuild, schema.CodeOf(err))
}

func TestBuild_WithoutValidator(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg, err := blocks.NewRegistry(v)
	require.NoError(t, err)

	g, err := NewBuilder(reg, nil).Build(branchGraph())
	require.NoError(t, err)
	assert.Equal(t, "start", g.Entrypoint)
}
