package diagram

import (
	"fmt"

	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/pkg/schema"
)

// Build constructs a DiagramModel from a built graph. Nodes keep persisted
// order; levels are breadth-first distances from the entrypoint, with
// unreachable blocks in a trailing level.
func Build(g *graph.Graph) *DiagramModel {
	model := &DiagramModel{Title: titleFor(g)}
	for _, n := range g.Nodes() {
		model.Nodes = append(model.Nodes, &Node{
			ID:    n.ID,
			Label: fmt.Sprintf("%s\n(%s)", n.ID, n.Type),
			Kind:  kindOf(n.Type),
		})
		for _, h := range g.Handles(n.ID) {
			for _, l := range g.Next(n.ID, h) {
				e := Edge{From: n.ID, To: l.To}
				if h != schema.HandleDefault {
					e.Label = string(h)
				}
				model.Edges = append(model.Edges, e)
			}
		}
	}
	model.Levels = buildLevels(g)
	return model
}

// Overlay marks the blocks of an execution trace. When the execution
// failed, the last traced block is marked failed with errMsg.
func Overlay(model *DiagramModel, trace []string, failed bool, errMsg string) {
	visits := make(map[string]int, len(trace))
	for _, id := range trace {
		visits[id]++
	}
	for _, n := range model.Nodes {
		if c := visits[n.ID]; c > 0 {
			n.Status = &StatusOverlay{Status: StatusVisited, Visits: c}
		}
	}
	if !failed || len(trace) == 0 {
		return
	}
	if n := findNode(model.Nodes, trace[len(trace)-1]); n != nil {
		n.Status.Status = StatusFailed
		n.Status.Error = errMsg
	}
}

func kindOf(t schema.BlockType) NodeKind {
	switch t {
	case schema.BlockEntrypoint:
		return NodeKindStart
	case schema.BlockResponse:
		return NodeKindEnd
	case schema.BlockIf:
		return NodeKindCondition
	case schema.BlockForLoop, schema.BlockForEachLoop:
		return NodeKindLoop
	case schema.BlockDBTransaction:
		return NodeKindScope
	case schema.BlockDBGetSingle, schema.BlockDBGetAll, schema.BlockDBInsert,
		schema.BlockDBInsertBulk, schema.BlockDBUpdate, schema.BlockDBDelete, schema.BlockDBNative:
		return NodeKindData
	case schema.BlockHTTPRequest, schema.BlockHTTPGetHeader, schema.BlockHTTPSetHeader,
		schema.BlockHTTPGetCookie, schema.BlockHTTPSetCookie, schema.BlockHTTPGetParam,
		schema.BlockHTTPGetRequestBody:
		return NodeKindHTTP
	case schema.BlockJSRunner, schema.BlockTransformer:
		return NodeKindScript
	default:
		return NodeKindAction
	}
}

func buildLevels(g *graph.Graph) [][]string {
	if g.Entrypoint == "" {
		return nil
	}
	depth := map[string]int{g.Entrypoint: 0}
	queue := []string{g.Entrypoint}
	var levels [][]string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		d := depth[id]
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
		for _, h := range g.Handles(id) {
			for _, l := range g.Next(id, h) {
				if _, seen := depth[l.To]; !seen {
					depth[l.To] = d + 1
					queue = append(queue, l.To)
				}
			}
		}
	}

	var orphans []string
	for _, n := range g.Nodes() {
		if _, ok := depth[n.ID]; !ok {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

func titleFor(g *graph.Graph) string {
	if g.RouteID != "" {
		return "Route " + g.RouteID
	}
	return "Route"
}
