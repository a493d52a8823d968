package graph

import (
	"fmt"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/pkg/schema"
)

// Report issue codes.
const (
	IssueNoResponse  = "NO_RESPONSE"
	IssueUnreachable = "UNREACHABLE"
	IssueDeadEnd     = "DEAD_END"
	IssueNoExecutor  = "NO_EXECUTOR"
	IssueCycle       = "CYCLE"
)

// Verify analyses a built graph. A graph from which no response block is
// reachable is an error; blocks that are never reached, walks that end
// without a response, empty loop bodies and cycles outside loop bodies are
// warnings.
func Verify(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	reachable := g.reach(g.Entrypoint, true)
	found := false
	for id := range reachable {
		if _, ok := g.nodes[id].Payload.(blocks.Terminal); ok {
			found = true
			break
		}
	}
	if !found {
		result.AddError("blocks", IssueNoResponse, "no response block is reachable from the entrypoint")
	}

	for _, id := range g.order {
		if !reachable[id] {
			result.AddWarning(blockPath(id), IssueUnreachable, fmt.Sprintf("block %q is unreachable from the entrypoint", id))
		}
	}

	// Loop and transaction bodies are expected to dead-end; only the main
	// line is checked for walks that finish without a response.
	main := g.reach(g.Entrypoint, false)
	for _, id := range g.order {
		if !main[id] {
			continue
		}
		n := g.nodes[id]
		switch n.Payload.(type) {
		case blocks.Terminal:
		case blocks.Loop, blocks.Scoped:
			if len(g.Next(id, schema.HandleExecutor)) == 0 {
				result.AddWarning(blockPath(id), IssueNoExecutor, fmt.Sprintf("%s %q has no executor branch", n.Type, id))
			}
			if len(g.Next(id, schema.HandleDefault)) == 0 {
				result.AddWarning(blockPath(id), IssueDeadEnd, fmt.Sprintf("walk ends at %s %q without a response", n.Type, id))
			}
		default:
			for _, h := range handlesOf(n) {
				if len(g.Next(id, h)) == 0 {
					result.AddWarning(blockPath(id), IssueDeadEnd,
						fmt.Sprintf("walk ends at %s %q (%s) without a response", n.Type, id, h))
				}
			}
		}
	}

	if cyclic := g.mainLineCycle(main); len(cyclic) > 0 {
		result.AddWarning("edges", IssueCycle,
			fmt.Sprintf("blocks %v are on or behind a cycle outside a loop body; it is bounded only by the step budget", cyclic))
	}

	return result
}

func handlesOf(n *Node) []schema.Handle {
	if n.Type == schema.BlockIf {
		return []schema.Handle{schema.HandleSuccess, schema.HandleFailure}
	}
	return []schema.Handle{schema.HandleDefault}
}

// reach returns the blocks reachable from start. Executor handles are
// followed only when withBodies is set.
func (g *Graph) reach(start string, withBodies bool) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, h := range g.Handles(id) {
			if h == schema.HandleExecutor && !withBodies {
				continue
			}
			for _, l := range g.Next(id, h) {
				if !seen[l.To] {
					seen[l.To] = true
					queue = append(queue, l.To)
				}
			}
		}
	}
	return seen
}

// mainLineCycle runs Kahn's algorithm over the main-line edges of the given
// blocks and returns those on or behind a cycle, in persisted order.
func (g *Graph) mainLineCycle(ids map[string]bool) []string {
	inDegree := make(map[string]int, len(ids))
	for id := range ids {
		for _, h := range g.Handles(id) {
			if h == schema.HandleExecutor {
				continue
			}
			for _, l := range g.Next(id, h) {
				if ids[l.To] {
					inDegree[l.To]++
				}
			}
		}
	}

	var queue []string
	for _, id := range g.order {
		if ids[id] && inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, h := range g.Handles(id) {
			if h == schema.HandleExecutor {
				continue
			}
			for _, l := range g.Next(id, h) {
				if !ids[l.To] {
					continue
				}
				inDegree[l.To]--
				if inDegree[l.To] == 0 {
					queue = append(queue, l.To)
				}
			}
		}
	}

	var cyclic []string
	for _, id := range g.order {
		if ids[id] && inDegree[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return cyclic
}

func blockPath(id string) string {
	return fmt.Sprintf("blocks[%s]", id)
}
