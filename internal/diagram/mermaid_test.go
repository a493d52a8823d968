package diagram

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(Build(branchGraph(t)))

	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% Route orders")

	assert.Contains(t, output, `n_start(("start<br/>(entrypoint)"))`)
	assert.Contains(t, output, `n_check{"check<br/>(if)"}`)
	assert.Contains(t, output, `n_load[("load<br/>(db_native)")]`)

	assert.Contains(t, output, "n_start --> n_check")
	assert.Contains(t, output, "n_check -->|success| n_load")
	assert.Contains(t, output, "n_check -->|failure| n_denied")

	assert.NotContains(t, output, "classDef", "no overlay, no classes")
	assert.NotContains(t, output, "linkStyle")
}

func TestRenderMermaid_Trace(t *testing.T) {
	model := Build(branchGraph(t))
	Overlay(model, []string{"start", "check", "load"}, true, "boom")

	output := RenderMermaid(model)
	assert.Contains(t, output, "class n_start visited")
	assert.Contains(t, output, "class n_check visited")
	assert.Contains(t, output, "class n_load failed")
	assert.NotContains(t, output, "class n_denied")

	var walked []string
	for i, e := range model.Edges {
		if (e.From == "start" && e.To == "check") || (e.From == "check" && e.To == "load") {
			walked = append(walked, strconv.Itoa(i))
		}
	}
	require.Len(t, walked, 2)
	assert.Contains(t, output, "linkStyle "+strings.Join(walked, ",")+" stroke")
}

func TestRenderMermaid_VisitCount(t *testing.T) {
	model := Build(loopGraph(t))
	Overlay(model, []string{"start", "each", "log", "log", "log", "done"}, false, "")

	output := RenderMermaid(model)
	assert.Contains(t, output, `log<br/>(consolelog)<br/>x3`)
	assert.NotContains(t, output, "class n_orphan")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "n_a_b_c_d", mermaidSafeID("a.b-c d"))
	assert.Equal(t, "n_end", mermaidSafeID("end"))
}
