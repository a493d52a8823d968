// gen-diagrams renders the example route bundles for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/diagram"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

type bundle struct {
	Route  schema.Route   `json:"route"`
	Blocks []schema.Block `json:"blocks"`
	Edges  []schema.Edge  `json:"edges"`
}

// sampleTraces overlays a plausible walk on selected routes.
var sampleTraces = map[string][]string{
	"create-order": {"start", "validate", "tx", "ddl", "insert", "location", "created"},
	"get-order":    {"start", "fetch", "found", "missing"},
}

func main() {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "validator: %v\n", err)
		os.Exit(1)
	}
	reg, err := blocks.NewRegistry(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
	builder := graph.NewBuilder(reg, v)

	paths, _ := filepath.Glob(filepath.Join("examples", "*", "*.json"))
	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		g, err := builder.Build(&schema.RouteGraph{RouteID: b.Route.ID, Blocks: b.Blocks, Edges: b.Edges})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: build error: %v\n", path, err)
			continue
		}

		model := diagram.Build(g)
		if trace, ok := sampleTraces[b.Route.ID]; ok {
			diagram.Overlay(model, trace, false, "")
		}
		base := filepath.Join(outDir, b.Route.ID)

		ascii := diagram.RenderASCII(model)
		os.WriteFile(base+"-ascii.txt", []byte(ascii), 0o644)
		fmt.Printf("=== %s %s (ASCII) ===\n%s\n", b.Route.Method, b.Route.Path, ascii)

		mermaid := diagram.RenderMermaid(model)
		os.WriteFile(base+"-mermaid.md", []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)

		png, imgErr := diagram.RenderImage(context.Background(), model, diagram.FormatPNG)
		if imgErr != nil {
			fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
			continue
		}
		os.WriteFile(base+".png", png, 0o644)
		fmt.Printf("Written: %s.png (%d bytes)\n", base, len(png))
	}
}
