package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rendis/routeflow/internal/diagram"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/store"
)

func runGraph(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	format := fs.String("format", "mermaid", "output format: mermaid, ascii, png, svg")
	out := fs.String("out", "", "output file (default: stdout)")
	execID := fs.String("execution", "", "highlight the trace of this execution")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	// Accept the route id before or after the flags.
	var routeID string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		routeID, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if routeID == "" {
		routeID = fs.Arg(0)
	}
	if routeID == "" {
		return fmt.Errorf("usage: routeflow graph <routeId> [--format mermaid|ascii|png|svg] [--out file] [--execution id]")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rg, err := st.LoadGraph(ctx, routeID)
	if err != nil {
		return err
	}
	builder, err := newBuilder()
	if err != nil {
		return err
	}
	g, err := builder.Build(rg)
	if err != nil {
		return err
	}
	report := graph.Verify(g)
	fmt.Fprint(os.Stderr, report.Summary())

	model := diagram.Build(g)
	if *execID != "" {
		rec, err := findExecution(ctx, st, routeID, *execID)
		if err != nil {
			return err
		}
		diagram.Overlay(model, rec.Trace, !rec.Successful, rec.Error)
	}

	var data []byte
	switch *format {
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "png", "svg":
		data, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(*format))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	if *out != "" {
		return os.WriteFile(*out, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func findExecution(ctx context.Context, st store.Store, routeID, id string) (*store.ExecutionRecord, error) {
	recs, err := st.ListExecutions(ctx, store.ExecutionFilter{RouteID: routeID})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("execution %q of route %q not found", id, routeID)
}
