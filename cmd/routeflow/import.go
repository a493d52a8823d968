package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rendis/routeflow/internal/cache"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/store"
	"github.com/rendis/routeflow/pkg/schema"
)

// bundle is the file format read by `routeflow import`.
type bundle struct {
	Route        schema.Route          `json:"route"`
	Blocks       []schema.Block        `json:"blocks"`
	Edges        []schema.Edge         `json:"edges"`
	Integrations []*schema.Integration `json:"integrations,omitempty"`
}

func runImport(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: routeflow import <bundle.json>...")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	builder, err := newBuilder()
	if err != nil {
		return err
	}
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		report, err := importBundle(ctx, st, builder, &b)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, w := range report.Warnings {
			fmt.Fprintln(os.Stderr, w)
		}
		fmt.Printf("imported %s %s %s (%d blocks)\n", b.Route.ID, b.Route.Method, b.Route.Path, len(b.Blocks))
	}

	// Running servers pick the change up when invalidation is configured.
	rdb, err := newRedis(cfg)
	if err != nil || rdb == nil {
		return err
	}
	defer rdb.Close()
	return cache.NewPublisher(rdb, cfg.InvalidationChannel).Routes(ctx)
}

// importBundle checks that the graph builds and verifies, then writes the
// integrations, the route and its graph. An existing route keeps its row
// and has its graph replaced.
func importBundle(ctx context.Context, st store.Store, builder *graph.Builder, b *bundle) (*schema.ValidationResult, error) {
	rg := &schema.RouteGraph{RouteID: b.Route.ID, Blocks: b.Blocks, Edges: b.Edges}
	g, err := builder.Build(rg)
	if err != nil {
		return nil, err
	}
	report := graph.Verify(g)
	if err := report.ToError(schema.ErrCodeBuild); err != nil {
		return report, err
	}

	for _, in := range b.Integrations {
		if err := st.UpsertIntegration(ctx, in); err != nil {
			return report, err
		}
	}

	if _, err := st.GetRoute(ctx, b.Route.ID); err != nil {
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			return report, err
		}
		if err := st.CreateRoute(ctx, &b.Route); err != nil {
			return report, err
		}
	}
	return report, st.ReplaceGraph(ctx, rg)
}
