package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rendis/routeflow/internal/store"
)

func runExecutions(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("executions", flag.ExitOnError)
	routeID := fs.String("route", "", "only executions of this route")
	failed := fs.Bool("failed", false, "only failed executions")
	since := fs.Duration("since", 0, "only executions newer than this, e.g. 1h")
	limit := fs.Int("limit", 50, "maximum rows")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	filter := store.ExecutionFilter{RouteID: *routeID, FailedOnly: *failed, Limit: *limit}
	if *since > 0 {
		t := time.Now().Add(-*since)
		filter.Since = &t
	}
	recs, err := st.ListExecutions(ctx, filter)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	return printExecutions(os.Stdout, recs)
}

func printExecutions(w io.Writer, recs []*store.ExecutionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROUTE\tSTATUS\tOK\tDURATION\tWHEN\tERROR")
	for _, r := range recs {
		errText := r.Error
		if r.ErrorCode != "" {
			errText = r.ErrorCode + ": " + errText
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%dms\t%s\t%s\n",
			r.ID, r.RouteID, r.Status, r.Successful, r.DurationMs,
			r.CreatedAt.Local().Format(time.DateTime), strings.TrimSpace(errText))
	}
	return tw.Flush()
}
