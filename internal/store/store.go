package store

import (
	"context"

	"github.com/rendis/routeflow/pkg/schema"
)

// Store persists routes, their graphs, integrations, vault ciphertext and
// execution history. Implementations must be safe for concurrent use.
type Store interface {
	// Routes
	CreateRoute(ctx context.Context, route *schema.Route) error
	GetRoute(ctx context.Context, id string) (*schema.Route, error)
	ListRoutes(ctx context.Context) ([]*schema.Route, error)
	DeleteRoute(ctx context.Context, id string) error

	// Graphs
	ReplaceGraph(ctx context.Context, g *schema.RouteGraph) error
	LoadGraph(ctx context.Context, routeID string) (*schema.RouteGraph, error)

	// Integrations
	UpsertIntegration(ctx context.Context, in *schema.Integration) error
	GetIntegration(ctx context.Context, id string) (*schema.Integration, error)
	ListIntegrations(ctx context.Context) ([]*schema.Integration, error)
	DeleteIntegration(ctx context.Context, id string) error

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Execution history (append-only)
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
