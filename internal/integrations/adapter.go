package integrations

import (
	"context"
)

// Query narrows a read.
type Query struct {
	Filter  map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// Executor is the set of operations db_* blocks run against one integration,
// either on the pool or inside a transaction.
type Executor interface {
	GetSingle(ctx context.Context, table string, filter map[string]any) (map[string]any, error)
	GetAll(ctx context.Context, table string, q Query) ([]map[string]any, error)
	Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error)
	InsertBulk(ctx context.Context, table string, rows []map[string]any) (map[string]any, error)
	Update(ctx context.Context, table string, filter, values map[string]any) (map[string]any, error)
	Delete(ctx context.Context, table string, filter map[string]any) (map[string]any, error)
	Native(ctx context.Context, query string, params []any) (any, error)
}

// Adapter is a live integration.
type Adapter interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an open transaction on one integration.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}
