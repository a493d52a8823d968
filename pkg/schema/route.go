package schema

import "time"

// Route is an HTTP endpoint whose behavior is a block graph.
// Path uses chi pattern syntax, e.g. /orders/{id}.
type Route struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IntegrationKind selects the driver behind an integration.
type IntegrationKind string

const (
	IntegrationSQLite   IntegrationKind = "sqlite"
	IntegrationLibSQL   IntegrationKind = "libsql"
	IntegrationPostgres IntegrationKind = "postgres"
)

// Integration is a named external database usable by db_* blocks.
// Exactly one of DSN and DSNSecret is set; DSNSecret names a vault key.
type Integration struct {
	ID        string          `json:"id"`
	Kind      IntegrationKind `json:"kind"`
	DSN       string          `json:"dsn,omitempty"`
	DSNSecret string          `json:"dsnSecret,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
