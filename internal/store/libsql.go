package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/routeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/routeflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, hence QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Routes ---

func (s *LibSQLStore) CreateRoute(ctx context.Context, route *schema.Route) error {
	if route.ID == "" || route.Method == "" || route.Path == "" {
		return schema.NewError(schema.ErrCodeValidation, "route id, method and path are required")
	}
	route.Method = strings.ToUpper(route.Method)
	route.CreatedAt = timeOrNow(route.CreatedAt)
	route.UpdatedAt = timeOrNow(route.UpdatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (id, method, path, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		route.ID, route.Method, route.Path, nullStr(route.Name), route.CreatedAt, route.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "route %s %s or id %q already exists", route.Method, route.Path, route.ID)
	}
	return err
}

func (s *LibSQLStore) GetRoute(ctx context.Context, id string) (*schema.Route, error) {
	r := &schema.Route{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, method, path, name, created_at, updated_at FROM routes WHERE id = ?`, id,
	).Scan(&r.ID, &r.Method, &r.Path, &name, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("route", id)
	}
	if err != nil {
		return nil, err
	}
	r.Name = name.String
	return r, nil
}

func (s *LibSQLStore) ListRoutes(ctx context.Context) ([]*schema.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, path, name, created_at, updated_at FROM routes ORDER BY path, method`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*schema.Route
	for rows.Next() {
		r := &schema.Route{}
		var name sql.NullString
		if err := rows.Scan(&r.ID, &r.Method, &r.Path, &name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Name = name.String
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *LibSQLStore) DeleteRoute(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "route", id)
}

// --- Graphs ---

// ReplaceGraph swaps the full block and edge set of a route in one transaction.
// Slice order is persisted and reproduced by LoadGraph.
func (s *LibSQLStore) ReplaceGraph(ctx context.Context, g *schema.RouteGraph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM routes WHERE id = ?`, g.RouteID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return storeNotFound("route", g.RouteID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE route_id = ?`, g.RouteID); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE route_id = ?`, g.RouteID); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}

	for i, b := range g.Blocks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blocks (route_id, id, type, data, pos_x, pos_y, ordinal) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.RouteID, b.ID, string(b.Type), nullRaw(b.Data), b.Position.X, b.Position.Y, i,
		); err != nil {
			if isUniqueViolation(err) {
				return schema.NewErrorf(schema.ErrCodeConflict, "duplicate block id %q", b.ID)
			}
			return fmt.Errorf("insert block %s: %w", b.ID, err)
		}
	}
	for i, e := range g.Edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (route_id, id, from_block, to_block, from_handle, to_handle, ordinal) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.RouteID, e.ID, e.From, e.To, nullStr(e.FromHandle), nullStr(e.ToHandle), i,
		); err != nil {
			if isUniqueViolation(err) {
				return schema.NewErrorf(schema.ErrCodeConflict, "duplicate edge id %q", e.ID)
			}
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE routes SET updated_at = ? WHERE id = ?`, time.Now().UTC(), g.RouteID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadGraph returns the stored graph of a route. A route without blocks
// yields an empty graph, not an error.
func (s *LibSQLStore) LoadGraph(ctx context.Context, routeID string) (*schema.RouteGraph, error) {
	if _, err := s.GetRoute(ctx, routeID); err != nil {
		return nil, err
	}

	g := &schema.RouteGraph{RouteID: routeID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, pos_x, pos_y FROM blocks WHERE route_id = ? ORDER BY ordinal`, routeID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var b schema.Block
		var typ string
		var data sql.NullString
		if err := rows.Scan(&b.ID, &typ, &data, &b.Position.X, &b.Position.Y); err != nil {
			rows.Close()
			return nil, err
		}
		b.Type = schema.BlockType(typ)
		b.Data = rawOrNil(data)
		g.Blocks = append(g.Blocks, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, from_block, to_block, from_handle, to_handle FROM edges WHERE route_id = ? ORDER BY ordinal`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e schema.Edge
		var fromHandle, toHandle sql.NullString
		if err := rows.Scan(&e.ID, &e.From, &e.To, &fromHandle, &toHandle); err != nil {
			return nil, err
		}
		e.FromHandle = fromHandle.String
		e.ToHandle = toHandle.String
		g.Edges = append(g.Edges, e)
	}
	return g, rows.Err()
}

// --- Integrations ---

func (s *LibSQLStore) UpsertIntegration(ctx context.Context, in *schema.Integration) error {
	if in.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "integration id is required")
	}
	switch in.Kind {
	case schema.IntegrationSQLite, schema.IntegrationLibSQL, schema.IntegrationPostgres:
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "integration %q: unsupported kind %q", in.ID, in.Kind)
	}
	if (in.DSN == "") == (in.DSNSecret == "") {
		return schema.NewErrorf(schema.ErrCodeValidation, "integration %q: exactly one of dsn and dsnSecret is required", in.ID)
	}
	in.CreatedAt = timeOrNow(in.CreatedAt)
	in.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, kind, dsn, dsn_secret, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, dsn=excluded.dsn, dsn_secret=excluded.dsn_secret, updated_at=excluded.updated_at`,
		in.ID, string(in.Kind), nullStr(in.DSN), nullStr(in.DSNSecret), in.CreatedAt, in.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetIntegration(ctx context.Context, id string) (*schema.Integration, error) {
	in := &schema.Integration{}
	var kind string
	var dsn, secret sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, dsn, dsn_secret, created_at, updated_at FROM integrations WHERE id = ?`, id,
	).Scan(&in.ID, &kind, &dsn, &secret, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("integration", id)
	}
	if err != nil {
		return nil, err
	}
	in.Kind = schema.IntegrationKind(kind)
	in.DSN = dsn.String
	in.DSNSecret = secret.String
	return in, nil
}

func (s *LibSQLStore) ListIntegrations(ctx context.Context) ([]*schema.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, dsn, dsn_secret, created_at, updated_at FROM integrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Integration
	for rows.Next() {
		in := &schema.Integration{}
		var kind string
		var dsn, secret sql.NullString
		if err := rows.Scan(&in.ID, &kind, &dsn, &secret, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		in.Kind = schema.IntegrationKind(kind)
		in.DSN = dsn.String
		in.DSNSecret = secret.String
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteIntegration(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "integration", id)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Executions ---

func (s *LibSQLStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	trace, err := json.Marshal(rec.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, route_id, successful, status, error_code, error, trace, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RouteID, rec.Successful, rec.Status, nullStr(rec.ErrorCode), nullStr(rec.Error),
		string(trace), rec.DurationMs, rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already recorded", rec.ID)
	}
	return err
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.RouteID != "" {
		where = append(where, "route_id = ?")
		args = append(args, filter.RouteID)
	}
	if filter.FailedOnly {
		where = append(where, "successful = 0")
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, route_id, successful, status, error_code, error, trace, duration_ms, created_at FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var code, msg, trace sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RouteID, &rec.Successful, &rec.Status, &code, &msg, &trace, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ErrorCode = code.String
		rec.Error = msg.String
		if trace.Valid && trace.String != "" && trace.String != "null" {
			if err := json.Unmarshal([]byte(trace.String), &rec.Trace); err != nil {
				return nil, fmt.Errorf("unmarshal trace: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
