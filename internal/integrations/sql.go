package integrations

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/routeflow/pkg/schema"
)

// Driver names registered by the blank imports above.
const (
	driverLibSQL = "libsql"
	driverPgx    = "pgx"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// dialect differs between SQLite-family and Postgres databases.
type dialect struct {
	name         string
	numbered     bool // $1, $2 placeholders instead of ?
	lastInsertID bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", lastInsertID: true}
	postgresDialect = dialect{name: "postgres", numbered: true}
)

func (d dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLAdapter runs db_* operations over database/sql.
type SQLAdapter struct {
	id      string
	db      *sql.DB
	dialect dialect
	exec    sqlExecutor
}

// OpenSQL opens a pool for an integration descriptor with a plain-text DSN.
func OpenSQL(id string, kind schema.IntegrationKind, dsn string) (*SQLAdapter, error) {
	var (
		driver string
		d      dialect
	)
	switch kind {
	case schema.IntegrationSQLite, schema.IntegrationLibSQL:
		driver, d = driverLibSQL, sqliteDialect
	case schema.IntegrationPostgres:
		driver, d = driverPgx, postgresDialect
	default:
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q: unsupported kind %q", id, kind)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q: open failed", id).WithCause(err)
	}
	if d.name == sqliteDialect.name {
		db.SetMaxOpenConns(1)
	}
	return NewSQLAdapter(id, db, d.name), nil
}

// NewSQLAdapter wraps an already opened pool. dialectName is "sqlite" or "postgres".
func NewSQLAdapter(id string, db *sql.DB, dialectName string) *SQLAdapter {
	d := sqliteDialect
	if dialectName == postgresDialect.name {
		d = postgresDialect
	}
	return &SQLAdapter{
		id:      id,
		db:      db,
		dialect: d,
		exec:    sqlExecutor{id: id, q: db, dialect: d},
	}
}

// DB returns the underlying pool.
func (a *SQLAdapter) DB() *sql.DB { return a.db }

func (a *SQLAdapter) GetSingle(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	return a.exec.GetSingle(ctx, table, filter)
}

func (a *SQLAdapter) GetAll(ctx context.Context, table string, q Query) ([]map[string]any, error) {
	return a.exec.GetAll(ctx, table, q)
}

func (a *SQLAdapter) Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	return a.exec.Insert(ctx, table, row)
}

func (a *SQLAdapter) InsertBulk(ctx context.Context, table string, rows []map[string]any) (map[string]any, error) {
	return a.exec.InsertBulk(ctx, table, rows)
}

func (a *SQLAdapter) Update(ctx context.Context, table string, filter, values map[string]any) (map[string]any, error) {
	return a.exec.Update(ctx, table, filter, values)
}

func (a *SQLAdapter) Delete(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	return a.exec.Delete(ctx, table, filter)
}

func (a *SQLAdapter) Native(ctx context.Context, query string, params []any) (any, error) {
	return a.exec.Native(ctx, query, params)
}

// Begin opens a transaction bound to ctx: when ctx ends, database/sql rolls
// it back and releases the connection.
func (a *SQLAdapter) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, a.exec.fail("begin transaction", err)
	}
	return &sqlTx{tx: tx, sqlExecutor: sqlExecutor{id: a.id, q: tx, dialect: a.dialect}}, nil
}

// Close closes the pool.
func (a *SQLAdapter) Close() error { return a.db.Close() }

type sqlTx struct {
	sqlExecutor
	tx *sql.Tx
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return t.fail("commit", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return t.fail("rollback", err)
	}
	return nil
}

type sqlExecutor struct {
	id      string
	q       queryer
	dialect dialect
}

func (e sqlExecutor) fail(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q: %s failed: %s", e.id, op, err.Error()).
		WithCause(err)
}

func (e sqlExecutor) GetSingle(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	rows, err := e.GetAll(ctx, table, Query{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (e sqlExecutor) GetAll(ctx context.Context, table string, q Query) ([]map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	where, args, err := e.where(q.Filter, 1)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + table + where
	if q.OrderBy != "" {
		if err := checkIdentifier(q.OrderBy); err != nil {
			return nil, err
		}
		query += " ORDER BY " + q.OrderBy
		if q.Desc {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, e.fail("select from "+table, err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, e.fail("scan "+table, err)
	}
	return out, nil
}

func (e sqlExecutor) Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "insert into %s: no columns", table)
	}
	cols := sortedKeys(row)
	if err := checkIdentifiers(cols); err != nil {
		return nil, err
	}

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = e.dialect.placeholder(i + 1)
		args[i] = bindValue(row[c])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, e.fail("insert into "+table, err)
	}
	return e.result(res), nil
}

// InsertBulk inserts every row with one multi-VALUES statement. All rows
// must carry the column set of the first.
func (e sqlExecutor) InsertBulk(ctx context.Context, table string, rows []map[string]any) (map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{"rowsAffected": int64(0)}, nil
	}
	cols := sortedKeys(rows[0])
	if len(cols) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "bulk insert into %s: no columns", table)
	}
	if err := checkIdentifiers(cols); err != nil {
		return nil, err
	}

	var (
		groups []string
		args   []any
		n      = 1
	)
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime,
				"bulk insert into %s: row %d has %d columns, want %d", table, i, len(row), len(cols))
		}
		ph := make([]string, len(cols))
		for j, c := range cols {
			v, ok := row[c]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime,
					"bulk insert into %s: row %d is missing column %q", table, i, c)
			}
			ph[j] = e.dialect.placeholder(n)
			args = append(args, bindValue(v))
			n++
		}
		groups = append(groups, "("+strings.Join(ph, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(groups, ", "))
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, e.fail("bulk insert into "+table, err)
	}
	out := e.result(res)
	delete(out, "lastInsertId")
	return out, nil
}

func (e sqlExecutor) Update(ctx context.Context, table string, filter, values map[string]any) (map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "update %s: no values", table)
	}
	if len(filter) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "update %s: a filter is required", table)
	}
	cols := sortedKeys(values)
	if err := checkIdentifiers(cols); err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, c := range cols {
		sets[i] = c + " = " + e.dialect.placeholder(i+1)
		args = append(args, bindValue(values[c]))
	}
	where, whereArgs, err := e.where(filter, len(cols)+1)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)

	res, err := e.q.ExecContext(ctx, "UPDATE "+table+" SET "+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return nil, e.fail("update "+table, err)
	}
	out := e.result(res)
	delete(out, "lastInsertId")
	return out, nil
}

func (e sqlExecutor) Delete(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "delete from %s: a filter is required", table)
	}
	where, args, err := e.where(filter, 1)
	if err != nil {
		return nil, err
	}
	res, err := e.q.ExecContext(ctx, "DELETE FROM "+table+where, args...)
	if err != nil {
		return nil, e.fail("delete from "+table, err)
	}
	out := e.result(res)
	delete(out, "lastInsertId")
	return out, nil
}

// Native runs an authored statement with bound params. Statements that
// return rows yield []map[string]any; others yield the affected row count.
func (e sqlExecutor) Native(ctx context.Context, query string, params []any) (any, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeBlockRuntime, "native query is empty")
	}
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = bindValue(p)
	}

	if returnsRows(query) {
		rows, err := e.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, e.fail("native query", err)
		}
		out, err := scanRows(rows)
		if err != nil {
			return nil, e.fail("native query", err)
		}
		return out, nil
	}

	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, e.fail("native statement", err)
	}
	return e.result(res), nil
}

func (e sqlExecutor) where(filter map[string]any, start int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(filter)
	if err := checkIdentifiers(cols); err != nil {
		return "", nil, err
	}
	conds := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	n := start
	for _, c := range cols {
		v := filter[c]
		if v == nil {
			conds = append(conds, c+" IS NULL")
			continue
		}
		conds = append(conds, c+" = "+e.dialect.placeholder(n))
		args = append(args, bindValue(v))
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (e sqlExecutor) result(res sql.Result) map[string]any {
	out := map[string]any{}
	if n, err := res.RowsAffected(); err == nil {
		out["rowsAffected"] = n
	}
	if e.dialect.lastInsertID {
		if id, err := res.LastInsertId(); err == nil {
			out["lastInsertId"] = id
		}
	}
	return out
}

func returnsRows(query string) bool {
	head := strings.ToUpper(strings.Fields(query)[0])
	switch head {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES", "SHOW":
		return true
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// bindValue flattens composite values to JSON text; drivers only bind scalars.
func bindValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return jsonText(v)
	default:
		return v
	}
}

func checkIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return schema.NewErrorf(schema.ErrCodeBlockRuntime, "invalid identifier %q", name)
	}
	return nil
}

func checkIdentifiers(names []string) error {
	for _, n := range names {
		if err := checkIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Adapter = (*SQLAdapter)(nil)
	_ Tx      = (*sqlTx)(nil)
)
