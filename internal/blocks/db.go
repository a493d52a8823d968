package blocks

import (
	"context"
	"math"

	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/pkg/schema"
)

// Target names the integration and table a db block acts on.
type Target struct {
	IntegrationID string `mapstructure:"integrationId"`
	Table         string `mapstructure:"table"`
}

// resolve evaluates the integration id and table, then fetches the
// executor. The table name is checked as an identifier by the adapter.
func (t Target) resolve(ctx context.Context, rt Runtime, carry any) (integrations.Executor, string, error) {
	ex, err := executorFor(ctx, rt, t.IntegrationID, carry)
	if err != nil {
		return nil, "", err
	}
	table, err := rt.Eval().ResolveString(ctx, t.Table, carry)
	if err != nil {
		return nil, "", err
	}
	return ex, table, nil
}

func executorFor(ctx context.Context, rt Runtime, integrationID string, carry any) (integrations.Executor, error) {
	id, err := rt.Eval().ResolveString(ctx, integrationID, carry)
	if err != nil {
		return nil, err
	}
	return rt.Executor(ctx, id)
}

// object resolves v, or takes the carry when useParam is set, and requires
// an object.
func object(ctx context.Context, rt Runtime, bt schema.BlockType, field string, v any, useParam bool, carry any) (map[string]any, error) {
	val := carry
	if !useParam {
		r, err := rt.Eval().Resolve(ctx, v, carry)
		if err != nil {
			return nil, err
		}
		val = r
	}
	if val == nil {
		return nil, nil
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, runtimeError(bt, "%s must be an object, got %T", field, val)
	}
	return m, nil
}

// DBGetSingle fetches the first matching row, or null.
type DBGetSingle struct {
	Target   `mapstructure:",squash"`
	Filter   map[string]any `mapstructure:"filter"`
	UseParam bool           `mapstructure:"useParam"`
}

func (*DBGetSingle) Type() schema.BlockType { return schema.BlockDBGetSingle }
func (*DBGetSingle) payload()               {}

func (b *DBGetSingle) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	filter, err := object(ctx, rt, schema.BlockDBGetSingle, "filter", b.Filter, b.UseParam, carry)
	if err != nil {
		return Outcome{}, err
	}
	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	row, err := ex.GetSingle(ctx, table, filter)
	if err != nil {
		return Outcome{}, err
	}
	if row == nil {
		return Next(nil), nil
	}
	return Next(row), nil
}

// DBGetAll fetches matching rows as an array.
type DBGetAll struct {
	Target   `mapstructure:",squash"`
	Filter   map[string]any `mapstructure:"filter"`
	UseParam bool           `mapstructure:"useParam"`
	OrderBy  string         `mapstructure:"orderBy"`
	Desc     bool           `mapstructure:"desc"`
	Limit    any            `mapstructure:"limit"`
}

func (*DBGetAll) Type() schema.BlockType { return schema.BlockDBGetAll }
func (*DBGetAll) payload()               {}

func (b *DBGetAll) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	filter, err := object(ctx, rt, schema.BlockDBGetAll, "filter", b.Filter, b.UseParam, carry)
	if err != nil {
		return Outcome{}, err
	}
	q := integrations.Query{Filter: filter, OrderBy: b.OrderBy, Desc: b.Desc}
	if b.Limit != nil {
		n, err := resolveNumber(ctx, rt.Eval(), schema.BlockDBGetAll, "limit", b.Limit, carry)
		if err != nil {
			return Outcome{}, err
		}
		if n < 0 || n != math.Trunc(n) {
			return Outcome{}, runtimeError(schema.BlockDBGetAll, "limit must be a non-negative integer, got %v", n)
		}
		q.Limit = int(n)
	}

	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	rows, err := ex.GetAll(ctx, table, q)
	if err != nil {
		return Outcome{}, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return Next(out), nil
}

// DBInsert inserts one row.
type DBInsert struct {
	Target   `mapstructure:",squash"`
	Data     any  `mapstructure:"data"`
	UseParam bool `mapstructure:"useParam"`
}

func (*DBInsert) Type() schema.BlockType { return schema.BlockDBInsert }
func (*DBInsert) payload()               {}

func (b *DBInsert) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	row, err := object(ctx, rt, schema.BlockDBInsert, "data", b.Data, b.UseParam, carry)
	if err != nil {
		return Outcome{}, err
	}
	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	res, err := ex.Insert(ctx, table, row)
	if err != nil {
		return Outcome{}, err
	}
	return Next(res), nil
}

// DBInsertBulk inserts an array of rows.
type DBInsertBulk struct {
	Target   `mapstructure:",squash"`
	Rows     any  `mapstructure:"rows"`
	UseParam bool `mapstructure:"useParam"`
}

func (*DBInsertBulk) Type() schema.BlockType { return schema.BlockDBInsertBulk }
func (*DBInsertBulk) payload()               {}

func (b *DBInsertBulk) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	val := carry
	if !b.UseParam {
		r, err := rt.Eval().Resolve(ctx, b.Rows, carry)
		if err != nil {
			return Outcome{}, err
		}
		val = r
	}
	arr, ok := asArray(val)
	if !ok {
		return Outcome{}, runtimeError(schema.BlockDBInsertBulk, "rows must be an array, got %T", val)
	}
	rows := make([]map[string]any, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return Outcome{}, runtimeError(schema.BlockDBInsertBulk, "row %d is %T, not an object", i, item)
		}
		rows[i] = m
	}

	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	res, err := ex.InsertBulk(ctx, table, rows)
	if err != nil {
		return Outcome{}, err
	}
	return Next(res), nil
}

// DBUpdate updates the rows matching filter.
type DBUpdate struct {
	Target   `mapstructure:",squash"`
	Filter   map[string]any `mapstructure:"filter"`
	Data     any            `mapstructure:"data"`
	UseParam bool           `mapstructure:"useParam"`
}

func (*DBUpdate) Type() schema.BlockType { return schema.BlockDBUpdate }
func (*DBUpdate) payload()               {}

func (b *DBUpdate) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	filter, err := object(ctx, rt, schema.BlockDBUpdate, "filter", b.Filter, false, carry)
	if err != nil {
		return Outcome{}, err
	}
	values, err := object(ctx, rt, schema.BlockDBUpdate, "data", b.Data, b.UseParam, carry)
	if err != nil {
		return Outcome{}, err
	}
	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	res, err := ex.Update(ctx, table, filter, values)
	if err != nil {
		return Outcome{}, err
	}
	return Next(res), nil
}

// DBDelete deletes the rows matching filter.
type DBDelete struct {
	Target   `mapstructure:",squash"`
	Filter   map[string]any `mapstructure:"filter"`
	UseParam bool           `mapstructure:"useParam"`
}

func (*DBDelete) Type() schema.BlockType { return schema.BlockDBDelete }
func (*DBDelete) payload()               {}

func (b *DBDelete) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	filter, err := object(ctx, rt, schema.BlockDBDelete, "filter", b.Filter, b.UseParam, carry)
	if err != nil {
		return Outcome{}, err
	}
	ex, table, err := b.resolve(ctx, rt, carry)
	if err != nil {
		return Outcome{}, err
	}
	res, err := ex.Delete(ctx, table, filter)
	if err != nil {
		return Outcome{}, err
	}
	return Next(res), nil
}

// DBNative runs a raw statement. Reads yield rows; writes yield the
// affected-row summary.
type DBNative struct {
	IntegrationID string `mapstructure:"integrationId"`
	Query         string `mapstructure:"query"`
	Params        any    `mapstructure:"params"`
	UseParam      bool   `mapstructure:"useParam"`
}

func (*DBNative) Type() schema.BlockType { return schema.BlockDBNative }
func (*DBNative) payload()               {}

func (b *DBNative) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	val := carry
	if !b.UseParam {
		r, err := rt.Eval().Resolve(ctx, b.Params, carry)
		if err != nil {
			return Outcome{}, err
		}
		val = r
	}
	var params []any
	if val != nil {
		arr, ok := asArray(val)
		if !ok {
			return Outcome{}, runtimeError(schema.BlockDBNative, "params must be an array, got %T", val)
		}
		params = arr
	}

	ex, err := executorFor(ctx, rt, b.IntegrationID, carry)
	if err != nil {
		return Outcome{}, err
	}
	res, err := ex.Native(ctx, b.Query, params)
	if err != nil {
		return Outcome{}, err
	}
	if rows, ok := res.([]map[string]any); ok {
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return Next(out), nil
	}
	return Next(res), nil
}

var (
	_ Operation = (*DBGetSingle)(nil)
	_ Operation = (*DBGetAll)(nil)
	_ Operation = (*DBInsert)(nil)
	_ Operation = (*DBInsertBulk)(nil)
	_ Operation = (*DBUpdate)(nil)
	_ Operation = (*DBDelete)(nil)
	_ Operation = (*DBNative)(nil)
)
