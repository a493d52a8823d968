package blocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/pkg/schema"
)

func TestIf_Conditions(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)
	rt.vars["role"] = "admin"

	tests := []struct {
		name string
		data string
		want schema.Handle
	}{
		{"and true", `{"conditions": [{"lhs": "js: vars.role", "op": "==", "rhs": "admin"}, {"lhs": "js: input.n", "op": ">", "rhs": 1}]}`, schema.HandleSuccess},
		{"and false", `{"conditions": [{"lhs": "js: vars.role", "op": "==", "rhs": "admin"}, {"lhs": "js: input.n", "op": ">", "rhs": 5}]}`, schema.HandleFailure},
		{"or true", `{"combinator": "or", "conditions": [{"lhs": 1, "op": "==", "rhs": 2}, {"lhs": "abc", "op": "contains", "rhs": "b"}]}`, schema.HandleSuccess},
		{"empty and", `{}`, schema.HandleSuccess},
		{"empty or", `{"combinator": "or"}`, schema.HandleFailure},
		{"bare expression", `{"expression": "input.n === 2"}`, schema.HandleSuccess},
		{"prefixed expression", `{"expression": "cel: input.n > 5.0"}`, schema.HandleFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decode(t, reg, schema.BlockIf, tt.data)
			carry := map[string]any{"n": float64(2)}
			out := run(t, p, rt, carry)
			assert.Equal(t, tt.want, out.Handle)
			assert.Equal(t, carry, out.Carry)
		})
	}
}

func TestIf_ConditionErrorIsRuntime(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)

	p := decode(t, reg, schema.BlockIf, `{"conditions": [{"lhs": "js: nope(", "op": "==", "rhs": 1}]}`)
	_, err := p.(Operation).Run(context.Background(), rt, nil)
	assert.Equal(t, schema.ErrCodeBlockRuntime, schema.CodeOf(err))
}

func TestForLoop_Iterations(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)

	p := decode(t, reg, schema.BlockForLoop, `{"start": 0, "end": 5}`)
	its, err := p.(Loop).Iterations(context.Background(), rt, "c", 100)
	require.NoError(t, err)
	require.Len(t, its, 5)
	for i, it := range its {
		assert.Equal(t, int64(i), it.Bindings["index"])
		assert.Equal(t, "c", it.Carry)
	}

	p = decode(t, reg, schema.BlockForLoop, `{"start": 10, "end": 0, "step": -2.5, "indexVar": "i"}`)
	its, err = p.(Loop).Iterations(context.Background(), rt, nil, 100)
	require.NoError(t, err)
	require.Len(t, its, 4)
	assert.Equal(t, float64(7.5), its[1].Bindings["i"])

	p = decode(t, reg, schema.BlockForLoop, `{"start": 3, "end": 3}`)
	its, err = p.(Loop).Iterations(context.Background(), rt, nil, 100)
	require.NoError(t, err)
	assert.Empty(t, its)
}

func TestForLoop_Guards(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)

	tests := []struct {
		name string
		data string
		code string
	}{
		{"zero step", `{"start": 0, "end": 5, "step": 0}`, schema.ErrCodeLoopGuard},
		{"wrong direction", `{"start": 0, "end": 5, "step": -1}`, schema.ErrCodeLoopGuard},
		{"over ceiling", `{"start": 0, "end": 1000}`, schema.ErrCodeLoopGuard},
		{"not a number", `{"start": "js: 'x'", "end": 5}`, schema.ErrCodeBlockRuntime},
		{"NaN end", `{"start": 0, "end": "js: NaN"}`, schema.ErrCodeBlockRuntime},
		{"NaN step", `{"start": 0, "end": 5, "step": "js: 0/0"}`, schema.ErrCodeBlockRuntime},
		{"infinite end", `{"start": 0, "end": "js: Infinity"}`, schema.ErrCodeBlockRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decode(t, reg, schema.BlockForLoop, tt.data)
			_, err := p.(Loop).Iterations(context.Background(), rt, nil, 100)
			assert.Equal(t, tt.code, schema.CodeOf(err))
		})
	}
}

func TestForEachLoop_Iterations(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)
	rt.vars["xs"] = []any{"a", "b"}

	p := decode(t, reg, schema.BlockForEachLoop, `{"values": "js: vars.xs"}`)
	its, err := p.(Loop).Iterations(context.Background(), rt, nil, 10)
	require.NoError(t, err)
	require.Len(t, its, 2)
	assert.Equal(t, "b", its[1].Carry)
	assert.Equal(t, "b", its[1].Bindings["item"])
	assert.Equal(t, int64(1), its[1].Bindings["index"])

	p = decode(t, reg, schema.BlockForEachLoop, `{"useParam": true}`)
	its, err = p.(Loop).Iterations(context.Background(), rt, []any{1.0, 2.0, 3.0}, 10)
	require.NoError(t, err)
	assert.Len(t, its, 3)

	_, err = p.(Loop).Iterations(context.Background(), rt, []any{1.0, 2.0, 3.0}, 2)
	assert.Equal(t, schema.ErrCodeLoopGuard, schema.CodeOf(err))

	_, err = p.(Loop).Iterations(context.Background(), rt, "nope", 10)
	assert.Equal(t, schema.ErrCodeBlockRuntime, schema.CodeOf(err))
}

func TestResponse_Respond(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)

	p := decode(t, reg, schema.BlockResponse, `{}`)
	carry := map[string]any{"ok": true}
	out, err := p.(Terminal).Respond(context.Background(), rt, carry)
	require.NoError(t, err)
	assert.Equal(t, 200, out.HTTPCode)
	assert.Equal(t, carry, out.Body)

	carry["ok"] = false
	assert.Equal(t, true, out.Body.(map[string]any)["ok"], "output is a copy")

	p = decode(t, reg, schema.BlockResponse, `{"httpCode": "js: 201", "body": {"id": "js: input.id"}}`)
	out, err = p.(Terminal).Respond(context.Background(), rt, map[string]any{"id": "x1"})
	require.NoError(t, err)
	assert.Equal(t, 201, out.HTTPCode)
	assert.Equal(t, map[string]any{"id": "x1"}, out.Body)

	p = decode(t, reg, schema.BlockResponse, `{"httpCode": 700}`)
	_, err = p.(Terminal).Respond(context.Background(), rt, nil)
	assert.Equal(t, schema.ErrCodeBlockRuntime, schema.CodeOf(err))
}

func TestDBTransaction_Integration(t *testing.T) {
	reg := newTestRegistry(t)
	rt := newTestRuntime(t)
	rt.vars["db"] = "main"

	p := decode(t, reg, schema.BlockDBTransaction, `{"integrationId": "js: vars.db"}`)
	id, err := p.(Scoped).Integration(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.Equal(t, "main", id)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op       string
		lhs, rhs any
		want     bool
	}{
		{"==", float64(1), "1", true},
		{"!=", "a", "b", true},
		{">", float64(3), float64(2), true},
		{"<=", "2", float64(2), true},
		{"contains", []any{"a", "b"}, "b", true},
		{"not_contains", "hello", "z", true},
		{"starts_with", "hello", "he", true},
		{"ends_with", "hello", "lo", true},
		{"is_empty", "", nil, true},
		{"is_empty", []any{}, nil, true},
		{"is_not_empty", map[string]any{"a": 1}, nil, true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.op, tt.lhs, tt.rhs)
		require.NoError(t, err, tt.op)
		assert.Equal(t, tt.want, got, "%v %s %v", tt.lhs, tt.op, tt.rhs)
	}

	_, err := Compare("~=", 1, 2)
	assert.Error(t, err)
}
