package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

type adapterMap map[string]integrations.Adapter

func (m adapterMap) Adapter(_ context.Context, id string) (integrations.Adapter, error) {
	a, ok := m[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q not found", id)
	}
	return a, nil
}

func blk(id string, typ schema.BlockType, data string) schema.Block {
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	return schema.Block{ID: id, Type: typ, Data: raw}
}

func link(from, to, handle string) schema.Edge {
	return schema.Edge{ID: fmt.Sprintf("%s-%s-%s", from, handle, to), From: from, To: to, FromHandle: handle}
}

func buildGraph(t *testing.T, bs []schema.Block, es []schema.Edge) *graph.Graph {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg, err := blocks.NewRegistry(v)
	require.NoError(t, err)
	g, err := graph.NewBuilder(reg, v).Build(&schema.RouteGraph{RouteID: "test", Blocks: bs, Edges: es})
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, src IntegrationSource, cfg Config) *Engine {
	t.Helper()
	engines, err := expressions.NewEngines(time.Second)
	require.NoError(t, err)
	return New(engines, src, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func runGraph(t *testing.T, e *Engine, g *graph.Graph, body any) (*schema.ExecutionResult, *ExecutionContext) {
	t.Helper()
	ec := e.NewContext(&schema.Request{Method: "POST", Path: "/t", Body: body})
	return e.Run(context.Background(), g, ec), ec
}

func TestRun_EntrypointToResponse(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("done", schema.BlockResponse, `{"httpCode": 201, "body": {"ok": true}}`),
		},
		[]schema.Edge{link("start", "done", "")},
	)
	e := newTestEngine(t, nil, Config{})

	for _, body := range []any{nil, "text", map[string]any{"a": float64(1)}, []any{float64(1)}} {
		res, _ := runGraph(t, e, g, body)
		require.True(t, res.Successful, res.Error)
		assert.Equal(t, schema.ExecutionCompleted, res.State)
		assert.Equal(t, &schema.Output{HTTPCode: 201, Body: map[string]any{"ok": true}}, res.Output)
		assert.Equal(t, []string{"start", "done"}, res.Trace)
	}
}

func TestRun_IfVisitsOneBranch(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("check", schema.BlockIf, `{"conditions": [{"lhs": "js: input.n", "op": ">", "rhs": 10}]}`),
			blk("yesLog", schema.BlockSetVar, `{"name": "side", "value": "yes"}`),
			blk("noLog", schema.BlockSetVar, `{"name": "side", "value": "no"}`),
			blk("yes", schema.BlockResponse, `{"body": "js: vars.side"}`),
			blk("no", schema.BlockResponse, `{"httpCode": 400, "body": "js: vars.side"}`),
		},
		[]schema.Edge{
			link("start", "check", ""),
			link("check", "yesLog", "success"),
			link("yesLog", "yes", ""),
			link("check", "noLog", "failure"),
			link("noLog", "no", ""),
		},
	)
	e := newTestEngine(t, nil, Config{})

	res, _ := runGraph(t, e, g, map[string]any{"n": float64(11)})
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, 200, res.Output.HTTPCode)
	assert.Equal(t, "yes", res.Output.Body)
	assert.Equal(t, []string{"start", "check", "yesLog", "yes"}, res.Trace)

	res, _ = runGraph(t, e, g, map[string]any{"n": float64(3)})
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, 400, res.Output.HTTPCode)
	assert.Equal(t, "no", res.Output.Body)
	assert.Equal(t, []string{"start", "check", "noLog", "no"}, res.Trace)
}

func TestRun_ForLoopOrder(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("init", schema.BlockSetVar, `{"name": "seen", "value": []}`),
			blk("loop", schema.BlockForLoop, `{"start": 0, "end": 5, "step": 1}`),
			blk("push", schema.BlockArrayOps, `{"variable": "seen", "op": "push", "value": "js: vars.index"}`),
			blk("done", schema.BlockResponse, `{"body": "js: vars.seen"}`),
		},
		[]schema.Edge{
			link("start", "init", ""),
			link("init", "loop", ""),
			link("loop", "push", "executor"),
			link("loop", "done", ""),
		},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	require.True(t, res.Successful, res.Error)
	assert.EqualValues(t, []any{int64(0), int64(1), int64(2), int64(3), int64(4)}, res.Output.Body)
	assert.Equal(t, []string{"start", "init", "loop", "push", "push", "push", "push", "push", "done"}, res.Trace)
}

func TestRun_ForEachCarriesItemAndKeepsInput(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("loop", schema.BlockForEachLoop, `{"useParam": true}`),
			blk("collect", schema.BlockArrayOps, `{"variable": "out", "op": "push", "value": "js: input * 10"}`),
			blk("done", schema.BlockResponse, `{"body": {"out": "js: vars.out", "carry": "js: input"}}`),
		},
		[]schema.Edge{
			link("start", "loop", ""),
			link("loop", "collect", "executor"),
			link("loop", "done", ""),
		},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, []any{float64(1), float64(2)})
	require.True(t, res.Successful, res.Error)
	body := res.Output.Body.(map[string]any)
	assert.EqualValues(t, []any{int64(10), int64(20)}, body["out"])
	assert.Equal(t, []any{float64(1), float64(2)}, body["carry"])
}

func TestRun_SetVarGetVar(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("check", schema.BlockIf, `{"expression": "input.set === true"}`),
			blk("set", schema.BlockSetVar, `{"name": "x", "value": "1"}`),
			blk("get", schema.BlockGetVar, `{"name": "x"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "check", ""),
			link("check", "set", "success"),
			link("check", "get", "failure"),
			link("set", "get", ""),
			link("get", "done", ""),
		},
	)
	e := newTestEngine(t, nil, Config{})

	res, _ := runGraph(t, e, g, map[string]any{"set": true})
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, "1", res.Output.Body)

	res, _ = runGraph(t, e, g, map[string]any{"set": false})
	require.True(t, res.Successful, res.Error)
	assert.Nil(t, res.Output.Body, "variables never leak across executions")
}

func TestRun_DeadEndCompletesWithoutOutput(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("log", schema.BlockConsoleLog, `{"message": "hi"}`),
		},
		[]schema.Edge{link("start", "log", "")},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	assert.True(t, res.Successful)
	assert.Equal(t, schema.ExecutionCompleted, res.State)
	assert.Nil(t, res.Output)
}

func TestRun_FanOutFirstResponseWins(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("side", schema.BlockSetVar, `{"name": "tag", "value": "side"}`),
			blk("first", schema.BlockResponse, `{"body": "js: vars.tag"}`),
			blk("second", schema.BlockResponse, `{"body": "second"}`),
		},
		[]schema.Edge{
			link("start", "side", ""),
			link("start", "first", ""),
			link("start", "second", ""),
		},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, "side", res.Output.Body)
	assert.Equal(t, []string{"start", "side", "first"}, res.Trace)
}

func TestRun_ResponseInsideLoopTerminates(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("loop", schema.BlockForLoop, `{"start": 0, "end": 10}`),
			blk("check", schema.BlockIf, `{"expression": "vars.index === 2"}`),
			blk("early", schema.BlockResponse, `{"httpCode": 202, "body": "js: vars.index"}`),
			blk("late", schema.BlockResponse, `{"body": "late"}`),
		},
		[]schema.Edge{
			link("start", "loop", ""),
			link("loop", "check", "executor"),
			link("check", "early", "success"),
			link("loop", "late", ""),
		},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, 202, res.Output.HTTPCode)
	assert.EqualValues(t, 2, res.Output.Body)
}

func TestRun_LoopGuards(t *testing.T) {
	loopGraph := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("loop", schema.BlockForLoop, `{"start": 0, "end": 50}`),
			blk("log", schema.BlockConsoleLog, `{"message": "tick"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "loop", ""),
			link("loop", "log", "executor"),
			link("loop", "done", ""),
		},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{MaxLoopIterations: 10}), loopGraph, nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeLoopGuard, res.ErrorCode)

	res, _ = runGraph(t, newTestEngine(t, nil, Config{MaxSteps: 20}), loopGraph, nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeLoopGuard, res.ErrorCode)

	cycle := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("a", schema.BlockConsoleLog, `{"message": "a"}`),
			blk("b", schema.BlockConsoleLog, `{"message": "b"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "a", ""),
			link("a", "b", ""),
			link("b", "a", ""),
		},
	)
	res, _ = runGraph(t, newTestEngine(t, nil, Config{MaxSteps: 100}), cycle, nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeLoopGuard, res.ErrorCode)
	assert.Len(t, res.Trace, 100)
}

func TestRun_Timeout(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("spin", schema.BlockJSRunner, `{"js": "while (true) {}"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{link("start", "spin", ""), link("spin", "done", "")},
	)
	e := newTestEngine(t, nil, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := e.Run(ctx, g, e.NewContext(nil))
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeTimeout, res.ErrorCode)
	assert.Equal(t, schema.ExecutionFailed, res.State)
}

func TestRun_BlockErrorFailsExecution(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("boom", schema.BlockJSRunner, `{"js": "throw new Error('kaput')"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{link("start", "boom", ""), link("boom", "done", "")},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	assert.False(t, res.Successful)
	assert.Nil(t, res.Output)
	assert.Equal(t, schema.ErrCodeBlockRuntime, res.ErrorCode)
	assert.Contains(t, res.Error, "block boom")
	assert.Contains(t, res.Error, "kaput")
	require.Error(t, res.Err)
}

func TestRun_ResponseHeadersAndCookies(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("hdr", schema.BlockHTTPSetHeader, `{"name": "x-request-tag", "value": "js: getHeader('x-tag')"}`),
			blk("ck", schema.BlockHTTPSetCookie, `{"name": "seen", "value": "1", "httpOnly": true}`),
			blk("script", schema.BlockJSRunner, `{"js": "setHeader('X-From-Script', getQueryParam('q')); return getPathParam('id');"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "hdr", ""),
			link("hdr", "ck", ""),
			link("ck", "script", ""),
			link("script", "done", ""),
		},
	)
	e := newTestEngine(t, nil, Config{})
	ec := e.NewContext(&schema.Request{
		Method:      "GET",
		Path:        "/items/9",
		Headers:     map[string]string{"X-Tag": "blue"},
		QueryParams: map[string]string{"q": "search"},
		PathParams:  map[string]string{"id": "9"},
	})
	res := e.Run(context.Background(), g, ec)
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, "9", res.Output.Body)
	assert.Equal(t, map[string]string{"X-Request-Tag": "blue", "X-From-Script": "search"}, ec.ResponseHeaders())
	require.Len(t, ec.ResponseCookies(), 1)
	assert.Equal(t, "seen", ec.ResponseCookies()[0].Name)
	assert.True(t, ec.ResponseCookies()[0].HTTPOnly)
}

func TestRun_Hooks(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{blk("start", schema.BlockEntrypoint, ""), blk("done", schema.BlockResponse, "")},
		[]schema.Edge{link("start", "done", "")},
	)
	var seen []string
	hook := func(from, to schema.ExecutionState) { seen = append(seen, string(from)+"->"+string(to)) }

	res, _ := runGraph(t, newTestEngine(t, nil, Config{Hooks: []TransitionHook{hook}}), g, nil)
	require.True(t, res.Successful)
	assert.Equal(t, []string{"running->completed"}, seen)
}

func newItemsDB(t *testing.T) *integrations.SQLAdapter {
	t.Helper()
	a, err := integrations.OpenSQL("main", schema.IntegrationSQLite, "file:"+filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	_, err = a.DB().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, qty INTEGER)`)
	require.NoError(t, err)
	return a
}

func countItems(t *testing.T, a *integrations.SQLAdapter) int {
	t.Helper()
	var n int
	require.NoError(t, a.DB().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func txGraph(t *testing.T, updateData string) *graph.Graph {
	return buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("tx", schema.BlockDBTransaction, `{"integrationId": "main"}`),
			blk("ins", schema.BlockDBInsert, `{"integrationId": "main", "table": "items", "data": {"name": "bolt", "qty": 1}}`),
			blk("upd", schema.BlockDBUpdate, `{"integrationId": "main", "table": "items", "filter": {"name": "bolt"}, "data": `+updateData+`}`),
			blk("count", schema.BlockDBNative, `{"integrationId": "main", "query": "SELECT COUNT(*) AS n FROM items"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "tx", ""),
			link("tx", "ins", "executor"),
			link("ins", "upd", ""),
			link("tx", "count", ""),
			link("count", "done", ""),
		},
	)
}

func TestRun_TransactionRollsBackOnError(t *testing.T) {
	db := newItemsDB(t)
	e := newTestEngine(t, adapterMap{"main": db}, Config{})

	res, _ := runGraph(t, e, txGraph(t, `{"no_such_column": 2}`), nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeBlockRuntime, res.ErrorCode)
	assert.Contains(t, res.Error, "block upd")
	assert.Equal(t, 0, countItems(t, db), "no partial commits")
}

func TestRun_TransactionCommits(t *testing.T) {
	db := newItemsDB(t)
	e := newTestEngine(t, adapterMap{"main": db}, Config{})

	res, _ := runGraph(t, e, txGraph(t, `{"qty": 2}`), nil)
	require.True(t, res.Successful, res.Error)
	rows := res.Output.Body.([]any)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0].(map[string]any)["n"])
	assert.Equal(t, 1, countItems(t, db))
}

func TestRun_DBNativeFailure(t *testing.T) {
	db := newItemsDB(t)
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("q", schema.BlockDBNative, `{"integrationId": "main", "query": "SELECT * FROM missing_table"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{link("start", "q", ""), link("q", "done", "")},
	)
	res, _ := runGraph(t, newTestEngine(t, adapterMap{"main": db}, Config{}), g, nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeBlockRuntime, res.ErrorCode)
	assert.NotEmpty(t, res.Error)
}

func TestRun_NoIntegrations(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("q", schema.BlockDBGetAll, `{"integrationId": "main", "table": "items"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{link("start", "q", ""), link("q", "done", "")},
	)
	res, _ := runGraph(t, newTestEngine(t, nil, Config{}), g, nil)
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeBlockRuntime, res.ErrorCode)
}

func TestRun_ConcurrentExecutionsAreIsolated(t *testing.T) {
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("set", schema.BlockSetVar, `{"name": "me", "useParam": true}`),
			blk("loop", schema.BlockForLoop, `{"start": 0, "end": 20}`),
			blk("noop", schema.BlockJSRunner, `{"js": "return vars.me;"}`),
			blk("done", schema.BlockResponse, `{"body": "js: vars.me"}`),
		},
		[]schema.Edge{
			link("start", "set", ""),
			link("set", "loop", ""),
			link("loop", "noop", "executor"),
			link("loop", "done", ""),
		},
	)
	e := newTestEngine(t, nil, Config{})

	const n = 16
	results := make(chan [2]any, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			res := e.Run(context.Background(), g, e.NewContext(&schema.Request{Body: float64(i)}))
			var body any
			if res.Output != nil {
				body = res.Output.Body
			}
			results <- [2]any{float64(i), body}
		}(i)
	}
	for i := 0; i < n; i++ {
		r := <-results
		assert.EqualValues(t, r[0], r[1])
	}
}

func TestRun_TransactionJoinsOnExpressionID(t *testing.T) {
	db := newItemsDB(t)
	e := newTestEngine(t, adapterMap{"main": db}, Config{})
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("conn", schema.BlockSetVar, `{"name": "conn", "value": "main"}`),
			blk("tx", schema.BlockDBTransaction, `{"integrationId": "js: 'main'"}`),
			blk("ins", schema.BlockDBInsert, `{"integrationId": "js: vars.conn", "table": "js: 'items'", "data": {"name": "bolt", "qty": 1}}`),
			blk("boom", schema.BlockJSRunner, `{"js": "throw new Error('after insert')"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "conn", ""),
			link("conn", "tx", ""),
			link("tx", "ins", "executor"),
			link("ins", "boom", ""),
			link("tx", "done", ""),
		},
	)

	res, _ := runGraph(t, e, g, nil)
	assert.False(t, res.Successful)
	assert.Contains(t, res.Error, "after insert")
	assert.Equal(t, 0, countItems(t, db), "insert ran inside the transaction")
}

func TestRun_TimeoutReleasesTransaction(t *testing.T) {
	db := newItemsDB(t)
	e := newTestEngine(t, adapterMap{"main": db}, Config{})
	g := buildGraph(t,
		[]schema.Block{
			blk("start", schema.BlockEntrypoint, ""),
			blk("tx", schema.BlockDBTransaction, `{"integrationId": "main"}`),
			blk("ins", schema.BlockDBInsert, `{"integrationId": "main", "table": "items", "data": {"name": "bolt", "qty": 1}}`),
			blk("spin", schema.BlockJSRunner, `{"js": "while (true) {}"}`),
			blk("done", schema.BlockResponse, ""),
		},
		[]schema.Edge{
			link("start", "tx", ""),
			link("tx", "ins", "executor"),
			link("ins", "spin", ""),
			link("tx", "done", ""),
		},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := e.Run(ctx, g, e.NewContext(nil))
	assert.False(t, res.Successful)
	assert.Equal(t, schema.ErrCodeTimeout, res.ErrorCode)

	// The adapter holds one connection; a leaked transaction would block here.
	check, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	var n int
	require.NoError(t, db.DB().QueryRowContext(check, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)
}
