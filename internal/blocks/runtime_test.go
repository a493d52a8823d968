package blocks

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/internal/validation"
	"github.com/rendis/routeflow/pkg/schema"
)

type testHost struct {
	body    any
	headers map[string]string
	cookies map[string]string
	query   map[string]string
	params  map[string]string

	setHeaders map[string]string
	setCookies []schema.Cookie
}

func (h *testHost) Method() string                { return "POST" }
func (h *testHost) Path() string                  { return "/items/7" }
func (h *testHost) Body() any                     { return h.body }
func (h *testHost) Header(name string) string     { return h.headers[name] }
func (h *testHost) Cookie(name string) string     { return h.cookies[name] }
func (h *testHost) QueryParam(name string) string { return h.query[name] }
func (h *testHost) PathParam(name string) string  { return h.params[name] }
func (h *testHost) SetHeader(name, value string)  { h.setHeaders[name] = value }
func (h *testHost) SetCookie(c schema.Cookie)     { h.setCookies = append(h.setCookies, c) }

type testRuntime struct {
	ev       *expressions.Evaluator
	vars     map[string]any
	host     *testHost
	client   *http.Client
	adapters map[string]integrations.Adapter
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()
	engines, err := expressions.NewEngines(time.Second)
	require.NoError(t, err)

	host := &testHost{
		body:       map[string]any{"name": "widget", "qty": float64(2)},
		headers:    map[string]string{"X-Tenant": "acme"},
		cookies:    map[string]string{"session": "s1"},
		query:      map[string]string{"page": "3"},
		params:     map[string]string{"id": "7"},
		setHeaders: map[string]string{},
	}
	vars := map[string]any{}
	return &testRuntime{
		ev:       engines.NewEvaluator(host, vars),
		vars:     vars,
		host:     host,
		client:   &http.Client{},
		adapters: map[string]integrations.Adapter{},
	}
}

func (r *testRuntime) Eval() *expressions.Evaluator { return r.ev }
func (r *testRuntime) Vars() map[string]any         { return r.vars }
func (r *testRuntime) Host() expressions.Host       { return r.host }
func (r *testRuntime) Logger() *slog.Logger         { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func (r *testRuntime) HTTPClient() *http.Client     { return r.client }
func (r *testRuntime) MaxResponseBody() int64       { return 1 << 20 }

func (r *testRuntime) Executor(_ context.Context, id string) (integrations.Executor, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q not found", id)
	}
	return a, nil
}

func (r *testRuntime) withSQLite(t *testing.T, id string) *integrations.SQLAdapter {
	t.Helper()
	a, err := integrations.OpenSQL(id, schema.IntegrationSQLite, "file:"+filepath.Join(t.TempDir(), id+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	r.adapters[id] = a
	return a
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg, err := NewRegistry(v)
	require.NoError(t, err)
	return reg
}

func decode(t *testing.T, reg *Registry, bt schema.BlockType, data string) Payload {
	t.Helper()
	p, err := reg.Decode(schema.Block{ID: "b1", Type: bt, Data: []byte(data)})
	require.NoError(t, err)
	return p
}

func run(t *testing.T, p Payload, rt Runtime, carry any) Outcome {
	t.Helper()
	op, ok := p.(Operation)
	require.True(t, ok, "%s is not an operation", p.Type())
	out, err := op.Run(context.Background(), rt, carry)
	require.NoError(t, err)
	return out
}
