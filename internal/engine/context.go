package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/pkg/schema"
)

// ExecutionContext is the per-request scope of one walk: the inbound
// request, the variable table, the response accumulator and the open
// transactions. It is never shared across requests.
type ExecutionContext struct {
	engine  *Engine
	request *schema.Request
	vars    map[string]any
	eval    *expressions.Evaluator
	logger  *slog.Logger

	headers map[string]string
	cookies []schema.Cookie

	txs map[string]integrations.Tx
}

// NewContext binds a fresh scope to req. A nil req is an empty GET /.
func (e *Engine) NewContext(req *schema.Request) *ExecutionContext {
	if req == nil {
		req = &schema.Request{Method: http.MethodGet, Path: "/"}
	}
	ec := &ExecutionContext{
		engine:  e,
		request: req,
		vars:    make(map[string]any),
		logger:  e.logger,
		headers: make(map[string]string),
		txs:     make(map[string]integrations.Tx),
	}
	ec.eval = e.engines.NewEvaluator(ec, ec.vars)
	return ec
}

// ResponseHeaders returns the headers set during the walk.
func (ec *ExecutionContext) ResponseHeaders() map[string]string { return ec.headers }

// ResponseCookies returns the cookies set during the walk, in order.
func (ec *ExecutionContext) ResponseCookies() []schema.Cookie { return ec.cookies }

// Host

func (ec *ExecutionContext) Method() string { return ec.request.Method }
func (ec *ExecutionContext) Path() string   { return ec.request.Path }
func (ec *ExecutionContext) Body() any      { return ec.request.Body }

// Header looks name up exactly, then case-insensitively.
func (ec *ExecutionContext) Header(name string) string {
	return lookupFold(ec.request.Headers, name)
}

func (ec *ExecutionContext) Cookie(name string) string     { return ec.request.Cookies[name] }
func (ec *ExecutionContext) QueryParam(name string) string { return ec.request.QueryParams[name] }
func (ec *ExecutionContext) PathParam(name string) string  { return ec.request.PathParams[name] }

func (ec *ExecutionContext) SetHeader(name, value string) {
	ec.headers[http.CanonicalHeaderKey(name)] = value
}

func (ec *ExecutionContext) SetCookie(c schema.Cookie) {
	ec.cookies = append(ec.cookies, c)
}

// Runtime

func (ec *ExecutionContext) Eval() *expressions.Evaluator { return ec.eval }
func (ec *ExecutionContext) Vars() map[string]any         { return ec.vars }
func (ec *ExecutionContext) Host() expressions.Host       { return ec }
func (ec *ExecutionContext) Logger() *slog.Logger         { return ec.logger }
func (ec *ExecutionContext) HTTPClient() *http.Client     { return ec.engine.cfg.HTTPClient }
func (ec *ExecutionContext) MaxResponseBody() int64       { return ec.engine.cfg.MaxResponseBody }

// Executor joins the open transaction on integrationID, if any, and
// otherwise returns the shared pool.
func (ec *ExecutionContext) Executor(ctx context.Context, integrationID string) (integrations.Executor, error) {
	if tx, ok := ec.txs[integrationID]; ok {
		return tx, nil
	}
	return ec.adapter(ctx, integrationID)
}

func (ec *ExecutionContext) adapter(ctx context.Context, integrationID string) (integrations.Adapter, error) {
	if integrationID == "" {
		return nil, schema.NewError(schema.ErrCodeBlockRuntime, "integration id is empty")
	}
	if ec.engine.integrations == nil {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "integration %q: no integrations are configured", integrationID)
	}
	return ec.engine.integrations.Adapter(ctx, integrationID)
}

// rollbackAll releases every open transaction. Used when a walk unwinds
// abnormally.
func (ec *ExecutionContext) rollbackAll() {
	for id, tx := range ec.txs {
		if err := tx.Rollback(); err != nil {
			ec.logger.Warn("rollback failed", "integration_id", id, "error", err)
		}
		delete(ec.txs, id)
	}
}

func lookupFold(m map[string]string, name string) string {
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

var (
	_ expressions.Host = (*ExecutionContext)(nil)
)
