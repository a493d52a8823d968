package expressions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/routeflow/pkg/schema"
)

// Expression prefixes. A string field carrying one of them is evaluated;
// any other string is a literal.
const (
	PrefixJS   = "js:"
	PrefixExpr = "expr:"
	PrefixCEL  = "cel:"
	PrefixJQ   = "jq:"
)

var prefixes = []string{PrefixJS, PrefixExpr, PrefixCEL, PrefixJQ}

// IsExpression reports whether s is prefixed with a known dialect.
func IsExpression(s string) bool {
	_, _, ok := splitPrefix(s)
	return ok
}

func splitPrefix(s string) (prefix, body string, ok bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p, strings.TrimSpace(s[len(p):]), true
		}
	}
	return "", s, false
}

// Host is the request surface visible to expressions.
type Host interface {
	Method() string
	Path() string
	Body() any
	Header(name string) string
	Cookie(name string) string
	QueryParam(name string) string
	PathParam(name string) string
	SetHeader(name, value string)
	SetCookie(c schema.Cookie)
}

// Engines holds the shared, concurrency-safe engines. One instance serves
// every execution in the process.
type Engines struct {
	Expr *ExprEngine
	CEL  *CELEngine
	JQ   *GoJQEngine
	JS   *JSCompiler
}

// NewEngines builds the engine set with the given JavaScript budget.
func NewEngines(scriptBudget time.Duration) (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{
		Expr: NewExprEngine(),
		CEL:  celEngine,
		JQ:   NewGoJQEngine(),
		JS:   NewJSCompiler(scriptBudget, DefaultMaxCallStackSize),
	}, nil
}

// Evaluator is the expression front end bound to one execution: its request
// host and its variable table.
type Evaluator struct {
	engines *Engines
	js      *JSEngine
	host    Host
	vars    map[string]any
}

// NewEvaluator binds the shared engines to one execution. vars is the live
// variable table; scripts may mutate it.
func (e *Engines) NewEvaluator(host Host, vars map[string]any) *Evaluator {
	return &Evaluator{
		engines: e,
		js:      NewJSEngine(e.JS),
		host:    host,
		vars:    vars,
	}
}

// Eval evaluates a prefixed expression against input. Unprefixed strings
// are returned unchanged.
func (ev *Evaluator) Eval(ctx context.Context, s string, input any) (any, error) {
	prefix, body, ok := splitPrefix(s)
	if !ok {
		return s, nil
	}
	if body == "" {
		return nil, schema.NewErrorf(schema.ErrCodeBlockRuntime, "empty %s expression", strings.TrimSuffix(prefix, ":"))
	}

	switch prefix {
	case PrefixJS:
		return ev.js.Evaluate(ctx, body, ev.data(input, true))
	case PrefixExpr:
		return ev.engines.Expr.Evaluate(ctx, body, ev.data(input, true))
	case PrefixCEL:
		return ev.engines.CEL.Evaluate(ctx, body, ev.data(input, false))
	case PrefixJQ:
		return ev.engines.JQ.Evaluate(ctx, body, ev.data(input, false))
	}
	return nil, fmt.Errorf("unreachable prefix %q", prefix)
}

// Resolve walks v and evaluates every prefixed string leaf. Objects and
// arrays are rebuilt; everything else is returned as is.
func (ev *Evaluator) Resolve(ctx context.Context, v any, input any) (any, error) {
	switch val := v.(type) {
	case string:
		return ev.Eval(ctx, val, input)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := ev.Resolve(ctx, item, input)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := ev.Resolve(ctx, item, input)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves v and renders the result as a string.
func (ev *Evaluator) ResolveString(ctx context.Context, v any, input any) (string, error) {
	r, err := ev.Resolve(ctx, v, input)
	if err != nil {
		return "", err
	}
	return Stringify(r), nil
}

// RunScript runs a JavaScript function body. A leading "js:" is tolerated.
func (ev *Evaluator) RunScript(ctx context.Context, body string, input any) (any, error) {
	body = strings.TrimPrefix(strings.TrimSpace(body), PrefixJS)
	if strings.TrimSpace(body) == "" {
		return nil, schema.NewError(schema.ErrCodeBlockRuntime, "empty script")
	}
	return ev.js.RunScript(ctx, body, ev.data(input, true))
}

func (ev *Evaluator) data(input any, withFuncs bool) map[string]any {
	request := map[string]any{}
	if ev.host != nil {
		request["method"] = ev.host.Method()
		request["path"] = ev.host.Path()
		request["body"] = ev.host.Body()
	}

	data := map[string]any{
		KeyVars:    ev.vars,
		KeyInput:   input,
		KeyRequest: request,
	}
	if !withFuncs || ev.host == nil {
		return data
	}

	h := ev.host
	data["getHeader"] = h.Header
	data["getCookie"] = h.Cookie
	data["getQueryParam"] = h.QueryParam
	data["getPathParam"] = h.PathParam
	data["getRequestBody"] = h.Body
	data["setHeader"] = h.SetHeader
	data["setCookie"] = func(name, value string, opts map[string]any) {
		c := schema.Cookie{Name: name, Value: value}
		applyCookieOptions(&c, opts)
		h.SetCookie(c)
	}
	return data
}

func applyCookieOptions(c *schema.Cookie, opts map[string]any) {
	if opts == nil {
		return
	}
	if v, ok := opts["path"].(string); ok {
		c.Path = v
	}
	if v, ok := opts["domain"].(string); ok {
		c.Domain = v
	}
	if v, ok := ToFloat(opts["maxAge"]); ok {
		c.MaxAge = int(v)
	}
	if v, ok := opts["secure"].(bool); ok {
		c.Secure = v
	}
	if v, ok := opts["httpOnly"].(bool); ok {
		c.HTTPOnly = v
	}
	if v, ok := opts["sameSite"].(string); ok {
		c.SameSite = v
	}
}

// contextError maps a finished context onto a timeout FlowError.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "execution budget exceeded").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeTimeout, "execution cancelled").WithCause(err)
}
