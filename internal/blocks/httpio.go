package blocks

import (
	"context"
	"strings"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/pkg/schema"
)

// Parameter sources for http_get_param.
const (
	ParamQuery = "query"
	ParamPath  = "path"
)

// store writes v to a variable when the block names one.
func store(rt Runtime, variable string, v any) {
	if variable != "" {
		rt.Vars()[variable] = expressions.DeepCopy(v)
	}
}

// nameValue resolves the name and value of a header or cookie to set.
func nameValue(ctx context.Context, rt Runtime, bt schema.BlockType, name string, value, carry any) (string, string, error) {
	n, err := rt.Eval().ResolveString(ctx, name, carry)
	if err != nil {
		return "", "", err
	}
	if n == "" {
		return "", "", runtimeError(bt, "name %q resolved to an empty string", name)
	}
	v, err := rt.Eval().ResolveString(ctx, value, carry)
	if err != nil {
		return "", "", err
	}
	return n, v, nil
}

// HTTPGetHeader reads a request header. Missing headers read as "".
type HTTPGetHeader struct {
	Name     string `mapstructure:"name"`
	Variable string `mapstructure:"variable"`
}

func (*HTTPGetHeader) Type() schema.BlockType { return schema.BlockHTTPGetHeader }
func (*HTTPGetHeader) payload()               {}

func (b *HTTPGetHeader) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	name, err := rt.Eval().ResolveString(ctx, b.Name, carry)
	if err != nil {
		return Outcome{}, err
	}
	v := ""
	if h := rt.Host(); h != nil {
		v = h.Header(name)
	}
	store(rt, b.Variable, v)
	return Next(v), nil
}

// HTTPSetHeader sets a header on the eventual response.
type HTTPSetHeader struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}

func (*HTTPSetHeader) Type() schema.BlockType { return schema.BlockHTTPSetHeader }
func (*HTTPSetHeader) payload()               {}

func (b *HTTPSetHeader) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	name, v, err := nameValue(ctx, rt, schema.BlockHTTPSetHeader, b.Name, b.Value, carry)
	if err != nil {
		return Outcome{}, err
	}
	if h := rt.Host(); h != nil {
		h.SetHeader(name, v)
	}
	return Next(carry), nil
}

// HTTPGetCookie reads a request cookie. Missing cookies read as "".
type HTTPGetCookie struct {
	Name     string `mapstructure:"name"`
	Variable string `mapstructure:"variable"`
}

func (*HTTPGetCookie) Type() schema.BlockType { return schema.BlockHTTPGetCookie }
func (*HTTPGetCookie) payload()               {}

func (b *HTTPGetCookie) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	name, err := rt.Eval().ResolveString(ctx, b.Name, carry)
	if err != nil {
		return Outcome{}, err
	}
	v := ""
	if h := rt.Host(); h != nil {
		v = h.Cookie(name)
	}
	store(rt, b.Variable, v)
	return Next(v), nil
}

// HTTPSetCookie adds a cookie to the eventual response.
type HTTPSetCookie struct {
	Name     string `mapstructure:"name"`
	Value    any    `mapstructure:"value"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	MaxAge   int    `mapstructure:"maxAge"`
	Secure   bool   `mapstructure:"secure"`
	HTTPOnly bool   `mapstructure:"httpOnly"`
	SameSite string `mapstructure:"sameSite"`
}

func (*HTTPSetCookie) Type() schema.BlockType { return schema.BlockHTTPSetCookie }
func (*HTTPSetCookie) payload()               {}

func (b *HTTPSetCookie) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	name, v, err := nameValue(ctx, rt, schema.BlockHTTPSetCookie, b.Name, b.Value, carry)
	if err != nil {
		return Outcome{}, err
	}
	if h := rt.Host(); h != nil {
		h.SetCookie(schema.Cookie{
			Name:     name,
			Value:    v,
			Path:     b.Path,
			Domain:   b.Domain,
			MaxAge:   b.MaxAge,
			Secure:   b.Secure,
			HTTPOnly: b.HTTPOnly,
			SameSite: b.SameSite,
		})
	}
	return Next(carry), nil
}

// HTTPGetParam reads a query or path parameter.
type HTTPGetParam struct {
	Name      string `mapstructure:"name"`
	ParamType string `mapstructure:"paramType"`
	Variable  string `mapstructure:"variable"`
}

func (*HTTPGetParam) Type() schema.BlockType { return schema.BlockHTTPGetParam }
func (*HTTPGetParam) payload()               {}

func (b *HTTPGetParam) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	name, err := rt.Eval().ResolveString(ctx, b.Name, carry)
	if err != nil {
		return Outcome{}, err
	}
	v := ""
	if h := rt.Host(); h != nil {
		if strings.EqualFold(b.ParamType, ParamPath) {
			v = h.PathParam(name)
		} else {
			v = h.QueryParam(name)
		}
	}
	store(rt, b.Variable, v)
	return Next(v), nil
}

// HTTPGetRequestBody makes a copy of the parsed request body the carry.
type HTTPGetRequestBody struct {
	Variable string `mapstructure:"variable"`
}

func (*HTTPGetRequestBody) Type() schema.BlockType { return schema.BlockHTTPGetRequestBody }
func (*HTTPGetRequestBody) payload()               {}

func (b *HTTPGetRequestBody) Run(_ context.Context, rt Runtime, _ any) (Outcome, error) {
	var body any
	if h := rt.Host(); h != nil {
		body = expressions.DeepCopy(h.Body())
	}
	store(rt, b.Variable, body)
	return Next(body), nil
}

var (
	_ Operation = (*HTTPGetHeader)(nil)
	_ Operation = (*HTTPSetHeader)(nil)
	_ Operation = (*HTTPGetCookie)(nil)
	_ Operation = (*HTTPSetCookie)(nil)
	_ Operation = (*HTTPGetParam)(nil)
	_ Operation = (*HTTPGetRequestBody)(nil)
)
