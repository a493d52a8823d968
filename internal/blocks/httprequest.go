package blocks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/pkg/schema"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPRequest calls an outbound HTTP endpoint. The carry becomes
// {status_code, headers, body}; JSON responses are parsed.
type HTTPRequest struct {
	Method            string         `mapstructure:"method"`
	URL               string         `mapstructure:"url"`
	Headers           map[string]any `mapstructure:"headers"`
	Body              any            `mapstructure:"body"`
	UseParam          bool           `mapstructure:"useParam"`
	BodyEncoding      string         `mapstructure:"bodyEncoding"`
	Timeout           string         `mapstructure:"timeout"`
	FailOnErrorStatus bool           `mapstructure:"failOnErrorStatus"`
}

func (*HTTPRequest) Type() schema.BlockType { return schema.BlockHTTPRequest }
func (*HTTPRequest) payload()               {}

func (b *HTTPRequest) Run(ctx context.Context, rt Runtime, carry any) (Outcome, error) {
	ev := rt.Eval()

	rawURL, err := ev.ResolveString(ctx, b.URL, carry)
	if err != nil {
		return Outcome{}, err
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Outcome{}, runtimeError(schema.BlockHTTPRequest, "invalid url %q", rawURL)
	}

	method, err := ev.ResolveString(ctx, b.Method, carry)
	if err != nil {
		return Outcome{}, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	body := carry
	if !b.UseParam {
		body, err = ev.Resolve(ctx, b.Body, carry)
		if err != nil {
			return Outcome{}, err
		}
	}

	var bodyReader io.Reader
	var contentType string
	if body != nil && method != http.MethodGet && method != http.MethodHead {
		switch b.BodyEncoding {
		case "form":
			form, ok := body.(map[string]any)
			if !ok {
				return Outcome{}, runtimeError(schema.BlockHTTPRequest, "form body must be an object, got %T", body)
			}
			vals := url.Values{}
			for k, v := range form {
				vals.Set(k, expressions.Stringify(v))
			}
			bodyReader = strings.NewReader(vals.Encode())
			contentType = "application/x-www-form-urlencoded"
		case "text":
			bodyReader = strings.NewReader(expressions.Stringify(body))
			contentType = "text/plain"
		default:
			raw, err := json.Marshal(body)
			if err != nil {
				return Outcome{}, runtimeError(schema.BlockHTTPRequest, "body is not JSON encodable").WithCause(err)
			}
			bodyReader = strings.NewReader(string(raw))
			contentType = "application/json"
		}
	}

	timeout := defaultHTTPTimeout
	if b.Timeout != "" {
		if d, err := time.ParseDuration(b.Timeout); err == nil {
			timeout = d
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return Outcome{}, runtimeError(schema.BlockHTTPRequest, "cannot create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range b.Headers {
		s, err := ev.ResolveString(ctx, v, carry)
		if err != nil {
			return Outcome{}, err
		}
		req.Header.Set(k, s)
	}

	client := rt.HTTPClient()
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, schema.NewError(schema.ErrCodeTimeout, "execution budget exceeded").WithCause(ctx.Err())
		}
		return Outcome{}, runtimeError(schema.BlockHTTPRequest, "%s %s failed: %v", method, u.Host, err).WithCause(err)
	}
	defer resp.Body.Close()

	limit := rt.MaxResponseBody()
	if limit <= 0 {
		limit = 10 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return Outcome{}, runtimeError(schema.BlockHTTPRequest, "cannot read response body").WithCause(err)
	}

	var parsed any
	if len(raw) > 0 {
		parsed = string(raw)
		if strings.Contains(resp.Header.Get("Content-Type"), "json") {
			var v any
			if json.Unmarshal(raw, &v) == nil {
				parsed = v
			}
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	result := map[string]any{
		"status_code": float64(resp.StatusCode),
		"headers":     headers,
		"body":        parsed,
	}

	if b.FailOnErrorStatus && resp.StatusCode >= 400 {
		return Outcome{}, runtimeError(schema.BlockHTTPRequest, "%s returned %d", u.Host, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	return Next(result), nil
}

var _ Operation = (*HTTPRequest)(nil)
