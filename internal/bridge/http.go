package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/routeflow/pkg/schema"
)

// Handler serves routeID over net/http. Path parameters come from the chi
// route context, so the handler must be mounted on a chi router for them
// to resolve.
func (b *Bridge) Handler(routeID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := b.ReadRequest(w, r)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, map[string]any{"message": err.Error()})
			return
		}
		WriteResponse(w, b.Handle(r.Context(), routeID, req))
	})
}

// ReadRequest converts r into the request seen by a walk. JSON bodies are
// decoded, form bodies become an object of first values, anything else is
// passed as a string. An empty body is nil.
func (b *Bridge) ReadRequest(w http.ResponseWriter, r *http.Request) (*schema.Request, error) {
	req := &schema.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Headers:     make(map[string]string, len(r.Header)),
		Cookies:     make(map[string]string),
		QueryParams: firstValues(r.URL.Query()),
		PathParams:  make(map[string]string),
	}
	for name, vals := range r.Header {
		if len(vals) > 0 {
			req.Headers[name] = vals[0]
		}
	}
	for _, c := range r.Cookies() {
		if _, dup := req.Cookies[c.Name]; !dup {
			req.Cookies[c.Name] = c.Value
		}
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			req.PathParams[k] = rctx.URLParams.Values[i]
		}
	}

	if r.Body == nil {
		return req, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.maxBody))
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(r.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

func decodeBody(contentType string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.New("malformed JSON body")
		}
		return v, nil
	case mediaType == "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, errors.New("malformed form body")
		}
		out := make(map[string]any, len(vals))
		for k, v := range firstValues(vals) {
			out[k] = v
		}
		return out, nil
	case mediaType == "":
		// Untyped bodies that parse as JSON are treated as JSON.
		var v any
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	}
	return string(data), nil
}

func firstValues(vals url.Values) map[string]string {
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// WriteResponse writes resp to w. Headers and cookies set by the walk are
// applied first. A nil body writes no content, a string body is sent as
// text unless the walk set a Content-Type, anything else is JSON.
func WriteResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for name, value := range resp.Headers {
		h.Set(name, value)
	}
	for _, c := range resp.Cookies {
		http.SetCookie(w, toHTTPCookie(c))
	}

	switch body := resp.Body.(type) {
	case nil:
		w.WriteHeader(resp.Status)
	case string:
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(resp.Status)
		_, _ = io.WriteString(w, body)
	default:
		writeJSON(w, resp.Status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"message":"response body is not serializable"}`)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func toHTTPCookie(c schema.Cookie) *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	switch strings.ToLower(c.SameSite) {
	case "lax":
		hc.SameSite = http.SameSiteLaxMode
	case "strict":
		hc.SameSite = http.SameSiteStrictMode
	case "none":
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}
