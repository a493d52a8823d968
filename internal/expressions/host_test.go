package expressions

import "github.com/rendis/routeflow/pkg/schema"

type fakeHost struct {
	method  string
	path    string
	body    any
	headers map[string]string
	cookies map[string]string
	query   map[string]string
	params  map[string]string

	setHeaders map[string]string
	setCookies []schema.Cookie
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		method:     "POST",
		path:       "/orders/42",
		body:       map[string]any{"qty": float64(3)},
		headers:    map[string]string{"X-Tenant": "acme"},
		cookies:    map[string]string{"session": "abc"},
		query:      map[string]string{"page": "2"},
		params:     map[string]string{"id": "42"},
		setHeaders: map[string]string{},
	}
}

func (h *fakeHost) Method() string                { return h.method }
func (h *fakeHost) Path() string                  { return h.path }
func (h *fakeHost) Body() any                     { return h.body }
func (h *fakeHost) Header(name string) string     { return h.headers[name] }
func (h *fakeHost) Cookie(name string) string     { return h.cookies[name] }
func (h *fakeHost) QueryParam(name string) string { return h.query[name] }
func (h *fakeHost) PathParam(name string) string  { return h.params[name] }
func (h *fakeHost) SetHeader(name, value string)  { h.setHeaders[name] = value }
func (h *fakeHost) SetCookie(c schema.Cookie)     { h.setCookies = append(h.setCookies, c) }
