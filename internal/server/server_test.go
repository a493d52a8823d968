package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/routeflow/pkg/schema"
)

type routeList struct {
	mu     sync.Mutex
	routes []*schema.Route
}

func (l *routeList) ListRoutes(context.Context) ([]*schema.Route, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*schema.Route(nil), l.routes...), nil
}

func (l *routeList) set(routes ...*schema.Route) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes = routes
}

// echoHandlers answers with the route id and the id path param.
type echoHandlers struct{}

func (echoHandlers) Handler(routeID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, routeID+":"+chi.URLParam(r, "id"))
	})
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func newTestServer(routes *routeList, opts Options) *Server {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(routes, echoHandlers{}, opts)
}

func TestServer_NotLoaded(t *testing.T) {
	s := newTestServer(&routeList{}, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), http.MethodGet, "/x").Code)
}

func TestServer_ReloadMountsRoutes(t *testing.T) {
	routes := &routeList{}
	routes.set(
		&schema.Route{ID: "get-item", Method: "get", Path: "/items/{id}"},
		&schema.Route{ID: "create-item", Method: http.MethodPost, Path: "/items"},
	)
	var reloaded []string
	s := newTestServer(routes, Options{
		OnReload: func(_ context.Context, ids []string) { reloaded = ids },
	})

	n, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"get-item", "create-item"}, reloaded)

	h := s.Handler()
	rec := get(t, h, http.MethodGet, "/items/42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "get-item:42", rec.Body.String())

	assert.Equal(t, "create-item:", get(t, h, http.MethodPost, "/items").Body.String())
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodDelete, "/items").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, "/other").Code)
	assert.Equal(t, http.StatusNoContent, get(t, h, http.MethodGet, "/healthz").Code)
}

func TestServer_ReloadSwapsTable(t *testing.T) {
	routes := &routeList{}
	routes.set(&schema.Route{ID: "a", Method: http.MethodGet, Path: "/a"})
	s := newTestServer(routes, Options{})
	_, err := s.Reload(context.Background())
	require.NoError(t, err)

	h := s.Handler()
	assert.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/a").Code)

	routes.set(&schema.Route{ID: "b", Method: http.MethodGet, Path: "/b"})
	_, err = s.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, "/a").Code)
	assert.Equal(t, "b:", get(t, h, http.MethodGet, "/b").Body.String())
}

func TestServer_ReloadSkipsInvalidRoutes(t *testing.T) {
	routes := &routeList{}
	routes.set(
		&schema.Route{ID: "bad-method", Method: "BREW", Path: "/coffee"},
		&schema.Route{ID: "no-slash", Method: http.MethodGet, Path: "items"},
		&schema.Route{ID: "reserved", Method: http.MethodGet, Path: "/healthz"},
		&schema.Route{ID: "bad-pattern", Method: http.MethodGet, Path: "/x/{id"},
		&schema.Route{ID: "good", Method: http.MethodGet, Path: "/good"},
	)
	s := newTestServer(routes, Options{})

	n, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), http.MethodGet, "/good").Code)
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "routeflow_executions_total 0\n")
	})
	s := newTestServer(&routeList{}, Options{Metrics: metrics})
	_, err := s.Reload(context.Background())
	require.NoError(t, err)

	rec := get(t, s.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "routeflow_executions_total")
}

func TestHandlerSwapper_Swap(t *testing.T) {
	sw := NewHandlerSwapper(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	assert.Equal(t, http.StatusTeapot, get(t, sw, http.MethodGet, "/").Code)

	sw.Swap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	assert.Equal(t, http.StatusAccepted, get(t, sw, http.MethodGet, "/").Code)
}
