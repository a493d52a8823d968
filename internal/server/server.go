// Package server mounts stored routes on a chi router and serves them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/routeflow/pkg/schema"
)

// RouteLister lists stored routes. Satisfied by store.Store.
type RouteLister interface {
	ListRoutes(ctx context.Context) ([]*schema.Route, error)
}

// RouteHandlers creates the handler serving one route. Satisfied by
// bridge.Bridge.
type RouteHandlers interface {
	Handler(routeID string) http.Handler
}

// Options configures a Server.
type Options struct {
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// OnReload is called with the mounted route ids after every reload.
	OnReload func(ctx context.Context, routeIDs []string)
	Logger   *slog.Logger
}

// Server serves the route table. The table is rebuilt by Reload and
// swapped in atomically.
type Server struct {
	routes   RouteLister
	handlers RouteHandlers
	opts     Options
	swapper  *HandlerSwapper
	logger   *slog.Logger
}

// New creates a Server. Call Reload before serving.
func New(routes RouteLister, handlers RouteHandlers, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		routes:   routes,
		handlers: handlers,
		opts:     opts,
		swapper:  NewHandlerSwapper(nil),
		logger:   opts.Logger,
	}
}

// Handler returns the live handler.
func (s *Server) Handler() http.Handler { return s.swapper }

var methods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

// Reload rebuilds the router from the stored routes and swaps it in.
// Routes with an unsupported method or an invalid path are skipped with a
// warning. It returns the number of mounted routes.
func (s *Server) Reload(ctx context.Context) (int, error) {
	routes, err := s.routes.ListRoutes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list routes: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	var mounted []string
	for _, rt := range routes {
		if err := mount(r, rt, s.handlers.Handler(rt.ID)); err != nil {
			s.logger.WarnContext(ctx, "route skipped", "route_id", rt.ID, "method", rt.Method, "path", rt.Path, "error", err)
			continue
		}
		mounted = append(mounted, rt.ID)
	}

	s.swapper.Swap(r)
	s.logger.InfoContext(ctx, "route table loaded", "routes", len(mounted), "skipped", len(routes)-len(mounted))
	if s.opts.OnReload != nil {
		s.opts.OnReload(ctx, mounted)
	}
	return len(mounted), nil
}

// mount registers h, turning chi's pattern panics into errors.
func mount(r chi.Router, rt *schema.Route, h http.Handler) (err error) {
	method := strings.ToUpper(rt.Method)
	if !methods[method] {
		return fmt.Errorf("unsupported method %q", rt.Method)
	}
	if !strings.HasPrefix(rt.Path, "/") {
		return errors.New("path must start with /")
	}
	if rt.Path == "/healthz" || rt.Path == "/metrics" {
		return fmt.Errorf("path %s is reserved", rt.Path)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("invalid path: %v", p)
		}
	}()
	r.Method(method, rt.Path, h)
	return nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
