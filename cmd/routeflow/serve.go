package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/routeflow/internal/bridge"
	"github.com/rendis/routeflow/internal/cache"
	"github.com/rendis/routeflow/internal/engine"
	"github.com/rendis/routeflow/internal/expressions"
	"github.com/rendis/routeflow/internal/integrations"
	"github.com/rendis/routeflow/internal/server"
	"github.com/rendis/routeflow/internal/store"
	"github.com/rendis/routeflow/pkg/schema"
)

// app is the wired serving stack over one store.
type app struct {
	store    store.Store
	resolver *integrations.Resolver
	graphs   *cache.GraphCache
	server   *server.Server
	logger   *slog.Logger
}

func newApp(cfg Config, st store.Store, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	execTimeout, scriptTimeout, err := cfg.durations()
	if err != nil {
		return nil, err
	}

	vault, err := openVault(cfg, st)
	if err != nil {
		return nil, err
	}
	var secretsResolver integrations.SecretResolver
	if vault != nil {
		secretsResolver = vault
	}
	resolver := integrations.NewResolver(st, secretsResolver, logger)
	if execTimeout > 0 {
		// No execution holds a pool longer than its own budget.
		resolver.CloseGrace = execTimeout + time.Second
	}

	engines, err := expressions.NewEngines(scriptTimeout)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engines, resolver, logger, engine.Config{
		MaxLoopIterations: cfg.MaxLoopIterations,
		MaxSteps:          cfg.MaxSteps,
		MaxResponseBody:   cfg.HTTPMaxResponseBody,
		HTTPClient:        &http.Client{Timeout: execTimeout},
		Hooks: []engine.TransitionHook{
			func(from, to schema.ExecutionState) {
				if from != to {
					logger.Debug("execution transition", "from", from, "to", to)
				}
			},
		},
	})

	builder, err := newBuilder()
	if err != nil {
		return nil, err
	}
	graphs := cache.NewGraphCache(st, builder, logger)

	metrics, err := bridge.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	br := bridge.New(graphs, eng, bridge.Config{
		Timeout: execTimeout,
		History: st,
		Metrics: metrics,
		Logger:  logger,
	})

	srv := server.New(st, br, server.Options{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  logger,
		OnReload: func(ctx context.Context, routeIDs []string) {
			n, err := graphs.Warm(ctx, routeIDs, cfg.WarmConcurrency)
			if err != nil {
				logger.WarnContext(ctx, "warm cache interrupted", "error", err)
			}
			logger.InfoContext(ctx, "graph cache warmed", "loaded", n, "routes", len(routeIDs))
		},
	})

	return &app{store: st, resolver: resolver, graphs: graphs, server: srv, logger: logger}, nil
}

// subscriber applies invalidations to this app's caches and route table.
func (a *app) subscriber(cfg Config, rdb *redis.Client) (*cache.Subscriber, error) {
	return cache.NewSubscriber(rdb, a.graphs,
		cache.WithChannel(cfg.InvalidationChannel),
		cache.WithIntegrations(a.resolver),
		cache.WithRoutesChanged(func(ctx context.Context) error {
			_, err := a.server.Reload(ctx)
			return err
		}),
		cache.WithLogger(a.logger),
	)
}

func (a *app) Close() error { return a.resolver.Close() }

func runServe(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for cache invalidation (disabled if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a, err := newApp(cfg, st, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.server.Reload(ctx); err != nil {
		return err
	}

	rdb, err := newRedis(cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.ListenAndServe(ctx, cfg.ListenAddr) })
	if rdb != nil {
		defer rdb.Close()
		sub, err := a.subscriber(cfg, rdb)
		if err != nil {
			return err
		}
		g.Go(func() error { return sub.Run(ctx) })
	} else {
		logger.Info("redis_url not set, cache invalidation disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
