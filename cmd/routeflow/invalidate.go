package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rendis/routeflow/internal/cache"
)

func runInvalidate(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL")
	fs.StringVar(&cfg.InvalidationChannel, "channel", cfg.InvalidationChannel, "invalidation channel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: routeflow invalidate <route|routes|integration|all> [id]")
	}

	msg := cache.Message{Kind: cache.Kind(fs.Arg(0)), ID: fs.Arg(1)}
	switch msg.Kind {
	case cache.KindRoute:
		if msg.ID == "" {
			return fmt.Errorf("route invalidation needs a route id")
		}
	case cache.KindRoutes, cache.KindIntegration, cache.KindAll:
	default:
		return fmt.Errorf("unknown kind %q", msg.Kind)
	}

	rdb, err := newRedis(cfg)
	if err != nil {
		return err
	}
	if rdb == nil {
		return fmt.Errorf("redis_url is not configured")
	}
	defer rdb.Close()

	n, err := cache.NewPublisher(rdb, cfg.InvalidationChannel).Publish(context.Background(), msg)
	if err != nil {
		return err
	}
	fmt.Printf("published %s to %d subscriber(s)\n", msg.Kind, n)
	return nil
}
