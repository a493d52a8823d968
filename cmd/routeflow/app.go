package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/routeflow/internal/blocks"
	"github.com/rendis/routeflow/internal/graph"
	"github.com/rendis/routeflow/internal/logging"
	"github.com/rendis/routeflow/internal/secrets"
	"github.com/rendis/routeflow/internal/store"
	"github.com/rendis/routeflow/internal/validation"
)

func newLogger(cfg Config) *slog.Logger {
	return logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

// storeURI turns a plain file path into a libSQL file URI.
func storeURI(path string) string {
	for _, prefix := range []string{"file:", "libsql:", "http:", "https:"} {
		if strings.HasPrefix(path, prefix) {
			return path
		}
	}
	return "file:" + path
}

func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if !strings.Contains(cfg.DBPath, "://") {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s, err := store.NewLibSQLStore(storeURI(cfg.DBPath))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// openVault returns nil when no passphrase is configured.
func openVault(cfg Config, s secrets.SecretStore) (*secrets.AESVault, error) {
	if cfg.VaultPassphrase == "" {
		return nil, nil
	}
	return secrets.NewAESVault(s, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
}

func newBuilder() (*graph.Builder, error) {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	reg, err := blocks.NewRegistry(v)
	if err != nil {
		return nil, err
	}
	return graph.NewBuilder(reg, v), nil
}

// newRedis returns nil when no redis_url is configured.
func newRedis(cfg Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis_url: %w", err)
	}
	opts.Protocol = 2
	opts.DisableIdentity = true
	return redis.NewClient(opts), nil
}
