package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// runInstall writes settings.json. The vault passphrase is never persisted.
func runInstall(args []string) error {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json, text")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for cache invalidation")
	fs.StringVar(&cfg.ExecutionTimeout, "execution-timeout", cfg.ExecutionTimeout, "wall-clock budget per request")
	force := fs.Bool("force", false, "overwrite an existing settings.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, _, err := cfg.durations(); err != nil {
		return err
	}

	path := settingsPath()
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(routeflowDir(), 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", routeflowDir(), err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	cfg.VaultSalt = hex.EncodeToString(salt)

	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Set ROUTEFLOW_VAULT_PASSPHRASE to enable encrypted integration DSNs.")
	return nil
}
