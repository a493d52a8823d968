package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all routeflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr          string `json:"listen_addr"`
	DBPath              string `json:"db_path"`
	LogLevel            string `json:"log_level"`
	LogFormat           string `json:"log_format"`
	RedisURL            string `json:"redis_url"`
	InvalidationChannel string `json:"invalidation_channel"`
	ExecutionTimeout    string `json:"execution_timeout"`
	ScriptTimeout       string `json:"script_timeout"`
	MaxLoopIterations   int    `json:"max_loop_iterations"`
	MaxSteps            int    `json:"max_steps"`
	VaultPassphrase     string `json:"vault_passphrase,omitempty"`
	VaultSalt           string `json:"vault_salt,omitempty"`
	HTTPMaxResponseBody int64  `json:"http_max_response_body"`
	WarmConcurrency     int    `json:"warm_concurrency"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:          ":4200",
		DBPath:              filepath.Join(routeflowDir(), "routeflow.db"),
		LogLevel:            "info",
		LogFormat:           "json",
		InvalidationChannel: "routeflow:invalidate",
		ExecutionTimeout:    "30s",
		ScriptTimeout:       "1s",
		MaxLoopIterations:   10000,
		MaxSteps:            100000,
		HTTPMaxResponseBody: 10 << 20,
		WarmConcurrency:     4,
	}
}

func routeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routeflow"
	}
	return filepath.Join(home, ".routeflow")
}

func settingsPath() string {
	return filepath.Join(routeflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	applyEnv(&cfg, os.Getenv)
	return cfg
}

func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if n, err := strconv.Atoi(getenv(key)); err == nil {
			*dst = n
		}
	}

	str("ROUTEFLOW_LISTEN_ADDR", &cfg.ListenAddr)
	str("ROUTEFLOW_DB_PATH", &cfg.DBPath)
	str("ROUTEFLOW_LOG_LEVEL", &cfg.LogLevel)
	str("ROUTEFLOW_LOG_FORMAT", &cfg.LogFormat)
	str("ROUTEFLOW_REDIS_URL", &cfg.RedisURL)
	str("ROUTEFLOW_INVALIDATION_CHANNEL", &cfg.InvalidationChannel)
	str("ROUTEFLOW_EXECUTION_TIMEOUT", &cfg.ExecutionTimeout)
	str("ROUTEFLOW_SCRIPT_TIMEOUT", &cfg.ScriptTimeout)
	str("ROUTEFLOW_VAULT_PASSPHRASE", &cfg.VaultPassphrase)
	str("ROUTEFLOW_VAULT_SALT", &cfg.VaultSalt)
	integer("ROUTEFLOW_MAX_LOOP_ITERATIONS", &cfg.MaxLoopIterations)
	integer("ROUTEFLOW_MAX_STEPS", &cfg.MaxSteps)
	integer("ROUTEFLOW_WARM_CONCURRENCY", &cfg.WarmConcurrency)
	if n, err := strconv.ParseInt(getenv("ROUTEFLOW_HTTP_MAX_RESPONSE_BODY"), 10, 64); err == nil {
		cfg.HTTPMaxResponseBody = n
	}
}

// durations parses the timeout settings.
func (c Config) durations() (execution, script time.Duration, err error) {
	execution, err = time.ParseDuration(c.ExecutionTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("execution_timeout: %w", err)
	}
	script, err = time.ParseDuration(c.ScriptTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("script_timeout: %w", err)
	}
	if execution <= 0 || script <= 0 {
		return 0, 0, fmt.Errorf("timeouts must be positive")
	}
	return execution, script, nil
}
