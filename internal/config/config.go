package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the runtime settings of the verification service. Values come
// from a JSON config file when present, with environment variables taking
// precedence so deployments can override individual fields.
type Config struct {
	ListenAddr    string `json:"listen_addr"`
	SessionTTL    int    `json:"session_ttl_seconds"`
	Retention     int    `json:"retention_seconds"`
	SweepInterval int    `json:"sweep_interval_seconds"`
	QRScheme      string `json:"qr_scheme"`
	AnchorsPath   string `json:"anchors_path"`
	HighThreshold int    `json:"high_threshold"`

	InitPerMinute   int `json:"init_per_minute"`
	VerifyPerMinute int `json:"verify_per_minute"`

	// RedisAddr switches the session store and rate limiter to Redis when
	// set; empty keeps everything in process memory.
	RedisAddr string `json:"redis_addr"`

	// CollectorKeyHash is a bcrypt hash. When set, evidence submissions must
	// carry the matching key in X-Collector-Key.
	CollectorKeyHash string `json:"collector_key_hash"`

	LogFile string `json:"log_file"`
}

// Defaults returns the built-in configuration: 30 second sessions, sweep
// every 5 seconds, 5 minute retention, limits from the original deployment.
func Defaults() Config {
	return Config{
		ListenAddr:      ":8000",
		SessionTTL:      30,
		Retention:       300,
		SweepInterval:   5,
		QRScheme:        "myapp",
		AnchorsPath:     "data/official_domains.json",
		HighThreshold:   80,
		InitPerMinute:   20,
		VerifyPerMinute: 60,
	}
}

// Load builds the configuration: defaults, then the JSON file at path (or
// ./config.json when path is empty), then environment overrides. The implicit
// default file is optional; a path the caller named must exist.
func Load(path string) (Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit || !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("VERIFYD_LISTEN_ADDR", &cfg.ListenAddr)
	envInt("VERIFYD_SESSION_TTL", &cfg.SessionTTL)
	envInt("VERIFYD_RETENTION", &cfg.Retention)
	envInt("VERIFYD_SWEEP_INTERVAL", &cfg.SweepInterval)
	envStr("VERIFYD_QR_SCHEME", &cfg.QRScheme)
	envStr("VERIFYD_ANCHORS_PATH", &cfg.AnchorsPath)
	envInt("VERIFYD_HIGH_THRESHOLD", &cfg.HighThreshold)
	envInt("VERIFYD_INIT_PER_MINUTE", &cfg.InitPerMinute)
	envInt("VERIFYD_VERIFY_PER_MINUTE", &cfg.VerifyPerMinute)
	envStr("VERIFYD_REDIS_ADDR", &cfg.RedisAddr)
	envStr("VERIFYD_COLLECTOR_KEY_HASH", &cfg.CollectorKeyHash)
	envStr("VERIFYD_LOG_FILE", &cfg.LogFile)
}

func (c Config) validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %d", c.SessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %d", c.SweepInterval)
	}
	if c.HighThreshold < 0 || c.HighThreshold > 100 {
		return fmt.Errorf("high threshold must be within [0,100], got %d", c.HighThreshold)
	}
	return nil
}

// TTL returns the session time-to-live as a duration.
func (c Config) TTL() time.Duration { return time.Duration(c.SessionTTL) * time.Second }

// RetentionWindow returns the terminal-session retention as a duration.
func (c Config) RetentionWindow() time.Duration { return time.Duration(c.Retention) * time.Second }

// SweepEvery returns the sweep interval as a duration.
func (c Config) SweepEvery() time.Duration { return time.Duration(c.SweepInterval) * time.Second }

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
