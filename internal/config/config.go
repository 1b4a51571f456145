// Package config loads settings from .env, an optional YAML file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full settings tree for the client and the reference backend.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Sync      SyncConfig      `yaml:"sync"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
	LogJSON   bool            `yaml:"log_json"`
}

type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Pagination      string        `yaml:"pagination"`
	VideoTokenPaths []string      `yaml:"video_token_paths"`
	QAURL           string        `yaml:"qa_url"`
}

type SyncConfig struct {
	GroupInterval  time.Duration `yaml:"group_interval"`
	DirectInterval time.Duration `yaml:"direct_interval"`
	Window         int           `yaml:"window"`
	MarkBatch      int           `yaml:"mark_batch"`
}

type StorageConfig struct {
	// Backend is "pebble", "redis" or "memory".
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type TelemetryConfig struct {
	AMQPURL      string `yaml:"amqp_url"`
	Exchange     string `yaml:"exchange"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Service      string `yaml:"service"`
	Environment  string `yaml:"environment"`
}

type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	DSN       string        `yaml:"dsn"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// RatePerSecond and RateBurst bound requests per token.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	// Users seeds the in-memory store as "name:password" pairs.
	Users []string `yaml:"users"`
}

// Default returns the built-in settings.
func Default() Config {
	dir := ".meetsync"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".meetsync")
	}
	return Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8083",
			Timeout:    15 * time.Second,
			Pagination: "offset",
		},
		Sync: SyncConfig{
			GroupInterval:  4 * time.Second,
			DirectInterval: 8 * time.Second,
			Window:         50,
			MarkBatch:      5,
		},
		Storage: StorageConfig{
			Backend:     "pebble",
			Dir:         filepath.Join(dir, "state"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "meetsync:",
		},
		Telemetry: TelemetryConfig{
			Exchange:    "meetsync.events",
			Service:     "meetsync",
			Environment: "dev",
		},
		Server: ServerConfig{
			Addr:          ":8083",
			JWTSecret:     "dev-secret",
			TokenTTL:      24 * time.Hour,
			RatePerSecond: 5,
			RateBurst:     10,
		},
		LogLevel: "info",
	}
}

// Load applies .env, then path (if non-empty), then MEETSYNC_* environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.API.BaseURL = getEnv("MEETSYNC_API_URL", cfg.API.BaseURL)
	cfg.API.Timeout = getEnvDuration("MEETSYNC_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.Pagination = getEnv("MEETSYNC_PAGINATION", cfg.API.Pagination)
	cfg.API.QAURL = getEnv("MEETSYNC_QA_URL", cfg.API.QAURL)
	if v := getEnv("MEETSYNC_VIDEO_TOKEN_PATHS", ""); v != "" {
		cfg.API.VideoTokenPaths = strings.Split(v, ",")
	}

	cfg.Sync.GroupInterval = getEnvDuration("MEETSYNC_GROUP_INTERVAL", cfg.Sync.GroupInterval)
	cfg.Sync.DirectInterval = getEnvDuration("MEETSYNC_DIRECT_INTERVAL", cfg.Sync.DirectInterval)
	cfg.Sync.Window = getEnvInt("MEETSYNC_WINDOW", cfg.Sync.Window)
	cfg.Sync.MarkBatch = getEnvInt("MEETSYNC_MARK_BATCH", cfg.Sync.MarkBatch)

	cfg.Storage.Backend = getEnv("MEETSYNC_STORAGE", cfg.Storage.Backend)
	cfg.Storage.Dir = getEnv("MEETSYNC_STATE_DIR", cfg.Storage.Dir)
	cfg.Storage.RedisAddr = getEnv("MEETSYNC_REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = getEnv("MEETSYNC_REDIS_PASS", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = getEnvInt("MEETSYNC_REDIS_DB", cfg.Storage.RedisDB)

	cfg.Telemetry.AMQPURL = getEnv("AMQP_URL", cfg.Telemetry.AMQPURL)
	cfg.Telemetry.Exchange = getEnv("AMQP_EXCHANGE", cfg.Telemetry.Exchange)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.Environment = getEnv("MEETSYNC_ENV", cfg.Telemetry.Environment)

	cfg.Server.Addr = getEnv("MEETSYNC_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.DSN = getEnv("DB_DSN", cfg.Server.DSN)
	cfg.Server.JWTSecret = getEnv("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.RatePerSecond = getEnvFloat("MEETSYNC_RATE", cfg.Server.RatePerSecond)
	cfg.Server.RateBurst = getEnvInt("MEETSYNC_RATE_BURST", cfg.Server.RateBurst)
	if v := getEnv("MEETSYNC_USERS", ""); v != "" {
		cfg.Server.Users = strings.Split(v, ",")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("LOG_JSON", cfg.LogJSON)
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	switch c.API.Pagination {
	case "offset", "page":
	default:
		return fmt.Errorf("api.pagination must be offset or page, got %q", c.API.Pagination)
	}
	switch c.Storage.Backend {
	case "pebble", "redis", "memory":
	default:
		return fmt.Errorf("storage.backend must be pebble, redis or memory, got %q", c.Storage.Backend)
	}
	if c.Sync.Window <= 0 || c.Sync.MarkBatch <= 0 {
		return fmt.Errorf("sync.window and sync.mark_batch must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}
