package domain

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring behaviour
	Scoring  ScoringConfig  `json:"scoring"`
	Throttle ThrottleConfig `json:"throttle"`
	Worker   WorkerConfig   `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"readTimeout"`  // seconds
	WriteTimeout   int      `json:"writeTimeout"` // seconds
	AllowedOrigins []string `json:"allowedOrigins"`
}

// ScoringConfig holds lead-ranking settings.
type ScoringConfig struct {
	// HighValueLeads is the size of the "top leads" panel.
	HighValueLeads int `json:"highValueLeads"`
}

// ThrottleConfig limits how fast a visitor can post into one session.
type ThrottleConfig struct {
	Enabled     bool          `json:"enabled"`
	MaxMessages int64         `json:"maxMessages"`
	Window      time.Duration `json:"window"`
}

// WorkerConfig controls the asynchronous lead detector.
type WorkerConfig struct {
	Enabled   bool          `json:"enabled"`
	MarkerTTL time.Duration `json:"markerTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and the channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			NATSQueueGroup:    "kestrel-workers",
		},
		Scoring: ScoringConfig{
			HighValueLeads: 3,
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			MaxMessages: 30,
			Window:      time.Minute,
		},
		Worker: WorkerConfig{
			Enabled:   true,
			MarkerTTL: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// LoadConfig returns DefaultConfig overlaid with KESTREL_* environment variables.
func LoadConfig() *Config {
	cfg := DefaultConfig()

	cfg.Server.Host = envString("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("KESTREL_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = envInt("KESTREL_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = envInt("KESTREL_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	if origins := os.Getenv("KESTREL_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Repository.Driver = envString("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = envString("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresDSN = envString("KESTREL_DATABASE_URL", cfg.Repository.PostgresDSN)
	cfg.Repository.PostgresHost = envString("KESTREL_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = envInt("KESTREL_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = envString("KESTREL_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = envString("KESTREL_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = envString("KESTREL_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = envString("KESTREL_PG_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.MaxOpenConns = envInt("KESTREL_DB_MAX_OPEN", cfg.Repository.MaxOpenConns)

	cfg.Cache.Type = envString("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = envString("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = envString("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = envInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.EnableTwoPhase = envBool("KESTREL_CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)

	cfg.EventBus.Type = envString("KESTREL_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = envString("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = envString("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueueGroup = envString("KESTREL_NATS_QUEUE", cfg.EventBus.NATSQueueGroup)

	cfg.Scoring.HighValueLeads = envInt("KESTREL_HIGH_VALUE_LEADS", cfg.Scoring.HighValueLeads)

	cfg.Throttle.Enabled = envBool("KESTREL_THROTTLE", cfg.Throttle.Enabled)
	cfg.Throttle.MaxMessages = int64(envInt("KESTREL_THROTTLE_MAX", int(cfg.Throttle.MaxMessages)))
	cfg.Throttle.Window = envDuration("KESTREL_THROTTLE_WINDOW", cfg.Throttle.Window)

	cfg.Worker.Enabled = envBool("KESTREL_LEAD_WORKER", cfg.Worker.Enabled)
	cfg.Worker.MarkerTTL = envDuration("KESTREL_LEAD_MARKER_TTL", cfg.Worker.MarkerTTL)

	cfg.Logging.Level = envString("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envString("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	if envBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = envBool("KESTREL_TRACING", cfg.Tracing.Enabled)

	return cfg
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
