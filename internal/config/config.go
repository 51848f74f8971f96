package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	WebSocket   WebSocketConfig
	Presence    PresenceConfig
	Permissions PermissionsConfig
	CORS        CORSConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver   string // couchdb or memory
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DSN is the CouchDB URL with credentials.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

type JWTConfig struct {
	Secret string
}

type RedisConfig struct {
	// URL enables the shared token revocation list; empty keeps it in memory.
	URL string
}

type WebSocketConfig struct {
	ReadBufferSize      int
	WriteBufferSize     int
	MaxMessageSize      int64
	WriteWait           time.Duration
	PongWait            time.Duration
	PingPeriod          time.Duration
	MaxSessionsPerAdmin int
	SendQueueSize       int
}

type PresenceConfig struct {
	HeartbeatTimeout time.Duration
	ReaperInterval   time.Duration
}

type PermissionsConfig struct {
	SweepInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string // text or json
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	godotenv.Load()

	shutdown, err := getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	writeWait, err := getEnvAsDuration("WS_WRITE_WAIT", "10s")
	if err != nil {
		return nil, err
	}
	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", "60s")
	if err != nil {
		return nil, err
	}
	heartbeatTimeout, err := getEnvAsDuration("HEARTBEAT_TIMEOUT", "90s")
	if err != nil {
		return nil, err
	}
	reaperInterval, err := getEnvAsDuration("REAPER_INTERVAL", "15s")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvAsDuration("PERMISSION_SWEEP_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			Env:             getEnv("ENV", "development"),
			ShutdownTimeout: shutdown,
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "couchdb")),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "device_relay"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:      getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:     getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:      int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 10485760)),
			WriteWait:           writeWait,
			PongWait:            pongWait,
			PingPeriod:          pongWait * 9 / 10,
			MaxSessionsPerAdmin: getEnvAsInt("WS_MAX_SESSIONS_PER_ADMIN", 5),
			SendQueueSize:       getEnvAsInt("WS_SEND_QUEUE_SIZE", 256),
		},
		Presence: PresenceConfig{
			HeartbeatTimeout: heartbeatTimeout,
			ReaperInterval:   reaperInterval,
		},
		Permissions: PermissionsConfig{
			SweepInterval: sweepInterval,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "couchdb", "memory":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want couchdb or memory", c.Database.Driver)
	}
	if c.Server.Env == "production" && c.JWT.Secret == "dev-secret-change-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Presence.HeartbeatTimeout <= c.WebSocket.PingPeriod {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed the ping period (%s)", c.Presence.HeartbeatTimeout, c.WebSocket.PingPeriod)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
