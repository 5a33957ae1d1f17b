// Package config validates and centralizes environment-derived settings for
// the LiveShare collaboration service.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// AccessOracleAddr is the base URL of the external access-control
	// service LiveShare consults for view/edit permission on a diagram.
	AccessOracleAddr string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth0
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	OtelCollectorAddr string

	// Rate Limits (HTTP Control API; the per-connection token-bucket
	// limits for the streaming path live in RateLimitVolatile/Normal/Critical)
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Room behavior.
	MaxUsersPerRoom       int
	CursorThrottleMs      int
	SchemaThrottleMs      int
	AwarenessBatchMs      int
	FullSyncIntervalS     int
	HandshakeTimeoutS     int
	HeartbeatIntervalS    int
	RoomInactivityS       int
	SnapshotIntervalS     int
	SnapshotRetentionDays int

	// RateLimitVolatile/Normal/Critical are capacity-refill token-bucket
	// triples, e.g. "120-60" = burst of 120, refilling 60/s.
	RateLimitVolatile string
	RateLimitNormal   string
	RateLimitCritical string
}

const maxUsersPerRoomCeiling = 200

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required unless SKIP_AUTH=true: ACCESS_ORACLE_ADDR
	skipAuth := os.Getenv("SKIP_AUTH") == "true"
	cfg.AccessOracleAddr = os.Getenv("ACCESS_ORACLE_ADDR")
	if cfg.AccessOracleAddr == "" && !skipAuth {
		errors = append(errors, "ACCESS_ORACLE_ADDR is required")
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = skipAuth
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	var err error
	if cfg.MaxUsersPerRoom, err = getEnvIntOrDefault("MAX_USERS_PER_ROOM", 50); err != nil {
		errors = append(errors, err.Error())
	} else if cfg.MaxUsersPerRoom > maxUsersPerRoomCeiling {
		errors = append(errors, fmt.Sprintf("MAX_USERS_PER_ROOM must not exceed %d (got %d)", maxUsersPerRoomCeiling, cfg.MaxUsersPerRoom))
	}
	if cfg.CursorThrottleMs, err = getEnvIntOrDefault("CURSOR_THROTTLE_MS", 33); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.SchemaThrottleMs, err = getEnvIntOrDefault("SCHEMA_THROTTLE_MS", 150); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.AwarenessBatchMs, err = getEnvIntOrDefault("AWARENESS_BATCH_MS", 100); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.FullSyncIntervalS, err = getEnvIntOrDefault("FULL_SYNC_INTERVAL_S", 20); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.HandshakeTimeoutS, err = getEnvIntOrDefault("HANDSHAKE_TIMEOUT_S", 10); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.HeartbeatIntervalS, err = getEnvIntOrDefault("HEARTBEAT_INTERVAL_S", 15); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.RoomInactivityS, err = getEnvIntOrDefault("ROOM_INACTIVITY_S", 600); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.SnapshotIntervalS, err = getEnvIntOrDefault("SNAPSHOT_INTERVAL_S", 30); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.SnapshotRetentionDays, err = getEnvIntOrDefault("SNAPSHOT_RETENTION_DAYS", 7); err != nil {
		errors = append(errors, err.Error())
	}

	cfg.RateLimitVolatile = getEnvOrDefault("RATE_LIMIT_VOLATILE", "120-60")
	cfg.RateLimitNormal = getEnvOrDefault("RATE_LIMIT_NORMAL", "60-30")
	cfg.RateLimitCritical = getEnvOrDefault("RATE_LIMIT_CRITICAL", "20-10")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"access_oracle_addr", cfg.AccessOracleAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"max_users_per_room", cfg.MaxUsersPerRoom,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got '%s')", key, value)
	}
	return n, nil
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
