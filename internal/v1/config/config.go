package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Chat behavior
	Namespace          string
	HistoryMaxMessages int
	UseRawErrorObjects bool

	// Feature gates, all off by default
	EnableDirectMessages  bool
	EnableRoomsManagement bool
	EnableUserlistUpdates bool

	// Clustering
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	BusAckTimeout time.Duration

	// Lifecycle
	CloseTimeout time.Duration

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
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

	// Optional: NAMESPACE scopes the bus channel so unrelated deployments can
	// share one Redis.
	cfg.Namespace = getEnvOrDefault("NAMESPACE", "chat-service")

	// Optional: HISTORY_MAX_MESSAGES (defaults to 100)
	cfg.HistoryMaxMessages = 100
	if v := os.Getenv("HISTORY_MAX_MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errors = append(errors, fmt.Sprintf("HISTORY_MAX_MESSAGES must be a non-negative integer (got '%s')", v))
		} else {
			cfg.HistoryMaxMessages = n
		}
	}

	cfg.UseRawErrorObjects = os.Getenv("USE_RAW_ERROR_OBJECTS") == "true"

	// Feature gates
	cfg.EnableDirectMessages = os.Getenv("ENABLE_DIRECT_MESSAGES") == "true"
	cfg.EnableRoomsManagement = os.Getenv("ENABLE_ROOMS_MANAGEMENT") == "true"
	cfg.EnableUserlistUpdates = os.Getenv("ENABLE_USERLIST_UPDATES") == "true"

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: BUS_ACK_TIMEOUT (defaults to 5s)
	cfg.BusAckTimeout = 5 * time.Second
	if v := os.Getenv("BUS_ACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errors = append(errors, fmt.Sprintf("BUS_ACK_TIMEOUT must be a positive duration (got '%s')", v))
		} else {
			cfg.BusAckTimeout = d
		}
	}

	// Optional: CLOSE_TIMEOUT (defaults to 10s)
	cfg.CloseTimeout = 10 * time.Second
	if v := os.Getenv("CLOSE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errors = append(errors, fmt.Sprintf("CLOSE_TIMEOUT must be a positive duration (got '%s')", v))
		} else {
			cfg.CloseTimeout = d
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"namespace", cfg.Namespace,
		"history_max_messages", cfg.HistoryMaxMessages,
		"enable_direct_messages", cfg.EnableDirectMessages,
		"enable_rooms_management", cfg.EnableRoomsManagement,
		"enable_userlist_updates", cfg.EnableUserlistUpdates,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"bus_ack_timeout", cfg.BusAckTimeout,
		"close_timeout", cfg.CloseTimeout,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
