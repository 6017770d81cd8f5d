package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"JWT_SECRET", "PORT", "NAMESPACE", "HISTORY_MAX_MESSAGES",
		"USE_RAW_ERROR_OBJECTS", "ENABLE_DIRECT_MESSAGES",
		"ENABLE_ROOMS_MANAGEMENT", "ENABLE_USERLIST_UPDATES",
		"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
		"BUS_ACK_TIMEOUT", "CLOSE_TIMEOUT",
		"GO_ENV", "LOG_LEVEL", "DEVELOPMENT_MODE", "ALLOWED_ORIGINS",
	}

	// Save original env vars
	origVars := make(map[string]string, len(keys))
	for _, key := range keys {
		origVars[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	// Return cleanup function
	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.Namespace != "chat-service" {
		t.Errorf("Expected NAMESPACE to default to 'chat-service', got '%s'", cfg.Namespace)
	}
	if cfg.HistoryMaxMessages != 100 {
		t.Errorf("Expected HISTORY_MAX_MESSAGES to default to 100, got %d", cfg.HistoryMaxMessages)
	}
	if cfg.BusAckTimeout != 5*time.Second {
		t.Errorf("Expected BUS_ACK_TIMEOUT to default to 5s, got %v", cfg.BusAckTimeout)
	}
	if cfg.CloseTimeout != 10*time.Second {
		t.Errorf("Expected CLOSE_TIMEOUT to default to 10s, got %v", cfg.CloseTimeout)
	}
	if cfg.EnableDirectMessages || cfg.EnableRoomsManagement || cfg.EnableUserlistUpdates {
		t.Errorf("Expected all feature gates to default to off")
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Errorf("Expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "too-short")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for short JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "at least 32 characters") {
		t.Errorf("Expected length error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "not-a-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected PORT error, got: %v", err)
	}
}

func TestValidateEnv_FeatureGatesAndOverrides(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("NAMESPACE", "staging")
	os.Setenv("HISTORY_MAX_MESSAGES", "25")
	os.Setenv("USE_RAW_ERROR_OBJECTS", "true")
	os.Setenv("ENABLE_DIRECT_MESSAGES", "true")
	os.Setenv("ENABLE_ROOMS_MANAGEMENT", "true")
	os.Setenv("ENABLE_USERLIST_UPDATES", "true")
	os.Setenv("BUS_ACK_TIMEOUT", "2s")
	os.Setenv("CLOSE_TIMEOUT", "3s")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Namespace != "staging" {
		t.Errorf("Expected NAMESPACE 'staging', got '%s'", cfg.Namespace)
	}
	if cfg.HistoryMaxMessages != 25 {
		t.Errorf("Expected HISTORY_MAX_MESSAGES 25, got %d", cfg.HistoryMaxMessages)
	}
	if !cfg.UseRawErrorObjects {
		t.Errorf("Expected USE_RAW_ERROR_OBJECTS to be true")
	}
	if !cfg.EnableDirectMessages || !cfg.EnableRoomsManagement || !cfg.EnableUserlistUpdates {
		t.Errorf("Expected all feature gates on")
	}
	if cfg.BusAckTimeout != 2*time.Second {
		t.Errorf("Expected BUS_ACK_TIMEOUT 2s, got %v", cfg.BusAckTimeout)
	}
	if cfg.CloseTimeout != 3*time.Second {
		t.Errorf("Expected CLOSE_TIMEOUT 3s, got %v", cfg.CloseTimeout)
	}
}

func TestValidateEnv_InvalidHistoryBound(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("HISTORY_MAX_MESSAGES", "-1")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for negative HISTORY_MAX_MESSAGES")
	}
}

func TestValidateEnv_RedisEnabled(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cfg.RedisEnabled || cfg.RedisAddr != "redis:6379" {
		t.Errorf("Expected Redis configuration to be picked up, got %+v", cfg)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "no-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for malformed REDIS_ADDR")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format") {
		t.Errorf("Expected REDIS_ADDR error, got: %v", err)
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"localhost:6379", true},
		{"10.0.0.1:1", true},
		{"host:65535", true},
		{"host:0", false},
		{"host:65536", false},
		{":6379", false},
		{"hostonly", false},
		{"host:port", false},
	}
	for _, tt := range tests {
		if got := isValidHostPort(tt.addr); got != tt.valid {
			t.Errorf("isValidHostPort(%q) = %v, want %v", tt.addr, got, tt.valid)
		}
	}
}
