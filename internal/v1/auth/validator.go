package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/logging"
)

// CustomClaims are the JWT claims the service understands. Subject carries the
// username.
type CustomClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator validates a raw token string and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*CustomClaims, error)
}

// Validator verifies HMAC-signed tokens against a shared secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a Validator for the given shared secret.
func NewValidator(secret string) (*Validator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes (got %d)", len(secret))
	}
	return &Validator{secret: []byte(secret)}, nil
}

// ValidateToken parses and validates a JWT token string. Only HMAC signing
// methods are accepted; anything else is rejected before signature checking.
func (v *Validator) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to CustomClaims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockValidator is a development-only token validator that accepts any token.
type MockValidator struct{}

func (m *MockValidator) ValidateToken(tokenString string) (*CustomClaims, error) {
	// For development, read the unverified 'sub' claim so the username still
	// matches what the client thinks it is.
	var subject, name string

	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					subject = sub
				}
				if n, ok := claims["name"].(string); ok {
					name = n
				}
				logging.Info(context.Background(), "MockValidator parsed JWT",
					zap.String("subject", subject), zap.String("name", name))
			}
		}
	}

	if subject == "" {
		subject = "dev-user-123"
	}

	claims := &CustomClaims{Name: name}
	claims.Subject = subject
	return claims, nil
}
