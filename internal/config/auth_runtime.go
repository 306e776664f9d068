package config

import (
	"errors"
	"fmt"
	"strings"

	"tokenkeeper/internal/pkg/jwt"
)

// ErrWeakSigningKey is fatal at startup: the service must not serve traffic
// with a missing, short or placeholder JWT_SECRET.
var ErrWeakSigningKey = errors.New("weak JWT signing key")

type AuthRuntimeConfig struct {
	JWTSecret         string   `envconfig:"JWT_SECRET"`
	JWTIssuer         string   `envconfig:"JWT_ISSUER"`
	JWTAccessTTL      Duration `envconfig:"JWT_ACCESS_TTL" default:"900000"`
	RefreshTTL        Duration `envconfig:"REFRESH_TTL" default:"604800000"`
	MaxTokensPerUser  int      `envconfig:"MAX_TOKENS_PER_USER" default:"5"`
	ReplayContainment bool     `envconfig:"REPLAY_CONTAINMENT" default:"true"`
}

func validateAuth(cfg *AuthRuntimeConfig) error {
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.JWTIssuer = strings.TrimSpace(cfg.JWTIssuer)

	if err := jwt.CheckKey(cfg.JWTSecret); err != nil {
		return fmt.Errorf("%w: JWT_SECRET: %v", ErrWeakSigningKey, err)
	}
	if cfg.JWTAccessTTL.Std() <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be > 0")
	}
	if cfg.RefreshTTL.Std() <= 0 {
		return fmt.Errorf("REFRESH_TTL must be > 0")
	}
	if cfg.RefreshTTL.Std() <= cfg.JWTAccessTTL.Std() {
		return fmt.Errorf("REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}
	if cfg.MaxTokensPerUser < 1 {
		return fmt.Errorf("MAX_TOKENS_PER_USER must be >= 1")
	}
	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}
