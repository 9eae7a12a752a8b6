// Package config loads engine settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the auth engine. All values come from
// MONITORDB_-prefixed environment variables.
type Config struct {
	Addr        string
	DatabaseDSN string

	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	LockoutThreshold int
	LockoutBase      time.Duration
	LockoutFactor    float64
	LockoutMax       time.Duration

	PasswordMinLength     int
	PasswordRequireUpper  bool
	PasswordRequireDigit  bool
	PasswordRequireSymbol bool

	LoginRatePerSecond int
	LoginRateBurst     int

	// Optional first-admin bootstrap, applied once at startup.
	BootstrapAdminUser     string
	BootstrapAdminPassword string
}

// Load reads .env if present, then the environment. The signing key is
// the only required value.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Addr:        envDefault("MONITORDB_ADDR", ":8080"),
		DatabaseDSN: os.Getenv("MONITORDB_PG_DSN"),
		SigningKey:  os.Getenv("MONITORDB_AUTH_SECRET"),
		Issuer:      envDefault("MONITORDB_TOKEN_ISSUER", "monitordb"),

		AccessTTL:  envDuration("MONITORDB_ACCESS_TTL", 15*time.Minute),
		RefreshTTL: envDuration("MONITORDB_REFRESH_TTL", 7*24*time.Hour),

		LockoutThreshold: envInt("MONITORDB_LOCKOUT_THRESHOLD", 5),
		LockoutBase:      envDuration("MONITORDB_LOCKOUT_BASE", 30*time.Minute),
		LockoutFactor:    envFloat("MONITORDB_LOCKOUT_FACTOR", 1),
		LockoutMax:       envDuration("MONITORDB_LOCKOUT_MAX", 24*time.Hour),

		PasswordMinLength:     envInt("MONITORDB_PASSWORD_MIN_LENGTH", 8),
		PasswordRequireUpper:  envBool("MONITORDB_PASSWORD_REQUIRE_UPPER", true),
		PasswordRequireDigit:  envBool("MONITORDB_PASSWORD_REQUIRE_DIGIT", true),
		PasswordRequireSymbol: envBool("MONITORDB_PASSWORD_REQUIRE_SYMBOL", false),

		LoginRatePerSecond: envInt("MONITORDB_LOGIN_RATE_PER_SECOND", 5),
		LoginRateBurst:     envInt("MONITORDB_LOGIN_RATE_BURST", 10),

		BootstrapAdminUser:     strings.TrimSpace(os.Getenv("MONITORDB_BOOTSTRAP_ADMIN_USER")),
		BootstrapAdminPassword: os.Getenv("MONITORDB_BOOTSTRAP_ADMIN_PASSWORD"),
	}

	if strings.TrimSpace(cfg.SigningKey) == "" {
		return Config{}, errors.New("MONITORDB_AUTH_SECRET is required")
	}
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
