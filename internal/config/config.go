package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// Config is loaded once at startup and treated as read-only afterwards.
type Config struct {
	ServerAddr string
	LogLevel   string

	JWTSecret          string
	AdminEmail         string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	BcryptCost         int
	// SecretGenerated is set when no secret was configured and a random
	// per-process one is in use.
	SecretGenerated bool

	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	RedisAddr   string

	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For
	// header is believed.
	TrustedProxies []string
	AllowedOrigins []string

	// parseErrs holds malformed values seen by Load; Validate reports them.
	parseErrs []error
}

// Load never fails; malformed values are reported by Validate.
func Load() *Config {
	var errs []error
	bcryptCost := parseEnv(&errs, "BCRYPT_COST", 12, strconv.Atoi)
	rps := parseEnv(&errs, "RATE_LIMIT_RPS", 5, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
	burst := parseEnv(&errs, "RATE_LIMIT_BURST", 10, strconv.Atoi)
	accessTTL := parseEnv(&errs, "ACCESS_TOKEN_TTL", 15*time.Minute, time.ParseDuration)
	refreshTTL := parseEnv(&errs, "REFRESH_TOKEN_TTL", 7*24*time.Hour, time.ParseDuration)

	secret := firstEnv([]string{"JWT_SECRET", "SECRET"}, "")
	generated := secret == ""
	if generated {
		secret = generateDefaultSecret()
	}

	return &Config{
		ServerAddr:         getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		JWTSecret:          secret,
		SecretGenerated:    generated,
		AdminEmail:         strings.ToLower(strings.TrimSpace(firstEnv([]string{"ADMIN_EMAIL", "ADMS"}, ""))),
		AccessTokenExpiry:  accessTTL,
		RefreshTokenExpiry: refreshTTL,
		BcryptCost:         bcryptCost,
		StoreDriver:        strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreDriverPostgres)),
		DBHost:             getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:             getEnvOrDefault("DB_PORT", "5432"),
		DBUser:             getEnvOrDefault("DB_USER", "authgate"),
		DBPassword:         getEnvOrDefault("DB_PASSWORD", "authgate_dev_password"),
		DBName:             getEnvOrDefault("DB_NAME", "authgate"),
		RedisAddr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RateLimitRPS:       rps,
		RateLimitBurst:     burst,
		TrustedProxies:     splitList(os.Getenv("TRUSTED_PROXIES")),
		AllowedOrigins:     splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		parseErrs:          errs,
	}
}

// Validate reports the settings the server cannot start with. Malformed
// values come first, then the first out-of-range one.
func (c *Config) Validate() error {
	if len(c.parseErrs) > 0 {
		return errors.Join(c.parseErrs...)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverRedis:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.AccessTokenExpiry >= c.RefreshTokenExpiry {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// PostgresDSN builds a lib/pq key/value connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys []string, fallback string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

// parseEnv returns defaultValue when key is unset. A value that does not
// parse is recorded in errs.
func parseEnv[T any](errs *[]error, key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
