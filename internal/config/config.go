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
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Redis     RedisConfig
	Retention RetentionConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodyBytes   int64
	// Coarse per-IP guard applied before the persistent rate limiter.
	FloodLimitPerMinute int
}

type AuthConfig struct {
	JWTSecret          string
	Issuer             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	// RefreshIPPolicy decides what happens when a refresh token is presented
	// from a different address than it was issued to: "log" or "revoke".
	RefreshIPPolicy      string
	RevocationFailClosed bool
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
}

type LockoutConfig struct {
	MaxAttempts      int
	FailureWindow    time.Duration
	LockoutDuration  time.Duration
	CodeValidity     time.Duration
	SendLockoutEmail bool
}

type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	Ban         time.Duration
}

type EmailConfig struct {
	Provider            string // "ses" or "log"
	AWSRegion           string
	FromAddress         string
	VerificationURLBase string
	TokenExpiry         time.Duration
	Workers             int
	QueueSize           int
	SendRatePerSecond   float64
	SendTimeout         time.Duration
}

type RedisConfig struct {
	URL           string
	RevocationTTL time.Duration
	KeyPrefix     string
}

type RetentionConfig struct {
	LoginAttempts  time.Duration
	SecurityEvents time.Duration
	RateLimitGrace time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "torneo"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:                getEnv("PORT", "8080"),
			Env:                 env,
			LogLevel:            getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:      parseAllowedOrigins(env),
			TrustedProxies:      parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:         getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:        getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:         getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			MaxBodyBytes:        int64(getEnvAsInt("SERVER_MAX_BODY_BYTES", 1<<20)),
			FloodLimitPerMinute: getEnvAsInt("FLOOD_LIMIT_PER_MINUTE", 300),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			Issuer:               getEnv("JWT_ISSUER", "torneo"),
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			CleanupInterval:      getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			RefreshIPPolicy:      strings.ToLower(getEnv("REFRESH_IP_POLICY", "log")),
			RevocationFailClosed: getEnvAsBool("REVOCATION_FAIL_CLOSED", true),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
		},
		Lockout: LockoutConfig{
			MaxAttempts:      getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			FailureWindow:    getEnvAsDuration("LOGIN_FAILURE_WINDOW", 30*time.Minute),
			LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 10*time.Minute),
			CodeValidity:     getEnvAsDuration("UNLOCK_CODE_VALIDITY", 15*time.Minute),
			SendLockoutEmail: getEnvAsBool("SEND_LOCKOUT_EMAIL", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvAsBool("RATE_LIMIT_ENABLED", true),
			MaxRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			Ban:         getEnvAsDuration("RATE_LIMIT_BAN", 30*time.Minute),
		},
		Email: EmailConfig{
			Provider:            strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
			FromAddress:         getEnv("EMAIL_FROM", "no-reply@torneo.local"),
			VerificationURLBase: getEnv("VERIFICATION_URL_BASE", "http://localhost:5173"),
			TokenExpiry:         getEnvAsDuration("EMAIL_TOKEN_EXPIRY", 24*time.Hour),
			Workers:             getEnvAsInt("EMAIL_WORKERS", 2),
			QueueSize:           getEnvAsInt("EMAIL_QUEUE_SIZE", 256),
			SendRatePerSecond:   getEnvAsFloat("EMAIL_SEND_RATE", 14),
			SendTimeout:         getEnvAsDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			RevocationTTL: getEnvAsDuration("REDIS_REVOCATION_TTL", 30*time.Second),
			KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "torneo:revoked:"),
		},
		Retention: RetentionConfig{
			LoginAttempts:  getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			SecurityEvents: getEnvAsDuration("SECURITY_LOG_RETENTION", 90*24*time.Hour),
			RateLimitGrace: getEnvAsDuration("RATE_LIMIT_RETENTION", 7*24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Auth.RefreshIPPolicy != "log" && cfg.Auth.RefreshIPPolicy != "revoke" {
		return nil, fmt.Errorf("REFRESH_IP_POLICY must be one of: log, revoke")
	}

	if cfg.Email.Provider != "log" && cfg.Email.Provider != "ses" {
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of: log, ses")
	}

	if cfg.Lockout.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production hardening.
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
