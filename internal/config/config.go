package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	// HTTP and gRPC bind addresses
	HTTPAddr string
	GRPCAddr string

	// StoreDriver selects the system of record: mysql or memory
	StoreDriver      string
	MySQLDSN         string
	MaxDBConnections int

	// RedisAddr enables the idempotency store and the session cache when set
	RedisAddr string

	Session SessionConfig

	// AllowedOrigins for CORS; FRONT_URL is always included
	AllowedOrigins []string

	RequestTimeout  time.Duration
	ProviderTimeout time.Duration
	IdempotencyTTL  time.Duration

	AuditInterval time.Duration
	AuditWorkers  int

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string
}

type SessionConfig struct {
	CookieName   string
	CookieSecret string
	// CacheTTL bounds how long validated sessions stay in Redis
	CacheTTL  time.Duration
	JWTSecret string
	JWTTTL    time.Duration
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:         getEnv("GRPC_ADDR", ":50051"),
		StoreDriver:      getEnv("STORE_DRIVER", StoreMySQL),
		MySQLDSN:         getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
		MaxDBConnections: getEnvInt("MAX_DB_CONNECTIONS", 50),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "better-auth.session_token"),
			CookieSecret: getEnv("SESSION_COOKIE_SECRET", ""),
			CacheTTL:     getEnvDuration("SESSION_CACHE_TTL", time.Minute),
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTTTL:       getEnvDuration("JWT_TTL", time.Hour),
		},
		AllowedOrigins:  allowedOrigins(getEnv("FRONT_URL", ""), getEnvList("ALLOWED_ORIGINS")),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 5*time.Second),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 3*time.Second),
		IdempotencyTTL:  getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		AuditInterval:   getEnvDuration("AUDIT_INTERVAL", 10*time.Minute),
		AuditWorkers:    getEnvInt("AUDIT_WORKERS", 4),
		RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 100),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for the mysql store")
		}
		if !strings.Contains(c.MySQLDSN, "parseTime=true") {
			return fmt.Errorf("MYSQL_DSN must set parseTime=true")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, c.StoreDriver)
	}

	if c.MaxDBConnections < 1 {
		return fmt.Errorf("MAX_DB_CONNECTIONS must be positive")
	}
	if c.RequestTimeout <= 0 || c.ProviderTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT and PROVIDER_TIMEOUT must be positive")
	}
	if c.AuditWorkers < 1 {
		return fmt.Errorf("AUDIT_WORKERS must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME is required")
	}
	return nil
}

func allowedOrigins(front string, extra []string) []string {
	origins := []string{"http://localhost:3000"}
	if front != "" {
		origins = append(origins, front)
	}
	for _, o := range extra {
		if o != front && o != origins[0] {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%g", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "5s" or "10m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
