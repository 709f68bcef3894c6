package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Auth modes for bearer-token verification.
const (
	AuthModeJWKS = "jwks"
	AuthModeHMAC = "hmac"
)

// Executor modes.
const (
	ExecutorLive   = "live"
	ExecutorDryRun = "dry-run"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	Environment    string
	LogLevel       string
	RequestTimeout time.Duration
	TrustedProxies string
	// CataloguePath overrides the embedded action catalogue when set.
	CataloguePath string
	// SeedPath names a YAML fixture applied at startup when set.
	SeedPath string

	Auth     Auth
	Database Database
	Redis    Redis
	Kafka    Kafka
	Executor Executor
	Activity Activity
}

// Auth configures token verification at the boundary.
type Auth struct {
	Mode     string
	JWKSURL  string
	Issuer   string
	Audience string
	// SigningKey is the HS256 secret for local development tokens.
	SigningKey string
	JWKSTTL    time.Duration
}

// Database configures the Postgres pool. An empty URL selects in-memory stores.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis configures the cache cluster targeted by cache-flush actions.
type Redis struct {
	URL          string
	TokenURL     string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the best-effort audit mirror. Empty Brokers disables it.
type Kafka struct {
	Brokers    string
	AuditTopic string
}

// Executor configures action dispatch.
type Executor struct {
	Mode       string
	Timeout    time.Duration
	Kubeconfig string
	Namespace  string
	ExportDir  string
}

// Activity configures telemetry ingestion and retention.
type Activity struct {
	FlushInterval time.Duration
	QueueSize     int
	Retention     time.Duration
	ReapInterval  time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}
	num := func(key string, def int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid integer %q", key, raw))
			return def
		}
		return n
	}

	cfg := Server{
		Addr:           envOr("CB_ADDR", ":8080"),
		Environment:    envOr("CB_ENV", "dev"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		RequestTimeout: dur("CB_REQUEST_TIMEOUT", 30*time.Second),
		TrustedProxies: os.Getenv("CB_TRUSTED_PROXIES"),
		CataloguePath:  os.Getenv("CB_CATALOGUE_PATH"),
		SeedPath:       os.Getenv("CB_SEED_FILE"),
		Auth: Auth{
			Mode:       strings.ToLower(envOr("CB_AUTH_MODE", AuthModeHMAC)),
			JWKSURL:    os.Getenv("CB_JWKS_URL"),
			Issuer:     os.Getenv("CB_JWT_ISSUER"),
			Audience:   os.Getenv("CB_JWT_AUDIENCE"),
			SigningKey: os.Getenv("CB_JWT_SIGNING_KEY"),
			JWKSTTL:    dur("CB_JWKS_TTL", time.Hour),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    num("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    num("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: dur("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			TokenURL:     os.Getenv("REDIS_TOKEN_CACHE_URL"),
			PoolSize:     num("REDIS_POOL_SIZE", 10),
			MinIdleConns: num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    os.Getenv("KAFKA_BROKERS"),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "commandbridge.audit"),
		},
		Executor: Executor{
			Mode:       strings.ToLower(envOr("CB_EXECUTOR_MODE", ExecutorDryRun)),
			Timeout:    dur("CB_EXECUTOR_TIMEOUT", 10*time.Second),
			Kubeconfig: os.Getenv("CB_KUBECONFIG"),
			Namespace:  envOr("CB_K8S_NAMESPACE", "default"),
			ExportDir:  envOr("CB_EXPORT_DIR", os.TempDir()),
		},
		Activity: Activity{
			FlushInterval: dur("CB_ACTIVITY_FLUSH_INTERVAL", 2*time.Second),
			QueueSize:     num("CB_ACTIVITY_QUEUE_SIZE", 1024),
			Retention:     dur("CB_ACTIVITY_RETENTION", 90*24*time.Hour),
			ReapInterval:  dur("CB_ACTIVITY_REAP_INTERVAL", time.Hour),
		},
	}

	if len(errs) > 0 {
		return Server{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Server) Validate() error {
	switch c.Auth.Mode {
	case AuthModeJWKS:
		if c.Auth.JWKSURL == "" || c.Auth.Issuer == "" || c.Auth.Audience == "" {
			return fmt.Errorf("config: jwks auth requires CB_JWKS_URL, CB_JWT_ISSUER and CB_JWT_AUDIENCE")
		}
	case AuthModeHMAC:
		if c.Auth.SigningKey == "" {
			if c.Environment == "prod" {
				return fmt.Errorf("config: CB_JWT_SIGNING_KEY is required in prod")
			}
		}
	default:
		return fmt.Errorf("config: unknown CB_AUTH_MODE %q", c.Auth.Mode)
	}

	switch c.Executor.Mode {
	case ExecutorLive, ExecutorDryRun:
	default:
		return fmt.Errorf("config: unknown CB_EXECUTOR_MODE %q", c.Executor.Mode)
	}
	return nil
}

// DevSigningKey is used for HS256 tokens when no key is configured outside prod.
const DevSigningKey = "dev-secret-key-change-in-production"

// SigningKeyOrDev returns the configured HS256 key or the development default.
func (a Auth) SigningKeyOrDev() string {
	if a.SigningKey == "" {
		return DevSigningKey
	}
	return a.SigningKey
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
