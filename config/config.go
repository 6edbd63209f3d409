// Package config reads the kanban API settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Auth holds JWT validation settings. TestSecret is set when a local HS256
// mode is enabled, in which case Domain and Audience are optional.
type Auth struct {
	Domain       string
	Audience     string
	TestSecret   string
	JWKSCacheTTL time.Duration
}

// Issuer is the expected token issuer for the configured Auth0 domain.
func (a Auth) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// JWKSURL is the Auth0 key set location.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// TestMode reports whether tokens are verified with a shared secret.
func (a Auth) TestMode() bool { return a.TestSecret != "" }

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	Debug     bool
	LogFormat string
	Port      string

	StorageDriver    string
	DatabaseURL      string
	DatabaseMaxConns int
	// SeedDemo creates the demo board on startup. It defaults to true for
	// the memory driver.
	SeedDemo    bool
	DemoEditors []string

	RedisConnectionString string
	BoardCacheTTL         time.Duration
	DeduperTTL            time.Duration

	BusMaxListeners int
	StreamBuffer    int
	StreamKeepalive time.Duration

	Auth Auth
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads settings through getenv, applying defaults and validation.
func LoadFrom(getenv func(string) string) (Config, error) {
	var errs []error
	cfg := Config{
		LogFormat:             strings.ToLower(envString(getenv, "LOG_FORMAT", LogFormatText)),
		Port:                  envString(getenv, "KANBAN_API_PORT", "8080"),
		StorageDriver:         strings.ToLower(envString(getenv, "STORAGE_DRIVER", DriverPostgres)),
		DatabaseURL:           getenv("DATABASE_URL"),
		RedisConnectionString: getenv("REDIS_CONNECTION_STRING"),
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	cfg.SeedDemo = cfg.StorageDriver == DriverMemory
	if v := strings.TrimSpace(getenv("SEED_DEMO_BOARD")); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SEED_DEMO_BOARD: %q", v))
		}
		cfg.SeedDemo = seed
	}
	for _, u := range strings.Split(getenv("DEMO_EDITORS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.DemoEditors = append(cfg.DemoEditors, u)
		}
	}
	cfg.DatabaseMaxConns = envInt(getenv, "DATABASE_MAX_CONNS", 10, &errs)
	cfg.BoardCacheTTL = envDur(getenv, "BOARD_CACHE_TTL", 30*time.Second, &errs)
	cfg.DeduperTTL = envDur(getenv, "DEDUPER_TTL", 24*time.Hour, &errs)
	cfg.BusMaxListeners = envInt(getenv, "BUS_MAX_LISTENERS", 100, &errs)
	cfg.StreamBuffer = envInt(getenv, "STREAM_BUFFER", 64, &errs)
	cfg.StreamKeepalive = envDur(getenv, "STREAM_KEEPALIVE", 15*time.Second, &errs)

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver))
	}
	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("unsupported LOG_FORMAT %q", cfg.LogFormat))
	}
	if cfg.StreamBuffer <= 0 {
		errs = append(errs, errors.New("STREAM_BUFFER must be greater than zero"))
	}

	auth, err := loadAuth(getenv)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Auth = auth
	cfg.Auth.JWKSCacheTTL = envDur(getenv, "JWKS_CACHE_TTL", 15*time.Minute, &errs)
	return cfg, errors.Join(errs...)
}

func loadAuth(getenv func(string) string) (Auth, error) {
	auth := Auth{Domain: getenv("AUTH0_DOMAIN"), Audience: getenv("AUTH0_AUDIENCE")}
	if mode := strings.ToLower(getenv("LOCAL_AUTH_MODE")); mode != "" {
		if mode != "hs256" {
			return auth, fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
		}
		auth.TestSecret = getenv("LOCAL_AUTH_SHARED_SECRET")
		if auth.TestSecret == "" {
			return auth, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return auth, nil
	}
	if getenv("AUTH0_TEST_MODE") == "1" {
		auth.TestSecret = getenv("TEST_JWT_SECRET")
		if auth.TestSecret == "" {
			return auth, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return auth, nil
	}
	if auth.Domain == "" || auth.Audience == "" {
		return auth, errors.New("missing Auth0 config")
	}
	return auth, nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int, errs *[]error) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}

func envDur(getenv func(string) string, key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
