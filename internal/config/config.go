// Package config loads portal settings from a dotenv file, the environment
// and command-line flags, in increasing order of precedence.
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

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"janseva.org/internal/obs"
	"janseva.org/internal/portal"
)

// Config is the full runtime configuration of the portal API.
type Config struct {
	Env          string
	HTTPAddr     string
	GRPCAddr     string
	PGDSN        string
	AutoMigrate  bool
	RedisURL     string
	AuthSecret   string
	TokenTTL     time.Duration
	SeedFile     string
	SeedDemo     bool
	CitizenScope string
	RateBurst    int
	RatePerSec   float64
	CORSOrigins  []string
	LogLevel     string
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env:          "dev",
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		AutoMigrate:  true,
		TokenTTL:     8 * time.Hour,
		CitizenScope: string(portal.ScopeOwn),
		RateBurst:    100,
		RatePerSec:   50,
		LogLevel:     "info",
	}
}

// Load reads envFile (when non-empty) into the process environment without
// overriding variables that are already set, then parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv overlays PORTAL_* variables onto Default. lookupEnv has the
// signature of os.LookupEnv.
func FromEnv(lookupEnv func(string) (string, bool)) (Config, error) {
	c := Default()
	getenv := func(key string) string {
		v, _ := lookupEnv(key)
		return v
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORTAL_ENV", &c.Env)
	str("PORTAL_HTTP_ADDR", &c.HTTPAddr)
	str("PORTAL_PG_DSN", &c.PGDSN)
	str("PORTAL_REDIS_URL", &c.RedisURL)
	str("PORTAL_AUTH_SECRET", &c.AuthSecret)
	str("PORTAL_SEED_FILE", &c.SeedFile)
	str("PORTAL_CITIZEN_SCOPE", &c.CitizenScope)
	str("PORTAL_LOG_LEVEL", &c.LogLevel)
	// An explicitly empty gRPC address disables the listener.
	if v, ok := lookupEnv("PORTAL_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	if v := getenv("PORTAL_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var errs []error
	if v := getenv("PORTAL_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_TOKEN_TTL: %w", err))
		}
		c.TokenTTL = d
	}
	if v := getenv("PORTAL_SEED_DEMO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_SEED_DEMO: %w", err))
		}
		c.SeedDemo = b
	}
	if v := getenv("PORTAL_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_AUTO_MIGRATE: %w", err))
		}
		c.AutoMigrate = b
	}
	if v := getenv("PORTAL_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_RATE_BURST: %w", err))
		}
		c.RateBurst = n
	}
	if v := getenv("PORTAL_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_RATE_PER_SEC: %w", err))
		}
		c.RatePerSec = f
	}
	return c, errors.Join(errs...)
}

// RegisterFlags binds command-line flags to c, using its current values as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Env, "env", c.Env, "deployment environment (dev|prod)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&c.PGDSN, "pg-dsn", c.PGDSN, "PostgreSQL DSN (empty keeps data in memory)")
	fs.BoolVar(&c.AutoMigrate, "auto-migrate", c.AutoMigrate, "apply embedded migrations on start")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for sessions (empty keeps sessions in memory)")
	fs.StringVar(&c.AuthSecret, "auth-secret", c.AuthSecret, "HS256 secret for session tokens")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "session lifetime")
	fs.StringVar(&c.SeedFile, "seed-file", c.SeedFile, "YAML seed document loaded on start")
	fs.BoolVar(&c.SeedDemo, "seed-demo", c.SeedDemo, "load the built-in demo schemes and applications")
	fs.StringVar(&c.CitizenScope, "citizen-scope", c.CitizenScope, "applications a citizen can list (own|all)")
	fs.IntVar(&c.RateBurst, "rate-burst", c.RateBurst, "per-IP request burst")
	fs.Float64Var(&c.RatePerSec, "rate-per-sec", c.RatePerSec, "per-IP sustained requests per second")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "allowed CORS origins")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug|info|warn|error)")
}

// Dev reports whether the portal runs in the development environment.
func (c Config) Dev() bool { return c.Env == "dev" }

// Validate rejects malformed or missing settings.
func (c Config) Validate() error {
	var errs []error
	if c.Env != "dev" && c.Env != "prod" {
		errs = append(errs, fmt.Errorf("env must be dev or prod, got %q", c.Env))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if !c.Dev() && strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("auth secret is required outside dev"))
	}
	if _, err := portal.ParseCitizenScope(c.CitizenScope); err != nil {
		errs = append(errs, err)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limit burst and rate must be positive"))
	}
	if err := validLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnsureSecret fills an empty AuthSecret with a random one in dev. Sessions
// signed with it do not survive a restart.
func (c *Config) EnsureSecret() (generated bool, err error) {
	if strings.TrimSpace(c.AuthSecret) != "" {
		return false, nil
	}
	if !c.Dev() {
		return false, errors.New("auth secret is required outside dev")
	}
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, err
	}
	c.AuthSecret = hex.EncodeToString(b[:])
	return true, nil
}

func validLogLevel(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", name)
}

// ApplyLogLevel sets the shared logger level.
func (c Config) ApplyLogLevel() error { return obs.SetLevel(c.LogLevel) }

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
