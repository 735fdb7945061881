package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, ":9090", c.GRPCAddr)
	assert.Equal(t, 8*time.Hour, c.TokenTTL)
	assert.Equal(t, "own", c.CitizenScope)
	assert.True(t, c.Dev())
	require.NoError(t, c.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"PORTAL_HTTP_ADDR":     ":9000",
		"PORTAL_GRPC_ADDR":     "",
		"PORTAL_PG_DSN":        "postgres://x",
		"PORTAL_TOKEN_TTL":     "30m",
		"PORTAL_SEED_DEMO":     "true",
		"PORTAL_CITIZEN_SCOPE": "all",
		"PORTAL_RATE_BURST":    "5",
		"PORTAL_RATE_PER_SEC":  "2.5",
		"PORTAL_CORS_ORIGINS":  "http://a.example, http://b.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Empty(t, c.GRPCAddr, "explicit empty disables gRPC")
	assert.Equal(t, "postgres://x", c.PGDSN)
	assert.Equal(t, 30*time.Minute, c.TokenTTL)
	assert.True(t, c.SeedDemo)
	assert.Equal(t, "all", c.CitizenScope)
	assert.Equal(t, 5, c.RateBurst)
	assert.InDelta(t, 2.5, c.RatePerSec, 1e-9)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.CORSOrigins)
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"PORTAL_TOKEN_TTL":  "forever",
		"PORTAL_RATE_BURST": "lots",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORTAL_TOKEN_TTL")
	assert.Contains(t, err.Error(), "PORTAL_RATE_BURST")
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Env = "prod"
	c.CitizenScope = "everyone"
	c.LogLevel = "loud"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth secret")
	assert.Contains(t, err.Error(), "citizen scope")
	assert.Contains(t, err.Error(), "log level")
}

func TestEnsureSecret(t *testing.T) {
	c := Default()
	generated, err := c.EnsureSecret()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, c.AuthSecret, 64)

	generated, err = c.EnsureSecret()
	require.NoError(t, err)
	assert.False(t, generated)

	prod := Default()
	prod.Env = "prod"
	_, err = prod.EnsureSecret()
	require.Error(t, err)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	c, err := FromEnv(env(map[string]string{"PORTAL_HTTP_ADDR": ":9000"}))
	require.NoError(t, err)

	fs := pflag.NewFlagSet("api", pflag.ContinueOnError)
	c.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--http-addr", ":7000", "--citizen-scope", "all"}))
	assert.Equal(t, ":7000", c.HTTPAddr)
	assert.Equal(t, "all", c.CitizenScope)
	assert.Equal(t, 8*time.Hour, c.TokenTTL)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.env")
	require.NoError(t, os.WriteFile(path, []byte("PORTAL_SEED_FILE=/tmp/seed.yaml\n"), 0o600))
	t.Setenv("PORTAL_SEED_FILE", "")
	require.NoError(t, os.Unsetenv("PORTAL_SEED_FILE"))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/seed.yaml", c.SeedFile)

	_, err = Load(filepath.Join(dir, "missing.env"))
	require.Error(t, err)
}
