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

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WALLET_POLL_INTERVAL", "250ms")
	t.Setenv("WALLET_MAX_POLLS", "7")
	t.Setenv("WALLET_STORAGE_BACKEND", "memory")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 7, cfg.MaxPolls)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, Default().RetryBudget, cfg.RetryBudget)
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
access-node: https://rest-testnet.onflow.org
retry-budget: 4
retention: 48h
storage-backend: redis
redis-addr: localhost:6379
`), 0o600))

	t.Setenv("WALLET_RETRY_BUDGET", "6")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--retention=1h"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "https://rest-testnet.onflow.org", cfg.AccessNode)
	assert.Equal(t, 6, cfg.RetryBudget, "env beats file")
	assert.Equal(t, time.Hour, cfg.Retention, "flag beats file")
	assert.Equal(t, "redis", cfg.StorageBackend)
	assert.Equal(t, Default().PollInterval, cfg.PollInterval, "unset flag keeps default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no access node", func(c *Config) { c.AccessNode = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero retry budget", func(c *Config) { c.RetryBudget = 0 }},
		{"negative max polls", func(c *Config) { c.MaxPolls = -1 }},
		{"redis without address", func(c *Config) { c.StorageBackend = "redis" }},
		{"unknown backend", func(c *Config) { c.StorageBackend = "bolt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnv_FallsBackOnInvalid(t *testing.T) {
	t.Setenv("WALLET_STORAGE_BACKEND", "bolt")
	assert.Equal(t, Default(), FromEnv())
}
