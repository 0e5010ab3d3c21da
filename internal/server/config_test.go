package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bingoforbots.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:8080", cfg.GetServerAddress())
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, *cfg.Game.Authority)
	assert.True(t, *cfg.Game.AutoContinue)
	assert.Equal(t, 75, cfg.Game.PoolSize)
}

func TestLoadConfigGameBlock(t *testing.T) {
	path := writeConfig(t, `
server {
  address         = "0.0.0.0"
  port            = 9000
  log_level       = "debug"
  allowed_origins = ["http://localhost:3000"]
}

game {
  draw_interval     = "2s"
  celebration_delay = "1s"
  pool_size         = 90
  auto_continue     = false
  shared_card       = true
  seed              = 42
}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.GetServerAddress())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.True(t, sc.Authority)
	assert.Equal(t, 2*time.Second, sc.Game.DrawInterval)
	assert.Equal(t, time.Second, sc.Game.CelebrationDelay)
	assert.Equal(t, 100*time.Millisecond, sc.TickInterval)
	assert.Equal(t, 500*time.Millisecond, sc.RetryInterval)
	assert.Equal(t, 90, sc.Game.PoolSize)
	assert.False(t, sc.Game.AutoContinue)
	assert.True(t, sc.Game.SharedCard)
	assert.Equal(t, uint64(42), sc.Game.Seed)
}

func TestLoadConfigObserver(t *testing.T) {
	path := writeConfig(t, `
server {}

game {
  authority = false
}
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.False(t, sc.Authority)
}

func TestLoadConfigRejectsBadHCL(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `server {`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `server { port = "lots" }`))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "chatty" }},
		{"pool not multiple of five", func(c *Config) { c.Game.PoolSize = 77 }},
		{"pool too small", func(c *Config) { c.Game.PoolSize = 20 }},
		{"unparseable duration", func(c *Config) { c.Game.DrawInterval = "soon" }},
		{"zero duration", func(c *Config) { c.Game.TickInterval = "0s" }},
		{"negative duration", func(c *Config) { c.Game.RetryInterval = "-1s" }},
		{"auth url without scheme", func(c *Config) { c.Server.AuthURL = "auth.example/validate" }},
		{"auth url wrong scheme", func(c *Config) { c.Server.AuthURL = "ftp://auth.example" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
			_, err := cfg.SessionConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigAuth(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server {
  auth_url    = "https://auth.example/validate"
  auth_secret = "shh"
  admin_token = "s3cret"
}
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://auth.example/validate", cfg.Server.AuthURL)
	assert.Len(t, cfg.ServerOptions(), 2)

	assert.Empty(t, DefaultConfig().ServerOptions())
}
