package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "memory", cfg.Knowledge.Backend)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "X-User-Id", cfg.Auth.UserHeader)
	assert.Empty(t, cfg.Auth.APIKeys)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "themis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: sqlite
  url: file:themis.db
llm:
  chat_model: llama3
`), 0o600))

	t.Setenv("THEMIS_LLM_CHAT_MODEL", "qwen2.5")
	t.Setenv("THEMIS_CACHE_BACKEND", "redis")
	t.Setenv("THEMIS_AUTH_API_KEYS", "k1,k2")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "qwen2.5", cfg.LLM.ChatModel)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port", func(c *config.Config) { c.Server.Port = 0 }},
		{"driver", func(c *config.Config) { c.Database.Driver = "oracle" }},
		{"postgres without url", func(c *config.Config) { c.Database.Driver = "postgres" }},
		{"cache backend", func(c *config.Config) { c.Cache.Backend = "memcached" }},
		{"pgvector without url", func(c *config.Config) { c.Knowledge.Backend = "pgvector" }},
		{"sample ratio", func(c *config.Config) { c.Telemetry.SampleRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{
				Server:    config.ServerConfig{Port: 8080},
				Database:  config.DatabaseConfig{Driver: "memory"},
				Cache:     config.CacheConfig{Backend: "memory"},
				Knowledge: config.KnowledgeConfig{Backend: "memory", Dimensions: 1536},
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
