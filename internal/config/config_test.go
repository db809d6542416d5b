package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/library.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Mirror.RefreshInterval)
	assert.Equal(t, 100, cfg.Server.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.Server.RateLimitWindow)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Auth.Enabled())
	assert.False(t, cfg.SMTP.Enabled())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/lib.db")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MIRROR_REFRESH_INTERVAL", "30s")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("SMTP_HOST", "smtp.example.org")
	t.Setenv("SMTP_FROM", "library@example.org")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/lib.db", cfg.Store.Path)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Mirror.RefreshInterval)
	assert.True(t, cfg.Auth.Enabled())
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 7000
store:
  driver: badger
  path: /var/lib/library
log:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("PORT", "7001")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, "badger", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/library", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "postgres"}},
		{"mongo without uri", map[string]string{"STORE_DRIVER": "mongo"}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"bad port", map[string]string{"PORT": "70000"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"bad sender", map[string]string{"SMTP_FROM": "not-an-address"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load("")
			assert.Error(t, err)
		})
	}
}

func TestMongoDriverValid(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")

	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "library", cfg.Store.MongoDatabase)
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn"}}
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
}
