package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 168*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 256, cfg.Relay.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.Persistence.Timeout)
	assert.True(t, cfg.Redis.Enabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("JWT_EXPIRE", "2h")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("DATABASE_TYPE", "BuntDB")
	t.Setenv("MALFORMED_PER_SECOND", "0.5")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "buntdb", cfg.Database.Type)
	assert.InDelta(t, 0.5, cfg.Relay.MalformedPerSecond, 1e-9)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	fs := FlagSet()
	require.NoError(t, fs.Parse([]string{"--port", "7000", "--log-level", "debug"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signaling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  type: postgres\n  dsn: host=db\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "host=db", cfg.Database.DSN)
}

func TestLoadRejectsUnknownDatabase(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "mongo")

	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestLoadRejectsBadMalformedLimits(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"zero burst", "MALFORMED_BURST", "0"},
		{"negative burst", "MALFORMED_BURST", "-3"},
		{"negative rate", "MALFORMED_PER_SECOND", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := Load("", nil)
			assert.Error(t, err)
		})
	}

	// a zero rate with burst still tolerates a few bad frames
	t.Setenv("MALFORMED_PER_SECOND", "0")
	t.Setenv("MALFORMED_BURST", "1")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Relay.MalformedBurst)
}
