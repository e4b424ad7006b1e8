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
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.letsesign.net", c.API.BaseURL)
	assert.Equal(t, "1909", c.API.Version)
	assert.Equal(t, 30*time.Second, c.API.Timeout)
	assert.Equal(t, 3, c.API.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, c.API.Retry.BaseDelay)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 40, c.HTTP.BodyLimitMB)
	assert.True(t, c.Render.RequireCJK)
	assert.Equal(t, "kmsPublicKey.pem", c.Keys.PublicKeyFile)
	assert.Equal(t, "info", c.Logging().Level)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("ESIGN_API_KEY", "key-1")
	t.Setenv("bearerSecret", "secret-1")
	t.Setenv("ESIGN_API_TIMEOUT", "5s")
	t.Setenv("ESIGN_JOURNAL_DIR", "/tmp/journal")
	t.Setenv("ESIGN_RENDER_REQUIRE_CJK", "false")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key-1", c.API.Key)
	assert.Equal(t, "secret-1", c.BearerSecret)
	assert.Equal(t, 5*time.Second, c.API.Timeout)
	assert.Equal(t, "/tmp/journal", c.Journal.Dir)
	assert.False(t, c.Render.RequireCJK)
}

func TestFileAndValidation(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "esign.yaml")
	require.NoError(t, os.WriteFile(good, []byte("api:\n  version: \"2001\"\nlog:\n  format: console\n"), 0o600))
	c, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, "2001", c.API.Version)
	assert.Equal(t, "console", c.Log.Format)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("http:\n  body_limit_mb: 0\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "BodyLimitMB")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	c := Config{BearerSecret: "s", API: APIConfig{Key: "k"}}
	r := c.Redacted()
	assert.Equal(t, "***", r.BearerSecret)
	assert.Equal(t, "***", r.API.Key)
	assert.Empty(t, r.Journal.Passphrase)
	assert.Equal(t, "s", c.BearerSecret)
}
