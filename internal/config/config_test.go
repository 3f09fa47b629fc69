package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultTokenEndpoint, cfg.DingTalk.TokenEndpoint)
	assert.Equal(t, DefaultMaxRedirects, cfg.DingTalk.MaxRedirects)
	assert.Equal(t, 10*time.Second, cfg.DingTalk.HTTPTimeout())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
addr = ":9090"

[dingtalk]
uploads_dir = "/var/lib/smartbill/uploads"
http_timeout_seconds = 3

[postgres]
host = "db.internal"
password = "pw"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/smartbill/uploads", cfg.DingTalk.UploadsDir)
	assert.Equal(t, 3*time.Second, cfg.DingTalk.HTTPTimeout())
	assert.Equal(t, "postgres://postgres:pw@db.internal:5432/smartbill?sslmode=disable", cfg.Postgres.URL())
	// Untouched sections keep defaults.
	assert.Equal(t, "info", cfg.Log.Level)
}
