package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "/api/v1", cfg.BaseURL)
	assert.Equal(t, "/admin", cfg.AdminPath)
	assert.Equal(t, ".dynacrud/models", cfg.MappingDir)
	assert.Empty(t, cfg.DBURL)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 60, cfg.Auth.Expiry)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
baseUrl: api/
dbUrl: postgres://file
auth:
  secret: from-file
log:
  format: JSON
`), 0o644))

	t.Setenv("DYNACRUD_DB_URL", "postgres://env")
	t.Setenv("DYNACRUD_AUTO_MIGRATE", "true")
	t.Setenv("DYNACRUD_LOG_LEVEL", "debug")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/api", cfg.BaseURL)
	assert.Equal(t, "postgres://env", cfg.DBURL)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestCleanPrefix(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"/":        "",
		"api":      "/api",
		"/api/v1/": "/api/v1",
		" /admin ": "/admin",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanPrefix(in), in)
	}
}
