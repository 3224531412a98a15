package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"dynacrud/internal/config"
)

func TestFlagName(t *testing.T) {
	tests := []struct{ key, want string }{
		{"port", "port"},
		{"baseUrl", "base-url"},
		{"dbUrl", "db-url"},
		{"autoMigrate", "auto-migrate"},
		{"auth.secret", "auth-secret"},
		{"log.level", "log-level"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flagName(tt.key))
	}
}

func TestFlagsBound(t *testing.T) {
	for _, key := range []string{"port", "baseUrl", "mappingDir", "auth.secret", "log.format"} {
		assert.NotNil(t, v.Get(key), key)
	}
	assert.Equal(t, 8080, v.GetInt("port"))
	assert.Equal(t, "/api/v1", v.GetString("baseUrl"))
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	l := newLogger(config.Log{Level: "debug", Format: "json"})
	assert.True(t, l.Enabled(ctx, slog.LevelDebug))

	l = newLogger(config.Log{Level: "loud"})
	assert.False(t, l.Enabled(ctx, slog.LevelDebug))
	assert.True(t, l.Enabled(ctx, slog.LevelInfo))
}
