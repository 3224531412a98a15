// Package server assembles the HTTP engine: admin API, generated entity
// routes and the shared middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/admin"
	"dynacrud/internal/apperr"
	"dynacrud/internal/auth"
	"dynacrud/internal/config"
	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/rest"
)

type Deps struct {
	Store    mapping.Store
	Registry *registry.Registry
	Tokens   *auth.Manager
	Logger   *slog.Logger
	// bcrypt cost for user passwords; 0 means bcrypt.DefaultCost
	PasswordCost int
}

// New builds the engine and mounts every entity the registry currently
// holds. Admin mapping changes remount the entity routes.
func New(ctx context.Context, cfg *config.Config, d Deps) (*gin.Engine, error) {
	if d.Store == nil || d.Registry == nil {
		return nil, fmt.Errorf("server: store and registry are required")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	tokens := d.Tokens
	if tokens == nil {
		tokens = auth.NewManager(cfg.Auth.Secret, time.Duration(cfg.Auth.Expiry)*time.Minute)
	}
	gate := auth.JWT(tokens)

	overrides := map[string]rest.Hooks{
		"user": auth.PasswordHooks{Cost: d.PasswordCost},
	}
	mount := NewMount(cfg.BaseURL, d.Registry,
		WithMountLogger(log),
		WithResourceOptions(func(entity string) []rest.Option {
			opts := []rest.Option{rest.WithAuth(gate), rest.WithLogger(log)}
			if h, ok := overrides[entity]; ok {
				opts = append(opts, rest.WithHooks(h))
			}
			return opts
		}),
	)
	if err := d.Registry.RebuildAll(ctx); err != nil {
		log.WarnContext(ctx, "some mappings failed to compile", "error", err)
	}
	if err := mount.Refresh(ctx); err != nil {
		return nil, err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), apperr.Middleware())

	adm := admin.New(d.Store, d.Registry,
		admin.WithLogger(log),
		admin.WithOnChange(mount.Refresh),
		admin.WithTransform("user", admin.Transform{
			Prepare: func(h *registry.Handle, body map[string]any) error {
				return auth.HashBody(h, body, d.PasswordCost)
			},
			Present: auth.StripPassword,
		}),
	)
	adm.Register(r.Group(cfg.AdminPath, gate))

	if cfg.BaseURL == "" {
		r.NoRoute(mount.Handler())
	} else {
		r.Any(cfg.BaseURL+"/*path", mount.Handler())
	}
	return r, nil
}

// RequestLogger logs one line per request once it has been served.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		log.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client", c.ClientIP()),
		)
	}
}
