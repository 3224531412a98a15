package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"dynacrud/internal/auth"
	"dynacrud/internal/config"
	"dynacrud/internal/mapping"
	"dynacrud/internal/pg"
	"dynacrud/internal/registry"
	"dynacrud/internal/server"
	"dynacrud/internal/storage"
)

var (
	v          = config.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "dynacrud",
	Short: "Mapping-driven CRUD server",
	Long: `dynacrud compiles entity mappings into schemas and serves generated
CRUD routes for them, plus an admin API to manage the mappings.

Every flag can also be set in the config file or as a DYNACRUD_ environment
variable, e.g. DYNACRUD_DB_URL or DYNACRUD_AUTH_SECRET.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var (
	tokenSubject string
	tokenRoles   []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed token for the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.Secret == "" {
			return errors.New("auth.secret is not set")
		}
		m := auth.NewManager(cfg.Auth.Secret, time.Duration(cfg.Auth.Expiry)*time.Minute)
		token, err := m.Generate(tokenSubject, tokenRoles)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml or json)")
	rootCmd.PersistentFlags().String("auth-secret", "", "HMAC secret for tokens")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text|json")

	f := serveCmd.Flags()
	f.IntP("port", "p", 8080, "HTTP port")
	f.String("base-url", "/api/v1", "Prefix of the generated entity routes")
	f.String("admin-path", "/admin", "Prefix of the admin API")
	f.String("mapping-dir", ".dynacrud/models", "Directory of mapping files")
	f.String("db-url", "", "Postgres URL (empty = in-memory)")
	f.Bool("auto-migrate", false, "Create missing tables, columns and indexes")
	f.Bool("debug", false, "Run gin in debug mode")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{"admin"}, "Token roles")

	bind(rootCmd.PersistentFlags(), "auth.secret", "log.level", "log.format")
	bind(f, "port", "baseUrl", "adminPath", "mappingDir", "dbUrl", "autoMigrate", "debug")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

// bind ties each viper key to the flag of the same name in kebab case.
func bind(fs *pflag.FlagSet, keys ...string) {
	for _, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flagName(key))); err != nil {
			panic(err)
		}
	}
}

func flagName(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '.':
			b.WriteByte('-')
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, err := mapping.NewFileStore(cfg.MappingDir)
	if err != nil {
		return err
	}
	if err := mapping.Seed(ctx, store); err != nil {
		return err
	}
	reg := registry.New(store, backend, registry.WithLogger(log))

	engine, err := server.New(ctx, cfg, server.Deps{Store: store, Registry: reg, Logger: log})
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Addr(), Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "baseUrl", cfg.BaseURL, "adminPath", cfg.AdminPath)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Backend, func(), error) {
	if cfg.DBURL == "" {
		log.Info("using in-memory storage")
		return storage.NewMemory(), func() {}, nil
	}
	db, err := pg.Open(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := pg.NewBackend(db, pg.WithAutoMigrate(cfg.AutoMigrate), pg.WithLogger(log))
	return b, func() { _ = b.Close() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
