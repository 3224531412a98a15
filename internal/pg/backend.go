package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// Backend stores every entity in its own table of one database.
type Backend struct {
	db          *sql.DB
	ids         *storage.IDs
	autoMigrate bool
	log         *slog.Logger

	// serializes DDL between concurrent registrations
	mu sync.Mutex
}

type Option func(*Backend)

// WithAutoMigrate makes Register create missing tables, columns and
// indexes.
func WithAutoMigrate(on bool) Option { return func(b *Backend) { b.autoMigrate = on } }

func WithLogger(l *slog.Logger) Option { return func(b *Backend) { b.log = l } }

func NewBackend(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, ids: storage.NewIDs(), autoMigrate: true, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) Register(ctx context.Context, c *schema.Compiled) (storage.Model, error) {
	if b.autoMigrate {
		stmts, err := GenerateDDL(c)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		err = ApplyDDL(ctx, b.db, stmts)
		b.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", c.Entity, err)
		}
		b.log.DebugContext(ctx, "table migrated", "entity", c.Entity, "table", TableName(c.Entity))
	}
	return newModel(b.db, b.ids, c), nil
}

func (b *Backend) Close() error { return b.db.Close() }
