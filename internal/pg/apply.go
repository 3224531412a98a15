package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// duplicate_object, duplicate_table
var skippable = map[string]bool{"42710": true, "42P07": true}

// ApplyDDL runs stmts in order. Statements are expected to be idempotent
// (if not exists); objects that already exist are logged and skipped.
func ApplyDDL(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && skippable[pgErr.Code] {
				slog.DebugContext(ctx, "ddl skipped, already exists", "code", pgErr.Code, "message", pgErr.Message)
				continue
			}
			return fmt.Errorf("apply ddl %q: %w", stmt, err)
		}
	}
	return nil
}
