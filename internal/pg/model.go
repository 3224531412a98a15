package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"dynacrud/internal/apperr"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

const codeUniqueViolation = "23505"

type model struct {
	db     *sql.DB
	ids    *storage.IDs
	schema *schema.Compiled
	table  string
	// columns in select order, "id" first
	cols []schema.Field
}

func newModel(db *sql.DB, ids *storage.IDs, c *schema.Compiled) *model {
	id, _ := c.Field(schema.FieldID)
	return &model{
		db:     db,
		ids:    ids,
		schema: c,
		table:  sqlIdent(TableName(c.Entity)),
		cols:   append([]schema.Field{id}, c.Fields...),
	}
}

func (m *model) Schema() *schema.Compiled { return m.schema }

func (m *model) selectList(cols []schema.Field) string {
	names := make([]string, len(cols))
	for i, f := range cols {
		names[i] = sqlIdent(f.Name)
	}
	return strings.Join(names, ", ")
}

// projected returns the columns kept by select and omit.
func (m *model) projected(sel, omit []string) []schema.Field {
	if len(sel) == 0 && len(omit) == 0 {
		return m.cols
	}
	keep := func(name string) bool {
		for _, o := range omit {
			if o == name {
				return false
			}
		}
		if len(sel) == 0 || name == schema.FieldID {
			return true
		}
		for _, s := range sel {
			if s == name {
				return true
			}
		}
		return false
	}
	var out []schema.Field
	for _, f := range m.cols {
		if keep(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

func (m *model) Find(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	var p params
	where, err := whereClause(m.schema, q.Filter, &p)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(m.schema, q.Sort)
	if err != nil {
		return nil, err
	}
	cols := m.projected(q.Select, q.Omit)
	if len(cols) == 0 {
		cols = m.cols[:1]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "select %s from %s%s%s", m.selectList(cols), m.table, where, order)
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %s", p.add(q.Limit))
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, " offset %s", p.add(q.Skip))
	}
	return m.query(ctx, cols, b.String(), p.args...)
}

func (m *model) Count(ctx context.Context, f storage.Filter) (int, error) {
	var p params
	where, err := whereClause(m.schema, f, &p)
	if err != nil {
		return 0, err
	}
	var n int
	err = m.db.QueryRowContext(ctx, "select count(*) from "+m.table+where, p.args...).Scan(&n)
	if err != nil {
		return 0, m.wrap(err)
	}
	return n, nil
}

func (m *model) Create(ctx context.Context, doc map[string]any) (storage.Record, error) {
	now := time.Now().UTC()
	var p params
	names := []string{sqlIdent(schema.FieldID)}
	values := []string{p.add(m.ids.New())}

	for _, f := range m.schema.Fields {
		var v any
		switch {
		case f.System:
			v = now
		default:
			x, ok := doc[f.Name]
			if !ok {
				continue
			}
			v = x
		}
		ph, err := m.param(&p, f, v)
		if err != nil {
			return nil, err
		}
		names = append(names, sqlIdent(f.Name))
		values = append(values, ph)
	}

	stmt := fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
		m.table, strings.Join(names, ", "), strings.Join(values, ", "), m.selectList(m.cols))
	return m.queryOne(ctx, stmt, p.args...)
}

func (m *model) FindByID(ctx context.Context, id string) (storage.Record, error) {
	stmt := fmt.Sprintf("select %s from %s where %s = $1", m.selectList(m.cols), m.table, sqlIdent(schema.FieldID))
	return m.queryOne(ctx, stmt, id)
}

// FindByIDs returns the existing records in the order of ids.
func (m *model) FindByIDs(ctx context.Context, ids []string) ([]storage.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var p params
	phs := make([]string, len(ids))
	for i, id := range ids {
		phs[i] = p.add(id)
	}
	stmt := fmt.Sprintf("select %s from %s where %s in (%s)",
		m.selectList(m.cols), m.table, sqlIdent(schema.FieldID), strings.Join(phs, ", "))
	recs, err := m.query(ctx, m.cols, stmt, p.args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.Record, len(recs))
	for _, r := range recs {
		byID[r.ID()] = r
	}
	out := make([]storage.Record, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *model) UpdateByID(ctx context.Context, id string, patch map[string]any) (storage.Record, error) {
	now := time.Now().UTC()
	var p params
	var sets []string
	for _, f := range m.schema.Fields {
		var v any
		switch {
		case f.System && f.Name == schema.FieldUpdatedAt:
			v = now
		case f.System:
			continue
		default:
			x, ok := patch[f.Name]
			if !ok {
				continue
			}
			v = x
		}
		ph, err := m.param(&p, f, v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, sqlIdent(f.Name)+" = "+ph)
	}
	if len(sets) == 0 {
		return m.FindByID(ctx, id)
	}
	stmt := fmt.Sprintf("update %s set %s where %s = %s returning %s",
		m.table, strings.Join(sets, ", "), sqlIdent(schema.FieldID), p.add(id), m.selectList(m.cols))
	return m.queryOne(ctx, stmt, p.args...)
}

func (m *model) DeleteByID(ctx context.Context, id string) (storage.Record, error) {
	stmt := fmt.Sprintf("delete from %s where %s = $1 returning %s", m.table, sqlIdent(schema.FieldID), m.selectList(m.cols))
	return m.queryOne(ctx, stmt, id)
}

func (m *model) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var p params
	phs := make([]string, len(ids))
	for i, id := range ids {
		phs[i] = p.add(id)
	}
	res, err := m.db.ExecContext(ctx,
		fmt.Sprintf("delete from %s where %s in (%s)", m.table, sqlIdent(schema.FieldID), strings.Join(phs, ", ")),
		p.args...)
	return affected(res, m.wrap(err))
}

func (m *model) RemoveAll(ctx context.Context) (int, error) {
	res, err := m.db.ExecContext(ctx, "delete from "+m.table)
	return affected(res, m.wrap(err))
}

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// param binds one column value. jsonb columns get their JSON text.
func (m *model) param(p *params, f schema.Field, v any) (string, error) {
	if v == nil {
		return p.add(nil), nil
	}
	if f.Many || f.Storage == schema.StorageMixed {
		ph, err := p.addJSON(v)
		if err != nil {
			return "", apperr.ErrBadRequest.WithReason(fmt.Sprintf("%s: %v", f.Name, err))
		}
		return ph, nil
	}
	return p.add(v), nil
}

func (m *model) queryOne(ctx context.Context, stmt string, args ...any) (storage.Record, error) {
	recs, err := m.query(ctx, m.cols, stmt, args...)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (m *model) query(ctx context.Context, cols []schema.Field, stmt string, args ...any) ([]storage.Record, error) {
	rows, err := m.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, m.wrap(err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		r, err := scanRecord(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, m.wrap(err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows, cols []schema.Field) (storage.Record, error) {
	dest := make([]any, len(cols))
	for i, f := range cols {
		switch {
		case f.Many || f.Storage == schema.StorageMixed:
			dest[i] = new([]byte)
		case f.Storage == schema.StorageNumber:
			dest[i] = new(sql.NullFloat64)
		case f.Storage == schema.StorageBoolean:
			dest[i] = new(sql.NullBool)
		case f.Storage == schema.StorageDate:
			dest[i] = new(sql.NullTime)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	rec := make(storage.Record, len(cols))
	for i, f := range cols {
		switch d := dest[i].(type) {
		case *sql.NullString:
			if d.Valid {
				rec[f.Name] = d.String
			} else if f.Name != schema.FieldID {
				rec[f.Name] = nil
			}
		case *sql.NullFloat64:
			rec[f.Name] = nullable(d.Valid, d.Float64)
		case *sql.NullBool:
			rec[f.Name] = nullable(d.Valid, d.Bool)
		case *sql.NullTime:
			rec[f.Name] = nullable(d.Valid, d.Time.UTC())
		case *[]byte:
			v, err := decodeJSON(*d, f.Many)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", f.Name, err)
			}
			rec[f.Name] = v
		}
	}
	return rec, nil
}

func nullable[T any](valid bool, v T) any {
	if !valid {
		return nil
	}
	return v
}

func decodeJSON(b []byte, many bool) (any, error) {
	if b == nil {
		return nil, nil
	}
	if many {
		var ids []string
		if err := json.Unmarshal(b, &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// wrap turns unique violations into validation errors on the field that
// owns the violated index.
func (m *model) wrap(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		field := pgErr.ConstraintName
		for _, f := range m.schema.Fields {
			if f.Unique && uniqueIndexName(TableName(m.schema.Entity), f.Name) == pgErr.ConstraintName {
				field = f.Name
				break
			}
		}
		return &apperr.ValidationError{
			Entity: m.schema.Entity,
			Errors: []apperr.FieldError{apperr.Ferr(apperr.CodeUnique, field, "Field '"+field+"' must be unique")},
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrStorage, m.schema.Entity, err)
}
