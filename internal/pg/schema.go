package pg

import (
	"fmt"
	"strings"

	"dynacrud/internal/schema"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// naive plural, enough for posts, users, emails
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// TableName is the table holding records of an entity.
func TableName(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

// sqlIdent quotes an identifier. Field names keep their case.
func sqlIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func mapType(f schema.Field) (string, error) {
	if f.Many {
		return "jsonb", nil
	}
	switch f.Storage {
	case schema.StorageString, schema.StorageID:
		return "text", nil
	case schema.StorageNumber:
		return "double precision", nil
	case schema.StorageBoolean:
		return "boolean", nil
	case schema.StorageDate:
		return "timestamp with time zone", nil
	case schema.StorageMixed:
		return "jsonb", nil
	}
	return "", fmt.Errorf("unknown storage type: %s", f.Storage)
}

func uniqueIndexName(table, field string) string {
	return strings.ToLower(table + "_" + field + "_uq")
}

func indexName(table, field string) string {
	return strings.ToLower(table + "_" + field + "_idx")
}

// GenerateDDL returns the statements creating or extending the table of c.
// Migration is add-only: columns are never dropped or retyped, and no
// column is "not null" so it can be added to a populated table.
func GenerateDDL(c *schema.Compiled) ([]string, error) {
	tbl := TableName(c.Entity)
	stmts := []string{
		fmt.Sprintf("create table if not exists %s (%s text primary key)", sqlIdent(tbl), sqlIdent(schema.FieldID)),
	}

	seen := map[string]struct{}{schema.FieldID: {}}
	for _, f := range c.Fields {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%s: field %q duplicates a column", c.Entity, f.Name)
		}
		seen[f.Name] = struct{}{}

		typ, err := mapType(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Entity, f.Name, err)
		}
		stmts = append(stmts, fmt.Sprintf("alter table %s add column if not exists %s %s",
			sqlIdent(tbl), sqlIdent(f.Name), typ))
	}

	for _, f := range c.Fields {
		switch {
		case f.Unique:
			stmts = append(stmts, fmt.Sprintf("create unique index if not exists %s on %s (%s)",
				sqlIdent(uniqueIndexName(tbl, f.Name)), sqlIdent(tbl), sqlIdent(f.Name)))
		case f.Index && !f.Many && f.Storage != schema.StorageMixed:
			stmts = append(stmts, fmt.Sprintf("create index if not exists %s on %s (%s)",
				sqlIdent(indexName(tbl, f.Name)), sqlIdent(tbl), sqlIdent(f.Name)))
		}
	}
	return stmts, nil
}
