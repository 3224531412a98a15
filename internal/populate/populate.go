// Package populate expands reference fields into the records they point
// at.
package populate

import (
	"context"
	"log/slog"

	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// Resolver returns the storage model registered under a model name
// ("User").
type Resolver func(ctx context.Context, model string) (storage.Model, error)

// Fields returns the reference fields flagged autopopulate.
func Fields(c *schema.Compiled) []schema.Field {
	var out []schema.Field
	for _, f := range c.References() {
		if f.AutoPopulate {
			out = append(out, f)
		}
	}
	return out
}

// Expand replaces the ids held by autopopulate fields of recs with the
// referenced records, in place. hasone fields become the record or nil,
// hasmany fields the list of records still found. Populated records are
// not expanded further. An unresolvable target entity yields nil.
func Expand(ctx context.Context, c *schema.Compiled, recs []storage.Record, resolve Resolver) error {
	if len(recs) == 0 {
		return nil
	}
	for _, f := range Fields(c) {
		ids := collectIDs(recs, f)
		if len(ids) == 0 {
			continue
		}

		target, err := resolve(ctx, f.Ref)
		if err != nil {
			slog.DebugContext(ctx, "populate target unavailable",
				"entity", c.Entity, "field", f.Name, "ref", f.Ref, "error", err)
			blank(recs, f)
			continue
		}
		found, err := target.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]storage.Record, len(found))
		for _, r := range found {
			byID[r.ID()] = r
		}
		assign(recs, f, byID)
	}
	return nil
}

func collectIDs(recs []storage.Record, f schema.Field) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range recs {
		switch v := r[f.Name].(type) {
		case string:
			add(v)
		case []string:
			for _, id := range v {
				add(id)
			}
		case []any:
			for _, it := range v {
				if id, ok := it.(string); ok {
					add(id)
				}
			}
		}
	}
	return ids
}

func blank(recs []storage.Record, f schema.Field) {
	for _, r := range recs {
		if _, ok := r[f.Name]; ok {
			r[f.Name] = nil
		}
	}
}

func assign(recs []storage.Record, f schema.Field, byID map[string]storage.Record) {
	for _, r := range recs {
		raw, ok := r[f.Name]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if hit, ok := byID[v]; ok {
				r[f.Name] = hit.Clone()
			} else {
				r[f.Name] = nil
			}
		case []string:
			r[f.Name] = pick(v, byID)
		case []any:
			ids := make([]string, 0, len(v))
			for _, it := range v {
				if id, ok := it.(string); ok {
					ids = append(ids, id)
				}
			}
			r[f.Name] = pick(ids, byID)
		}
	}
}

func pick(ids []string, byID map[string]storage.Record) []storage.Record {
	out := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		if hit, ok := byID[id]; ok {
			out = append(out, hit.Clone())
		}
	}
	return out
}
