// Package query turns request parameters into storage queries and runs
// them against registry handles.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"dynacrud/internal/apperr"
	"dynacrud/internal/registry"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Descriptor is a list request before it reaches storage.
type Descriptor struct {
	Filter storage.Filter
	Sort   []storage.SortKey
	Page   int
	Limit  int
	Select []string
	Omit   []string
}

// Normalize replaces a page or limit below 1 with the defaults.
func Normalize(d Descriptor) Descriptor {
	if d.Page < 1 {
		d.Page = DefaultPage
	}
	if d.Limit < 1 {
		d.Limit = DefaultLimit
	}
	return d
}

// Skip is the number of records before the current page.
func (d Descriptor) Skip() int {
	n := Normalize(d)
	return (n.Page - 1) * n.Limit
}

// Storage converts a normalized copy of d into a storage query.
func (d Descriptor) Storage() storage.Query {
	n := Normalize(d)
	return storage.Query{
		Filter: n.Filter,
		Select: n.Select,
		Omit:   n.Omit,
		Sort:   n.Sort,
		Skip:   n.Skip(),
		Limit:  n.Limit,
	}
}

var reserved = map[string]bool{
	"page": true, "limit": true, "sort": true, "select": true, "filter": true,
	"q": true, "offset": true, "_page": true, "_limit": true, "_sort": true,
}

// FromValues reads page, limit, sort ("-createdAt,title"), select
// ("title,-body"), filter (a JSON find object) and field or field__op
// conditions from URL parameters. Values stay strings until Coerce.
func FromValues(q url.Values) (Descriptor, error) {
	var d Descriptor
	d.Page = atoi(first(q, "page", "_page"))
	d.Limit = atoi(first(q, "limit", "_limit"))
	d.Sort = ParseSort(first(q, "sort", "_sort"))
	d.Select, d.Omit = ParseSelect(q.Get("select"))

	if raw := strings.TrimSpace(q.Get("filter")); raw != "" {
		var find map[string]any
		if err := json.Unmarshal([]byte(raw), &find); err != nil {
			return d, apperr.ErrBadRequest.WithReason("filter must be a JSON object")
		}
		f, err := FromFind(find)
		if err != nil {
			return d, err
		}
		d.Filter = f
	}

	for key, vals := range q {
		if reserved[key] || len(vals) == 0 {
			continue
		}
		field, op := key, storage.OpEq
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, op = key[:i], storage.Op(key[i+2:])
		}
		v := vals[0]
		if strings.HasPrefix(v, "in:") {
			op, v = storage.OpIn, strings.TrimPrefix(v, "in:")
		}
		if field == "" {
			continue
		}
		if op == storage.OpIn {
			var parts []any
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			if len(parts) == 0 {
				continue
			}
			d.Filter.And = append(d.Filter.And, storage.Cond{Field: field, Op: op, Value: parts})
			continue
		}
		d.Filter.And = append(d.Filter.And, storage.Cond{Field: field, Op: op, Value: v})
	}
	return d, nil
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// ParseSort reads "-a,+b,c".
func ParseSort(s string) []storage.SortKey {
	var keys []storage.SortKey
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimLeft(p, "+-")
		if p != "" {
			keys = append(keys, storage.SortKey{Field: p, Desc: desc})
		}
	}
	return keys
}

// ParseSelect reads "a,b" or "-a,-b". A leading minus omits the field.
func ParseSelect(s string) (sel, omit []string) {
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		switch {
		case p == "" || p == "-":
		case strings.HasPrefix(p, "-"):
			omit = append(omit, p[1:])
		default:
			sel = append(sel, p)
		}
	}
	return sel, omit
}

// FromFind converts a find object. Plain values compare for equality,
// arrays become "in", objects hold operators ({"age": {"$gte": 18}}), and
// "$or" takes a list of single-condition find objects. Entries holding more
// than one condition or a nested "$or" are rejected: the filter has no way
// to express a disjunction of conjunctions.
func FromFind(find map[string]any) (storage.Filter, error) {
	var f storage.Filter
	for key, raw := range find {
		if key == "$or" {
			list, ok := raw.([]any)
			if !ok {
				return f, apperr.ErrBadRequest.WithReason("$or must be a list")
			}
			for _, it := range list {
				sub, ok := it.(map[string]any)
				if !ok {
					return f, apperr.ErrBadRequest.WithReason("$or entries must be objects")
				}
				inner, err := FromFind(sub)
				if err != nil {
					return f, err
				}
				if len(inner.Or) > 0 || len(inner.And) != 1 {
					return f, apperr.ErrBadRequest.WithReason("$or entries must hold exactly one condition")
				}
				f.Or = append(f.Or, inner.And[0])
			}
			continue
		}
		conds, err := fieldConds(key, raw)
		if err != nil {
			return f, err
		}
		f.And = append(f.And, conds...)
	}
	return f, nil
}

func fieldConds(field string, raw any) ([]storage.Cond, error) {
	switch v := raw.(type) {
	case []any:
		return []storage.Cond{{Field: field, Op: storage.OpIn, Value: v}}, nil
	case map[string]any:
		var out []storage.Cond
		for k, x := range v {
			op := storage.Op(strings.TrimPrefix(k, "$"))
			if !storage.KnownOp(op) {
				return nil, apperr.ErrBadRequest.WithReason(fmt.Sprintf("unknown operator %q on %s", k, field))
			}
			out = append(out, storage.Cond{Field: field, Op: op, Value: x})
		}
		return out, nil
	}
	return []storage.Cond{{Field: field, Op: storage.OpEq, Value: raw}}, nil
}

// Coerce checks every referenced field against c and converts condition
// values to the field storage types.
func Coerce(d Descriptor, c *schema.Compiled) (Descriptor, error) {
	var errs []apperr.FieldError
	conv := func(conds []storage.Cond) []storage.Cond {
		out := make([]storage.Cond, 0, len(conds))
		for _, cond := range conds {
			f, ok := c.Field(cond.Field)
			if !ok {
				errs = append(errs, apperr.Ferr(apperr.CodeUnknownField, cond.Field, "Unknown field '"+cond.Field+"'"))
				continue
			}
			v, err := coerceValue(f, cond)
			if err != nil {
				errs = append(errs, apperr.Ferr(apperr.CodeTypeMismatch, cond.Field, err.Error()))
				continue
			}
			cond.Value = v
			out = append(out, cond)
		}
		return out
	}
	d.Filter.And = conv(d.Filter.And)
	d.Filter.Or = conv(d.Filter.Or)

	for _, k := range d.Sort {
		if _, ok := c.Field(k.Field); !ok {
			errs = append(errs, apperr.Ferr(apperr.CodeUnknownField, k.Field, "Unknown sort field '"+k.Field+"'"))
		}
	}
	if len(errs) > 0 {
		return d, &apperr.ValidationError{Entity: c.Entity, Errors: errs}
	}
	return d, nil
}

func coerceValue(f schema.Field, cond storage.Cond) (any, error) {
	switch cond.Op {
	case storage.OpRegex, storage.OpIContains:
		s, ok := cond.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%s needs a string", cond.Op)
		}
		return s, nil
	case storage.OpIn:
		list, ok := cond.Value.([]any)
		if !ok {
			list = []any{cond.Value}
		}
		out := make([]any, 0, len(list))
		for _, it := range list {
			v, err := f.CoerceScalar(it)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	if cond.Value == nil {
		return nil, nil
	}
	return f.CoerceScalar(cond.Value)
}

// Find runs d against h. Referenced records are populated.
func Find(ctx context.Context, d Descriptor, h *registry.Handle) ([]storage.Record, error) {
	return h.Find(ctx, d.Storage())
}

// Count reports how many records match the filter of d, ignoring
// pagination.
func Count(ctx context.Context, d Descriptor, h *registry.Handle) (int, error) {
	return h.Model().Count(ctx, d.Filter)
}

// Search builds the filter matching term as a case-insensitive substring
// of any string field of c. It also returns the searched field names,
// ["id"] when c has no string fields. An empty term matches everything.
func Search(c *schema.Compiled, term string) (storage.Filter, []string) {
	var names []string
	for _, f := range c.StringFields() {
		names = append(names, f.Name)
	}
	if len(names) == 0 {
		names = []string{schema.FieldID}
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return storage.Filter{}, names
	}
	var f storage.Filter
	for _, n := range names {
		f.Or = append(f.Or, storage.Cond{Field: n, Op: storage.OpIContains, Value: term})
	}
	return f, names
}
