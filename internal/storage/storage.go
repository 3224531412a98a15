// Package storage defines the backend contract the engine persists records
// through, and an in-memory implementation of it.
package storage

import (
	"context"

	"dynacrud/internal/schema"
)

// Record is one stored document. System keys are "id", "createdAt" and
// "updatedAt".
type Record map[string]any

func (r Record) ID() string {
	id, _ := r[schema.FieldID].(string)
	return id
}

// Clone copies the top level and any nested maps and slices.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, x := range t {
			cp[k] = cloneValue(x)
		}
		return cp
	case Record:
		return t.Clone()
	case []any:
		cp := make([]any, len(t))
		for i, x := range t {
			cp[i] = cloneValue(x)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Op is a condition operator.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpIn        Op = "in"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpRegex     Op = "regex"
	OpIContains Op = "icontains"
)

// KnownOp reports whether op is supported by every backend.
func KnownOp(op Op) bool {
	switch op {
	case OpEq, OpNe, OpIn, OpGt, OpGte, OpLt, OpLte, OpRegex, OpIContains:
		return true
	}
	return false
}

// Cond compares one field. Value is already coerced to the field's storage
// type; for OpIn it is a []any.
type Cond struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Filter matches records satisfying every And condition and, when Or is
// non-empty, at least one Or condition.
type Filter struct {
	And []Cond `json:"and,omitempty"`
	Or  []Cond `json:"or,omitempty"`
}

func (f Filter) Empty() bool { return len(f.And) == 0 && len(f.Or) == 0 }

type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is applied in the fixed order filter, select, sort, skip, limit.
// A zero Limit means no limit.
type Query struct {
	Filter Filter
	Select []string
	Omit   []string
	Sort   []SortKey
	Skip   int
	Limit  int
}

// Model is the storage handle of one compiled schema. Lookups by id return
// a nil Record and no error when the record does not exist.
type Model interface {
	Schema() *schema.Compiled
	Find(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	Create(ctx context.Context, doc map[string]any) (Record, error)
	FindByID(ctx context.Context, id string) (Record, error)
	FindByIDs(ctx context.Context, ids []string) ([]Record, error)
	UpdateByID(ctx context.Context, id string, patch map[string]any) (Record, error)
	DeleteByID(ctx context.Context, id string) (Record, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	RemoveAll(ctx context.Context) (int, error)
}

// Backend registers model definitions. Registering a model name again
// replaces its definition and keeps the stored records.
type Backend interface {
	Register(ctx context.Context, c *schema.Compiled) (Model, error)
}
