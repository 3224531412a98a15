package storage

import (
	"context"
	"sync"
	"time"

	"dynacrud/internal/apperr"
	"dynacrud/internal/schema"
)

// Memory keeps every model in process memory. Ids are monotonic ULIDs, so
// sorting by id is insertion order.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*table
	ids    *IDs
}

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]*table),
		ids:    NewIDs(),
	}
}

// table holds the records of one model name. It outlives re-registration.
type table struct {
	mu    sync.RWMutex
	rows  map[string]Record
	order []string
}

func (m *Memory) Register(_ context.Context, c *schema.Compiled) (Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[c.Model]
	if !ok {
		t = &table{rows: make(map[string]Record)}
		m.tables[c.Model] = t
	}
	return &memModel{backend: m, schema: c, t: t}, nil
}

type memModel struct {
	backend *Memory
	schema  *schema.Compiled
	t       *table
}

func (m *memModel) Schema() *schema.Compiled { return m.schema }

// live returns the records in insertion order. Caller holds t.mu.
func (m *memModel) live() []Record {
	out := make([]Record, 0, len(m.t.order))
	for _, id := range m.t.order {
		if r, ok := m.t.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (m *memModel) Find(_ context.Context, q Query) ([]Record, error) {
	mt, err := newMatcher(q.Filter)
	if err != nil {
		return nil, err
	}

	m.t.mu.RLock()
	var hits []Record
	for _, r := range m.live() {
		if mt.match(r) {
			hits = append(hits, r.Clone())
		}
	}
	m.t.mu.RUnlock()

	sortRecords(hits, q.Sort)

	start := min(max(q.Skip, 0), len(hits))
	end := len(hits)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page := hits[start:end]

	out := make([]Record, 0, len(page))
	for _, r := range page {
		out = append(out, project(r, q.Select, q.Omit))
	}
	return out, nil
}

func (m *memModel) Count(_ context.Context, f Filter) (int, error) {
	mt, err := newMatcher(f)
	if err != nil {
		return 0, err
	}
	m.t.mu.RLock()
	defer m.t.mu.RUnlock()
	n := 0
	for _, r := range m.live() {
		if mt.match(r) {
			n++
		}
	}
	return n, nil
}

func (m *memModel) Create(_ context.Context, doc map[string]any) (Record, error) {
	now := time.Now().UTC()
	rec := make(Record, len(doc)+3)
	for k, v := range doc {
		rec[k] = cloneValue(v)
	}
	rec[schema.FieldID] = m.backend.ids.New()
	m.stamp(rec, now, true)

	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	if err := m.checkUnique(rec, ""); err != nil {
		return nil, err
	}
	m.t.rows[rec.ID()] = rec
	m.t.order = append(m.t.order, rec.ID())
	return rec.Clone(), nil
}

// stamp sets the timestamps the schema manages itself.
func (m *memModel) stamp(rec Record, now time.Time, created bool) {
	for _, f := range m.schema.Fields {
		if !f.System {
			continue
		}
		switch f.Name {
		case schema.FieldCreatedAt:
			if created {
				rec[f.Name] = now
			}
		case schema.FieldUpdatedAt:
			rec[f.Name] = now
		}
	}
}

func (m *memModel) checkUnique(rec Record, selfID string) error {
	var errs []apperr.FieldError
	for _, f := range m.schema.Fields {
		if !f.Unique {
			continue
		}
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		for id, other := range m.t.rows {
			if id == selfID || id == rec.ID() {
				continue
			}
			if equalValues(other[f.Name], v) {
				errs = append(errs, apperr.Ferr(apperr.CodeUnique, f.Name, "Field '"+f.Name+"' must be unique"))
				break
			}
		}
	}
	if len(errs) > 0 {
		return &apperr.ValidationError{Entity: m.schema.Entity, Errors: errs}
	}
	return nil
}

func (m *memModel) FindByID(_ context.Context, id string) (Record, error) {
	m.t.mu.RLock()
	defer m.t.mu.RUnlock()
	r, ok := m.t.rows[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

// FindByIDs returns the existing records in the order of ids.
func (m *memModel) FindByIDs(_ context.Context, ids []string) ([]Record, error) {
	m.t.mu.RLock()
	defer m.t.mu.RUnlock()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.t.rows[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *memModel) UpdateByID(_ context.Context, id string, patch map[string]any) (Record, error) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	cur, ok := m.t.rows[id]
	if !ok {
		return nil, nil
	}
	next := cur.Clone()
	for k, v := range patch {
		if k == schema.FieldID || k == schema.FieldCreatedAt {
			continue
		}
		next[k] = cloneValue(v)
	}
	m.stamp(next, time.Now().UTC(), false)
	if err := m.checkUnique(next, id); err != nil {
		return nil, err
	}
	m.t.rows[id] = next
	return next.Clone(), nil
}

func (m *memModel) DeleteByID(_ context.Context, id string) (Record, error) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	r, ok := m.t.rows[id]
	if !ok {
		return nil, nil
	}
	delete(m.t.rows, id)
	m.compact()
	return r, nil
}

func (m *memModel) DeleteMany(_ context.Context, ids []string) (int, error) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.t.rows[id]; ok {
			delete(m.t.rows, id)
			n++
		}
	}
	m.compact()
	return n, nil
}

func (m *memModel) RemoveAll(_ context.Context) (int, error) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	n := len(m.t.rows)
	m.t.rows = make(map[string]Record)
	m.t.order = nil
	return n, nil
}

// compact drops deleted ids from the order slice. Caller holds t.mu.
func (m *memModel) compact() {
	kept := m.t.order[:0]
	for _, id := range m.t.order {
		if _, ok := m.t.rows[id]; ok {
			kept = append(kept, id)
		}
	}
	m.t.order = kept
}
