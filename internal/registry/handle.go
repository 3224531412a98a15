package registry

import (
	"context"

	"dynacrud/internal/populate"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// Handle is an immutable binding of one compiled schema to its storage
// model. A request keeps using the handle it fetched even if the entity
// is recompiled meanwhile; later requests must fetch a new one.
type Handle struct {
	compiled *schema.Compiled
	model    storage.Model
	version  uint64
	reg      *Registry
}

func (h *Handle) Schema() *schema.Compiled { return h.compiled }
func (h *Handle) Model() storage.Model     { return h.model }
func (h *Handle) Version() uint64          { return h.version }
func (h *Handle) Entity() string           { return h.compiled.Entity }

// Find runs q and populates autopopulate references of the page.
func (h *Handle) Find(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	recs, err := h.model.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := populate.Expand(ctx, h.compiled, recs, h.reg.modelFor); err != nil {
		return nil, err
	}
	return recs, nil
}

// FindByID returns the populated record, or nil when it does not exist.
func (h *Handle) FindByID(ctx context.Context, id string) (storage.Record, error) {
	rec, err := h.model.FindByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := populate.Expand(ctx, h.compiled, []storage.Record{rec}, h.reg.modelFor); err != nil {
		return nil, err
	}
	return rec, nil
}
