package rest

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/mapping"
	"dynacrud/internal/query"
	"dynacrud/internal/registry"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

type coreFunc func(c *gin.Context, h *registry.Handle) (any, error)

var cores = map[mapping.Operation]coreFunc{
	mapping.OpList:      list,
	mapping.OpCreate:    create,
	mapping.OpRead:      read,
	mapping.OpUpdate:    update,
	mapping.OpDelete:    remove,
	mapping.OpDeleteAll: removeAll,
}

// GET /:entity
func list(c *gin.Context, h *registry.Handle) (any, error) {
	d, err := query.FromValues(c.Request.URL.Query())
	if err != nil {
		return nil, err
	}
	if d, err = query.Coerce(d, h.Schema()); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	recs, err := query.Find(ctx, d, h)
	if err != nil {
		return nil, err
	}
	total, err := query.Count(ctx, d, h)
	if err != nil {
		return nil, err
	}
	c.Header("X-Total-Count", strconv.Itoa(total))
	if recs == nil {
		recs = []storage.Record{}
	}
	return recs, nil
}

// POST /:entity
func create(c *gin.Context, h *registry.Handle) (any, error) {
	doc, err := h.Schema().Cast(Body(c), schema.ModeCreate)
	if err != nil {
		return nil, err
	}
	return h.Model().Create(c.Request.Context(), doc)
}

// GET /:entity/:id
func read(c *gin.Context, h *registry.Handle) (any, error) {
	rec, err := h.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	return orEmpty(rec), nil
}

// PUT /:entity/:id
func update(c *gin.Context, h *registry.Handle) (any, error) {
	patch, err := h.Schema().Cast(Body(c), schema.ModeUpdate)
	if err != nil {
		return nil, err
	}
	rec, err := h.Model().UpdateByID(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		return nil, err
	}
	return orEmpty(rec), nil
}

// DELETE /:entity/:id
func remove(c *gin.Context, h *registry.Handle) (any, error) {
	rec, err := h.Model().DeleteByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	return orEmpty(rec), nil
}

// DELETE /:entity deletes the ids given as {"ids": [...]} or ?id=..., and
// every record when none are given.
func removeAll(c *gin.Context, h *registry.Handle) (any, error) {
	ids := c.QueryArray("id")
	if c.Request.ContentLength != 0 {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			ids = append(ids, body.IDs...)
		}
	}
	ids = cleanIDs(ids)

	ctx := c.Request.Context()
	var (
		n   int
		err error
	)
	if len(ids) == 0 {
		n, err = h.Model().RemoveAll(ctx)
	} else {
		n, err = h.Model().DeleteMany(ctx, ids)
	}
	if err != nil {
		return nil, err
	}
	return gin.H{"deletedCount": n}, nil
}

func cleanIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		for _, p := range strings.Split(id, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// orEmpty turns a missing record into {}.
func orEmpty(rec storage.Record) any {
	if rec == nil {
		return gin.H{}
	}
	return rec
}
