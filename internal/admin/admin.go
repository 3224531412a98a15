// Package admin exposes mapping management and a generic data endpoint for
// the admin UI.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// Transform adapts the data admin requests write and return for one
// entity.
type Transform struct {
	Prepare func(h *registry.Handle, body map[string]any) error
	Present func(result any)
}

type API struct {
	store      mapping.Store
	reg        *registry.Registry
	log        *slog.Logger
	onChange   func(ctx context.Context) error
	transforms map[string]Transform
}

type Option func(*API)

func WithLogger(l *slog.Logger) Option { return func(a *API) { a.log = l } }

// WithOnChange registers fn to run after every mapping mutation, once the
// registry has been rebuilt.
func WithOnChange(fn func(ctx context.Context) error) Option {
	return func(a *API) { a.onChange = fn }
}

func WithTransform(entity string, t Transform) Option {
	return func(a *API) { a.transforms[mapping.CanonicalName(entity)] = t }
}

func New(store mapping.Store, reg *registry.Registry, opts ...Option) *API {
	a := &API{
		store:      store,
		reg:        reg,
		log:        slog.Default(),
		transforms: make(map[string]Transform),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *API) Register(r gin.IRouter) {
	r.GET("/model/list", a.listModels)
	r.GET("/model/get/:modelName", a.getModel)
	r.GET("/model/schema/:modelName", a.modelSchema)
	r.POST("/model/create/:modelName", a.createModel)
	r.DELETE("/model/delete/:modelName", a.deleteModel)
	r.POST("/model/crud", a.crud)
}

// GET /model/list
func (a *API) listModels(c *gin.Context) {
	names, err := a.store.Names(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

// GET /model/get/:modelName
func (a *API) getModel(c *gin.Context) {
	doc, err := a.store.Read(c.Request.Context(), c.Param("modelName"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GET /model/schema/:modelName
func (a *API) modelSchema(c *gin.Context) {
	h, err := a.reg.Handle(c.Request.Context(), c.Param("modelName"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Schema())
}

// POST /model/create/:modelName
func (a *API) createModel(c *gin.Context) {
	ctx := c.Request.Context()
	var doc mapping.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		apperr.Respond(c, apperr.ErrBadRequest.WithReason("invalid mapping JSON: "+err.Error()))
		return
	}
	doc.Name = mapping.CanonicalName(c.Param("modelName"))
	if err := doc.Validate(); err != nil {
		apperr.Respond(c, apperr.ErrBadRequest.WithReason(err.Error()))
		return
	}
	// a mapping that cannot compile is never persisted
	if _, err := schema.Compile(&doc); err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := a.store.Write(ctx, doc.Name, &doc); err != nil {
		apperr.Respond(c, err)
		return
	}
	a.changed(ctx, "created", doc.Name)
	c.JSON(http.StatusOK, &doc)
}

// DELETE /model/delete/:modelName
func (a *API) deleteModel(c *gin.Context) {
	ctx := c.Request.Context()
	name := mapping.CanonicalName(c.Param("modelName"))
	if err := a.store.Delete(ctx, name); err != nil {
		apperr.Respond(c, err)
		return
	}
	a.changed(ctx, "deleted", name)
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Collection Deleted"})
}

// changed rebuilds every entity so references across mappings stay
// consistent. Failures of other entities do not fail the mutation.
func (a *API) changed(ctx context.Context, what, name string) {
	if err := a.reg.RebuildAll(ctx); err != nil {
		a.log.WarnContext(ctx, "registry rebuild incomplete", "entity", name, "error", err)
	}
	if a.onChange != nil {
		if err := a.onChange(ctx); err != nil {
			a.log.WarnContext(ctx, "mapping change hook failed", "entity", name, "error", err)
		}
	}
	a.log.InfoContext(ctx, "mapping "+what, "entity", name)
}

func (a *API) present(entity string, result any) any {
	if t, ok := a.transforms[entity]; ok && t.Present != nil {
		t.Present(result)
	}
	return result
}

func orEmpty(rec storage.Record) any {
	if rec == nil {
		return gin.H{}
	}
	return rec
}
