// Package rest generates the CRUD routes of one entity from its compiled
// schema.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/schema"
)

// Context keys set by the pipeline.
const (
	OperationKey = "dynacrud.operation"
	EntityKey    = "dynacrud.entity"
	bodyKey      = "dynacrud.body"
)

// Resource builds the router of one entity.
type Resource struct {
	entity string
	reg    *registry.Registry
	hooks  Hooks
	auth   gin.HandlerFunc
	log    *slog.Logger

	mu         sync.Mutex
	middleware map[mapping.Operation][]gin.HandlerFunc
}

type Option func(*Resource)

func WithHooks(h Hooks) Option { return func(r *Resource) { r.hooks = h } }

// WithAuth sets the gate placed ahead of operations that require
// authorization. Without it those operations always answer 401.
func WithAuth(gate gin.HandlerFunc) Option { return func(r *Resource) { r.auth = gate } }

func WithMiddleware(op mapping.Operation, mw ...gin.HandlerFunc) Option {
	return func(r *Resource) { r.AddMiddleware(op, mw...) }
}

func WithLogger(l *slog.Logger) Option { return func(r *Resource) { r.log = l } }

func New(entity string, reg *registry.Registry, opts ...Option) *Resource {
	r := &Resource{
		entity:     mapping.CanonicalName(entity),
		reg:        reg,
		hooks:      DefaultHooks{},
		log:        slog.Default(),
		middleware: make(map[mapping.Operation][]gin.HandlerFunc),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resource) Entity() string { return r.entity }

// AddMiddleware appends mw to the chain of op. Later calls add to the
// chain, they never replace it.
func (r *Resource) AddMiddleware(op mapping.Operation, mw ...gin.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware[op] = append(r.middleware[op], mw...)
}

func (r *Resource) middlewareFor(op mapping.Operation) []gin.HandlerFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gin.HandlerFunc(nil), r.middleware[op]...)
}

// BasePath is the collection path of the entity.
func (r *Resource) BasePath() string { return "/" + r.entity }

type route struct {
	method string
	path   string
}

func (r *Resource) routeOf(op mapping.Operation) route {
	base := r.BasePath()
	switch op {
	case mapping.OpList:
		return route{http.MethodGet, base}
	case mapping.OpCreate:
		return route{http.MethodPost, base}
	case mapping.OpRead:
		return route{http.MethodGet, base + "/:id"}
	case mapping.OpUpdate:
		return route{http.MethodPut, base + "/:id"}
	case mapping.OpDelete:
		return route{http.MethodDelete, base + "/:id"}
	case mapping.OpDeleteAll:
		return route{http.MethodDelete, base}
	}
	panic(fmt.Sprintf("rest: unknown operation %q", op))
}

// OperationsOf lists the enabled operations of c in registration order.
func OperationsOf(c *schema.Compiled) []mapping.Operation {
	var ops []mapping.Operation
	for _, op := range mapping.AllOperations {
		if c.Operations.Allows(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// Routes builds a fresh router from the current handle of the entity.
// Custom routes are registered first, then one route per enabled
// operation.
func (r *Resource) Routes(ctx context.Context) (*gin.Engine, error) {
	h, err := r.reg.Handle(ctx, r.entity)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine = r.hooks.CustomRoutes(engine, r.BasePath(), h)
	if engine == nil {
		return nil, fmt.Errorf("%s: %w", r.entity, apperr.ErrInvalidCustomRoutes)
	}

	c := h.Schema()
	for _, op := range OperationsOf(c) {
		rt := r.routeOf(op)
		engine.Handle(rt.method, rt.path, r.chain(c, op)...)
	}
	r.log.DebugContext(ctx, "routes built", "entity", r.entity, "operations", OperationsOf(c), "version", h.Version())
	return engine, nil
}

// chain is auth gate, caller middleware, operation tag, then Before, core
// and After inside the final handler.
func (r *Resource) chain(c *schema.Compiled, op mapping.Operation) []gin.HandlerFunc {
	var out []gin.HandlerFunc
	if c.RequiresAuth(op) {
		out = append(out, r.gate())
	}
	out = append(out, r.middlewareFor(op)...)
	out = append(out, r.tag(op), r.handle(op))
	return out
}

func (r *Resource) gate() gin.HandlerFunc {
	if r.auth != nil {
		return r.auth
	}
	return func(c *gin.Context) {
		apperr.Respond(c, apperr.ErrUnauthorized)
	}
}

func (r *Resource) tag(op mapping.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(OperationKey, op)
		c.Set(EntityKey, r.entity)
		if op == mapping.OpCreate || op == mapping.OpUpdate {
			var body map[string]any
			if err := c.ShouldBindJSON(&body); err != nil {
				apperr.Respond(c, apperr.ErrBadRequest.WithReason("invalid JSON body"))
				return
			}
			if body == nil {
				body = map[string]any{}
			}
			c.Set(bodyKey, body)
		}
		c.Next()
	}
}

// Operation returns the operation tag of the request.
func Operation(c *gin.Context) (mapping.Operation, bool) {
	v, ok := c.Get(OperationKey)
	if !ok {
		return "", false
	}
	op, ok := v.(mapping.Operation)
	return op, ok
}

// Body returns the decoded JSON body of a create or update request. Hooks
// may modify it before the core handler runs.
func Body(c *gin.Context) map[string]any {
	v, _ := c.Get(bodyKey)
	body, _ := v.(map[string]any)
	return body
}

func (r *Resource) handle(op mapping.Operation) gin.HandlerFunc {
	core := cores[op]
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		h, err := r.reg.Handle(ctx, r.entity)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if err := r.hooks.Before(c, op, h); err != nil {
			apperr.Respond(c, err)
			return
		}
		if c.IsAborted() {
			return
		}
		result, err := core(c, h)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		r.hooks.After(c, op, result)
	}
}
