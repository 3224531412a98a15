package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
)

// Hooks customizes the generated routes of one entity.
type Hooks interface {
	// Before runs ahead of the core handler. A non-nil error fails the
	// request with that error.
	Before(c *gin.Context, op mapping.Operation, h *registry.Handle) error
	// After receives the result of the core handler and writes the
	// response.
	After(c *gin.Context, op mapping.Operation, result any)
	// CustomRoutes may add routes to r before the CRUD routes are
	// registered. It must return a router.
	CustomRoutes(r *gin.Engine, basePath string, h *registry.Handle) *gin.Engine
}

// DefaultHooks passes requests through and writes results as JSON.
type DefaultHooks struct{}

func (DefaultHooks) Before(*gin.Context, mapping.Operation, *registry.Handle) error { return nil }

func (DefaultHooks) After(c *gin.Context, op mapping.Operation, result any) {
	status := http.StatusOK
	if op == mapping.OpCreate {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (DefaultHooks) CustomRoutes(r *gin.Engine, _ string, _ *registry.Handle) *gin.Engine { return r }

var _ Hooks = DefaultHooks{}
