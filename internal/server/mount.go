package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/rest"
)

type table map[string]http.Handler

// Mount serves the generated routers of all exposed entities under one
// prefix. The route table is replaced as a whole by Refresh; requests
// already dispatched keep the router they got.
type Mount struct {
	prefix  string
	reg     *registry.Registry
	log     *slog.Logger
	options func(entity string) []rest.Option
	exposed map[string]bool

	mu        sync.Mutex
	resources map[string]*rest.Resource

	routes atomic.Pointer[table]
}

type MountOption func(*Mount)

// WithResourceOptions supplies the rest options of each entity router.
func WithResourceOptions(fn func(entity string) []rest.Option) MountOption {
	return func(m *Mount) { m.options = fn }
}

// WithExposed mounts the named entities even when their mapping has show
// disabled.
func WithExposed(names ...string) MountOption {
	return func(m *Mount) {
		for _, n := range names {
			m.exposed[mapping.CanonicalName(n)] = true
		}
	}
}

func WithMountLogger(l *slog.Logger) MountOption { return func(m *Mount) { m.log = l } }

func NewMount(prefix string, reg *registry.Registry, opts ...MountOption) *Mount {
	m := &Mount{
		prefix:    prefix,
		reg:       reg,
		log:       slog.Default(),
		options:   func(string) []rest.Option { return nil },
		exposed:   make(map[string]bool),
		resources: make(map[string]*rest.Resource),
	}
	for _, o := range opts {
		o(m)
	}
	m.routes.Store(&table{})
	return m
}

// Resource returns the resource of entity, creating it on first use.
// Middleware added to it survives every Refresh.
func (m *Mount) Resource(entity string) *rest.Resource {
	name := mapping.CanonicalName(entity)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[name]
	if !ok {
		r = rest.New(name, m.reg, m.options(name)...)
		m.resources[name] = r
	}
	return r
}

// Refresh rebuilds the route table from the handles cached in the
// registry. An entity whose router cannot be built is left out and
// logged.
func (m *Mount) Refresh(ctx context.Context) error {
	next := table{}
	for _, name := range m.reg.Names() {
		h, ok := m.reg.Cached(name)
		if !ok {
			continue
		}
		if !h.Schema().Show && !m.exposed[name] {
			continue
		}
		engine, err := m.Resource(name).Routes(ctx)
		if err != nil {
			m.log.WarnContext(ctx, "entity not mounted", "entity", name, "error", err)
			continue
		}
		next[name] = engine
	}
	m.routes.Store(&next)
	m.log.InfoContext(ctx, "routes mounted", "prefix", m.prefix, "entities", len(next))
	return nil
}

// Entities lists the mounted entity names, sorted.
func (m *Mount) Entities() []string {
	t := *m.routes.Load()
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handler dispatches by the first path segment after the prefix. The
// segment is matched by canonical name, so /Post and /post reach the same
// entity.
func (m *Mount) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := strings.TrimPrefix(strings.TrimPrefix(c.Request.URL.Path, m.prefix), "/")
		seg, tail, hasTail := strings.Cut(sub, "/")
		entity := mapping.CanonicalName(seg)

		h, ok := (*m.routes.Load())[entity]
		if !ok {
			apperr.Respond(c, apperr.NotFound("route %s %s", c.Request.Method, c.Request.URL.Path))
			return
		}
		path := "/" + entity
		if hasTail {
			path += "/" + tail
		}
		req := c.Request.Clone(c.Request.Context())
		req.URL.Path = path
		req.URL.RawPath = ""
		h.ServeHTTP(c.Writer, req)
		c.Abort()
	}
}
