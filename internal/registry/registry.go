// Package registry binds entity names to their live compiled schema and
// storage model.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

type entry struct {
	h     *Handle
	stale bool
}

// Registry compiles mappings lazily and caches one live handle per
// canonical entity name.
type Registry struct {
	store   mapping.Store
	backend storage.Backend
	log     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	version uint64

	loads singleflight.Group
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

func New(store mapping.Store, backend storage.Backend, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		backend: backend,
		log:     slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle returns the live handle of name, compiling it on first use or
// after Invalidate. Store and compile errors are returned unchanged.
func (r *Registry) Handle(ctx context.Context, name string) (*Handle, error) {
	canon := mapping.CanonicalName(name)
	if canon == "" {
		return nil, apperr.NotFound("entity %q", name)
	}

	r.mu.RLock()
	e := r.entries[canon]
	r.mu.RUnlock()
	if e != nil && !e.stale {
		return e.h, nil
	}

	// shared by every caller waiting on canon
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.loads.Do(canon, func() (any, error) {
		return r.load(shared, canon)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Cached returns the handle currently held for name without compiling.
func (r *Registry) Cached(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[mapping.CanonicalName(name)]
	if !ok {
		return nil, false
	}
	return e.h, true
}

func (r *Registry) load(ctx context.Context, canon string) (*Handle, error) {
	doc, err := r.store.Read(ctx, canon)
	if errors.Is(err, apperr.ErrNotFound) {
		r.evict(canon)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	h, err := r.build(ctx, doc)
	if err != nil {
		// the previous entry, if any, stays as it was
		r.log.WarnContext(ctx, "compile failed", "entity", canon, "error", err)
		return nil, err
	}
	r.mu.Lock()
	r.entries[canon] = &entry{h: h}
	r.mu.Unlock()
	return h, nil
}

func (r *Registry) build(ctx context.Context, doc *mapping.Document) (*Handle, error) {
	c, err := schema.Compile(doc)
	if err != nil {
		return nil, err
	}
	model, err := r.backend.Register(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", c.Entity, err)
	}

	r.mu.Lock()
	r.version++
	v := r.version
	r.mu.Unlock()

	r.log.DebugContext(ctx, "model registered", "entity", c.Entity, "model", c.Model, "version", v)
	return &Handle{compiled: c, model: model, version: v, reg: r}, nil
}

func (r *Registry) evict(canon string) {
	r.mu.Lock()
	delete(r.entries, canon)
	r.mu.Unlock()
}

// Invalidate forces the next Handle call for name to recompile.
func (r *Registry) Invalidate(name string) {
	canon := mapping.CanonicalName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	// entries are never mutated in place, readers hold them unlocked
	if e, ok := r.entries[canon]; ok {
		r.entries[canon] = &entry{h: e.h, stale: true}
	}
}

// RebuildAll recompiles every mapping in the store. Entities that fail
// keep their previous handle; entities whose mapping is gone are evicted.
// Per-entity failures are joined into the returned error.
func (r *Registry) RebuildAll(ctx context.Context) error {
	names, err := r.store.Names(ctx)
	if err != nil {
		return err
	}

	var errs []error
	built := make(map[string]*Handle, len(names))
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
		doc, err := r.store.Read(ctx, name)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			delete(present, name)
			continue
		}
		h, err := r.build(ctx, doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		built[name] = h
	}

	r.mu.Lock()
	for name := range r.entries {
		if !present[name] {
			delete(r.entries, name)
		}
	}
	for name, h := range built {
		r.entries[name] = &entry{h: h}
	}
	r.mu.Unlock()

	r.log.InfoContext(ctx, "registry rebuilt", "entities", len(built), "failed", len(errs))
	return errors.Join(errs...)
}

// Names returns the canonical names currently cached, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Version increases every time a handle is built.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// modelFor resolves population targets by model name.
func (r *Registry) modelFor(ctx context.Context, model string) (storage.Model, error) {
	h, err := r.Handle(ctx, model)
	if err != nil {
		return nil, err
	}
	return h.model, nil
}
