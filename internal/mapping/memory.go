package mapping

import (
	"context"
	"sort"
	"sync"

	"dynacrud/internal/apperr"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewMemoryStore(docs ...*Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]*Document)}
	for _, d := range docs {
		_ = s.Write(context.Background(), d.Name, d)
	}
	return s
}

func (s *MemoryStore) Read(_ context.Context, name string) (*Document, error) {
	canon := CanonicalName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[canon]
	if !ok {
		return nil, apperr.NotFound("mapping %q", canon)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Write(_ context.Context, name string, doc *Document) error {
	canon := CanonicalName(name)
	if canon == "" {
		return apperr.ErrBadRequest.WithReason("mapping name is empty")
	}
	cp := doc.Clone()
	cp.Name = canon
	s.mu.Lock()
	s.docs[canon] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	canon := CanonicalName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[canon]; !ok {
		return apperr.NotFound("mapping %q", canon)
	}
	delete(s.docs, canon)
	return nil
}

func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.docs))
	for n := range s.docs {
		names = append(names, n)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Document, error) {
	names, _ := s.Names(ctx)
	out := make([]*Document, 0, len(names))
	for _, n := range names {
		doc, err := s.Read(ctx, n)
		if err != nil {
			// deleted between Names and Read
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, name string, doc *Document) (bool, error) {
	canon := CanonicalName(name)
	if canon == "" {
		return false, apperr.ErrBadRequest.WithReason("mapping name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[canon]; ok {
		return false, nil
	}
	cp := doc.Clone()
	cp.Name = canon
	s.docs[canon] = cp
	return true, nil
}
