package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"dynacrud/internal/apperr"
)

// Store persists mapping documents keyed by canonical entity name.
type Store interface {
	Read(ctx context.Context, name string) (*Document, error)
	Write(ctx context.Context, name string, doc *Document) error
	Delete(ctx context.Context, name string) error
	// List returns every document, Names only their canonical names. Both
	// are sorted by name.
	List(ctx context.Context) ([]*Document, error)
	Names(ctx context.Context) ([]string, error)
	// CreateIfAbsent writes doc unless name already exists and reports
	// whether it wrote.
	CreateIfAbsent(ctx context.Context, name string, doc *Document) (bool, error)
}

const lockRetry = 50 * time.Millisecond

// FileStore keeps one "<canonical>.json" file per entity in Dir. Writers
// take an exclusive flock so several processes can share the directory.
// The flock is per process, mu serializes writers inside it.
type FileStore struct {
	Dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mapping dir %s: %w", dir, err)
	}
	return &FileStore{
		Dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, CanonicalName(name)+".json")
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("mapping lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("mapping lock: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *FileStore) Read(_ context.Context, name string) (*Document, error) {
	canon := CanonicalName(name)
	if canon == "" {
		return nil, apperr.NotFound("mapping %q", name)
	}
	b, err := os.ReadFile(s.path(canon))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("mapping %q", canon)
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", canon, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse mapping %s: %w", canon, err)
	}
	if doc.Name == "" {
		doc.Name = canon
	}
	return &doc, nil
}

func (s *FileStore) Write(ctx context.Context, name string, doc *Document) error {
	return s.withLock(ctx, func() error {
		return s.writeLocked(name, doc)
	})
}

func (s *FileStore) writeLocked(name string, doc *Document) error {
	canon := CanonicalName(name)
	if canon == "" {
		return apperr.ErrBadRequest.WithReason("mapping name is empty")
	}
	cp := doc.Clone()
	cp.Name = canon
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mapping %s: %w", canon, err)
	}

	tmp, err := os.CreateTemp(s.Dir, canon+".*.tmp")
	if err != nil {
		return fmt.Errorf("write mapping %s: %w", canon, err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write mapping %s: %w", canon, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write mapping %s: %w", canon, err)
	}
	return os.Rename(tmp.Name(), s.path(canon))
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	canon := CanonicalName(name)
	return s.withLock(ctx, func() error {
		err := os.Remove(s.path(canon))
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("mapping %q", canon)
		}
		return err
	})
}

func (s *FileStore) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, CanonicalName(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) List(ctx context.Context) ([]*Document, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(names))
	for _, n := range names {
		doc, err := s.Read(ctx, n)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *FileStore) CreateIfAbsent(ctx context.Context, name string, doc *Document) (bool, error) {
	created := false
	err := s.withLock(ctx, func() error {
		_, err := os.Stat(s.path(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		created = true
		return s.writeLocked(name, doc)
	})
	return created, err
}
