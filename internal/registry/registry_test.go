package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

type mockBackend struct {
	mock.Mock
	mem *storage.Memory
}

func (m *mockBackend) Register(ctx context.Context, c *schema.Compiled) (storage.Model, error) {
	args := m.Called(ctx, c.Entity)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return m.mem.Register(ctx, c)
}

func userDoc() *mapping.Document {
	return &mapping.Document{Name: "user", Fields: []mapping.Field{{Name: "name", Type: "string"}}}
}

func postDoc() *mapping.Document {
	return &mapping.Document{
		Name: "post",
		Show: true,
		Fields: []mapping.Field{
			{Name: "title", Type: "string"},
			{Name: "author", Type: "ref", Ref: "user", Relationship: mapping.HasOne, AutoPopulate: true},
		},
		Operations: mapping.Operations{List: true, Create: true},
	}
}

func newRegistry(t *testing.T, docs ...*mapping.Document) (*Registry, *mapping.MemoryStore) {
	t.Helper()
	store := mapping.NewMemoryStore(docs...)
	return New(store, storage.NewMemory()), store
}

func TestHandleCachesByCanonicalName(t *testing.T) {
	backend := &mockBackend{mem: storage.NewMemory()}
	backend.On("Register", mock.Anything, "post").Return(nil).Once()

	reg := New(mapping.NewMemoryStore(postDoc()), backend)
	h1, err := reg.Handle(context.Background(), "Post")
	require.NoError(t, err)
	h2, err := reg.Handle(context.Background(), "post.json")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, "post", h1.Entity())
	assert.Equal(t, []string{"post"}, reg.Names())
	backend.AssertExpectations(t)
}

func TestHandleMissingMapping(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Handle(context.Background(), "ghost")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestHandleBackendError(t *testing.T) {
	backend := &mockBackend{mem: storage.NewMemory()}
	backend.On("Register", mock.Anything, "post").Return(errors.New("db down"))

	reg := New(mapping.NewMemoryStore(postDoc()), backend)
	_, err := reg.Handle(context.Background(), "post")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	_, cached := reg.Cached("post")
	assert.False(t, cached)
}

func TestHandleLoadOutlivesCallerContext(t *testing.T) {
	backend := &mockBackend{mem: storage.NewMemory()}
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	backend.On("Register", live, "post").Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := New(mapping.NewMemoryStore(postDoc()), backend)
	h, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, "post", h.Entity())
	backend.AssertExpectations(t)
}

func TestInvalidateRecompiles(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, postDoc())

	h1, err := reg.Handle(ctx, "post")
	require.NoError(t, err)

	doc := postDoc()
	doc.Fields = append(doc.Fields, mapping.Field{Name: "body", Type: "richText"})
	require.NoError(t, store.Write(ctx, "post", doc))

	same, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	assert.Same(t, h1, same, "no recompilation before invalidate")

	reg.Invalidate("post")
	h2, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.Greater(t, h2.Version(), h1.Version())
	_, ok := h2.Schema().Field("body")
	assert.True(t, ok)
	_, ok = h1.Schema().Field("body")
	assert.False(t, ok, "old handles are immutable")
}

func TestFailedRecompileKeepsPreviousHandle(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, postDoc())

	good, err := reg.Handle(ctx, "post")
	require.NoError(t, err)

	bad := postDoc()
	bad.Fields = append(bad.Fields, mapping.Field{Name: "uid", Type: "uuid"})
	require.NoError(t, store.Write(ctx, "post", bad))

	reg.Invalidate("post")
	_, err = reg.Handle(ctx, "post")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrUnknownType))

	cached, ok := reg.Cached("post")
	require.True(t, ok)
	assert.Same(t, good, cached)

	err = reg.RebuildAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrUnknownType))
	cached, _ = reg.Cached("post")
	assert.Same(t, good, cached)
}

func TestInvalidateAfterDeleteEvicts(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, postDoc())

	_, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "post"))

	reg.Invalidate("post")
	_, err = reg.Handle(ctx, "post")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, ok := reg.Cached("post")
	assert.False(t, ok)
}

func TestRebuildAll(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, postDoc(), userDoc())

	before, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	_, err = reg.Handle(ctx, "user")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "user"))
	require.NoError(t, store.Write(ctx, "comment", &mapping.Document{Name: "comment"}))

	require.NoError(t, reg.RebuildAll(ctx))
	assert.Equal(t, []string{"comment", "post"}, reg.Names())

	after, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestHandleFindPopulates(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, postDoc(), userDoc())

	users, err := reg.Handle(ctx, "user")
	require.NoError(t, err)
	alice, err := users.Model().Create(ctx, map[string]any{"name": "Alice"})
	require.NoError(t, err)

	posts, err := reg.Handle(ctx, "post")
	require.NoError(t, err)
	p, err := posts.Model().Create(ctx, map[string]any{"title": "X", "author": alice.ID()})
	require.NoError(t, err)

	got, err := posts.FindByID(ctx, p.ID())
	require.NoError(t, err)
	author, ok := got["author"].(storage.Record)
	require.True(t, ok)
	assert.Equal(t, "Alice", author["name"])

	list, err := posts.Find(ctx, storage.Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, alice.ID(), list[0]["author"].(storage.Record).ID())

	missing, err := posts.FindByID(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConcurrentHandleAndRebuild(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, postDoc(), userDoc())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h, err := reg.Handle(ctx, "post")
			if assert.NoError(t, err) {
				_, err = h.Find(ctx, storage.Query{})
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.RebuildAll(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"post", "user"}, reg.Names())
}
