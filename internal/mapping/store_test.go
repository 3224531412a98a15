package mapping

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacrud/internal/apperr"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"file":   fs,
		"memory": NewMemoryStore(),
	}
}

func postDoc() *Document {
	return &Document{
		Name: "Blog Post",
		Show: true,
		Fields: []Field{
			{Name: "title", Type: "string", Required: true},
			{Name: "author", Type: "ref", Ref: "user", Relationship: HasOne, AutoPopulate: true},
		},
		Operations: Operations{List: true, Read: true},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "Blog Post", postDoc()))

			got, err := s.Read(ctx, "blog_post")
			require.NoError(t, err)
			assert.Equal(t, "blogPost", got.Name)
			assert.Equal(t, postDoc().Fields, got.Fields)
			assert.True(t, got.Operations.List)

			names, err := s.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"blogPost"}, names)

			docs, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "blogPost", docs[0].Name)

			require.NoError(t, s.Delete(ctx, "BlogPost"))
			_, err = s.Read(ctx, "blogPost")
			assert.True(t, errors.Is(err, apperr.ErrNotFound))
		})
	}
}

func TestStoreMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read(ctx, "ghost")
			assert.True(t, errors.Is(err, apperr.ErrNotFound))

			err = s.Delete(ctx, "ghost")
			assert.True(t, errors.Is(err, apperr.ErrNotFound))
		})
	}
}

func TestStoreCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.CreateIfAbsent(ctx, "post", postDoc())
			require.NoError(t, err)
			assert.True(t, created)

			other := postDoc()
			other.Fields = other.Fields[:1]
			created, err = s.CreateIfAbsent(ctx, "post", other)
			require.NoError(t, err)
			assert.False(t, created)

			got, err := s.Read(ctx, "post")
			require.NoError(t, err)
			assert.Len(t, got.Fields, 2, "existing document must not be overwritten")
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "Blog Post", postDoc()))

	_, err = os.Stat(filepath.Join(dir, "blogPost.json"))
	assert.NoError(t, err)

	// stray files are not mappings
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	names, err := s.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"blogPost"}, names)
}

func TestFileStoreReadsSchemaObjectFiles(t *testing.T) {
	dir := t.TempDir()
	raw := `{"name":"post","schema":{"title":{"type":"string"}},"operations":{"list":true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.json"), []byte(raw), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	doc, err := s.Read(context.Background(), "post")
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, fieldNames(doc.Fields))
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, "post", postDoc()))
		}()
	}
	wg.Wait()

	doc, err := s.Read(ctx, "post")
	require.NoError(t, err)
	assert.Len(t, doc.Fields, 2)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, Seed(ctx, s))
	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "file", "user"}, names)

	user, err := s.Read(ctx, "user")
	require.NoError(t, err)
	pw, ok := user.Field("password")
	require.True(t, ok)
	assert.True(t, pw.Required)

	// customized built-ins survive a second seed
	user.Fields = user.Fields[:1]
	require.NoError(t, s.Write(ctx, "user", user))
	require.NoError(t, Seed(ctx, s))
	user, err = s.Read(ctx, "user")
	require.NoError(t, err)
	assert.Len(t, user.Fields, 1)
}
