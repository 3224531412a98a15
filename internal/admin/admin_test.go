package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	store   *mapping.MemoryStore
	reg     *registry.Registry
	router  *gin.Engine
	changes int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: mapping.NewMemoryStore(
		&mapping.Document{Name: "user", Fields: []mapping.Field{
			{Name: "firstName", Type: "string"},
			{Name: "lastName", Type: "string"},
			{Name: "age", Type: "number"},
		}},
		&mapping.Document{Name: "file", Fields: []mapping.Field{{Name: "path", Type: "string"}}},
	)}
	f.reg = registry.New(f.store, storage.NewMemory())
	opts = append(opts, WithOnChange(func(context.Context) error { f.changes++; return nil }))
	f.router = gin.New()
	New(f.store, f.reg, opts...).Register(f.router.Group("/admin"))
	return f
}

func (f *fixture) call(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) crud(t *testing.T, model, op string, data any) *httptest.ResponseRecorder {
	t.Helper()
	return f.call(t, http.MethodPost, "/admin/model/crud", map[string]any{"model": model, "operations": op, "data": data})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func postMapping() map[string]any {
	return map[string]any{
		"fields": []map[string]any{
			{"name": "title", "type": "string", "required": true},
			{"name": "author", "type": "ref", "ref": "user", "relationship": "hasone", "autopopulate": true},
			{"name": "cover", "type": "file", "ref": "file", "relationship": "hasone"},
			{"name": "tags", "type": "string", "ref": "none", "relationship": "hasmany"},
		},
		"show":       true,
		"operations": map[string]any{"list": true, "create": true},
	}
}

func TestModelLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	w := f.call(t, http.MethodGet, "/admin/model/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"file", "user"}, decode[[]string](t, w))

	w = f.call(t, http.MethodPost, "/admin/model/create/Blog_Post", postMapping())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, f.changes)
	assert.Contains(t, f.reg.Names(), "blogPost")
	assert.Contains(t, f.reg.Names(), "user", "rebuild covers every mapping")

	w = f.call(t, http.MethodGet, "/admin/model/list", nil)
	assert.Equal(t, []string{"blogPost", "file", "user"}, decode[[]string](t, w))

	w = f.call(t, http.MethodGet, "/admin/model/get/blogPost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[mapping.Document](t, w)
	require.Len(t, doc.Fields, 4)
	assert.Equal(t, "title", doc.Fields[0].Name)

	w = f.call(t, http.MethodGet, "/admin/model/schema/blogPost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"createdAt"`)
	assert.Contains(t, w.Body.String(), `"ref":"User"`)

	w = f.call(t, http.MethodDelete, "/admin/model/delete/blogPost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":true,"message":"Collection Deleted"}`, w.Body.String())
	assert.Equal(t, 2, f.changes)
	assert.NotContains(t, f.reg.Names(), "blogPost")

	_, err := f.store.Read(ctx, "blogPost")
	assert.Error(t, err)

	w = f.crud(t, "blogPost", OpList, map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.call(t, http.MethodDelete, "/admin/model/delete/blogPost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.call(t, http.MethodGet, "/admin/model/get/blogPost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateModelRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := postMapping()
	bad["fields"] = []map[string]any{{"name": "uid", "type": "uuid"}}
	w := f.call(t, http.MethodPost, "/admin/model/create/post", bad)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "uuid")
	_, err := f.store.Read(ctx, "post")
	assert.Error(t, err, "not persisted")
	assert.Zero(t, f.changes)

	invalid := postMapping()
	invalid["fields"] = []map[string]any{{"name": "author", "type": "ref", "ref": "user"}}
	w = f.call(t, http.MethodPost, "/admin/model/create/post", invalid)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.call(t, http.MethodPost, "/admin/model/create/post", "nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateModelAcceptsNoneRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc := postMapping()
	doc["fields"] = []map[string]any{
		{"name": "title", "type": "string"},
		{"name": "owner", "type": "ref", "ref": "none", "relationship": "hasone"},
	}
	w := f.call(t, http.MethodPost, "/admin/model/create/note", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := f.store.Read(ctx, "note")
	require.NoError(t, err)

	h, err := f.reg.Handle(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, h.Schema().References())
}

func TestCrudOperations(t *testing.T) {
	f := newFixture(t)
	w := f.call(t, http.MethodPost, "/admin/model/create/post", postMapping())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.crud(t, "user", OpCreate, map[string]any{"body": map[string]any{"firstName": "Alice", "age": "30"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alice := decode[map[string]any](t, w)
	assert.Equal(t, float64(30), alice["age"])

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		w = f.crud(t, "post", OpCreate, map[string]any{"body": map[string]any{"title": title, "author": alice["id"]}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		ids = append(ids, decode[map[string]any](t, w)["id"].(string))
	}

	w = f.crud(t, "post", OpCreate, map[string]any{"body": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.crud(t, "post", OpRead, map[string]any{"id": ids[0]})
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[map[string]any](t, w)
	assert.Equal(t, "Alice", rec["author"].(map[string]any)["firstName"])

	w = f.crud(t, "post", OpRead, map[string]any{"id": "missing"})
	assert.Equal(t, "{}", strings.TrimSpace(w.Body.String()))

	w = f.crud(t, "post", OpUpdate, map[string]any{"id": ids[1], "body": map[string]any{"title": "B"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B", decode[map[string]any](t, w)["title"])

	w = f.crud(t, "post", OpDelete, map[string]any{"id": ids[2]})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ids[2], decode[map[string]any](t, w)["id"])

	w = f.crud(t, "post", OpDeleteAll, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.crud(t, "post", OpDeleteAll, map[string]any{"id": ids})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deletedCount":2}`, w.Body.String())

	w = f.crud(t, "post", "truncate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.crud(t, "", OpList, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCrudList(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/admin/model/create/post", postMapping()).Code)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		w := f.crud(t, "post", OpCreate, map[string]any{"body": map[string]any{"title": title}})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.crud(t, "post", OpList, map[string]any{"query": map[string]any{
		"pagination": map[string]any{"current": 2, "pageSize": 2},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ListResponse](t, w)
	require.Len(t, resp.List, 2)
	assert.Equal(t, "c", resp.List[0]["title"])
	assert.Equal(t, PageInfo{Current: 2, PageSize: 2, Total: 5}, resp.Pagination)

	require.NotEmpty(t, resp.Column)
	assert.Equal(t, Column{Name: "id", Type: "id"}, resp.Column[0])
	byName := map[string]Column{}
	for _, c := range resp.Column {
		byName[c.Name] = c
	}
	assert.Equal(t, Column{Name: "title", Type: "string"}, byName["title"])
	assert.Equal(t, Column{Name: "author", Type: "hasone"}, byName["author"])
	assert.Equal(t, Column{Name: "cover", Type: "hasone", File: true}, byName["cover"])
	assert.Equal(t, Column{Name: "tags", Type: "string"}, byName["tags"], "none ref is a plain field")
	assert.Equal(t, Column{Name: "createdAt", Type: "date"}, byName["createdAt"])

	w = f.crud(t, "post", OpList, map[string]any{"query": map[string]any{
		"pagination": map[string]any{"current": 0, "pageSize": 0},
		"find":       map[string]any{"title": []any{"a", "e"}},
		"sort":       "-title",
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode[ListResponse](t, w)
	assert.Equal(t, PageInfo{Current: 1, PageSize: 10, Total: 2}, resp.Pagination)
	require.Len(t, resp.List, 2)
	assert.Equal(t, "e", resp.List[0]["title"])

	// URL parameters stand in when the body has no query
	req := httptest.NewRequest(http.MethodPost, "/admin/model/crud?limit=1&page=3",
		strings.NewReader(`{"model":"post","operations":"list","data":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	f.router.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
	resp = decode[ListResponse](t, rw)
	require.Len(t, resp.List, 1)
	assert.Equal(t, "c", resp.List[0]["title"])

	w = f.crud(t, "post", OpList, map[string]any{"query": map[string]any{"find": map[string]any{"rating": 5}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCrudRef(t *testing.T) {
	f := newFixture(t)
	for _, u := range []map[string]any{
		{"firstName": "Alice", "lastName": "Smith"},
		{"firstName": "Bob", "lastName": "Malik"},
		{"firstName": "Carol", "lastName": "Jones"},
	} {
		w := f.crud(t, "user", OpCreate, map[string]any{"body": u})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.crud(t, "user", OpRef, map[string]any{"query": map[string]any{"search": "ali"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RefResponse](t, w)
	assert.Equal(t, []string{"firstName", "lastName"}, resp.SearchValues)
	require.Len(t, resp.List, 2)
	assert.Equal(t, "Alice", resp.List[0]["firstName"])
	assert.Equal(t, "Bob", resp.List[1]["firstName"])

	w = f.crud(t, "user", OpRef, map[string]any{})
	resp = decode[RefResponse](t, w)
	assert.Len(t, resp.List, 3)
}

func TestTransform(t *testing.T) {
	var prepared int
	f := newFixture(t, WithTransform("user", Transform{
		Prepare: func(_ *registry.Handle, body map[string]any) error {
			prepared++
			if s, ok := body["lastName"].(string); ok {
				body["lastName"] = strings.ToUpper(s)
			}
			return nil
		},
		Present: func(result any) {
			switch r := result.(type) {
			case storage.Record:
				delete(r, "age")
			case []storage.Record:
				for _, rec := range r {
					delete(rec, "age")
				}
			}
		},
	}))

	w := f.crud(t, "user", OpCreate, map[string]any{"body": map[string]any{"lastName": "smith", "age": 40}})
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[map[string]any](t, w)
	assert.Equal(t, "SMITH", rec["lastName"])
	assert.NotContains(t, rec, "age")
	assert.Equal(t, 1, prepared)

	w = f.crud(t, "user", OpList, map[string]any{})
	resp := decode[ListResponse](t, w)
	require.Len(t, resp.List, 1)
	assert.NotContains(t, resp.List[0], "age")
}
