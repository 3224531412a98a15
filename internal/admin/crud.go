package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dynacrud/internal/apperr"
	"dynacrud/internal/query"
	"dynacrud/internal/registry"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// Data operations of POST /model/crud.
const (
	OpRead      = "read"
	OpList      = "list"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpDeleteAll = "deleteAll"
	OpRef       = "ref"
)

// IDs decodes either a single id or a list of ids.
type IDs []string

func (ids *IDs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*ids = IDs{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("id must be a string or a list of strings")
	}
	*ids = many
	return nil
}

func (ids IDs) First() string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

type Pagination struct {
	Current  int `json:"current"`
	PageSize int `json:"pageSize"`
}

type CrudQuery struct {
	Pagination *Pagination    `json:"pagination,omitempty"`
	Find       map[string]any `json:"find,omitempty"`
	Search     string         `json:"search,omitempty"`
	Sort       string         `json:"sort,omitempty"`
}

type CrudData struct {
	ID    IDs            `json:"id,omitempty"`
	Query *CrudQuery     `json:"query,omitempty"`
	Body  map[string]any `json:"body,omitempty"`
}

// CrudRequest is the body of POST /model/crud.
type CrudRequest struct {
	Model      string   `json:"model"`
	Operations string   `json:"operations"`
	Data       CrudData `json:"data"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	File bool   `json:"file"`
}

type ListResponse struct {
	List       []storage.Record `json:"list"`
	Pagination PageInfo         `json:"pagination"`
	Column     []Column         `json:"column"`
}

type PageInfo struct {
	Current  int `json:"current"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

type RefResponse struct {
	List         []storage.Record `json:"list"`
	SearchValues []string         `json:"searchValues"`
}

// POST /model/crud
func (a *API) crud(c *gin.Context) {
	var req CrudRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.ErrBadRequest.WithReason("invalid crud request: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		apperr.Respond(c, apperr.ErrBadRequest.WithReason("model is required"))
		return
	}
	h, err := a.reg.Handle(c.Request.Context(), req.Model)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var result any
	switch req.Operations {
	case OpRead:
		result, err = a.read(c, h, req.Data)
	case OpList:
		result, err = a.list(c, h, req.Data)
	case OpCreate:
		result, err = a.create(c, h, req.Data)
	case OpUpdate:
		result, err = a.update(c, h, req.Data)
	case OpDelete:
		result, err = a.remove(c, h, req.Data)
	case OpDeleteAll:
		result, err = a.removeAll(c, h, req.Data)
	case OpRef:
		result, err = a.ref(c, h, req.Data)
	default:
		err = apperr.ErrBadRequest.WithReason(fmt.Sprintf("unknown operation %q", req.Operations))
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) read(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	rec, err := h.FindByID(c.Request.Context(), d.ID.First())
	if err != nil {
		return nil, err
	}
	return orEmpty(a.presentRecord(h, rec)), nil
}

// descriptor reads pagination, find and sort from the body and falls back
// to URL parameters for whatever the body leaves out.
func descriptor(c *gin.Context, d CrudData) (query.Descriptor, error) {
	desc, err := query.FromValues(c.Request.URL.Query())
	if err != nil {
		return desc, err
	}
	q := d.Query
	if q == nil {
		return desc, nil
	}
	if q.Pagination != nil {
		desc.Page, desc.Limit = q.Pagination.Current, q.Pagination.PageSize
	}
	if len(q.Find) > 0 {
		f, err := query.FromFind(q.Find)
		if err != nil {
			return desc, err
		}
		desc.Filter.And = append(desc.Filter.And, f.And...)
		desc.Filter.Or = append(desc.Filter.Or, f.Or...)
	}
	if q.Sort != "" {
		desc.Sort = query.ParseSort(q.Sort)
	}
	return desc, nil
}

func (a *API) list(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	desc, err := descriptor(c, d)
	if err != nil {
		return nil, err
	}
	if desc, err = query.Coerce(desc, h.Schema()); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	recs, err := query.Find(ctx, desc, h)
	if err != nil {
		return nil, err
	}
	total, err := query.Count(ctx, desc, h)
	if err != nil {
		return nil, err
	}
	a.present(h.Entity(), recs)

	n := query.Normalize(desc)
	return ListResponse{
		List:       nonNil(recs),
		Pagination: PageInfo{Current: n.Page, PageSize: n.Limit, Total: total},
		Column:     Columns(h.Schema()),
	}, nil
}

// Columns describes the fields of c for table rendering, id first.
func Columns(c *schema.Compiled) []Column {
	cols := []Column{{Name: schema.FieldID, Type: string(schema.StorageID)}}
	for _, f := range c.Fields {
		col := Column{Name: f.Name, Type: string(f.Storage)}
		if f.IsReference() {
			col.Type = f.Relationship
			col.File = f.Ref == "File"
		}
		cols = append(cols, col)
	}
	return cols
}

func (a *API) prepare(h *registry.Handle, body map[string]any) error {
	if t, ok := a.transforms[h.Entity()]; ok && t.Prepare != nil && body != nil {
		return t.Prepare(h, body)
	}
	return nil
}

func (a *API) presentRecord(h *registry.Handle, rec storage.Record) storage.Record {
	if rec != nil {
		a.present(h.Entity(), rec)
	}
	return rec
}

func (a *API) create(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	body := d.Body
	if body == nil {
		body = map[string]any{}
	}
	if err := a.prepare(h, body); err != nil {
		return nil, err
	}
	doc, err := h.Schema().Cast(body, schema.ModeCreate)
	if err != nil {
		return nil, err
	}
	rec, err := h.Model().Create(c.Request.Context(), doc)
	if err != nil {
		return nil, err
	}
	return a.presentRecord(h, rec), nil
}

func (a *API) update(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	if err := a.prepare(h, d.Body); err != nil {
		return nil, err
	}
	patch, err := h.Schema().Cast(d.Body, schema.ModeUpdate)
	if err != nil {
		return nil, err
	}
	rec, err := h.Model().UpdateByID(c.Request.Context(), d.ID.First(), patch)
	if err != nil {
		return nil, err
	}
	return orEmpty(a.presentRecord(h, rec)), nil
}

func (a *API) remove(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	rec, err := h.Model().DeleteByID(c.Request.Context(), d.ID.First())
	if err != nil {
		return nil, err
	}
	return orEmpty(a.presentRecord(h, rec)), nil
}

// removeAll only deletes the given ids; emptying a collection goes
// through the REST deleteAll route.
func (a *API) removeAll(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	if len(d.ID) == 0 {
		return nil, apperr.ErrBadRequest.WithReason("deleteAll needs data.id")
	}
	n, err := h.Model().DeleteMany(c.Request.Context(), d.ID)
	if err != nil {
		return nil, err
	}
	return gin.H{"deletedCount": n}, nil
}

func (a *API) ref(c *gin.Context, h *registry.Handle, d CrudData) (any, error) {
	var term string
	if d.Query != nil {
		term = d.Query.Search
	}
	f, names := query.Search(h.Schema(), term)
	recs, err := h.Find(c.Request.Context(), storage.Query{Filter: f})
	if err != nil {
		return nil, err
	}
	a.present(h.Entity(), recs)
	return RefResponse{List: nonNil(recs), SearchValues: names}, nil
}

func nonNil(recs []storage.Record) []storage.Record {
	if recs == nil {
		return []storage.Record{}
	}
	return recs
}
