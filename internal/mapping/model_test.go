package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentUnmarshalSchemaObject(t *testing.T) {
	raw := `{
		"name": "post",
		"show": true,
		"schema": {
			"title":  {"type": "string", "required": true},
			"author": {"type": "ref", "ref": "user", "relationship": "hasone", "autopopulate": true},
			"body":   {"type": "richText"}
		},
		"operations": {"list": true, "read": true}
	}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	require.Len(t, doc.Fields, 3)
	assert.Equal(t, []string{"title", "author", "body"}, fieldNames(doc.Fields))
	assert.True(t, doc.Fields[0].Required)
	assert.Equal(t, "user", doc.Fields[1].Ref)
	assert.True(t, doc.Operations.Allows(OpList))
	assert.False(t, doc.Operations.Allows(OpCreate))
}

func TestDocumentUnmarshalFieldsWin(t *testing.T) {
	raw := `{"name":"post","fields":[{"name":"a","type":"string"}],"schema":{"b":{"type":"number"}}}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, []string{"a"}, fieldNames(doc.Fields))
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr string
	}{
		{
			name: "ok",
			doc: Document{Name: "post", Fields: []Field{
				{Name: "title", Type: "string"},
				{Name: "author", Type: "ref", Ref: "user", Relationship: HasOne},
			}},
		},
		{name: "no name", doc: Document{}, wantErr: "mapping name is required"},
		{
			name:    "duplicate",
			doc:     Document{Name: "post", Fields: []Field{{Name: "a", Type: "string"}, {Name: "a", Type: "number"}}},
			wantErr: `duplicate field "a"`,
		},
		{
			name:    "ref without target",
			doc:     Document{Name: "post", Fields: []Field{{Name: "author", Type: "ref", Relationship: HasOne}}},
			wantErr: "needs a referenced entity",
		},
		{
			name: "ref with none",
			doc:  Document{Name: "post", Fields: []Field{{Name: "owner", Type: "ref", Ref: NoRef}}},
		},
		{
			name: "file with none",
			doc:  Document{Name: "post", Fields: []Field{{Name: "cover", Type: "file", Ref: NoRef, Relationship: HasMany}}},
		},
		{
			name:    "bad relationship",
			doc:     Document{Name: "post", Fields: []Field{{Name: "author", Type: "ref", Ref: "user", Relationship: "owns"}}},
			wantErr: `relationship "owns"`,
		},
		{
			name:    "scalar with target",
			doc:     Document{Name: "post", Fields: []Field{{Name: "title", Type: "string", Ref: "user"}}},
			wantErr: "cannot reference",
		},
		{
			name: "scalar with none",
			doc:  Document{Name: "post", Fields: []Field{{Name: "title", Type: "string", Ref: NoRef}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := &Document{Name: "post", Fields: []Field{{Name: "status", Type: "string", Enum: []string{"draft"}}}}
	cp := doc.Clone()
	cp.Fields[0].Enum[0] = "published"
	cp.Fields = append(cp.Fields, Field{Name: "x"})

	assert.Equal(t, "draft", doc.Fields[0].Enum[0])
	assert.Len(t, doc.Fields, 1)
}

func fieldNames(fs []Field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}
