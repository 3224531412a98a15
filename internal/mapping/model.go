package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Relationship kinds of reference fields.
const (
	HasOne  = "hasone"
	HasMany = "hasmany"
)

// NoRef marks a field as "not a reference" in mapping files.
const NoRef = "none"

// Field describes one declared field of a mapping.
type Field struct {
	Name         string   `json:"name" yaml:"name"`
	Type         string   `json:"type" yaml:"type"` // string, boolean, number, date, ref, file, json, richText
	Default      any      `json:"default,omitempty" yaml:"default,omitempty"`
	Required     bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Unique       bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Trim         bool     `json:"trim,omitempty" yaml:"trim,omitempty"`
	Index        bool     `json:"index,omitempty" yaml:"index,omitempty"`
	Uppercase    bool     `json:"uppercase,omitempty" yaml:"uppercase,omitempty"`
	Lowercase    bool     `json:"lowercase,omitempty" yaml:"lowercase,omitempty"`
	MinLength    int      `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength    int      `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Enum         []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Ref          string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	Relationship string   `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	AutoPopulate bool     `json:"autopopulate,omitempty" yaml:"autopopulate,omitempty"`
}

// IsReference reports whether the declared type points at another entity.
func (f Field) IsReference() bool {
	return f.Type == "ref" || f.Type == "file"
}

// HasTarget reports whether the field names a real target entity.
func (f Field) HasTarget() bool {
	ref := strings.TrimSpace(f.Ref)
	return ref != "" && ref != NoRef
}

type Operation string

const (
	OpList      Operation = "list"
	OpCreate    Operation = "create"
	OpRead      Operation = "read"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpDeleteAll Operation = "deleteAll"
)

// AllOperations lists the CRUD operations in registration order.
var AllOperations = []Operation{OpList, OpCreate, OpRead, OpUpdate, OpDelete, OpDeleteAll}

// Operations is a set of independent per-operation switches.
type Operations struct {
	List      bool `json:"list" yaml:"list"`
	Create    bool `json:"create" yaml:"create"`
	Read      bool `json:"read" yaml:"read"`
	Update    bool `json:"update" yaml:"update"`
	Delete    bool `json:"delete" yaml:"delete"`
	DeleteAll bool `json:"deleteAll" yaml:"deleteAll"`
}

func (o Operations) Allows(op Operation) bool {
	switch op {
	case OpList:
		return o.List
	case OpCreate:
		return o.Create
	case OpRead:
		return o.Read
	case OpUpdate:
		return o.Update
	case OpDelete:
		return o.Delete
	case OpDeleteAll:
		return o.DeleteAll
	}
	return false
}

// Document is the durable description of one entity.
type Document struct {
	Name          string     `json:"name" yaml:"name"`
	Fields        []Field    `json:"fields" yaml:"fields"`
	Show          bool       `json:"show" yaml:"show"`
	Operations    Operations `json:"operations" yaml:"operations"`
	PublicMethods Operations `json:"publicMethods" yaml:"publicMethods"`

	// Layout metadata for the admin UI.
	X float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

// UnmarshalJSON accepts both the "fields" array and the older "schema"
// object keyed by field name. Object key order is kept.
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var aux struct {
		plain
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*d = Document(aux.plain)
	if len(d.Fields) > 0 || len(aux.Schema) == 0 || bytes.Equal(aux.Schema, []byte("null")) {
		return nil
	}
	fields, err := decodeOrderedFields(aux.Schema)
	if err != nil {
		return fmt.Errorf("mapping %q: schema: %w", d.Name, err)
	}
	d.Fields = fields
	return nil
}

func decodeOrderedFields(raw json.RawMessage) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var out []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var f Field
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if f.Name == "" {
			f.Name = key
		}
		out = append(out, f)
	}
	return out, nil
}

// Field returns the declared field with the given name.
func (d *Document) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Fields = make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		f.Enum = append([]string(nil), f.Enum...)
		cp.Fields[i] = f
	}
	return &cp
}

// Validate checks the structural invariants of a mapping. Field types are
// checked later by the schema compiler.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("mapping name is required")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("mapping %q: field without name", d.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("mapping %q: duplicate field %q", d.Name, f.Name)
		}
		seen[f.Name] = struct{}{}

		// ref "none" turns a ref or file field into a plain id field
		if f.IsReference() && strings.TrimSpace(f.Ref) != NoRef {
			if !f.HasTarget() {
				return fmt.Errorf("mapping %q: field %q of type %s needs a referenced entity", d.Name, f.Name, f.Type)
			}
			if f.Relationship != HasOne && f.Relationship != HasMany {
				return fmt.Errorf("mapping %q: field %q has relationship %q (allowed: hasone|hasmany)", d.Name, f.Name, f.Relationship)
			}
			continue
		}
		if f.HasTarget() {
			return fmt.Errorf("mapping %q: field %q of type %s cannot reference %q", d.Name, f.Name, f.Type, f.Ref)
		}
	}
	return nil
}
