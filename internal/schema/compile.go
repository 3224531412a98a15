package schema

import (
	"fmt"
	"strings"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
)

// System field names.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Field is a resolved field of a compiled schema.
type Field struct {
	Name    string      `json:"name"`
	Type    LogicalType `json:"-"`
	Storage StorageType `json:"storage"`
	// Many is set for hasmany references: the value is a list of ids.
	Many bool `json:"many,omitempty"`

	Default   any      `json:"default,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Trim      bool     `json:"trim,omitempty"`
	Index     bool     `json:"index,omitempty"`
	Uppercase bool     `json:"uppercase,omitempty"`
	Lowercase bool     `json:"lowercase,omitempty"`
	MinLength int      `json:"minLength,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	Enum      []string `json:"enum,omitempty"`

	// Ref is the model name of the target ("User"), empty when the field
	// is not a reference.
	Ref          string `json:"ref,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	AutoPopulate bool   `json:"autopopulate,omitempty"`

	// System marks injected fields (timestamps, id).
	System bool `json:"system,omitempty"`
}

// IsReference reports whether f holds ids of another entity.
func (f Field) IsReference() bool {
	return (f.Type == TypeRef || f.Type == TypeFile) && f.Ref != ""
}

// Compiled is the storage-ready form of one mapping.
type Compiled struct {
	Entity        string             `json:"entity"`
	Model         string             `json:"model"`
	Fields        []Field            `json:"fields"`
	Show          bool               `json:"show"`
	Operations    mapping.Operations `json:"operations"`
	PublicMethods mapping.Operations `json:"publicMethods"`
}

var idField = Field{Name: FieldID, Type: TypeRef, Storage: StorageID, System: true}

// Field returns the named field. "id" resolves to a synthetic system field.
func (c *Compiled) Field(name string) (Field, bool) {
	if name == FieldID {
		return idField, true
	}
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// References returns the reference fields in declaration order.
func (c *Compiled) References() []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.IsReference() {
			out = append(out, f)
		}
	}
	return out
}

// StringFields returns the scalar string fields, used by text search.
func (c *Compiled) StringFields() []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.Storage == StorageString && !f.Many {
			out = append(out, f)
		}
	}
	return out
}

// RequiresAuth reports whether op must pass the authorization gate:
// exposed entities require it unless the operation is marked public.
func (c *Compiled) RequiresAuth(op mapping.Operation) bool {
	return c.Show && !c.PublicMethods.Allows(op)
}

type CompileError struct {
	Entity string
	Field  string
	Type   string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("compile %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("compile %s: field %q (type %q): %v", e.Entity, e.Field, e.Type, e.Err)
}

// Unwrap exposes both the compile kind and the cause, so errors.Is
// matches ErrCompile as well as ErrUnknownType.
func (e *CompileError) Unwrap() []error {
	return []error{apperr.ErrCompile, e.Err}
}

// Compile resolves doc into a Compiled schema. Declared fields keep their
// order and are followed by the createdAt/updatedAt timestamps unless the
// mapping declares fields with those names. doc is not modified.
func Compile(doc *mapping.Document) (*Compiled, error) {
	if doc == nil {
		return nil, &CompileError{Err: fmt.Errorf("nil mapping")}
	}
	entity := mapping.CanonicalName(doc.Name)
	if entity == "" {
		return nil, &CompileError{Entity: doc.Name, Err: fmt.Errorf("mapping name is empty")}
	}

	c := &Compiled{
		Entity:        entity,
		Model:         mapping.ModelName(entity),
		Fields:        make([]Field, 0, len(doc.Fields)+2),
		Show:          doc.Show,
		Operations:    doc.Operations,
		PublicMethods: doc.PublicMethods,
	}

	declared := make(map[string]bool, len(doc.Fields))
	for _, df := range doc.Fields {
		name := strings.TrimSpace(df.Name)
		if name == "" {
			return nil, &CompileError{Entity: entity, Type: df.Type, Err: fmt.Errorf("field without name")}
		}
		if name == FieldID {
			return nil, &CompileError{Entity: entity, Field: name, Type: df.Type, Err: fmt.Errorf("%q is reserved", FieldID)}
		}
		if declared[name] {
			return nil, &CompileError{Entity: entity, Field: name, Type: df.Type, Err: fmt.Errorf("duplicate field")}
		}
		declared[name] = true

		f, err := compileField(df)
		if err != nil {
			return nil, &CompileError{Entity: entity, Field: name, Type: df.Type, Err: err}
		}
		c.Fields = append(c.Fields, f)
	}

	for _, ts := range []string{FieldCreatedAt, FieldUpdatedAt} {
		if declared[ts] {
			continue
		}
		c.Fields = append(c.Fields, Field{
			Name:         ts,
			Type:         TypeDate,
			Storage:      StorageDate,
			AutoPopulate: true,
			System:       true,
		})
	}
	return c, nil
}

func compileField(df mapping.Field) (Field, error) {
	lt, err := ParseLogicalType(df.Type)
	if err != nil {
		return Field{}, err
	}
	st, err := Resolve(lt)
	if err != nil {
		return Field{}, err
	}

	f := Field{
		Name:      strings.TrimSpace(df.Name),
		Type:      lt,
		Storage:   st,
		Default:   setDefault(df.Default),
		Required:  df.Required,
		Unique:    df.Unique,
		Trim:      df.Trim,
		Index:     df.Index,
		Uppercase: df.Uppercase,
		Lowercase: df.Lowercase,
		MinLength: max(df.MinLength, 0),
		MaxLength: max(df.MaxLength, 0),
	}
	if len(df.Enum) > 0 {
		f.Enum = append([]string(nil), df.Enum...)
	}

	// Reference data only survives on ref/file fields with a real target;
	// "none" means "not a reference".
	if (lt == TypeRef || lt == TypeFile) && df.HasTarget() {
		f.Ref = mapping.ModelName(df.Ref)
		f.Relationship = df.Relationship
		if f.Relationship == "" {
			f.Relationship = mapping.HasOne
		}
		f.AutoPopulate = df.AutoPopulate
		f.Many = f.Relationship == mapping.HasMany
	}
	return f, nil
}

// setDefault drops defaults that mean "not set": empty strings, false,
// zero and empty lists or objects.
func setDefault(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
	case bool:
		if !t {
			return nil
		}
	case float64:
		if t == 0 {
			return nil
		}
	case int:
		if t == 0 {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	case []string:
		if len(t) == 0 {
			return nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	}
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, x := range t {
			cp[k] = cloneValue(x)
		}
		return cp
	case []any:
		cp := make([]any, len(t))
		for i, x := range t {
			cp[i] = cloneValue(x)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
