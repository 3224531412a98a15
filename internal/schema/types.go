// Package schema turns mapping documents into compiled, storage-ready
// schemas and validates record bodies against them.
package schema

import (
	"fmt"
	"strings"

	"dynacrud/internal/apperr"
)

// LogicalType is the declared type of a mapping field.
type LogicalType int

const (
	TypeString LogicalType = iota
	TypeBoolean
	TypeNumber
	TypeDate
	TypeRef
	TypeFile
	TypeJSON
	TypeRichText

	numLogicalTypes
)

var logicalNames = [numLogicalTypes]string{
	TypeString:   "string",
	TypeBoolean:  "boolean",
	TypeNumber:   "number",
	TypeDate:     "date",
	TypeRef:      "ref",
	TypeFile:     "file",
	TypeJSON:     "json",
	TypeRichText: "richText",
}

func (t LogicalType) String() string {
	if t < 0 || t >= numLogicalTypes {
		return fmt.Sprintf("LogicalType(%d)", int(t))
	}
	return logicalNames[t]
}

// LogicalTypes lists every declared type in declaration order.
func LogicalTypes() []LogicalType {
	out := make([]LogicalType, numLogicalTypes)
	for i := range out {
		out[i] = LogicalType(i)
	}
	return out
}

// ParseLogicalType maps a declared type name onto the enumeration. Names
// are matched case-insensitively ("richtext" is "richText").
func ParseLogicalType(s string) (LogicalType, error) {
	s = strings.TrimSpace(s)
	for i, n := range logicalNames {
		if strings.EqualFold(n, s) {
			return LogicalType(i), nil
		}
	}
	return 0, &UnknownTypeError{Type: s}
}

// StorageType is the concrete representation a backend keeps for a field.
type StorageType string

const (
	StorageString  StorageType = "string"
	StorageBoolean StorageType = "boolean"
	StorageNumber  StorageType = "number"
	StorageDate    StorageType = "date"
	StorageID      StorageType = "id"
	StorageMixed   StorageType = "mixed"
)

// One resolver per logical type. The array length ties it to the
// enumeration so a new type without a resolver is caught by the tests.
var resolvers = [numLogicalTypes]func() StorageType{
	TypeString:   func() StorageType { return StorageString },
	TypeBoolean:  func() StorageType { return StorageBoolean },
	TypeNumber:   func() StorageType { return StorageNumber },
	TypeDate:     func() StorageType { return StorageDate },
	TypeRef:      func() StorageType { return StorageID },
	TypeFile:     func() StorageType { return StorageID },
	TypeJSON:     func() StorageType { return StorageMixed },
	TypeRichText: func() StorageType { return StorageMixed },
}

// Resolve returns the storage type of t.
func Resolve(t LogicalType) (StorageType, error) {
	if t < 0 || t >= numLogicalTypes || resolvers[t] == nil {
		return "", &UnknownTypeError{Type: t.String()}
	}
	return resolvers[t](), nil
}

// ErrUnknownType is matched by every UnknownTypeError.
var ErrUnknownType = apperr.ErrUnknownType

type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown field type %q", e.Type)
}

func (e *UnknownTypeError) Unwrap() error { return ErrUnknownType }
