package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"dynacrud/internal/apperr"
)

// Mode selects the rules applied by Cast.
type Mode int

const (
	// ModeCreate applies defaults and checks required fields.
	ModeCreate Mode = iota
	// ModeUpdate only validates the keys present in the body.
	ModeUpdate
)

// Cast validates body against c and returns the normalized document.
// Unknown keys and system fields are dropped. All field problems are
// reported together in an *apperr.ValidationError.
func (c *Compiled) Cast(body map[string]any, mode Mode) (map[string]any, error) {
	out := make(map[string]any, len(body))
	var errs []apperr.FieldError

	for _, f := range c.Fields {
		if f.System {
			continue
		}
		v, present := body[f.Name]
		if !present && mode == ModeCreate && f.Default != nil {
			v, present = cloneValue(f.Default), true
		}
		if !present {
			if mode == ModeCreate && f.Required {
				errs = append(errs, apperr.Ferr(apperr.CodeRequired, f.Name, "Field '"+f.Name+"' is required"))
			}
			continue
		}
		if v == nil {
			if f.Required {
				errs = append(errs, apperr.Ferr(apperr.CodeRequired, f.Name, "Field '"+f.Name+"' is required"))
				continue
			}
			out[f.Name] = nil
			continue
		}

		nv, err := f.Coerce(v)
		if err != nil {
			errs = append(errs, apperr.Ferr(apperr.CodeTypeMismatch, f.Name, "Field '"+f.Name+"' "+err.Error()))
			continue
		}
		if s, ok := nv.(string); ok {
			s = f.transform(s)
			nv = s
			if fe, bad := f.checkString(s); bad {
				errs = append(errs, fe)
				continue
			}
		}
		out[f.Name] = nv
	}

	if len(errs) > 0 {
		return nil, &apperr.ValidationError{Entity: c.Entity, Errors: errs}
	}
	return out, nil
}

func (f Field) transform(s string) string {
	if f.Trim {
		s = strings.TrimSpace(s)
	}
	switch {
	case f.Lowercase:
		s = strings.ToLower(s)
	case f.Uppercase:
		s = strings.ToUpper(s)
	}
	return s
}

func (f Field) checkString(s string) (apperr.FieldError, bool) {
	if f.Required && s == "" {
		return apperr.Ferr(apperr.CodeRequired, f.Name, "Field '"+f.Name+"' is required"), true
	}
	if len(f.Enum) > 0 {
		found := false
		for _, ev := range f.Enum {
			if s == ev {
				found = true
				break
			}
		}
		if !found {
			return apperr.Ferr(apperr.CodeEnumInvalid, f.Name, "Invalid value for '"+f.Name+"'"), true
		}
	}
	n := utf8.RuneCountInString(s)
	if f.MinLength > 0 && n < f.MinLength {
		return apperr.Ferr(apperr.CodeMinLength, f.Name,
			fmt.Sprintf("Field '%s' must be at least %d characters", f.Name, f.MinLength)), true
	}
	if f.MaxLength > 0 && n > f.MaxLength {
		return apperr.Ferr(apperr.CodeMaxLength, f.Name,
			fmt.Sprintf("Field '%s' must be at most %d characters", f.Name, f.MaxLength)), true
	}
	return apperr.FieldError{}, false
}

// Coerce converts a decoded JSON value to the storage representation of
// f: string, float64, bool, time.Time, id string, []string for hasmany,
// or the value itself for mixed fields.
func (f Field) Coerce(v any) (any, error) {
	if !f.Many {
		return f.CoerceScalar(v)
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
	case string, map[string]any:
		items = []any{t}
	default:
		return nil, errors.New("must be an array of ids")
	}
	ids := make([]string, 0, len(items))
	for i, it := range items {
		id, err := toID(it)
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CoerceScalar converts one value, ignoring Many. Query conditions on
// hasmany fields compare single ids.
func (f Field) CoerceScalar(v any) (any, error) {
	switch f.Storage {
	case StorageString:
		return toString(v)
	case StorageNumber:
		return toNumber(v)
	case StorageBoolean:
		return toBool(v)
	case StorageDate:
		return toTime(v)
	case StorageID:
		return toID(v)
	case StorageMixed:
		return cloneValue(v), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", f.Storage)
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", errors.New("must be string")
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, errors.New("must be number")
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return n, nil
	}
	return 0, errors.New("must be number")
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case float64:
		// epoch milliseconds
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
	}
	return time.Time{}, errors.New("must be RFC3339 datetime or YYYY-MM-DD")
}

// toID accepts a bare id or a populated record carrying one.
func toID(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s, nil
		}
	case map[string]any:
		if s, ok := t[FieldID].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", errors.New("must be an id")
}
