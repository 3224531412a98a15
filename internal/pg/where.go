package pg

import (
	"encoding/json"
	"fmt"
	"strings"

	"dynacrud/internal/apperr"
	"dynacrud/internal/schema"
	"dynacrud/internal/storage"
)

// params collects positional arguments ($1, $2, ...).
type params struct {
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

func (p *params) addJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return p.add(string(b)) + "::jsonb", nil
}

func badCond(c storage.Cond, why string) error {
	return apperr.ErrBadRequest.WithReason(fmt.Sprintf("%s %s: %s", c.Field, c.Op, why))
}

// whereClause renders f, or "" when it matches everything.
func whereClause(c *schema.Compiled, f storage.Filter, p *params) (string, error) {
	var parts []string
	for _, cond := range f.And {
		s, err := condSQL(c, cond, p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(f.Or) > 0 {
		var ors []string
		for _, cond := range f.Or {
			s, err := condSQL(c, cond, p)
			if err != nil {
				return "", err
			}
			ors = append(ors, s)
		}
		parts = append(parts, "("+strings.Join(ors, " or ")+")")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " where " + strings.Join(parts, " and "), nil
}

func condSQL(c *schema.Compiled, cond storage.Cond, p *params) (string, error) {
	f, ok := c.Field(cond.Field)
	if !ok {
		return "", badCond(cond, "unknown field")
	}
	col := sqlIdent(f.Name)

	if f.Many {
		return manyCondSQL(col, cond, p)
	}
	if f.Storage == schema.StorageMixed {
		if cond.Op != storage.OpEq && cond.Op != storage.OpNe {
			return "", badCond(cond, "only eq and ne apply to json fields")
		}
		ph, err := p.addJSON(cond.Value)
		if err != nil {
			return "", badCond(cond, err.Error())
		}
		if cond.Op == storage.OpNe {
			return col + " is distinct from " + ph, nil
		}
		return col + " = " + ph, nil
	}

	switch cond.Op {
	case storage.OpEq:
		if cond.Value == nil {
			return col + " is null", nil
		}
		return col + " = " + p.add(cond.Value), nil
	case storage.OpNe:
		if cond.Value == nil {
			return col + " is not null", nil
		}
		return col + " is distinct from " + p.add(cond.Value), nil
	case storage.OpIn:
		vals, _ := cond.Value.([]any)
		if len(vals) == 0 {
			return "false", nil
		}
		phs := make([]string, len(vals))
		for i, v := range vals {
			phs[i] = p.add(v)
		}
		return col + " in (" + strings.Join(phs, ", ") + ")", nil
	case storage.OpGt:
		return col + " > " + p.add(cond.Value), nil
	case storage.OpGte:
		return col + " >= " + p.add(cond.Value), nil
	case storage.OpLt:
		return col + " < " + p.add(cond.Value), nil
	case storage.OpLte:
		return col + " <= " + p.add(cond.Value), nil
	case storage.OpRegex:
		return col + " ~ " + p.add(cond.Value), nil
	case storage.OpIContains:
		s, _ := cond.Value.(string)
		return col + " ilike " + p.add("%"+escapeLike(s)+"%"), nil
	}
	return "", badCond(cond, "unknown operator")
}

// manyCondSQL compares single ids against a jsonb array column.
func manyCondSQL(col string, cond storage.Cond, p *params) (string, error) {
	contains := func(v any) (string, error) {
		ph, err := p.addJSON([]any{v})
		if err != nil {
			return "", err
		}
		return col + " @> " + ph, nil
	}
	switch cond.Op {
	case storage.OpEq:
		return contains(cond.Value)
	case storage.OpNe:
		s, err := contains(cond.Value)
		if err != nil {
			return "", err
		}
		return "not coalesce(" + s + ", false)", nil
	case storage.OpIn:
		vals, _ := cond.Value.([]any)
		if len(vals) == 0 {
			return "false", nil
		}
		ors := make([]string, 0, len(vals))
		for _, v := range vals {
			s, err := contains(v)
			if err != nil {
				return "", err
			}
			ors = append(ors, s)
		}
		return "(" + strings.Join(ors, " or ") + ")", nil
	}
	return "", badCond(cond, "only eq, ne and in apply to hasmany fields")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func orderClause(c *schema.Compiled, keys []storage.SortKey) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if _, ok := c.Field(k.Field); !ok {
			return "", apperr.ErrBadRequest.WithReason("cannot sort by unknown field " + k.Field)
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		parts = append(parts, sqlIdent(k.Field)+" "+dir)
	}
	// ids are monotonic, so id order is insertion order
	parts = append(parts, sqlIdent(schema.FieldID)+" asc")
	return " order by " + strings.Join(parts, ", "), nil
}
