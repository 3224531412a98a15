package storage

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"dynacrud/internal/apperr"
)

type condMatcher struct {
	Cond
	re *regexp.Regexp
}

type matcher struct {
	and []condMatcher
	or  []condMatcher
}

func newMatcher(f Filter) (*matcher, error) {
	m := &matcher{}
	var err error
	if m.and, err = compileConds(f.And); err != nil {
		return nil, err
	}
	if m.or, err = compileConds(f.Or); err != nil {
		return nil, err
	}
	return m, nil
}

func compileConds(conds []Cond) ([]condMatcher, error) {
	out := make([]condMatcher, 0, len(conds))
	for _, c := range conds {
		if !KnownOp(c.Op) {
			return nil, apperr.ErrBadRequest.WithReason(fmt.Sprintf("unknown operator %q on %s", c.Op, c.Field))
		}
		cm := condMatcher{Cond: c}
		if c.Op == OpRegex {
			s, _ := c.Value.(string)
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, apperr.ErrBadRequest.WithReason(fmt.Sprintf("bad pattern on %s: %v", c.Field, err))
			}
			cm.re = re
		}
		out = append(out, cm)
	}
	return out, nil
}

func (m *matcher) match(r Record) bool {
	for _, c := range m.and {
		if !c.match(r[c.Field]) {
			return false
		}
	}
	if len(m.or) == 0 {
		return true
	}
	for _, c := range m.or {
		if c.match(r[c.Field]) {
			return true
		}
	}
	return false
}

func (c condMatcher) match(got any) bool {
	// list values (hasmany) match when any element does, except ne which
	// requires that no element is equal
	if list, ok := got.([]string); ok {
		if c.Op == OpNe {
			for _, it := range list {
				if equalValues(it, c.Value) {
					return false
				}
			}
			return true
		}
		for _, it := range list {
			if c.matchScalar(it) {
				return true
			}
		}
		return false
	}
	return c.matchScalar(got)
}

func (c condMatcher) matchScalar(got any) bool {
	switch c.Op {
	case OpEq:
		return equalValues(got, c.Value)
	case OpNe:
		return !equalValues(got, c.Value)
	case OpIn:
		vals, _ := c.Value.([]any)
		for _, v := range vals {
			if equalValues(got, v) {
				return true
			}
		}
		return false
	case OpRegex:
		s, ok := got.(string)
		return ok && c.re.MatchString(s)
	case OpIContains:
		s, ok := got.(string)
		needle, _ := c.Value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	}

	if got == nil || c.Value == nil {
		return false
	}
	cmp, ok := compareValues(got, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders two values of the same storage kind.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

// sortRecords orders records by keys. Missing values sort last in
// ascending order. The sort is stable, so ties keep insertion order.
func sortRecords(recs []Record, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(recs[i], recs[j], k); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func cmpByKey(a, b Record, k SortKey) int {
	va, vb := a[k.Field], b[k.Field]
	na, nb := va == nil, vb == nil
	if na && nb {
		return 0
	}
	if na != nb {
		rel := -1
		if na {
			rel = 1
		}
		if k.Desc {
			rel = -rel
		}
		return rel
	}
	rel, ok := compareValues(va, vb)
	if !ok {
		rel = strings.Compare(fmt.Sprint(va), fmt.Sprint(vb))
	}
	if k.Desc {
		rel = -rel
	}
	return rel
}

// project applies select and omit. "id" is always kept unless omitted
// explicitly.
func project(r Record, sel, omit []string) Record {
	if len(sel) == 0 && len(omit) == 0 {
		return r
	}
	var out Record
	if len(sel) > 0 {
		out = make(Record, len(sel)+1)
		if v, ok := r["id"]; ok {
			out["id"] = v
		}
		for _, k := range sel {
			if v, ok := r[k]; ok {
				out[k] = v
			}
		}
	} else {
		out = make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
	}
	for _, k := range omit {
		delete(out, k)
	}
	return out
}
