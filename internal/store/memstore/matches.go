package memstore

import (
	"fmt"
	"strings"

	"graphbase.dev/internal/database"
)

// Matches evaluates a where clause against one object. Exported so the
// where semantics can be tested directly.
func Matches(object map[string]any, where database.Where) (bool, error) {
	for key, raw := range where {
		switch key {
		case "AND":
			clauses, err := clauseList(key, raw)
			if err != nil {
				return false, err
			}
			for _, clause := range clauses {
				ok, err := Matches(object, clause)
				if err != nil || !ok {
					return false, err
				}
			}
		case "OR":
			clauses, err := clauseList(key, raw)
			if err != nil {
				return false, err
			}
			matched := false
			for _, clause := range clauses {
				ok, err := Matches(object, clause)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		default:
			spec, ok := raw.(map[string]any)
			if !ok {
				return false, fmt.Errorf("memstore: filter on %q is not a comparator object", key)
			}
			ok, err := fieldMatches(lookup(object, key), spec)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

// fieldMatches applies a field spec, which is either a comparator object
// or, for nested object fields, a map of sub-field specs.
func fieldMatches(value any, spec map[string]any) (bool, error) {
	for op, operand := range spec {
		var ok bool
		switch op {
		case database.OpEqualTo:
			ok = looseEqual(value, operand)
		case database.OpNotEqualTo:
			ok = !looseEqual(value, operand)
		case database.OpIn:
			ok = inList(value, operand)
		case database.OpNotIn:
			ok = !inList(value, operand)
		case database.OpGreaterThan:
			c, err := compare(value, operand)
			if err != nil {
				return false, err
			}
			ok = c > 0
		case database.OpGreaterThanOrEqualTo:
			c, err := compare(value, operand)
			if err != nil {
				return false, err
			}
			ok = c >= 0
		case database.OpLessThan:
			c, err := compare(value, operand)
			if err != nil {
				return false, err
			}
			ok = c < 0
		case database.OpLessThanOrEqualTo:
			c, err := compare(value, operand)
			if err != nil {
				return false, err
			}
			ok = c <= 0
		case database.OpContains:
			ok = containsValue(value, operand)
		case database.OpNotContains:
			ok = !containsValue(value, operand)
		default:
			nestedSpec, isNested := operand.(map[string]any)
			if !isNested {
				return false, fmt.Errorf("memstore: unknown comparator %q", op)
			}
			parent, _ := value.(map[string]any)
			nestedValue := any(nil)
			if parent != nil {
				nestedValue = parent[op]
			}
			var err error
			ok, err = fieldMatches(nestedValue, nestedSpec)
			if err != nil {
				return false, err
			}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// lookup follows a dot path into nested objects.
func lookup(object map[string]any, path string) any {
	current := any(object)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func clauseList(key string, raw any) ([]database.Where, error) {
	switch v := raw.(type) {
	case []database.Where:
		return v, nil
	case []map[string]any:
		out := make([]database.Where, len(v))
		for i, m := range v {
			out[i] = database.Where(m)
		}
		return out, nil
	case []any:
		out := make([]database.Where, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("memstore: %s expects a list of where clauses", key)
			}
			out = append(out, database.Where(m))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("memstore: %s expects a list of where clauses", key)
	}
}

func looseEqual(a, b any) bool {
	if fa, oka := toFloat(a); oka {
		if fb, okb := toFloat(b); okb {
			return fa == fb
		}
		return false
	}
	return a == b
}

// inList reports whether the field value is one of the operands. A stored
// list value, such as a relation's id array, matches when any of its
// elements does.
func inList(value, operand any) bool {
	operands := valueList(operand)
	switch value.(type) {
	case []any, []string:
		for _, element := range valueList(value) {
			for _, item := range operands {
				if looseEqual(element, item) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range operands {
		if looseEqual(value, item) {
			return true
		}
	}
	return false
}

func valueList(operand any) []any {
	switch v := operand.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

// containsValue checks array membership when value is a list, substring
// containment when both sides are strings.
func containsValue(value, operand any) bool {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if looseEqual(item, operand) {
				return true
			}
		}
		return false
	case string:
		s, ok := operand.(string)
		return ok && strings.Contains(v, s)
	default:
		return false
	}
}

func compare(a, b any) (int, error) {
	if fa, oka := toFloat(a); oka {
		fb, okb := toFloat(b)
		if !okb {
			return 0, fmt.Errorf("memstore: cannot compare %T with %T", a, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	sa, oka := a.(string)
	sb, okb := b.(string)
	if !oka || !okb {
		return 0, fmt.Errorf("memstore: cannot compare %T with %T", a, b)
	}
	return strings.Compare(sa, sb), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
