package pgstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"graphbase.dev/internal/database"
)

// buildWhere renders a filter into a SQL where clause over the jsonb document
// column. An empty filter yields an empty clause.
func buildWhere(where database.Where) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	b := &whereBuilder{}
	expr, err := b.translate(where, nil)
	if err != nil {
		return "", nil, err
	}
	if expr == "" {
		return "", nil, nil
	}
	return " where " + expr, b.args, nil
}

type whereBuilder struct {
	args []any
}

func (b *whereBuilder) placeholder(value any) string {
	b.args = append(b.args, value)
	return "$" + strconv.Itoa(len(b.args))
}

// translate renders one filter level. path carries the document segments
// accumulated while descending into nested object filters.
func (b *whereBuilder) translate(where map[string]any, path []string) (string, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		operand := where[key]
		switch key {
		case "AND", "OR":
			expr, err := b.logical(key, operand, path)
			if err != nil {
				return "", err
			}
			if expr == "" {
				continue
			}
			parts = append(parts, expr)
		default:
			fieldPath := append(append([]string{}, path...), strings.Split(key, ".")...)
			spec, ok := operand.(map[string]any)
			if !ok {
				return "", fmt.Errorf("pgstore: field %s expects a comparator object", strings.Join(fieldPath, "."))
			}
			expr, err := b.field(fieldPath, spec)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr)
		}
	}
	return strings.Join(parts, " and "), nil
}

func (b *whereBuilder) logical(op string, operand any, path []string) (string, error) {
	clauses, err := clauseList(op, operand)
	if err != nil {
		return "", err
	}
	glue := " and "
	if op == "OR" {
		glue = " or "
	}
	var parts []string
	for _, clause := range clauses {
		expr, err := b.translate(clause, path)
		if err != nil {
			return "", err
		}
		if expr == "" {
			continue
		}
		parts = append(parts, "("+expr+")")
	}
	// An empty branch list is vacuously true, not a bare "()".
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, glue) + ")", nil
}

func clauseList(op string, raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []database.Where:
		out := make([]map[string]any, len(v))
		for i, w := range v {
			out[i] = w
		}
		return out, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("pgstore: %s expects a list of where clauses", op)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("pgstore: %s expects a list of where clauses", op)
}

// field renders one field spec. The spec is either a comparator object or a
// nested object filter; the two are told apart by the comparator names.
func (b *whereBuilder) field(path []string, spec map[string]any) (string, error) {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		operand := spec[key]
		if !isComparator(key) {
			nested, ok := operand.(map[string]any)
			if !ok {
				return "", fmt.Errorf("pgstore: unknown comparator %q on %s", key, strings.Join(path, "."))
			}
			expr, err := b.field(append(append([]string{}, path...), key), nested)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr)
			continue
		}
		expr, err := b.comparator(path, key, operand)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " and "), nil
}

func isComparator(key string) bool {
	switch key {
	case database.OpEqualTo, database.OpNotEqualTo,
		database.OpIn, database.OpNotIn,
		database.OpGreaterThan, database.OpGreaterThanOrEqualTo,
		database.OpLessThan, database.OpLessThanOrEqualTo,
		database.OpContains, database.OpNotContains:
		return true
	}
	return false
}

func (b *whereBuilder) comparator(path []string, op string, operand any) (string, error) {
	switch op {
	case database.OpEqualTo:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " = " + rhs, nil
	case database.OpNotEqualTo:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " is distinct from " + rhs, nil
	case database.OpIn:
		values, err := textList(op, operand)
		if err != nil {
			return "", err
		}
		return b.membership(path, values, false)
	case database.OpNotIn:
		values, err := textList(op, operand)
		if err != nil {
			return "", err
		}
		return b.membership(path, values, true)
	case database.OpGreaterThan:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " > " + rhs, nil
	case database.OpGreaterThanOrEqualTo:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " >= " + rhs, nil
	case database.OpLessThan:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " < " + rhs, nil
	case database.OpLessThanOrEqualTo:
		lhs, rhs := b.typedPair(path, operand)
		return lhs + " <= " + rhs, nil
	case database.OpContains:
		return b.containment(path, operand, false)
	case database.OpNotContains:
		return b.containment(path, operand, true)
	}
	return "", fmt.Errorf("pgstore: unknown comparator %q on %s", op, strings.Join(path, "."))
}

// typedPair picks the comparison representation from the operand type:
// numbers and booleans compare on the typed jsonb value, everything else on
// the extracted text.
func (b *whereBuilder) typedPair(path []string, operand any) (lhs, rhs string) {
	jsonCol, err := jsonExpr(path)
	if err == nil {
		switch operand.(type) {
		case int, int32, int64, float32, float64:
			return "(" + jsonCol + ")::numeric", b.placeholder(toNumeric(operand))
		case bool:
			return "(" + jsonCol + ")::boolean", b.placeholder(operand)
		}
	}
	textCol, _ := textExpr(path)
	return textCol, b.placeholder(operandText(operand))
}

// membership renders in/notIn. Scalar fields compare the extracted text
// against the operand list; a stored array, such as a relation's id list,
// matches when any element does. The case expression keeps the element
// expansion away from scalar values.
func (b *whereBuilder) membership(path []string, values []string, negate bool) (string, error) {
	column, err := textExpr(path)
	if err != nil {
		return "", err
	}
	arg := b.placeholder(values)
	scalar := column + " = any(" + arg + ")"
	if negate {
		scalar = column + " <> all(" + arg + ")"
	}
	if len(path) == 1 && path[0] == "id" {
		return scalar, nil
	}
	jsonCol, err := jsonExpr(path)
	if err != nil {
		return "", err
	}
	overlap := fmt.Sprintf("exists (select 1 from jsonb_array_elements_text(%s) e where e = any(%s))", jsonCol, arg)
	if negate {
		overlap = "not " + overlap
	}
	return fmt.Sprintf("case when jsonb_typeof(%s) = 'array' then %s else %s end", jsonCol, overlap, scalar), nil
}

// containment matches array membership with the jsonb containment operator,
// falling back to substring search for string operands on text fields.
func (b *whereBuilder) containment(path []string, operand any, negate bool) (string, error) {
	var expr string
	if s, ok := operand.(string); ok {
		column, err := textExpr(path)
		if err != nil {
			return "", err
		}
		jsonCol, _ := jsonExpr(path)
		element, _ := json.Marshal([]any{operand})
		expr = fmt.Sprintf("(%s @> %s::jsonb or position(%s in %s) > 0)",
			jsonCol, b.placeholder(string(element)), b.placeholder(s), column)
	} else {
		jsonCol, err := jsonExpr(path)
		if err != nil {
			return "", err
		}
		element, merr := json.Marshal([]any{operand})
		if merr != nil {
			return "", fmt.Errorf("pgstore: encode contains operand: %w", merr)
		}
		expr = jsonCol + " @> " + b.placeholder(string(element)) + "::jsonb"
	}
	if negate {
		return "not " + expr, nil
	}
	return expr, nil
}

// textExpr extracts the field as text. The top-level id lives in its own
// column, everything else inside the document.
func textExpr(path []string) (string, error) {
	if len(path) == 1 && path[0] == "id" {
		return "id", nil
	}
	literal, err := pathLiteral(path)
	if err != nil {
		return "", err
	}
	return "doc #>> " + literal, nil
}

func jsonExpr(path []string) (string, error) {
	if len(path) == 1 && path[0] == "id" {
		return "to_jsonb(id)", nil
	}
	literal, err := pathLiteral(path)
	if err != nil {
		return "", err
	}
	return "doc #> " + literal, nil
}

func pathLiteral(path []string) (string, error) {
	for _, segment := range path {
		for _, r := range segment {
			if r == '\'' || r == '{' || r == '}' || r == ',' {
				return "", fmt.Errorf("pgstore: invalid field path segment %q", segment)
			}
		}
	}
	return "'{" + strings.Join(path, ",") + "}'", nil
}

func textList(op string, operand any) ([]string, error) {
	values, ok := operand.([]any)
	if !ok {
		return nil, fmt.Errorf("pgstore: %s expects a list of values", op)
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = operandText(v)
	}
	return out, nil
}

func operandText(operand any) string {
	switch v := operand.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

func toNumeric(operand any) float64 {
	switch v := operand.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
