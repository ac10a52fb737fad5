package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"graphbase.dev/internal/database"
)

var operatorMap = map[string]string{
	database.OpEqualTo:              "$eq",
	database.OpNotEqualTo:           "$ne",
	database.OpIn:                   "$in",
	database.OpNotIn:                "$nin",
	database.OpGreaterThan:          "$gt",
	database.OpGreaterThanOrEqualTo: "$gte",
	database.OpLessThan:             "$lt",
	database.OpLessThanOrEqualTo:    "$lte",
}

// BuildFilter translates a where clause into a bson filter. Nested object
// specs flatten into dotted keys; the external id field maps onto _id.
// Exported so the translation can be tested without a server.
func BuildFilter(where database.Where) (bson.M, error) {
	filter := bson.M{}
	for key, raw := range where {
		switch key {
		case "AND", "OR":
			clauses, err := clauseList(key, raw)
			if err != nil {
				return nil, err
			}
			translated := make([]bson.M, 0, len(clauses))
			for _, clause := range clauses {
				sub, err := BuildFilter(clause)
				if err != nil {
					return nil, err
				}
				translated = append(translated, sub)
			}
			// The server rejects an empty $and/$or list; an empty branch
			// list is vacuously true.
			if len(translated) == 0 {
				continue
			}
			if key == "AND" {
				filter["$and"] = translated
			} else {
				filter["$or"] = translated
			}
		default:
			spec, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("mongostore: filter on %q is not a comparator object", key)
			}
			if err := translateField(filter, fieldKey(key), spec); err != nil {
				return nil, err
			}
		}
	}
	return filter, nil
}

func translateField(filter bson.M, path string, spec map[string]any) error {
	ops := bson.M{}
	for op, operand := range spec {
		if mongoOp, ok := operatorMap[op]; ok {
			ops[mongoOp] = operand
			continue
		}
		switch op {
		case database.OpContains:
			ops["$in"] = []any{operand}
		case database.OpNotContains:
			ops["$nin"] = []any{operand}
		default:
			nested, ok := operand.(map[string]any)
			if !ok {
				return fmt.Errorf("mongostore: unknown comparator %q", op)
			}
			if err := translateField(filter, path+"."+op, nested); err != nil {
				return err
			}
		}
	}
	if len(ops) > 0 {
		filter[path] = ops
	}
	return nil
}

func fieldKey(field string) string {
	if field == "id" {
		return "_id"
	}
	return field
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
				return nil, fmt.Errorf("mongostore: %s expects a list of where clauses", key)
			}
			out = append(out, database.Where(m))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("mongostore: %s expects a list of where clauses", key)
	}
}
