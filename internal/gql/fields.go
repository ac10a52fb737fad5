package gql

import (
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// RequestedFields flattens the selection set of the resolved field into
// the dot-notation paths consumed by the database controller. Wrapper
// fields named in unwrap (e.g. "objects" for bulk outputs) are descended
// into first; relation selections are flattened through edges.node.
func RequestedFields(info graphql.ResolveInfo, unwrap ...string) []string {
	if len(info.FieldASTs) == 0 {
		return nil
	}
	selections := info.FieldASTs[0].SelectionSet
	for _, wrapper := range unwrap {
		selections = descend(selections, wrapper, info)
		if selections == nil {
			return nil
		}
	}

	var out []string
	collect(selections, "", info, &out)
	return out
}

func descend(set *ast.SelectionSet, name string, info graphql.ResolveInfo) *ast.SelectionSet {
	for _, field := range expand(set, info) {
		if field.Name != nil && field.Name.Value == name {
			return field.SelectionSet
		}
	}
	return nil
}

func collect(set *ast.SelectionSet, prefix string, info graphql.ResolveInfo, out *[]string) {
	for _, field := range expand(set, info) {
		if field.Name == nil {
			continue
		}
		name := field.Name.Value
		if name == "__typename" {
			continue
		}
		// A relation connection is transparent: edges.node selections
		// belong to the relation field itself.
		if name == "edges" {
			if node := descend(field.SelectionSet, "node", info); node != nil {
				collect(node, prefix, info, out)
			}
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if field.SelectionSet == nil || len(field.SelectionSet.Selections) == 0 {
			*out = append(*out, path)
			continue
		}
		collect(field.SelectionSet, path, info, out)
	}
}

// expand resolves fragment spreads and inline fragments into their fields.
func expand(set *ast.SelectionSet, info graphql.ResolveInfo) []*ast.Field {
	if set == nil {
		return nil
	}
	var fields []*ast.Field
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields = append(fields, sel)
		case *ast.InlineFragment:
			fields = append(fields, expand(sel.SelectionSet, info)...)
		case *ast.FragmentSpread:
			if sel.Name == nil {
				continue
			}
			if def, ok := info.Fragments[sel.Name.Value].(*ast.FragmentDefinition); ok {
				fields = append(fields, expand(def.SelectionSet, info)...)
			}
		}
	}
	return fields
}
