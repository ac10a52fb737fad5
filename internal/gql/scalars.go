package gql

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// Date serializes as RFC 3339. Stored values are strings, so parsing is a
// validation pass, not a conversion.
var Date = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Date",
	Description: "An RFC 3339 timestamp.",
	Serialize: func(value any) any {
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano)
		case string:
			return v
		default:
			return nil
		}
	},
	ParseValue:   parseDate,
	ParseLiteral: literalString(parseDate),
})

// Email is a string scalar validated against RFC 5322 address syntax.
var Email = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Email",
	Description: "An email address.",
	Serialize: func(value any) any {
		s, _ := value.(string)
		return s
	},
	ParseValue:   parseEmail,
	ParseLiteral: literalString(parseEmail),
})

// Any passes values through untouched. Used for array containment
// comparators, whose operand type depends on the element type.
var Any = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Any",
	Description: "An arbitrary literal value.",
	Serialize:   func(value any) any { return value },
	ParseValue:  func(value any) any { return value },
	ParseLiteral: func(valueAST ast.Value) any {
		return literalValue(valueAST)
	},
})

func parseDate(value any) any {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil
		}
	}
	return s
}

func parseEmail(value any) any {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return nil
	}
	return s
}

func literalString(parse func(any) any) func(ast.Value) any {
	return func(valueAST ast.Value) any {
		if lit, ok := valueAST.(*ast.StringValue); ok {
			return parse(lit.Value)
		}
		return nil
	}
}

// literalValue converts an AST literal into the plain value shape used by
// the where clauses.
func literalValue(valueAST ast.Value) any {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		var n int
		_, _ = fmt.Sscan(v.Value, &n)
		return n
	case *ast.FloatValue:
		var f float64
		_, _ = fmt.Sscan(v.Value, &f)
		return f
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = literalValue(field.Value)
		}
		return out
	default:
		return nil
	}
}
