// Package schema holds the in-memory representation of the classes an
// application declares: fields, permissions and custom resolvers. It is pure
// data plus validation; the GraphQL types derived from it live in the gql
// package.
package schema

import (
	"context"
	"fmt"
	"strings"
)

// FieldType names the kind of a field. The built-in kinds are listed below;
// any other value must match a custom scalar or enum declared in the config.
type FieldType string

const (
	TypeString   FieldType = "String"
	TypeInt      FieldType = "Int"
	TypeFloat    FieldType = "Float"
	TypeBoolean  FieldType = "Boolean"
	TypeDate     FieldType = "Date"
	TypeEmail    FieldType = "Email"
	TypeArray    FieldType = "Array"
	TypeObject   FieldType = "Object"
	TypePointer  FieldType = "Pointer"
	TypeRelation FieldType = "Relation"
)

// Field describes one field of a class.
//
// For TypeObject, Object carries the nested shape. For TypePointer and
// TypeRelation, Class names the target class. For TypeArray, TypeValue names
// the element type (arrays of arrays are not supported).
type Field struct {
	Type         FieldType
	Required     bool
	DefaultValue any
	Description  string
	TypeValue    FieldType
	Object       *Class
	Class        string
}

// IsReference reports whether the field holds a foreign id (Pointer) or a
// list of foreign ids (Relation). Default values never apply to these.
func (f Field) IsReference() bool {
	return f.Type == TypePointer || f.Type == TypeRelation
}

// Rule is a per-operation permission rule.
type Rule struct {
	RequireAuthentication bool
	AuthorizedRoles       []string
}

// Permissions declares optional rules per CRUD operation. A nil rule allows
// the operation for everyone.
type Permissions struct {
	Create *Rule
	Read   *Rule
	Update *Rule
	Delete *Rule
}

// ResolveFunc is the signature of a custom resolver. The request context
// (session, controller handle) travels inside ctx; see database.FromContext.
type ResolveFunc func(ctx context.Context, args map[string]any) (any, error)

// Arg describes one argument of a custom resolver.
type Arg struct {
	Type     FieldType
	Required bool
}

// Resolver declares a custom query or mutation merged into the generated
// schema under its map key.
type Resolver struct {
	Type     FieldType
	Required bool
	Args     map[string]Arg
	Resolve  ResolveFunc
}

// Resolvers groups the custom queries and mutations of a class.
type Resolvers struct {
	Queries   map[string]Resolver
	Mutations map[string]Resolver
}

// Class describes one storable class of the application schema.
type Class struct {
	Name        string
	Description string
	Fields      map[string]Field
	Permissions *Permissions
	Resolvers   *Resolvers
}

// Permission returns the rule declared for op, or nil when the operation is
// unrestricted. op is one of "create", "read", "update", "delete".
func (c *Class) Permission(op string) *Rule {
	if c.Permissions == nil {
		return nil
	}
	switch op {
	case "create":
		return c.Permissions.Create
	case "read":
		return c.Permissions.Read
	case "update":
		return c.Permissions.Update
	case "delete":
		return c.Permissions.Delete
	}
	return nil
}

// Scalar declares a custom scalar merged into the generated schema.
type Scalar struct {
	Name        string
	Description string
}

// Enum declares a custom enum. Values maps the GraphQL name of each value to
// the value stored in the database.
type Enum struct {
	Name   string
	Values map[string]string
}

// Schema is the validated, process-wide set of classes. It is read-only
// after Load.
type Schema struct {
	Classes []*Class
	Scalars []Scalar
	Enums   []Enum

	byName map[string]*Class
}

// Class looks a class up by name, ignoring case. It returns nil when the
// class is unknown.
func (s *Schema) Class(name string) *Class {
	return s.byName[strings.ToLower(name)]
}

// Load validates the declared classes, appends the built-in classes
// (User, Role, Session) and returns the immutable schema set.
//
// All failures are *Error values and are fatal: a schema that does not load
// must prevent server start.
func Load(classes []*Class, scalars []Scalar, enums []Enum) (*Schema, error) {
	s := &Schema{
		Scalars: scalars,
		Enums:   enums,
		byName:  make(map[string]*Class),
	}

	for _, class := range classes {
		if class.Name == "" {
			return nil, &Error{Message: "class without a name"}
		}
		key := strings.ToLower(class.Name)
		if _, ok := s.byName[key]; ok {
			return nil, &Error{
				Class:   class.Name,
				Message: fmt.Sprintf("duplicate class name %q (names are case-insensitive)", class.Name),
			}
		}
		s.byName[key] = class
		s.Classes = append(s.Classes, class)
	}

	// A declared class sharing a built-in name extends it; the declared
	// fields win over the built-in ones.
	for _, class := range builtinClasses() {
		key := strings.ToLower(class.Name)
		if existing, ok := s.byName[key]; ok {
			mergeFields(existing, class)
			continue
		}
		s.byName[key] = class
		s.Classes = append(s.Classes, class)
	}

	for _, class := range s.Classes {
		if err := s.validateFields(class.Name, class.Fields); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) validateFields(className string, fields map[string]Field) error {
	for name, field := range fields {
		switch field.Type {
		case TypeObject:
			if field.Object == nil || len(field.Object.Fields) == 0 {
				return &Error{
					Class:   className,
					Field:   name,
					Message: "object field without a nested shape",
				}
			}
			if field.Object.Name == "" {
				return &Error{
					Class:   className,
					Field:   name,
					Message: "nested object without a name",
				}
			}
			if err := s.validateFields(field.Object.Name, field.Object.Fields); err != nil {
				return err
			}
		case TypePointer, TypeRelation:
			if s.Class(field.Class) == nil {
				return &Error{
					Class:   className,
					Field:   name,
					Message: fmt.Sprintf("class %q not found in schema", field.Class),
				}
			}
		case TypeArray:
			if field.TypeValue == "" {
				return &Error{Class: className, Field: name, Message: "array field without an element type"}
			}
			if field.TypeValue == TypeArray {
				return &Error{Class: className, Field: name, Message: "arrays of arrays are not supported"}
			}
		}
	}
	return nil
}

// mergeFields folds the built-in fields of src into the user-declared dst.
// Fields already declared by the user win.
func mergeFields(dst, src *Class) {
	for name, field := range src.Fields {
		if _, ok := dst.Fields[name]; !ok {
			dst.Fields[name] = field
		}
	}
	if dst.Permissions == nil {
		dst.Permissions = src.Permissions
	}
	if dst.Resolvers == nil {
		dst.Resolvers = src.Resolvers
	}
}
