// Package gql synthesizes the executable GraphQL schema from the loaded
// application schema: one object type, where-input, input set and default
// operation set per class, plus the authentication operations and any
// custom resolvers.
package gql

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"

	"graphbase.dev/internal/auth"
	"graphbase.dev/internal/database"
	"graphbase.dev/internal/schema"
)

// Builder accumulates the GraphQL types derived from one schema. All maps
// memoize by type name so self-referential and mutually-referential classes
// resolve through thunks.
type Builder struct {
	schema     *schema.Schema
	controller *database.Controller
	auth       *auth.Service

	objects      map[string]*graphql.Object
	connections  map[string]*graphql.Object
	outputs      map[string]*graphql.Object
	wheres       map[string]*graphql.InputObject
	createFields map[string]*graphql.InputObject
	updateFields map[string]*graphql.InputObject
	nestedInputs map[string]*graphql.InputObject
	custom       map[string]graphql.Type
}

// Synthesize builds the executable schema. The auth service may be nil, in
// which case no authentication operations are generated.
func Synthesize(s *schema.Schema, controller *database.Controller, authService *auth.Service) (graphql.Schema, error) {
	b := &Builder{
		schema:       s,
		controller:   controller,
		auth:         authService,
		objects:      make(map[string]*graphql.Object),
		connections:  make(map[string]*graphql.Object),
		outputs:      make(map[string]*graphql.Object),
		wheres:       make(map[string]*graphql.InputObject),
		createFields: make(map[string]*graphql.InputObject),
		updateFields: make(map[string]*graphql.InputObject),
		nestedInputs: make(map[string]*graphql.InputObject),
		custom:       make(map[string]graphql.Type),
	}

	for _, scalar := range s.Scalars {
		b.custom[string(scalar.Name)] = graphql.NewScalar(graphql.ScalarConfig{
			Name:        scalar.Name,
			Description: scalar.Description,
			Serialize:   func(value any) any { return value },
			ParseValue:  func(value any) any { return value },
		})
	}
	for _, enum := range s.Enums {
		values := graphql.EnumValueConfigMap{}
		for name, stored := range enum.Values {
			values[name] = &graphql.EnumValueConfig{Value: stored}
		}
		b.custom[enum.Name] = graphql.NewEnum(graphql.EnumConfig{Name: enum.Name, Values: values})
	}

	if err := b.validateTypes(); err != nil {
		return graphql.Schema{}, err
	}

	queries, err := b.queryFields()
	if err != nil {
		return graphql.Schema{}, err
	}
	mutations, err := b.mutationFields()
	if err != nil {
		return graphql.Schema{}, err
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queries}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutations}),
	})
}

// validateTypes checks every referenced type name up front so the lazy
// type thunks cannot fail later.
func (b *Builder) validateTypes() error {
	var check func(className string, fields map[string]schema.Field) error
	check = func(className string, fields map[string]schema.Field) error {
		for name, field := range fields {
			switch field.Type {
			case schema.TypeObject:
				if err := check(field.Object.Name, field.Object.Fields); err != nil {
					return err
				}
			case schema.TypeArray:
				if !b.knownLeaf(field.TypeValue) {
					return fmt.Errorf("gql: class %s field %s: unknown element type %q", className, name, field.TypeValue)
				}
			case schema.TypePointer, schema.TypeRelation:
				// Validated by schema.Load.
			default:
				if !b.knownLeaf(field.Type) {
					return fmt.Errorf("gql: class %s field %s: unknown type %q", className, name, field.Type)
				}
			}
		}
		return nil
	}
	for _, class := range b.schema.Classes {
		if err := check(class.Name, class.Fields); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) knownLeaf(t schema.FieldType) bool {
	switch t {
	case schema.TypeString, schema.TypeInt, schema.TypeFloat, schema.TypeBoolean,
		schema.TypeDate, schema.TypeEmail:
		return true
	}
	_, ok := b.custom[string(t)]
	return ok
}

// classObject returns the output object type of a class, creating it with
// a field thunk so pointer cycles resolve.
func (b *Builder) classObject(className string) *graphql.Object {
	class := b.schema.Class(className)
	if obj, ok := b.objects[class.Name]; ok {
		return obj
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:        class.Name,
		Description: class.Description,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{
				"id": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			}
			for name, field := range class.Fields {
				fields[name] = &graphql.Field{
					Type:        b.outputType(field),
					Description: field.Description,
				}
			}
			return fields
		}),
	})
	b.objects[class.Name] = obj
	return obj
}

func (b *Builder) nestedObject(nested *schema.Class) *graphql.Object {
	if obj, ok := b.objects[nested.Name]; ok {
		return obj
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: nested.Name,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for name, field := range nested.Fields {
				fields[name] = &graphql.Field{Type: b.outputType(field)}
			}
			return fields
		}),
	})
	b.objects[nested.Name] = obj
	return obj
}

func (b *Builder) outputType(field schema.Field) graphql.Output {
	var t graphql.Output
	switch field.Type {
	case schema.TypeArray:
		t = graphql.NewList(b.leafType(field.TypeValue))
	case schema.TypeObject:
		t = b.nestedObject(field.Object)
	case schema.TypePointer:
		t = b.classObject(field.Class)
	case schema.TypeRelation:
		t = b.connection(field.Class)
	default:
		t = b.leafType(field.Type)
	}
	if field.Required {
		t = graphql.NewNonNull(t)
	}
	return t
}

func (b *Builder) leafType(t schema.FieldType) graphql.Type {
	switch t {
	case schema.TypeString:
		return graphql.String
	case schema.TypeInt:
		return graphql.Int
	case schema.TypeFloat:
		return graphql.Float
	case schema.TypeBoolean:
		return graphql.Boolean
	case schema.TypeDate:
		return Date
	case schema.TypeEmail:
		return Email
	}
	return b.custom[string(t)]
}

// connection wraps a relation target in the edges/node shape produced by
// the controller.
func (b *Builder) connection(className string) *graphql.Object {
	class := b.schema.Class(className)
	if conn, ok := b.connections[class.Name]; ok {
		return conn
	}
	edge := graphql.NewObject(graphql.ObjectConfig{
		Name: class.Name + "Edge",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"node": &graphql.Field{Type: b.classObject(class.Name)},
			}
		}),
	})
	conn := graphql.NewObject(graphql.ObjectConfig{
		Name: class.Name + "Connection",
		Fields: graphql.Fields{
			"edges": &graphql.Field{Type: graphql.NewList(edge)},
		},
	})
	b.connections[class.Name] = conn
	return conn
}

// output wraps bulk results: { objects: [Class] }.
func (b *Builder) output(className string) *graphql.Object {
	class := b.schema.Class(className)
	if out, ok := b.outputs[class.Name]; ok {
		return out
	}
	out := graphql.NewObject(graphql.ObjectConfig{
		Name: class.Name + "Output",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"objects": &graphql.Field{Type: graphql.NewList(b.classObject(class.Name))},
			}
		}),
	})
	b.outputs[class.Name] = out
	return out
}

// whereInput builds the filter input of a class. Pointer and relation
// fields accept the target class's where input; the controller rewrites
// those into id filters.
func (b *Builder) whereInput(className string) *graphql.InputObject {
	class := b.schema.Class(className)
	name := class.Name + "WhereInput"
	if in, ok := b.wheres[name]; ok {
		return in
	}
	var in *graphql.InputObject
	in = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"id": {Type: idComparators},
				"AND": {Type: graphql.NewList(in)},
				"OR":  {Type: graphql.NewList(in)},
			}
			for fieldName, field := range class.Fields {
				if t := b.whereFieldType(field); t != nil {
					fields[fieldName] = &graphql.InputObjectFieldConfig{Type: t}
				}
			}
			return fields
		}),
	})
	b.wheres[name] = in
	return in
}

func (b *Builder) nestedWhereInput(nested *schema.Class) *graphql.InputObject {
	name := nested.Name + "WhereInput"
	if in, ok := b.wheres[name]; ok {
		return in
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for fieldName, field := range nested.Fields {
				if t := b.whereFieldType(field); t != nil {
					fields[fieldName] = &graphql.InputObjectFieldConfig{Type: t}
				}
			}
			return fields
		}),
	})
	b.wheres[name] = in
	return in
}

func (b *Builder) whereFieldType(field schema.Field) graphql.Input {
	switch field.Type {
	case schema.TypeString:
		return stringComparators
	case schema.TypeInt:
		return intComparators
	case schema.TypeFloat:
		return floatComparators
	case schema.TypeBoolean:
		return booleanComparators
	case schema.TypeDate:
		return dateComparators
	case schema.TypeEmail:
		return emailComparators
	case schema.TypeArray:
		return arrayComparators
	case schema.TypeObject:
		return b.nestedWhereInput(field.Object)
	case schema.TypePointer, schema.TypeRelation:
		return b.whereInput(field.Class)
	default:
		return anyComparators
	}
}

// createFieldsInput is the payload shape of createOne/createMany; required
// fields are non-null here and only here.
func (b *Builder) createFieldsInput(className string) *graphql.InputObject {
	class := b.schema.Class(className)
	name := class.Name + "CreateFieldsInput"
	if in, ok := b.createFields[name]; ok {
		return in
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			return b.dataFields(class, true)
		}),
	})
	b.createFields[name] = in
	return in
}

func (b *Builder) updateFieldsInput(className string) *graphql.InputObject {
	class := b.schema.Class(className)
	name := class.Name + "UpdateFieldsInput"
	if in, ok := b.updateFields[name]; ok {
		return in
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			return b.dataFields(class, false)
		}),
	})
	b.updateFields[name] = in
	return in
}

func (b *Builder) dataFields(class *schema.Class, requireRequired bool) graphql.InputObjectConfigFieldMap {
	fields := graphql.InputObjectConfigFieldMap{}
	for name, field := range class.Fields {
		t := b.inputType(field)
		if requireRequired && field.Required {
			t = graphql.NewNonNull(t)
		}
		fields[name] = &graphql.InputObjectFieldConfig{
			Type:        t,
			Description: field.Description,
		}
	}
	return fields
}

func (b *Builder) inputType(field schema.Field) graphql.Input {
	switch field.Type {
	case schema.TypeArray:
		return graphql.NewList(b.leafType(field.TypeValue))
	case schema.TypeObject:
		return b.nestedInput(field.Object)
	case schema.TypePointer:
		return graphql.ID
	case schema.TypeRelation:
		return graphql.NewList(graphql.ID)
	default:
		return b.leafType(field.Type)
	}
}

func (b *Builder) nestedInput(nested *schema.Class) *graphql.InputObject {
	name := nested.Name + "Input"
	if in, ok := b.nestedInputs[name]; ok {
		return in
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for fieldName, field := range nested.Fields {
				fields[fieldName] = &graphql.InputObjectFieldConfig{Type: b.inputType(field)}
			}
			return fields
		}),
	})
	b.nestedInputs[name] = in
	return in
}

// Shared comparator inputs, one per leaf kind.
var (
	stringComparators  = comparatorInput("String", graphql.String, false, false)
	intComparators     = comparatorInput("Int", graphql.Int, true, false)
	floatComparators   = comparatorInput("Float", graphql.Float, true, false)
	booleanComparators = comparatorInput("Boolean", graphql.Boolean, false, false)
	dateComparators    = comparatorInput("Date", Date, true, false)
	emailComparators   = comparatorInput("Email", Email, false, false)
	idComparators      = comparatorInput("ID", graphql.ID, false, false)
	arrayComparators   = comparatorInput("Array", Any, false, true)
	anyComparators     = comparatorInput("Any", Any, false, false)
)

func comparatorInput(name string, t graphql.Type, ordered, containment bool) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{
		database.OpEqualTo:    {Type: t},
		database.OpNotEqualTo: {Type: t},
		database.OpIn:         {Type: graphql.NewList(t)},
		database.OpNotIn:      {Type: graphql.NewList(t)},
	}
	if ordered {
		fields[database.OpGreaterThan] = &graphql.InputObjectFieldConfig{Type: t}
		fields[database.OpGreaterThanOrEqualTo] = &graphql.InputObjectFieldConfig{Type: t}
		fields[database.OpLessThan] = &graphql.InputObjectFieldConfig{Type: t}
		fields[database.OpLessThanOrEqualTo] = &graphql.InputObjectFieldConfig{Type: t}
	}
	if containment {
		fields[database.OpContains] = &graphql.InputObjectFieldConfig{Type: t}
		fields[database.OpNotContains] = &graphql.InputObjectFieldConfig{Type: t}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   name + "WhereInput",
		Fields: fields,
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
