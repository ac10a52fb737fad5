package gql

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/schema"
)

func (b *Builder) queryFields() (graphql.Fields, error) {
	fields := graphql.Fields{}
	for _, class := range b.schema.Classes {
		className := class.Name
		fields["findOne"+className] = &graphql.Field{
			Type: b.classObject(className),
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: b.resolveFindOne(className),
		}
		fields["findMany"+className] = &graphql.Field{
			Type: b.output(className),
			Args: graphql.FieldConfigArgument{
				"where":  &graphql.ArgumentConfig{Type: b.whereInput(className)},
				"offset": &graphql.ArgumentConfig{Type: graphql.Int},
				"limit":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: b.resolveFindMany(className),
		}
	}
	if err := b.mergeCustom(fields, func(r *schema.Resolvers) map[string]schema.Resolver {
		if r == nil {
			return nil
		}
		return r.Queries
	}); err != nil {
		return nil, err
	}
	return fields, nil
}

func (b *Builder) mutationFields() (graphql.Fields, error) {
	fields := graphql.Fields{}
	for _, class := range b.schema.Classes {
		className := class.Name

		createInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "CreateInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"fields": {Type: graphql.NewNonNull(b.createFieldsInput(className))},
			},
		})
		createManyInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "sCreateInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"fields": {Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(b.createFieldsInput(className))))},
				"offset": {Type: graphql.Int},
				"limit":  {Type: graphql.Int},
			},
		})
		updateInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "UpdateInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"id":     {Type: graphql.NewNonNull(graphql.ID)},
				"fields": {Type: b.updateFieldsInput(className)},
			},
		})
		updateManyInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "sUpdateInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"fields": {Type: b.updateFieldsInput(className)},
				"where":  {Type: b.whereInput(className)},
				"offset": {Type: graphql.Int},
				"limit":  {Type: graphql.Int},
			},
		})
		deleteInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "DeleteInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"id": {Type: graphql.NewNonNull(graphql.ID)},
			},
		})
		deleteManyInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name: className + "sDeleteInput",
			Fields: graphql.InputObjectConfigFieldMap{
				"where": {Type: b.whereInput(className)},
			},
		})

		fields["createOne"+className] = &graphql.Field{
			Type:    b.classObject(className),
			Args:    inputArg(createInput),
			Resolve: b.resolveCreateOne(className),
		}
		fields["createMany"+className] = &graphql.Field{
			Type:    b.output(className),
			Args:    inputArg(createManyInput),
			Resolve: b.resolveCreateMany(className),
		}
		fields["updateOne"+className] = &graphql.Field{
			Type:    b.classObject(className),
			Args:    inputArg(updateInput),
			Resolve: b.resolveUpdateOne(className),
		}
		fields["updateMany"+className] = &graphql.Field{
			Type:    b.output(className),
			Args:    inputArg(updateManyInput),
			Resolve: b.resolveUpdateMany(className),
		}
		fields["deleteOne"+className] = &graphql.Field{
			Type:    b.classObject(className),
			Args:    inputArg(deleteInput),
			Resolve: b.resolveDeleteOne(className),
		}
		fields["deleteMany"+className] = &graphql.Field{
			Type:    b.output(className),
			Args:    inputArg(deleteManyInput),
			Resolve: b.resolveDeleteMany(className),
		}
	}

	b.authFields(fields)

	if err := b.mergeCustom(fields, func(r *schema.Resolvers) map[string]schema.Resolver {
		if r == nil {
			return nil
		}
		return r.Mutations
	}); err != nil {
		return nil, err
	}
	return fields, nil
}

func inputArg(in *graphql.InputObject) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(in)},
	}
}

// mergeCustom adds the declared custom resolvers; a name already taken by
// a generated operation is a synthesis error.
func (b *Builder) mergeCustom(fields graphql.Fields, pick func(*schema.Resolvers) map[string]schema.Resolver) error {
	for _, class := range b.schema.Classes {
		for name, resolver := range pick(class.Resolvers) {
			if _, taken := fields[name]; taken {
				return fmt.Errorf("gql: resolver %q collides with an existing operation", name)
			}
			if !b.knownLeaf(resolver.Type) {
				return fmt.Errorf("gql: resolver %q: unknown return type %q", name, resolver.Type)
			}
			var returnType graphql.Output = b.leafType(resolver.Type)
			if resolver.Required {
				returnType = graphql.NewNonNull(returnType)
			}
			args := graphql.FieldConfigArgument{}
			for argName, arg := range resolver.Args {
				if !b.knownLeaf(arg.Type) {
					return fmt.Errorf("gql: resolver %q: unknown argument type %q", name, arg.Type)
				}
				var argType graphql.Input = b.leafType(arg.Type)
				if arg.Required {
					argType = graphql.NewNonNull(argType)
				}
				args[argName] = &graphql.ArgumentConfig{Type: argType}
			}
			fn := resolver.Resolve
			fields[name] = &graphql.Field{
				Type: returnType,
				Args: args,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return fn(p.Context, p.Args)
				},
			}
		}
	}
	return nil
}

// authFields adds signUpWith/signInWith/signOut/refresh and, when a
// secondary factor is configured, the challenge operations.
func (b *Builder) authFields(fields graphql.Fields) {
	if b.auth == nil {
		return
	}

	var primary, secondary graphql.InputObjectConfigFieldMap
	primary = graphql.InputObjectConfigFieldMap{}
	secondary = graphql.InputObjectConfigFieldMap{}
	for _, method := range b.auth.Methods() {
		methodInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name:   titleCase(method.Name) + "AuthInput",
			Fields: b.methodFields(method.Input),
		})
		if method.IsSecondaryFactor {
			secondary[method.Name] = &graphql.InputObjectFieldConfig{Type: methodInput}
		} else {
			primary[method.Name] = &graphql.InputObjectFieldConfig{Type: methodInput}
		}
	}

	authOutput := graphql.NewObject(graphql.ObjectConfig{
		Name: "AuthOutput",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.ID},
			"accessToken":  &graphql.Field{Type: graphql.String},
			"refreshToken": &graphql.Field{Type: graphql.String},
		},
	})

	if len(primary) > 0 {
		authenticationInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name:   "AuthenticationInput",
			Fields: primary,
		})
		signInput := func(name string) *graphql.InputObject {
			return graphql.NewInputObject(graphql.InputObjectConfig{
				Name: name,
				Fields: graphql.InputObjectConfigFieldMap{
					"authentication": {Type: authenticationInput},
				},
			})
		}

		fields["signUpWith"] = &graphql.Field{
			Type: authOutput,
			Args: inputArg(signInput("SignUpWithInput")),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return b.auth.SignUpWith(p.Context, toMap(p.Args["input"]))
			},
		}
		fields["signInWith"] = &graphql.Field{
			Type: authOutput,
			Args: inputArg(signInput("SignInWithInput")),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return b.auth.SignInWith(p.Context, toMap(p.Args["input"]))
			},
		}
	}

	fields["signOut"] = &graphql.Field{
		Type: graphql.Boolean,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return b.auth.SignOut(p.Context)
		},
	}
	fields["refresh"] = &graphql.Field{
		Type: authOutput,
		Args: graphql.FieldConfigArgument{
			"input": &graphql.ArgumentConfig{
				Type: graphql.NewInputObject(graphql.InputObjectConfig{
					Name: "RefreshInput",
					Fields: graphql.InputObjectConfigFieldMap{
						"refreshToken": {Type: graphql.String},
					},
				}),
			},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			input := toMap(p.Args["input"])
			token, _ := input["refreshToken"].(string)
			return b.auth.Refresh(p.Context, token)
		},
	}

	if len(secondary) > 0 {
		challengeInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name:   "AuthenticationChallengeInput",
			Fields: secondary,
		})
		challengeArg := func(name string) graphql.FieldConfigArgument {
			return inputArg(graphql.NewInputObject(graphql.InputObjectConfig{
				Name: name,
				Fields: graphql.InputObjectConfigFieldMap{
					"authentication": {Type: challengeInput},
				},
			}))
		}
		fields["sendChallenge"] = &graphql.Field{
			Type: graphql.Boolean,
			Args: challengeArg("SendChallengeInput"),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return b.auth.SendChallenge(p.Context, toMap(p.Args["input"]))
			},
		}
		fields["verifyChallenge"] = &graphql.Field{
			Type: graphql.Boolean,
			Args: challengeArg("VerifyChallengeInput"),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return b.auth.VerifyChallenge(p.Context, toMap(p.Args["input"]))
			},
		}
	}
}

func (b *Builder) methodFields(input map[string]schema.Field) graphql.InputObjectConfigFieldMap {
	fields := graphql.InputObjectConfigFieldMap{}
	for name, field := range input {
		var t graphql.Input = b.leafType(field.Type)
		if t == nil {
			t = graphql.String
		}
		if field.Required {
			t = graphql.NewNonNull(t)
		}
		fields[name] = &graphql.InputObjectFieldConfig{Type: t}
	}
	return fields
}

func (b *Builder) resolveFindOne(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		id, _ := p.Args["id"].(string)
		return b.controller.GetObject(p.Context, database.GetObjectParams{
			ClassName: className,
			ID:        id,
			Fields:    RequestedFields(p.Info),
		})
	}
}

func (b *Builder) resolveFindMany(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		objects, err := b.controller.GetObjects(p.Context, database.GetObjectsParams{
			ClassName: className,
			Where:     toWhere(p.Args["where"]),
			Fields:    RequestedFields(p.Info, "objects"),
			Offset:    toInt(p.Args["offset"]),
			Limit:     toInt(p.Args["limit"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"objects": objects}, nil
	}
}

func (b *Builder) resolveCreateOne(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		return b.controller.CreateObject(p.Context, database.CreateObjectParams{
			ClassName: className,
			Data:      toMap(input["fields"]),
			Fields:    RequestedFields(p.Info),
		})
	}
}

func (b *Builder) resolveCreateMany(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		objects, err := b.controller.CreateObjects(p.Context, database.CreateObjectsParams{
			ClassName: className,
			Data:      toMapSlice(input["fields"]),
			Fields:    RequestedFields(p.Info, "objects"),
			Offset:    toInt(input["offset"]),
			Limit:     toInt(input["limit"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"objects": objects}, nil
	}
}

func (b *Builder) resolveUpdateOne(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		id, _ := input["id"].(string)
		return b.controller.UpdateObject(p.Context, database.UpdateObjectParams{
			ClassName: className,
			ID:        id,
			Data:      toMap(input["fields"]),
			Fields:    RequestedFields(p.Info),
		})
	}
}

func (b *Builder) resolveUpdateMany(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		objects, err := b.controller.UpdateObjects(p.Context, database.UpdateObjectsParams{
			ClassName: className,
			Where:     toWhere(input["where"]),
			Data:      toMap(input["fields"]),
			Fields:    RequestedFields(p.Info, "objects"),
			Offset:    toInt(input["offset"]),
			Limit:     toInt(input["limit"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"objects": objects}, nil
	}
}

func (b *Builder) resolveDeleteOne(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		id, _ := input["id"].(string)
		return b.controller.DeleteObject(p.Context, database.DeleteObjectParams{
			ClassName: className,
			ID:        id,
			Fields:    RequestedFields(p.Info),
		})
	}
}

func (b *Builder) resolveDeleteMany(className string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		input := toMap(p.Args["input"])
		objects, err := b.controller.DeleteObjects(p.Context, database.DeleteObjectsParams{
			ClassName: className,
			Where:     toWhere(input["where"]),
			Fields:    RequestedFields(p.Info, "objects"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"objects": objects}, nil
	}
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func toMapSlice(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toWhere(v any) database.Where {
	m, _ := v.(map[string]any)
	if m == nil {
		return nil
	}
	return database.Where(m)
}

func toInt(v any) int {
	n, _ := v.(int)
	return n
}
