// Package graphbase assembles a schema-driven GraphQL backend: declared
// classes become a full CRUD API with hooks, permission rules and pluggable
// authentication, backed by a storage adapter.
package graphbase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql"

	"graphbase.dev/internal/auth"
	"graphbase.dev/internal/database"
	"graphbase.dev/internal/gql"
	"graphbase.dev/internal/hooks"
	"graphbase.dev/internal/httpapi"
	"graphbase.dev/internal/schema"
	"graphbase.dev/internal/store/memstore"
)

// Re-exported schema vocabulary, so an embedding application declares its
// classes without reaching into internal packages.
type (
	Class       = schema.Class
	Field       = schema.Field
	FieldType   = schema.FieldType
	Permissions = schema.Permissions
	Rule        = schema.Rule
	Resolvers   = schema.Resolvers
	Resolver    = schema.Resolver
	Arg         = schema.Arg
	Scalar      = schema.Scalar
	Enum        = schema.Enum
	Hook        = hooks.Hook
	AuthMethod  = auth.Method
	Adapter     = database.Adapter
)

const (
	TypeString   = schema.TypeString
	TypeInt      = schema.TypeInt
	TypeFloat    = schema.TypeFloat
	TypeBoolean  = schema.TypeBoolean
	TypeDate     = schema.TypeDate
	TypeEmail    = schema.TypeEmail
	TypeArray    = schema.TypeArray
	TypeObject   = schema.TypeObject
	TypePointer  = schema.TypePointer
	TypeRelation = schema.TypeRelation
)

// Config declares everything an application brings: its classes, custom
// types, hooks, authentication methods and the storage adapter.
type Config struct {
	Classes []*Class
	Scalars []Scalar
	Enums   []Enum
	Hooks   []Hook

	// Adapter stores the objects. Defaults to the in-memory store, which is
	// meant for development and tests only.
	Adapter Adapter

	AuthMethods []AuthMethod
	AuthSecret  string
	// CookieSession additionally delivers session tokens as httpOnly
	// cookies and accepts them back on requests.
	CookieSession bool

	// Roles created at startup if missing. Referenced by permission rules.
	Roles []string

	// CodegenPath, when set, receives the rendered SDL type definitions on
	// every start.
	CodegenPath string

	Version string
}

// App is a fully wired graphbase instance.
type App struct {
	Schema     *schema.Schema
	Controller *database.Controller
	GraphQL    graphql.Schema
	API        *httpapi.API

	adapter database.Adapter
}

// New validates the configuration, connects the adapter, provisions classes
// and roles, and synthesizes the GraphQL schema. Any error is fatal: a
// configuration that does not load must prevent server start.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AuthSecret == "" {
		return nil, errors.New("graphbase: auth secret is required")
	}

	classes := append([]*Class{}, cfg.Classes...)
	if authClass := authenticationClass(cfg.AuthMethods); authClass != nil {
		classes = withAuthenticationClass(classes, authClass)
	}
	s, err := schema.Load(classes, cfg.Scalars, cfg.Enums)
	if err != nil {
		return nil, err
	}

	adapter := cfg.Adapter
	if adapter == nil {
		adapter = memstore.New()
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("graphbase: connect adapter: %w", err)
	}
	for _, class := range s.Classes {
		if err := adapter.CreateClassIfNotExist(ctx, class.Name); err != nil {
			return nil, err
		}
	}

	pipeline := hooks.NewPipeline(s, cfg.Hooks)
	controller := database.NewController(adapter, s, pipeline)

	sessions, err := auth.NewSessions(controller, cfg.AuthSecret)
	if err != nil {
		return nil, err
	}
	var serviceOpts []auth.ServiceOption
	if cfg.CookieSession {
		serviceOpts = append(serviceOpts, auth.WithCookieSession())
	}
	service := auth.NewService(controller, sessions, cfg.AuthMethods, serviceOpts...)

	if err := bootstrapRoles(ctx, controller, cfg.Roles); err != nil {
		return nil, err
	}

	gqlSchema, err := gql.Synthesize(s, controller, service)
	if err != nil {
		return nil, err
	}

	if cfg.CodegenPath != "" {
		if err := s.WriteTypeDefs(cfg.CodegenPath); err != nil {
			return nil, fmt.Errorf("graphbase: write type definitions: %w", err)
		}
	}

	api := httpapi.New(gqlSchema, controller, sessions,
		httpapi.ReadyProbe{Check: adapter.Connect}, cfg.Version)

	return &App{
		Schema:     s,
		Controller: controller,
		GraphQL:    gqlSchema,
		API:        api,
		adapter:    adapter,
	}, nil
}

// Handler returns the HTTP handler serving /graphql, /health and /metrics.
func (a *App) Handler() http.Handler { return a.API.Handler() }

// Close releases the storage adapter.
func (a *App) Close(ctx context.Context) error {
	return a.adapter.Close(ctx)
}

// authenticationClass builds the partial User class carrying the nested
// authentication object derived from the configured methods' stored shapes.
func authenticationClass(methods []AuthMethod) *Class {
	if len(methods) == 0 {
		return nil
	}
	perMethod := map[string]Field{}
	for _, method := range methods {
		if len(method.DataToStore) == 0 {
			continue
		}
		perMethod[method.Name] = Field{
			Type: TypeObject,
			Object: &Class{
				Name:   "UserAuthentication" + titleCase(method.Name),
				Fields: method.DataToStore,
			},
		}
	}
	if len(perMethod) == 0 {
		return nil
	}
	return &Class{
		Name: "User",
		Fields: map[string]Field{
			"authentication": {
				Type: TypeObject,
				Object: &Class{
					Name:   "UserAuthentication",
					Fields: perMethod,
				},
			},
		},
	}
}

// withAuthenticationClass folds the authentication field into an application
// class already named User, or appends the partial class otherwise. A
// declared authentication field is left alone.
func withAuthenticationClass(classes []*Class, authClass *Class) []*Class {
	for i, class := range classes {
		if !strings.EqualFold(class.Name, "User") {
			continue
		}
		merged := *class
		merged.Fields = make(map[string]Field, len(class.Fields)+1)
		for name, field := range class.Fields {
			merged.Fields[name] = field
		}
		if _, declared := merged.Fields["authentication"]; !declared {
			merged.Fields["authentication"] = authClass.Fields["authentication"]
		}
		classes[i] = &merged
		return classes
	}
	return append(classes, authClass)
}

// bootstrapRoles creates the configured roles that do not exist yet. Runs
// under a root context, so it works before any user exists.
func bootstrapRoles(ctx context.Context, controller *database.Controller, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	rootCtx := database.NewRootContext(ctx, controller)

	existing, err := controller.GetObjects(rootCtx, database.GetObjectsParams{
		ClassName: "Role",
		Fields:    []string{"name"},
	})
	if err != nil {
		return fmt.Errorf("graphbase: list roles: %w", err)
	}
	present := map[string]bool{}
	for _, role := range existing {
		if name, ok := role["name"].(string); ok {
			present[name] = true
		}
	}

	var missing []map[string]any
	for _, name := range roles {
		if !present[name] {
			missing = append(missing, map[string]any{"name": name})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if _, err := controller.CreateObjects(rootCtx, database.CreateObjectsParams{
		ClassName: "Role",
		Data:      missing,
	}); err != nil {
		return fmt.Errorf("graphbase: create roles: %w", err)
	}
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
