package graphbase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"graphbase.dev/internal/auth"
	"graphbase.dev/internal/database"
	"graphbase.dev/internal/store/memstore"
)

func TestNewRequiresAuthSecret(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || !strings.Contains(err.Error(), "auth secret") {
		t.Fatalf("err = %v, want the auth-secret error", err)
	}
}

func TestNewWiresFullStack(t *testing.T) {
	store := memstore.New()
	app, err := New(context.Background(), Config{
		Classes: []*Class{{
			Name: "Task",
			Fields: map[string]Field{
				"label": {Type: TypeString, Required: true},
				"done":  {Type: TypeBoolean, DefaultValue: false},
			},
		}},
		Adapter:     store,
		AuthMethods: []AuthMethod{auth.EmailPasswordMethod()},
		AuthSecret:  "wiring-test-secret",
		Roles:       []string{"admin", "member"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = app.Close(context.Background()) }()

	if app.Schema.Class("Task") == nil {
		t.Error("declared class missing from loaded schema")
	}
	if app.Schema.Class("Session") == nil {
		t.Error("builtin classes missing from loaded schema")
	}
	if app.Handler() == nil {
		t.Error("handler not wired")
	}
}

func TestNewMergesAuthenticationIntoUser(t *testing.T) {
	app, err := New(context.Background(), Config{
		AuthMethods: []AuthMethod{auth.EmailPasswordMethod()},
		AuthSecret:  "wiring-test-secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	user := app.Schema.Class("User")
	authField, ok := user.Fields["authentication"]
	if !ok {
		t.Fatal("User class has no authentication field")
	}
	if authField.Type != TypeObject || authField.Object == nil {
		t.Fatalf("authentication = %+v, want a nested object", authField)
	}
	if _, ok := authField.Object.Fields["emailPassword"]; !ok {
		t.Fatalf("authentication shape = %+v, want the emailPassword method", authField.Object.Fields)
	}
}

func TestNewExtendsDeclaredUserClass(t *testing.T) {
	declared := &Class{
		Name: "User",
		Fields: map[string]Field{
			"displayName": {Type: TypeString},
		},
	}
	app, err := New(context.Background(), Config{
		Classes:     []*Class{declared},
		AuthMethods: []AuthMethod{auth.EmailPasswordMethod()},
		AuthSecret:  "wiring-test-secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	user := app.Schema.Class("User")
	if _, ok := user.Fields["displayName"]; !ok {
		t.Error("declared field lost")
	}
	if _, ok := user.Fields["authentication"]; !ok {
		t.Error("authentication field not folded into the declared User class")
	}
	// The caller's descriptor stays untouched.
	if _, ok := declared.Fields["authentication"]; ok {
		t.Error("configured class mutated")
	}
}

func TestNewBootstrapsRoles(t *testing.T) {
	store := memstore.New()
	app, err := New(context.Background(), Config{
		Adapter:    store,
		AuthSecret: "wiring-test-secret",
		Roles:      []string{"admin", "member"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := database.NewRootContext(context.Background(), app.Controller)
	roles, err := app.Controller.GetObjects(ctx, database.GetObjectsParams{
		ClassName: "Role",
		Fields:    []string{"name"},
	})
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	names := map[string]bool{}
	for _, role := range roles {
		names[role["name"].(string)] = true
	}
	if !names["admin"] || !names["member"] {
		t.Fatalf("roles = %v", names)
	}

	// A second start against the same store must not duplicate roles.
	if _, err := New(context.Background(), Config{
		Adapter:    store,
		AuthSecret: "wiring-test-secret",
		Roles:      []string{"admin", "member"},
	}); err != nil {
		t.Fatalf("second New: %v", err)
	}
	roles, err = app.Controller.GetObjects(ctx, database.GetObjectsParams{ClassName: "Role"})
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("roles = %v, want exactly admin and member", roles)
	}
}

func TestNewWritesCodegenArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.graphql")
	_, err := New(context.Background(), Config{
		Classes: []*Class{{
			Name:   "Task",
			Fields: map[string]Field{"label": {Type: TypeString}},
		}},
		AuthSecret:  "wiring-test-secret",
		CodegenPath: path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "type Task {") {
		t.Fatalf("artifact content:\n%s", data)
	}
}
