package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"graphbase.dev"
	"graphbase.dev/internal/auth"
	"graphbase.dev/internal/obs"
	"graphbase.dev/internal/store/mongostore"
	"graphbase.dev/internal/store/pgstore"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GRAPHBASE_COMMIT"))

	ctx := context.Background()

	adapter, err := selectAdapter(ctx)
	if err != nil {
		log.Fatalf("adapter: %v", err)
	}

	secret := os.Getenv("GRAPHBASE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GRAPHBASE_AUTH_SECRET is required")
	}

	methods := []graphbase.AuthMethod{auth.EmailPasswordMethod()}
	if clientID := os.Getenv("GRAPHBASE_GOOGLE_CLIENT_ID"); clientID != "" {
		google := auth.NewGoogle(
			clientID,
			os.Getenv("GRAPHBASE_GOOGLE_CLIENT_SECRET"),
			os.Getenv("GRAPHBASE_GOOGLE_REDIRECT_URL"),
		)
		methods = append(methods, auth.GoogleMethod(google))
	}

	app, err := graphbase.New(ctx, graphbase.Config{
		Classes:       demoClasses(),
		Adapter:       adapter,
		AuthMethods:   methods,
		AuthSecret:    secret,
		CookieSession: true,
		Roles:         []string{"admin", "member"},
		CodegenPath:   os.Getenv("GRAPHBASE_CODEGEN_PATH"),
		Version:       version,
	})
	if err != nil {
		log.Fatalf("graphbase: %v", err)
	}

	addr := os.Getenv("GRAPHBASE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting graphbase-api %s on %s", version, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = app.Close(shutdownCtx)
	log.Println("Stopped")
}

// selectAdapter picks the storage backend from the environment: Mongo wins
// over Postgres, and with neither configured the in-memory store is used.
func selectAdapter(ctx context.Context) (graphbase.Adapter, error) {
	if uri := os.Getenv("GRAPHBASE_MONGO_URI"); uri != "" {
		dbName := os.Getenv("GRAPHBASE_MONGO_DB")
		if dbName == "" {
			dbName = "graphbase"
		}
		return mongostore.New(ctx, uri, dbName)
	}
	if dsn := os.Getenv("GRAPHBASE_PG_DSN"); dsn != "" {
		return pgstore.Open(dsn)
	}
	log.Println("no database configured, using the in-memory store")
	return nil, nil
}

// demoClasses is a small blog-style schema exercising pointers, relations,
// nested objects and permission rules.
func demoClasses() []*graphbase.Class {
	return []*graphbase.Class{
		{
			Name: "Post",
			Fields: map[string]graphbase.Field{
				"title":   {Type: graphbase.TypeString, Required: true},
				"body":    {Type: graphbase.TypeString},
				"draft":   {Type: graphbase.TypeBoolean, DefaultValue: true},
				"author":  {Type: graphbase.TypePointer, Class: "User"},
				"tags":    {Type: graphbase.TypeArray, TypeValue: graphbase.TypeString},
				"answers": {Type: graphbase.TypeRelation, Class: "Comment"},
			},
			Permissions: &graphbase.Permissions{
				Create: &graphbase.Rule{RequireAuthentication: true},
				Update: &graphbase.Rule{RequireAuthentication: true},
				Delete: &graphbase.Rule{RequireAuthentication: true, AuthorizedRoles: []string{"admin"}},
			},
		},
		{
			Name: "Comment",
			Fields: map[string]graphbase.Field{
				"text":   {Type: graphbase.TypeString, Required: true},
				"author": {Type: graphbase.TypePointer, Class: "User"},
				"meta": {
					Type: graphbase.TypeObject,
					Object: &graphbase.Class{
						Name: "CommentMeta",
						Fields: map[string]graphbase.Field{
							"pinned": {Type: graphbase.TypeBoolean, DefaultValue: false},
							"score":  {Type: graphbase.TypeInt},
						},
					},
				},
			},
			Permissions: &graphbase.Permissions{
				Create: &graphbase.Rule{RequireAuthentication: true},
			},
		},
	}
}
