package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/hooks"
	"graphbase.dev/internal/schema"
	"graphbase.dev/internal/store/memstore"
)

func authSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Load([]*schema.Class{
		{
			Name: "User",
			Fields: map[string]schema.Field{
				"authentication": {
					Type: schema.TypeObject,
					Object: &schema.Class{
						Name: "UserAuthentication",
						Fields: map[string]schema.Field{
							"emailPassword": {
								Type: schema.TypeObject,
								Object: &schema.Class{
									Name: "UserAuthenticationEmailPassword",
									Fields: map[string]schema.Field{
										"email":    {Type: schema.TypeEmail},
										"password": {Type: schema.TypeString},
									},
								},
							},
						},
					},
				},
			},
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return s
}

func newAuthEnv(t *testing.T, provider Provider) (*memstore.Store, *database.Controller, *Service) {
	t.Helper()
	s := authSchema(t)
	store := memstore.New()
	controller := database.NewController(store, s, hooks.NewPipeline(s, nil))
	sessions, err := NewSessions(controller, "test-secret")
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	service := NewService(controller, sessions, []Method{stubMethod("emailPassword", provider)})
	return store, controller, service
}

func signInInput(email string) map[string]any {
	return map[string]any{
		"authentication": map[string]any{
			"emailPassword": map[string]any{
				"email":    email,
				"password": "secret",
			},
		},
	}
}

func TestSignInWithRequiresIdentifier(t *testing.T) {
	_, _, service := newAuthEnv(t, &stubProvider{})

	_, err := service.SignInWith(context.Background(), map[string]any{
		"authentication": map[string]any{
			"emailPassword": map[string]any{"password": "secret"},
		},
	})
	if !errors.Is(err, ErrNoIdentifier) {
		t.Fatalf("err = %v, want ErrNoIdentifier", err)
	}
}

func TestSignInWithCreatesUnknownUser(t *testing.T) {
	provider := &stubProvider{signUpData: map[string]any{"email": "lucas@acme.dev", "password": "hashed"}}
	_, controller, service := newAuthEnv(t, provider)

	payload, err := service.SignInWith(context.Background(), signInInput("lucas@acme.dev"))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if provider.signUpCalls != 1 || provider.loginCalls != 0 {
		t.Fatalf("provider calls = %d/%d, want signUp only", provider.signUpCalls, provider.loginCalls)
	}
	if payload["accessToken"] == "" || payload["refreshToken"] == "" || payload["id"] == "" {
		t.Fatalf("incomplete payload: %v", payload)
	}

	rootCtx := database.NewRootContext(context.Background(), controller)
	users, err := controller.GetObjects(rootCtx, database.GetObjectsParams{ClassName: "User"})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}
	auth, _ := users[0]["authentication"].(map[string]any)
	stored, _ := auth["emailPassword"].(map[string]any)
	if stored["email"] != "lucas@acme.dev" || stored["password"] != "hashed" {
		t.Fatalf("stored authentication data = %v", stored)
	}
}

func TestSignInWithExistingUserRunsLogin(t *testing.T) {
	provider := &stubProvider{}
	store, _, service := newAuthEnv(t, provider)

	ctx := context.Background()
	if _, err := store.CreateObject(ctx, database.CreateObjectParams{
		ClassName: "User",
		Data: map[string]any{
			"id": "user-1",
			"authentication": map[string]any{
				"emailPassword": map[string]any{"email": "lucas@acme.dev", "password": "hashed"},
			},
		},
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	payload, err := service.SignInWith(ctx, signInInput("lucas@acme.dev"))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if provider.loginCalls != 1 || provider.signUpCalls != 0 {
		t.Fatalf("provider calls = %d/%d, want login only", provider.signUpCalls, provider.loginCalls)
	}
	if payload["id"] != "user-1" {
		t.Fatalf("payload id = %v, want user-1", payload["id"])
	}
}

func TestSignInWithDuplicateIdentifierWritesNothing(t *testing.T) {
	provider := &stubProvider{}
	store, controller, service := newAuthEnv(t, provider)

	ctx := context.Background()
	for _, id := range []string{"user-1", "user-2"} {
		if _, err := store.CreateObject(ctx, database.CreateObjectParams{
			ClassName: "User",
			Data: map[string]any{
				"id": id,
				"authentication": map[string]any{
					"emailPassword": map[string]any{"email": "lucas@acme.dev", "password": "hashed"},
				},
			},
		}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	_, err := service.SignInWith(ctx, signInInput("lucas@acme.dev"))
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("err = %v, want ErrDuplicateIdentifier", err)
	}
	if provider.signUpCalls != 0 || provider.loginCalls != 0 {
		t.Fatalf("provider invoked on integrity fault")
	}

	rootCtx := database.NewRootContext(ctx, controller)
	sessions, err := controller.GetObjects(rootCtx, database.GetObjectsParams{ClassName: "Session"})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("session created on integrity fault")
	}
}

func TestSignUpWithOpensSession(t *testing.T) {
	provider := &stubProvider{signUpData: map[string]any{"email": "jeanne@acme.dev", "password": "hashed"}}
	_, controller, service := newAuthEnv(t, provider)

	payload, err := service.SignUpWith(context.Background(), signInInput("jeanne@acme.dev"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	rootCtx := database.NewRootContext(context.Background(), controller)
	sessions, err := controller.GetObjects(rootCtx, database.GetObjectsParams{ClassName: "Session"})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0]["accessToken"] != payload["accessToken"] {
		t.Fatalf("stored access token does not match payload")
	}
}

func TestSignOutDeletesSession(t *testing.T) {
	provider := &stubProvider{signUpData: map[string]any{"email": "jeanne@acme.dev", "password": "hashed"}}
	_, controller, service := newAuthEnv(t, provider)

	ctx := context.Background()
	payload, err := service.SignUpWith(ctx, signInInput("jeanne@acme.dev"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	accessToken, _ := payload["accessToken"].(string)
	sessions, err := NewSessions(controller, "test-secret")
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	claims, err := sessions.Verify(accessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}

	reqCtx := database.NewContext(ctx, &database.RequestContext{
		SessionID:  claims.SessionID,
		Controller: controller,
	})
	done, err := service.SignOut(reqCtx)
	if err != nil || !done {
		t.Fatalf("sign out = %v, %v", done, err)
	}

	rootCtx := database.NewRootContext(ctx, controller)
	remaining, err := controller.GetObjects(rootCtx, database.GetObjectsParams{ClassName: "Session"})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("session survived sign out")
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	provider := &stubProvider{signUpData: map[string]any{"email": "jeanne@acme.dev", "password": "hashed"}}
	_, controller, service := newAuthEnv(t, provider)

	ctx := context.Background()
	payload, err := service.SignUpWith(ctx, signInInput("jeanne@acme.dev"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	oldRefresh, _ := payload["refreshToken"].(string)

	rotated, err := service.Refresh(ctx, oldRefresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated["refreshToken"] == oldRefresh {
		t.Fatalf("refresh token not rotated")
	}

	if _, err := service.Refresh(ctx, oldRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale refresh token accepted: %v", err)
	}

	rootCtx := database.NewRootContext(ctx, controller)
	sessions, err := controller.GetObjects(rootCtx, database.GetObjectsParams{ClassName: "Session"})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 after rotation", len(sessions))
	}
}

func TestSessionsVerifyRejectsExpired(t *testing.T) {
	s := authSchema(t)
	store := memstore.New()
	controller := database.NewController(store, s, hooks.NewPipeline(s, nil))

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sessions, err := NewSessions(controller, "test-secret",
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}

	pair, err := sessions.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sessions.Verify(pair.AccessToken); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	at = at.Add(2 * time.Minute)
	if _, err := sessions.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}
