package auth

import (
	"context"
	"fmt"
	"time"

	"graphbase.dev/internal/database"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

// Service implements the authentication resolvers wired into the GraphQL
// mutation type: signUpWith, signInWith, signOut, refresh, plus the
// secondary-factor challenge operations.
type Service struct {
	controller    *database.Controller
	sessions      *Sessions
	methods       []Method
	cookieSession bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithCookieSession makes the resolvers mirror issued tokens into httpOnly
// cookies through the request's cookie primitives.
func WithCookieSession() ServiceOption {
	return func(s *Service) { s.cookieSession = true }
}

// NewService builds the resolver service over the configured methods.
func NewService(controller *database.Controller, sessions *Sessions, methods []Method, opts ...ServiceOption) *Service {
	s := &Service{controller: controller, sessions: sessions, methods: methods}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Methods returns the configured authentication methods, used by the
// GraphQL layer to synthesize the authentication input types.
func (s *Service) Methods() []Method { return s.methods }

// SignUpWith validates the method input, creates the User with its
// authentication data and opens a session.
func (s *Service) SignUpWith(ctx context.Context, input map[string]any) (map[string]any, error) {
	method, methodInput, err := s.primaryMethod(input)
	if err != nil {
		return nil, err
	}

	dataToStore, err := method.Provider.OnSignUp(ctx, methodInput)
	if err != nil {
		return nil, err
	}

	rootCtx := database.NewRootContext(ctx, s.controller)
	user, err := s.controller.CreateObject(rootCtx, database.CreateObjectParams{
		ClassName: "User",
		Data:      s.userData(method, dataToStore),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	userID, _ := user["id"].(string)

	return s.openSession(ctx, userID)
}

// SignInWith authenticates against an existing account, creating it on
// first sign-in. Several accounts sharing the identifier is a
// data-integrity fault and performs no write.
func (s *Service) SignInWith(ctx context.Context, input map[string]any) (map[string]any, error) {
	method, methodInput, err := s.primaryMethod(input)
	if err != nil {
		return nil, err
	}
	identifier, _ := methodInput[method.IdentifierKey].(string)
	if identifier == "" {
		return nil, ErrNoIdentifier
	}

	rootCtx := database.NewRootContext(ctx, s.controller)
	identifierPath := fmt.Sprintf("authentication.%s.%s", method.Name, method.IdentifierKey)
	users, err := s.controller.GetObjects(rootCtx, database.GetObjectsParams{
		ClassName: "User",
		Where:     database.Where{identifierPath: map[string]any{database.OpEqualTo: identifier}},
		Fields:    []string{"id", "authentication"},
	})
	if err != nil {
		return nil, err
	}

	var userID string
	switch len(users) {
	case 0:
		dataToStore, err := method.Provider.OnSignUp(ctx, methodInput)
		if err != nil {
			return nil, err
		}
		created, err := s.controller.CreateObject(rootCtx, database.CreateObjectParams{
			ClassName: "User",
			Data:      s.userData(method, dataToStore),
		})
		if err != nil {
			return nil, fmt.Errorf("auth: create user: %w", err)
		}
		userID, _ = created["id"].(string)
	case 1:
		user := users[0]
		userID, _ = user["id"].(string)
		stored := storedMethodData(user, method.Name)
		refreshed, err := method.Provider.OnLogin(ctx, methodInput, stored)
		if err != nil {
			return nil, err
		}
		if refreshed != nil {
			if _, err := s.controller.UpdateObject(rootCtx, database.UpdateObjectParams{
				ClassName: "User",
				ID:        userID,
				Data:      s.userData(method, refreshed),
			}); err != nil {
				return nil, fmt.Errorf("auth: update user: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, identifier)
	}

	return s.openSession(ctx, userID)
}

// SignOut deletes the current Session object and clears session cookies.
func (s *Service) SignOut(ctx context.Context) (bool, error) {
	rc := database.FromContext(ctx)
	if rc.SessionID == "" {
		return false, nil
	}
	if err := s.sessions.Delete(ctx, rc.SessionID); err != nil {
		return false, err
	}
	if s.cookieSession && rc.SetCookie != nil {
		rc.SetCookie(accessTokenCookie, "", -1)
		rc.SetCookie(refreshTokenCookie, "", -1)
	}
	return true, nil
}

// Refresh rotates the session named by the refresh token. In cookie mode
// an empty input falls back to the refresh-token cookie.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (map[string]any, error) {
	rc := database.FromContext(ctx)
	if refreshToken == "" && s.cookieSession && rc.GetCookie != nil {
		refreshToken = rc.GetCookie(refreshTokenCookie)
	}
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	pair, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	s.setSessionCookies(rc, pair)
	return tokenPayload(pair), nil
}

// SendChallenge triggers the secondary factor named by the input for the
// authenticated user.
func (s *Service) SendChallenge(ctx context.Context, input map[string]any) (bool, error) {
	method, _, err := s.secondaryMethod(input)
	if err != nil {
		return false, err
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return false, err
	}
	if err := method.Secondary.OnSendChallenge(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyChallenge checks the secondary factor answer for the authenticated
// user.
func (s *Service) VerifyChallenge(ctx context.Context, input map[string]any) (bool, error) {
	method, methodInput, err := s.secondaryMethod(input)
	if err != nil {
		return false, err
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return false, err
	}
	return method.Secondary.OnVerifyChallenge(ctx, methodInput, user)
}

func (s *Service) primaryMethod(input map[string]any) (Method, map[string]any, error) {
	authentication, _ := input["authentication"].(map[string]any)
	method, methodInput, err := getAuthenticationMethod(s.methods, authentication)
	if err != nil {
		return Method{}, nil, err
	}
	if method.IsSecondaryFactor || method.Provider == nil {
		return Method{}, nil, ErrMethodNotFound
	}
	return method, methodInput, nil
}

func (s *Service) secondaryMethod(input map[string]any) (Method, map[string]any, error) {
	authentication, _ := input["authentication"].(map[string]any)
	method, methodInput, err := getAuthenticationMethod(s.methods, authentication)
	if err != nil {
		return Method{}, nil, err
	}
	if !method.IsSecondaryFactor || method.Secondary == nil {
		return Method{}, nil, ErrMethodNotFound
	}
	return method, methodInput, nil
}

func (s *Service) userData(method Method, dataToStore map[string]any) map[string]any {
	data := map[string]any{
		"authentication": map[string]any{method.Name: dataToStore},
	}
	if email, ok := dataToStore[method.IdentifierKey].(string); ok && email != "" {
		data["email"] = email
	}
	return data
}

func (s *Service) openSession(ctx context.Context, userID string) (map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("auth: user creation returned no id")
	}
	pair, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.setSessionCookies(database.FromContext(ctx), pair)
	payload := tokenPayload(pair)
	payload["id"] = userID
	return payload, nil
}

func (s *Service) setSessionCookies(rc *database.RequestContext, pair TokenPair) {
	if !s.cookieSession || rc.SetCookie == nil {
		return
	}
	rc.SetCookie(accessTokenCookie, pair.AccessToken, int(s.sessions.AccessTTL()/time.Second))
	rc.SetCookie(refreshTokenCookie, pair.RefreshToken, int(s.sessions.RefreshTTL()/time.Second))
}

func tokenPayload(pair TokenPair) map[string]any {
	return map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}
}

func storedMethodData(user map[string]any, methodName string) map[string]any {
	authentication, _ := user["authentication"].(map[string]any)
	stored, _ := authentication[methodName].(map[string]any)
	return stored
}

// currentUser loads the authenticated user for secondary-factor
// operations. The session must already be established.
func (s *Service) currentUser(ctx context.Context) (map[string]any, error) {
	rc := database.FromContext(ctx)
	if rc.SessionID == "" {
		return nil, ErrInvalidToken
	}
	rootCtx := database.NewRootContext(ctx, s.controller)
	session, err := s.controller.GetObject(rootCtx, database.GetObjectParams{
		ClassName: "Session",
		ID:        rc.SessionID,
		Fields:    []string{"user.id", "user.email", "user.authentication"},
		SkipHooks: true,
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidToken
	}
	user, _ := session["user"].(map[string]any)
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}
