// Package auth provides pluggable authentication methods, the sign-up /
// sign-in / sign-out / refresh resolvers, and session issuance on top of
// the stored Session class.
package auth

import (
	"context"
	"errors"

	"graphbase.dev/internal/schema"
)

var (
	// ErrOneMethodRequired is returned when the authentication input
	// carries zero or several method keys.
	ErrOneMethodRequired = errors.New("One authentication method is required at the time")
	// ErrMethodNotFound is returned when the method key does not match any
	// configured method.
	ErrMethodNotFound = errors.New("No available custom authentication methods found")
	// ErrNoMethods is returned when no methods are configured at all.
	ErrNoMethods = errors.New("No custom authentication methods found")
	// ErrNoIdentifier is returned by signInWith when the method input lacks
	// its identifier field.
	ErrNoIdentifier = errors.New("No identifier provided")
	// ErrDuplicateIdentifier signals a data-integrity fault: several users
	// share one identifier. No write is performed.
	ErrDuplicateIdentifier = errors.New("auth: several users share the same identifier")
	// ErrInvalidCredentials is returned when a login check fails.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Provider implements the credential lifecycle of one method. OnSignUp
// validates the method input and returns the data persisted under
// authentication.{method} on the User object. OnLogin checks the input
// against the stored data and may return a refreshed version of it; a nil
// map keeps the stored data unchanged.
type Provider interface {
	OnSignUp(ctx context.Context, input map[string]any) (map[string]any, error)
	OnLogin(ctx context.Context, input map[string]any, stored map[string]any) (map[string]any, error)
}

// SecondaryProvider implements a second authentication factor.
type SecondaryProvider interface {
	OnSendChallenge(ctx context.Context, user map[string]any) error
	OnVerifyChallenge(ctx context.Context, input map[string]any, user map[string]any) (bool, error)
}

// Method describes one authentication method. Input and DataToStore are
// schema field maps so the GraphQL layer can synthesize the method's input
// type and the stored authentication shape.
type Method struct {
	Name        string
	Input       map[string]schema.Field
	DataToStore map[string]schema.Field

	// IdentifierKey names the Input field holding the account identifier
	// (typically the email). signInWith requires it to be set on the call.
	IdentifierKey string

	Provider          Provider
	Secondary         SecondaryProvider
	IsSecondaryFactor bool
}

// getAuthenticationMethod picks the single method named by the
// authentication input and returns it together with its per-method input.
func getAuthenticationMethod(methods []Method, authentication map[string]any) (Method, map[string]any, error) {
	if len(methods) == 0 {
		return Method{}, nil, ErrNoMethods
	}
	if len(authentication) != 1 {
		return Method{}, nil, ErrOneMethodRequired
	}
	for name, raw := range authentication {
		for _, method := range methods {
			if method.Name != name {
				continue
			}
			input, _ := raw.(map[string]any)
			if input == nil {
				input = map[string]any{}
			}
			return method, input, nil
		}
		return Method{}, nil, ErrMethodNotFound
	}
	return Method{}, nil, ErrOneMethodRequired
}
