package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"graphbase.dev/internal/schema"
)

// EmailPassword authenticates with an email identifier and a bcrypt-hashed
// password.
type EmailPassword struct {
	cost int
}

// NewEmailPassword returns the provider with the default bcrypt cost.
func NewEmailPassword() *EmailPassword {
	return &EmailPassword{cost: bcrypt.DefaultCost}
}

// EmailPasswordMethod is the ready-to-register method descriptor.
func EmailPasswordMethod() Method {
	return Method{
		Name:          "emailPassword",
		IdentifierKey: "email",
		Input: map[string]schema.Field{
			"email":    {Type: schema.TypeEmail, Required: true},
			"password": {Type: schema.TypeString, Required: true},
		},
		DataToStore: map[string]schema.Field{
			"email":    {Type: schema.TypeEmail, Required: true},
			"password": {Type: schema.TypeString, Required: true},
		},
		Provider: NewEmailPassword(),
	}
}

func (p *EmailPassword) OnSignUp(ctx context.Context, input map[string]any) (map[string]any, error) {
	email, password, err := credentials(input)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return map[string]any{
		"email":    email,
		"password": string(hash),
	}, nil
}

func (p *EmailPassword) OnLogin(ctx context.Context, input map[string]any, stored map[string]any) (map[string]any, error) {
	_, password, err := credentials(input)
	if err != nil {
		return nil, err
	}
	hash, _ := stored["password"].(string)
	if hash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return nil, nil
}

func credentials(input map[string]any) (email, password string, err error) {
	email, _ = input["email"].(string)
	password, _ = input["password"].(string)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", "", ErrInvalidCredentials
	}
	return email, password, nil
}
