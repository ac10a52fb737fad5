package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"graphbase.dev/internal/schema"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"

// ErrOfflineAccessRequired is raised when the authorization-code exchange
// yields no refresh token. The OAuth client is misconfigured: offline
// access must be requested.
var ErrOfflineAccessRequired = errors.New("auth: offline access must be requested")

// Google exchanges an authorization code for Google tokens and hands the
// verified identity to signInWith. The token exchange lives outside the
// GraphQL flow (OAuth callback route); the method itself stores the
// resulting identity.
type Google struct {
	config      *oauth2.Config
	httpClient  *http.Client
	userinfoURL string
}

// NewGoogle builds the OAuth client. redirectURL must match the console
// configuration.
func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		httpClient:  http.DefaultClient,
		userinfoURL: googleUserinfoURL,
	}
}

// GoogleMethod is the ready-to-register method descriptor. Its input is
// the identity produced by ValidateAuthorizationCode.
func GoogleMethod(g *Google) Method {
	return Method{
		Name:          "google",
		IdentifierKey: "email",
		Input: map[string]schema.Field{
			"email":         {Type: schema.TypeEmail, Required: true},
			"verifiedEmail": {Type: schema.TypeBoolean, Required: true},
			"accessToken":   {Type: schema.TypeString},
			"refreshToken":  {Type: schema.TypeString},
		},
		DataToStore: map[string]schema.Field{
			"email":         {Type: schema.TypeEmail, Required: true},
			"verifiedEmail": {Type: schema.TypeBoolean, Required: true},
			"accessToken":   {Type: schema.TypeString},
			"refreshToken":  {Type: schema.TypeString},
		},
		Provider: g,
	}
}

// AuthCodeURL returns the consent-screen URL. Offline access is always
// requested so the exchange yields a refresh token.
func (g *Google) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ValidateAuthorizationCode exchanges the code and returns the verified
// identity shaped as the google method input.
func (g *Google) ValidateAuthorizationCode(ctx context.Context, code string) (map[string]any, error) {
	if code == "" {
		return nil, errors.New("auth: authorization code is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: google token exchange: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, ErrOfflineAccessRequired
	}

	email, verified, err := g.fetchUserinfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, errors.New("auth: google email not verified")
	}

	return map[string]any{
		"email":         email,
		"verifiedEmail": verified,
		"accessToken":   token.AccessToken,
		"refreshToken":  token.RefreshToken,
	}, nil
}

// OnSignUp and OnLogin both persist the freshly validated identity, so a
// returning user gets its stored Google tokens refreshed on every sign-in.
func (g *Google) OnSignUp(ctx context.Context, input map[string]any) (map[string]any, error) {
	return g.identity(input)
}

func (g *Google) OnLogin(ctx context.Context, input map[string]any, stored map[string]any) (map[string]any, error) {
	return g.identity(input)
}

func (g *Google) identity(input map[string]any) (map[string]any, error) {
	email, _ := input["email"].(string)
	verified, _ := input["verifiedEmail"].(bool)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if !verified {
		return nil, errors.New("auth: google email not verified")
	}
	out := map[string]any{
		"email":         email,
		"verifiedEmail": verified,
	}
	for _, key := range []string{"accessToken", "refreshToken"} {
		if v, ok := input[key].(string); ok && v != "" {
			out[key] = v
		}
	}
	return out, nil
}

func (g *Google) fetchUserinfo(ctx context.Context, accessToken string) (email string, verified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("auth: google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("auth: google userinfo status %d", resp.StatusCode)
	}

	var payload struct {
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("auth: decode userinfo: %w", err)
	}
	return payload.Email, payload.VerifiedEmail, nil
}
