package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/ids"
)

const (
	issuer            = "graphbase"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken indicates an access or refresh token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the access-token JWT claims. SessionID links the token back
// to the stored Session object.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenPair is one issued session: a signed access token plus an opaque
// refresh token, with their expirations.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Sessions issues, verifies, rotates and revokes sessions. Every session
// is persisted as a Session object through the database controller, so the
// permission hook can resolve it like any other stored data.
type Sessions struct {
	controller *database.Controller
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessions builds the session service. The signing secret is mandatory.
func NewSessions(controller *database.Controller, secret string, opts ...SessionOption) (*Sessions, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &Sessions{
		controller: controller,
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Sessions) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Sessions) RefreshTTL() time.Duration { return s.refreshTTL }

// Create mints a token pair for userID and persists the Session object
// under a root context, so no permission rule can block the write.
func (s *Sessions) Create(ctx context.Context, userID string) (TokenPair, error) {
	now := s.now().UTC()
	sessionID := ids.New()

	accessToken, accessExp, err := s.signAccessToken(sessionID, userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshHash, refreshExp := s.generateRefreshToken(sessionID, now)

	rootCtx := database.NewRootContext(ctx, s.controller)
	if _, err := s.controller.CreateObject(rootCtx, database.CreateObjectParams{
		ClassName: "Session",
		Data: map[string]any{
			"id":                    sessionID,
			"user":                  userID,
			"accessToken":           accessToken,
			"refreshToken":          refreshHash,
			"accessTokenExpiresAt":  accessExp.Format(time.RFC3339Nano),
			"refreshTokenExpiresAt": refreshExp.Format(time.RFC3339Nano),
		},
	}); err != nil {
		return TokenPair{}, fmt.Errorf("auth: persist session: %w", err)
	}

	return TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify validates an access token and returns its claims.
func (s *Sessions) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh validates a refresh token against its stored hash and rotates
// both tokens on the existing Session object.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	rootCtx := database.NewRootContext(ctx, s.controller)
	session, err := s.controller.GetObject(rootCtx, database.GetObjectParams{
		ClassName: "Session",
		ID:        sessionID,
		Fields:    []string{"user.id", "refreshToken", "refreshTokenExpiresAt"},
		SkipHooks: true,
	})
	if err != nil {
		return TokenPair{}, err
	}
	if session == nil {
		return TokenPair{}, ErrInvalidToken
	}

	storedHash, _ := session["refreshToken"].(string)
	if !compareRefreshSecret(storedHash, secret) {
		return TokenPair{}, ErrInvalidToken
	}
	if expired(session["refreshTokenExpiresAt"], s.now().UTC()) {
		return TokenPair{}, ErrInvalidToken
	}
	userID := pointerID(session["user"])
	if userID == "" {
		return TokenPair{}, ErrInvalidToken
	}

	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(sessionID, userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, newHash, refreshExp := s.generateRefreshToken(sessionID, now)

	if _, err := s.controller.UpdateObject(rootCtx, database.UpdateObjectParams{
		ClassName: "Session",
		ID:        sessionID,
		Data: map[string]any{
			"accessToken":           accessToken,
			"refreshToken":          newHash,
			"accessTokenExpiresAt":  accessExp.Format(time.RFC3339Nano),
			"refreshTokenExpiresAt": refreshExp.Format(time.RFC3339Nano),
		},
	}); err != nil {
		return TokenPair{}, fmt.Errorf("auth: rotate session: %w", err)
	}

	return TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Delete revokes a session by removing its Session object.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	rootCtx := database.NewRootContext(ctx, s.controller)
	_, err := s.controller.DeleteObject(rootCtx, database.DeleteObjectParams{
		ClassName: "Session",
		ID:        sessionID,
	})
	return err
}

func (s *Sessions) signAccessToken(sessionID, userID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.accessTTL)
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// generateRefreshToken returns the opaque token handed to the client, the
// sha256 hash persisted on the Session object, and the expiry.
func (s *Sessions) generateRefreshToken(sessionID string, now time.Time) (token, hash string, expiresAt time.Time) {
	secretBytes := make([]byte, 32)
	_, _ = rand.Read(secretBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	return sessionID + "." + secret, hex.EncodeToString(sum[:]), now.Add(s.refreshTTL)
}

func splitRefreshToken(raw string) (sessionID, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("auth: invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func compareRefreshSecret(storedHash, secret string) bool {
	if storedHash == "" {
		return false
	}
	sum := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hex.EncodeToString(sum[:]))) == 1
}

func expired(raw any, now time.Time) bool {
	str, _ := raw.(string)
	if str == "" {
		return true
	}
	at, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return true
	}
	return now.After(at)
}

// pointerID extracts the stored id from a pointer value, which is a plain
// id string from the adapter or a resolved object after a follow-up fetch.
func pointerID(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	default:
		return ""
	}
}
