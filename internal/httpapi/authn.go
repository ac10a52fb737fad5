package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"graphbase.dev/internal/database"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requestContext builds the per-request context handed to resolvers. The
// session token is taken from the Authorization header first, then from the
// accessToken cookie. A request without a token stays unauthenticated; a
// request presenting a bad token is rejected.
func (a *API) requestContext(w http.ResponseWriter, r *http.Request) (*database.RequestContext, error) {
	rc := &database.RequestContext{
		Controller: a.controller,
		SetCookie: func(name, value string, maxAgeSeconds int) {
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    value,
				Path:     "/",
				MaxAge:   maxAgeSeconds,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		},
		GetCookie: func(name string) string {
			cookie, err := r.Cookie(name)
			if err != nil {
				return ""
			}
			return cookie.Value
		},
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = rc.GetCookie("accessToken")
	}
	if token == "" {
		return rc, nil
	}

	claims, err := a.sessions.Verify(token)
	if err != nil {
		return nil, errors.New("invalid access token")
	}
	rc.SessionID = claims.SessionID
	return rc, nil
}

// extractBearerToken returns the token from an Authorization header, "" when
// the header is absent, and an error when the scheme is wrong.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
