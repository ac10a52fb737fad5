package database

import "context"

// SessionUser is the authenticated identity attached to a request once its
// session has been resolved.
type SessionUser struct {
	ID    string
	Email string
	Role  string
}

// RequestContext is created once per inbound GraphQL request and travels by
// reference through resolver, controller and hooks. It is never persisted.
type RequestContext struct {
	// IsRoot bypasses all permission checks. Used for system-initiated
	// operations (role bootstrap, sign-up writes).
	IsRoot     bool
	SessionID  string
	User       *SessionUser
	Controller *Controller

	// Cookie primitives supplied by the transport, used by the session
	// resolvers in cookie-session mode. Nil outside HTTP requests.
	SetCookie func(name, value string, maxAgeSeconds int)
	GetCookie func(name string) string
}

type requestContextKey struct{}

// NewContext attaches the request context to ctx.
func NewContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext extracts the request context. It returns an empty non-root
// context when none is attached, so lookups never panic.
func FromContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}

// NewRootContext returns ctx carrying a root request context bound to the
// given controller.
func NewRootContext(ctx context.Context, c *Controller) context.Context {
	return NewContext(ctx, &RequestContext{IsRoot: true, Controller: c})
}
