package hooks

import (
	"context"
	"errors"
	"fmt"

	"graphbase.dev/internal/database"
)

// ErrPermissionDenied is wrapped by every denial so callers can match with
// errors.Is regardless of the class and operation in the message.
var ErrPermissionDenied = errors.New("Permission denied")

// checkPermission returns the priority-0 hook enforcing the class
// permission rule for one operation. Root contexts bypass every check.
func (p *Pipeline) checkPermission(trigger database.Trigger) Callback {
	operation := trigger.Operation()
	return func(ctx context.Context, object *Object) error {
		rc := database.FromContext(ctx)
		if rc.IsRoot {
			return nil
		}

		class := p.schema.Class(object.ClassName())
		if class == nil {
			return nil
		}
		rule := class.Permission(operation)
		if rule == nil {
			return nil
		}

		denied := fmt.Errorf("%w to %s class %s", ErrPermissionDenied, operation, object.ClassName())

		if !rule.RequireAuthentication && len(rule.AuthorizedRoles) == 0 {
			return nil
		}
		if rc.SessionID == "" {
			return denied
		}
		user, err := p.loadSessionUser(ctx, rc)
		if err != nil {
			return err
		}
		if user == nil {
			return denied
		}
		object.user = user

		if len(rule.AuthorizedRoles) == 0 {
			return nil
		}
		for _, role := range rule.AuthorizedRoles {
			if role == user.Role {
				return nil
			}
		}
		return denied
	}
}

// loadSessionUser resolves the session into an identity, caching it on the
// request context so follow-up triggers in the same request skip the
// lookup. The fetch bypasses hooks to avoid recursing into this check.
func (p *Pipeline) loadSessionUser(ctx context.Context, rc *database.RequestContext) (*database.SessionUser, error) {
	if rc.User != nil {
		return rc.User, nil
	}
	if rc.Controller == nil {
		return nil, nil
	}
	session, err := rc.Controller.GetObject(ctx, database.GetObjectParams{
		ClassName: "Session",
		ID:        rc.SessionID,
		Fields:    []string{"user.id", "user.email", "user.role.name"},
		SkipHooks: true,
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	userData, _ := session["user"].(map[string]any)
	if userData == nil {
		return nil, nil
	}
	user := &database.SessionUser{}
	user.ID, _ = userData["id"].(string)
	user.Email, _ = userData["email"].(string)
	if roleData, ok := userData["role"].(map[string]any); ok {
		user.Role, _ = roleData["name"].(string)
	}
	rc.User = user
	return user, nil
}
