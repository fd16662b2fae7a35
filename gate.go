package authcore

import (
	"context"
)

// Gate enforces authentication and role requirements on a resolved
// principal.
type Gate struct {
	e *Engine
}

// Gate returns the authorization gate bound to the engine's store.
func (e *Engine) Gate() Gate {
	return Gate{e: e}
}

// RequireAuthenticated fails with ErrUnauthenticated when p is nil.
func (g Gate) RequireAuthenticated(p *Principal) error {
	if p == nil || p.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireRole passes only when the user's role equals role. Principals that
// carry only an id are loaded from the store; a missing user returns
// ErrUserNotFound.
func (g Gate) RequireRole(ctx context.Context, p *Principal, role Role) error {
	if err := g.RequireAuthenticated(p); err != nil {
		return err
	}

	current := Role(0)
	if p.User != nil {
		current = p.User.Role
	} else {
		user, err := g.e.loadUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		current = user.Role
	}

	if current != role {
		g.e.emitAudit(ctx, auditEventAuthorizationRejected, false, p.UserID, ErrForbidden, func() map[string]string {
			return map[string]string{"required_role": role.String()}
		})
		return ErrForbidden
	}
	return nil
}
