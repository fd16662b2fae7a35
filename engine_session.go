package authcore

import (
	"context"
	"errors"

	"github.com/neaweb/authcore/session"
)

// StartSession opens a web session for userID and returns its id.
func (e *Engine) StartSession(ctx context.Context, userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.sessions == nil {
		return "", internalError("start_session", errors.New("no session store"))
	}

	sid, err := e.sessions.Create(ctx, userID)
	if err != nil {
		return "", storageError("session_create", err)
	}

	e.emitAudit(ctx, auditEventSessionStarted, true, userID, nil, nil)
	return sid, nil
}

// ResolveSession maps a session id to its principal. Unknown sessions and
// sessions of deleted users resolve to (nil, nil).
func (e *Engine) ResolveSession(ctx context.Context, sid string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.sessions == nil || sid == "" {
		return nil, nil
	}

	userID, err := e.sessions.Lookup(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return nil, nil
		}
		return nil, storageError("session_lookup", err)
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	view := user.View()
	return &Principal{UserID: user.ID, Carrier: CarrierSession, User: &view}, nil
}

// EndSession destroys sid. Unknown ids are ignored.
func (e *Engine) EndSession(ctx context.Context, sid string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.sessions == nil || sid == "" {
		return nil
	}

	if err := e.sessions.Destroy(ctx, sid); err != nil {
		return storageError("session_destroy", err)
	}

	e.emitAudit(ctx, auditEventSessionEnded, true, "", nil, nil)
	return nil
}

// SessionsEnabled reports whether a session store is wired.
func (e *Engine) SessionsEnabled() bool {
	return e != nil && e.sessions != nil
}
