package services

import (
	"context"
	"fmt"
	"time"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
	"qooqz/internal/utils"
)

// SessionBinder associates a verification token with the browser
// session active at issuance and later enforces that exact session on
// redemption. Only the session id is stored on the token row, never the
// raw session token.
type SessionBinder struct {
	Sessions repositories.SessionRepository
}

func NewSessionBinder(sessions repositories.SessionRepository) *SessionBinder {
	return &SessionBinder{Sessions: sessions}
}

// Bind resolves sessionToken to an active, unrevoked, unexpired session
// owned by the token's subject and records its id on the row.
func (b *SessionBinder) Bind(ctx context.Context, t *models.VerificationToken, sessionToken string) error {
	sess, err := b.resolve(ctx, sessionToken)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != t.UserID {
		return ErrSessionInvalid
	}
	t.SessionID = &sess.ID
	return nil
}

// Validate enforces identity, not mere validity: a bound token is
// redeemable only under the exact session it was bound to. This runs
// before any code comparison, so a wrong-browser attempt never learns
// whether the code was correct.
func (b *SessionBinder) Validate(ctx context.Context, t *models.VerificationToken, suppliedToken string) error {
	if t.SessionID == nil {
		return nil
	}
	if suppliedToken == "" {
		return ErrWrongSession
	}
	sess, err := b.resolve(ctx, suppliedToken)
	if err != nil {
		return err
	}
	if sess == nil || sess.ID != *t.SessionID || sess.UserID != t.UserID {
		return ErrWrongSession
	}
	return nil
}

// Extend pushes out the bound session's expiry after a successful
// session-bound verification. Best-effort.
func (b *SessionBinder) Extend(ctx context.Context, t *models.VerificationToken, ttl time.Duration) error {
	if t.SessionID == nil {
		return nil
	}
	return b.Sessions.ExtendExpiry(ctx, *t.SessionID, time.Now().UTC().Add(ttl))
}

func (b *SessionBinder) resolve(ctx context.Context, sessionToken string) (*models.Session, error) {
	sess, err := b.Sessions.FindActive(ctx, utils.HashSessionToken(sessionToken))
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return sess, nil
}
