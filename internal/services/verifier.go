package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
)

// Session-bound verification stretches the session by this much.
const sessionExtension = 24 * time.Hour

type VerifyInput struct {
	Code         string
	JTI          string
	UserID       int
	Channel      string
	SessionToken string
	IP           string
	UserAgent    string
}

type VerifyResult struct {
	UserID  int
	TokenID int64
	JTI     string
}

// Verifier is the redemption state machine:
// Unused -> Used(success) | Used(blocked) | Expired (derived from time).
type Verifier interface {
	Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error)
}

type verifier struct {
	tokens     repositories.VerificationTokenRepository
	binder     *SessionBinder
	hasher     CodeHasher
	activation ActivationService
	tx         repositories.TxRunner
}

func NewVerifier(
	tokens repositories.VerificationTokenRepository,
	binder *SessionBinder,
	hasher CodeHasher,
	activation ActivationService,
	tx repositories.TxRunner,
) Verifier {
	return &verifier{
		tokens:     tokens,
		binder:     binder,
		hasher:     hasher,
		activation: activation,
		tx:         tx,
	}
}

func (s *verifier) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if in.JTI != "" {
		return s.verifyByJTI(ctx, in)
	}
	return s.verifyByUser(ctx, in)
}

func (s *verifier) verifyByJTI(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	row, err := s.tokens.FindByJTI(ctx, in.JTI)
	if err != nil {
		return nil, fmt.Errorf("find by jti: %w", err)
	}
	if row == nil {
		return nil, ErrTokenNotFound
	}
	if row.Used {
		return nil, ErrTokenAlreadyUsed
	}
	if row.Expired(time.Now().UTC()) {
		// не считаем попытку: код не сравнивался
		return nil, ErrTokenExpired
	}
	if err := s.binder.Validate(ctx, row, in.SessionToken); err != nil {
		return nil, err
	}
	if !s.hasher.Compare(in.Code, row.TokenHash) {
		return nil, s.registerFailedAttempt(ctx, row)
	}
	return s.consume(ctx, row, in)
}

// verifyByUser walks active rows newest-first and stops at the first
// hash match; one submitted code is never applied to more than one row,
// so a miss increments only the newest candidate.
func (s *verifier) verifyByUser(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	rows, err := s.tokens.FindActiveByUser(ctx, in.UserID, in.Channel)
	if err != nil {
		return nil, fmt.Errorf("find active by user: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoActiveTokens
	}

	// Binding is enforced on the newest row before any comparison.
	if err := s.binder.Validate(ctx, rows[0], in.SessionToken); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row != rows[0] {
			if err := s.binder.Validate(ctx, row, in.SessionToken); err != nil {
				continue
			}
		}
		if s.hasher.Compare(in.Code, row.TokenHash) {
			return s.consume(ctx, row, in)
		}
	}
	return nil, s.registerFailedAttempt(ctx, rows[0])
}

func (s *verifier) consume(ctx context.Context, row *models.VerificationToken, in VerifyInput) (*VerifyResult, error) {
	// mark-used and activation commit or roll back together: a client
	// disconnecting mid-request never leaves a half-activated subject.
	err := s.tx.RunInTx(ctx, func(q repositories.Querier) error {
		affected, err := s.tokens.MarkUsedIfUnused(ctx, q, row.ID, in.IP, in.UserAgent)
		if err != nil {
			return fmt.Errorf("mark used: %w", err)
		}
		if affected == 0 {
			// lost the race, a concurrent winner consumed it
			return ErrTokenAlreadyUsed
		}
		return s.activation.ActivateTx(ctx, q, row.UserID)
	})
	if err != nil {
		return nil, err
	}

	if row.SessionID != nil {
		if err := s.binder.Extend(ctx, row, sessionExtension); err != nil {
			log.Printf("[verify] extend session failed jti=%s err=%v", row.JTI, err)
		}
	}
	s.activation.NotifyActivated(row.UserID)

	log.Printf("[verify] ok user_id=%d jti=%s ip=%s", row.UserID, row.JTI, in.IP)
	return &VerifyResult{UserID: row.UserID, TokenID: row.ID, JTI: row.JTI}, nil
}

// registerFailedAttempt is a single atomic write; a timeout here is a
// transient failure and is never retried, to avoid double-counting.
func (s *verifier) registerFailedAttempt(ctx context.Context, row *models.VerificationToken) error {
	attempts, blocked, err := s.tokens.IncrementAttemptsAndMaybeBlock(ctx, row.ID, MaxConfirmAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		// consumed or blocked concurrently
		return ErrTokenAlreadyUsed
	}
	if err != nil {
		return err
	}
	log.Printf("[verify] wrong code user_id=%d jti=%s attempts=%d blocked=%v", row.UserID, row.JTI, attempts, blocked)
	if blocked {
		return ErrTooManyAttempts
	}
	return &InvalidCodeError{Attempts: attempts, MaxAttempts: MaxConfirmAttempts}
}
