package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"qooqz/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) (int64, error)
	// FindActive resolves a token hash to an unrevoked, unexpired
	// session; nil when there is none.
	FindActive(ctx context.Context, tokenHash string) (*models.Session, error)
	ExtendExpiry(ctx context.Context, id int64, newExpiry time.Time) error
	Revoke(ctx context.Context, id int64) error
}

type sessionRepository struct {
	DB *sql.DB
}

func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{DB: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *models.Session) (int64, error) {
	const q = `
		INSERT INTO sessions (user_id, token_hash, user_agent, ip, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING id
	`
	if err := r.DB.QueryRowContext(ctx, q,
		s.UserID, s.TokenHash, s.UserAgent, s.IP, s.CreatedAt, s.ExpiresAt,
	).Scan(&s.ID); err != nil {
		return 0, fmt.Errorf("session create: %w", err)
	}
	return s.ID, nil
}

func (r *sessionRepository) FindActive(ctx context.Context, tokenHash string) (*models.Session, error) {
	const q = `
		SELECT id, user_id, token_hash, user_agent, ip, created_at, expires_at, revoked
		FROM sessions
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > NOW()
	`
	s, err := scanSession(r.DB.QueryRowContext(ctx, q, tokenHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session by token hash: %w", err)
	}
	return s, nil
}

func (r *sessionRepository) ExtendExpiry(ctx context.Context, id int64, newExpiry time.Time) error {
	const q = `UPDATE sessions SET expires_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.DB.ExecContext(ctx, q, id, newExpiry); err != nil {
		return fmt.Errorf("session extend expiry: %w", err)
	}
	return nil
}

func (r *sessionRepository) Revoke(ctx context.Context, id int64) error {
	const q = `UPDATE sessions SET revoked = TRUE WHERE id = $1`
	if _, err := r.DB.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("session revoke: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s  models.Session
		ua sql.NullString
		ip sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &ua, &ip, &s.CreatedAt, &s.ExpiresAt, &s.Revoked); err != nil {
		return nil, err
	}
	s.UserAgent = ua.String
	s.IP = ip.String
	return &s, nil
}
