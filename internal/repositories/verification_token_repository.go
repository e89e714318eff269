package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"qooqz/internal/models"
)

const tokenColumns = `
	id, jti, user_id, channel, token_hash, issued_at, expires_at, user_tz,
	used, used_at, attempts, origin, phone,
	issuer_ip, issuer_user_agent, verifier_ip, verifier_user_agent, session_id`

type VerificationTokenRepository interface {
	Insert(ctx context.Context, t *models.VerificationToken) (int64, error)
	FindByJTI(ctx context.Context, jti string) (*models.VerificationToken, error)
	// FindActiveByUser returns unused, unexpired rows newest-first.
	// Empty channel means any channel.
	FindActiveByUser(ctx context.Context, userID int, channel string) ([]*models.VerificationToken, error)
	// SupersedeUnused marks every currently-unused row for the
	// subject/channel as used. Called before inserting a new one.
	SupersedeUnused(ctx context.Context, userID int, channel string) (int64, error)
	// MarkUsedIfUnused consumes the row with a single guarded statement.
	// 0 affected rows means a concurrent winner got there first.
	MarkUsedIfUnused(ctx context.Context, q Querier, id int64, verifierIP, verifierUA string) (int64, error)
	// IncrementAttemptsAndMaybeBlock bumps attempts and flips used in
	// one atomic write; sql.ErrNoRows means the row was consumed or
	// blocked concurrently.
	IncrementAttemptsAndMaybeBlock(ctx context.Context, id int64, maxAttempts int) (attempts int, blocked bool, err error)
	CountRecentIssues(ctx context.Context, userID int, channel string, since time.Time) (int, error)
	ListByUser(ctx context.Context, userID int, limit, offset int) ([]*models.VerificationToken, error)
}

type verificationTokenRepository struct {
	DB *sql.DB
}

func NewVerificationTokenRepository(db *sql.DB) VerificationTokenRepository {
	return &verificationTokenRepository{DB: db}
}

func (r *verificationTokenRepository) Insert(ctx context.Context, t *models.VerificationToken) (int64, error) {
	const q = `
		INSERT INTO verification_tokens (
			jti, user_id, channel, token_hash, issued_at, expires_at, user_tz,
			used, used_at, attempts, origin, phone,
			issuer_ip, issuer_user_agent, verifier_ip, verifier_user_agent, session_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,NULL,0,$8,$9,$10,$11,'','',$12)
		RETURNING id
	`
	if err := r.DB.QueryRowContext(ctx, q,
		t.JTI, t.UserID, t.Channel, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.UserTZ,
		t.Origin, t.Phone, t.IssuerIP, t.IssuerUserAgent, t.SessionID,
	).Scan(&t.ID); err != nil {
		return 0, fmt.Errorf("verification_token insert: %w", err)
	}
	return t.ID, nil
}

func (r *verificationTokenRepository) FindByJTI(ctx context.Context, jti string) (*models.VerificationToken, error) {
	q := `SELECT ` + tokenColumns + ` FROM verification_tokens WHERE jti = $1`
	t, err := scanToken(r.DB.QueryRowContext(ctx, q, jti))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification_token by jti: %w", err)
	}
	return t, nil
}

func (r *verificationTokenRepository) FindActiveByUser(ctx context.Context, userID int, channel string) ([]*models.VerificationToken, error) {
	q := `
		SELECT ` + tokenColumns + `
		FROM verification_tokens
		WHERE user_id = $1 AND used = FALSE AND expires_at > NOW()
	`
	args := []any{userID}
	if channel != "" {
		q += ` AND channel = $2`
		args = append(args, channel)
	}
	q += ` ORDER BY issued_at DESC`

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("verification_token active by user: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (r *verificationTokenRepository) SupersedeUnused(ctx context.Context, userID int, channel string) (int64, error) {
	const q = `
		UPDATE verification_tokens
		SET used = TRUE, used_at = NOW()
		WHERE user_id = $1 AND channel = $2 AND used = FALSE
	`
	res, err := r.DB.ExecContext(ctx, q, userID, channel)
	if err != nil {
		return 0, fmt.Errorf("verification_token supersede: %w", err)
	}
	return res.RowsAffected()
}

func (r *verificationTokenRepository) MarkUsedIfUnused(ctx context.Context, q Querier, id int64, verifierIP, verifierUA string) (int64, error) {
	const stmt = `
		UPDATE verification_tokens
		SET used = TRUE, used_at = NOW(), verifier_ip = $2, verifier_user_agent = $3
		WHERE id = $1 AND used = FALSE
	`
	res, err := q.ExecContext(ctx, stmt, id, verifierIP, verifierUA)
	if err != nil {
		return 0, fmt.Errorf("verification_token mark used: %w", err)
	}
	return res.RowsAffected()
}

func (r *verificationTokenRepository) IncrementAttemptsAndMaybeBlock(ctx context.Context, id int64, maxAttempts int) (int, bool, error) {
	// Single statement so two concurrent wrong submissions can never
	// both read attempts=4 and decide independently.
	const q = `
		UPDATE verification_tokens
		SET attempts = attempts + 1,
		    used = (attempts + 1 >= $2),
		    used_at = CASE WHEN attempts + 1 >= $2 THEN NOW() ELSE used_at END
		WHERE id = $1 AND used = FALSE
		RETURNING attempts, used
	`
	var (
		attempts int
		blocked  bool
	)
	err := r.DB.QueryRowContext(ctx, q, id, maxAttempts).Scan(&attempts, &blocked)
	if err == sql.ErrNoRows {
		return 0, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("verification_token increment attempts: %w", err)
	}
	return attempts, blocked, nil
}

func (r *verificationTokenRepository) CountRecentIssues(ctx context.Context, userID int, channel string, since time.Time) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM verification_tokens
		WHERE user_id = $1 AND channel = $2 AND issued_at >= $3
	`
	var c int
	if err := r.DB.QueryRowContext(ctx, q, userID, channel, since).Scan(&c); err != nil {
		return 0, fmt.Errorf("verification_token count recent: %w", err)
	}
	return c, nil
}

func (r *verificationTokenRepository) ListByUser(ctx context.Context, userID int, limit, offset int) ([]*models.VerificationToken, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := `
		SELECT ` + tokenColumns + `
		FROM verification_tokens
		WHERE user_id = $1
		ORDER BY issued_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("verification_token list by user: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.VerificationToken, error) {
	var (
		t         models.VerificationToken
		userTZ    sql.NullString
		usedAt    sql.NullTime
		origin    sql.NullString
		phone     sql.NullString
		issIP     sql.NullString
		issUA     sql.NullString
		verIP     sql.NullString
		verUA     sql.NullString
		sessionID sql.NullInt64
	)
	if err := row.Scan(
		&t.ID, &t.JTI, &t.UserID, &t.Channel, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &userTZ,
		&t.Used, &usedAt, &t.Attempts, &origin, &phone,
		&issIP, &issUA, &verIP, &verUA, &sessionID,
	); err != nil {
		return nil, err
	}
	t.UserTZ = userTZ.String
	if usedAt.Valid {
		ts := usedAt.Time
		t.UsedAt = &ts
	}
	t.Origin = origin.String
	t.Phone = phone.String
	t.IssuerIP = issIP.String
	t.IssuerUserAgent = issUA.String
	t.VerifierIP = verIP.String
	t.VerifierUserAgent = verUA.String
	if sessionID.Valid {
		id := sessionID.Int64
		t.SessionID = &id
	}
	return &t, nil
}

func collectTokens(rows *sql.Rows) ([]*models.VerificationToken, error) {
	var out []*models.VerificationToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification_token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification_tokens: %w", err)
	}
	return out, nil
}
