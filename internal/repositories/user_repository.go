package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"qooqz/internal/models"
)

type UserRepository interface {
	FindByID(ctx context.Context, id int) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	// CreateMinimal registers a bare subject for phone-first signup;
	// profile data arrives later through the profile CRUD (out of scope
	// here).
	CreateMinimal(ctx context.Context, username, phone string) (*models.User, error)
	// SetActive flips is_active; runs against the caller's Querier so
	// it can share the consume transaction. Idempotent.
	SetActive(ctx context.Context, q Querier, id int) error
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

const userColumns = `
	id, username, phone, COALESCE(email,''), COALESCE(password_hash,''),
	is_active, created_at, COALESCE(telegram_chat_id,0)`

func (r *userRepository) FindByID(ctx context.Context, id int) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

func (r *userRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by phone: %w", err)
	}
	return u, nil
}

func (r *userRepository) CreateMinimal(ctx context.Context, username, phone string) (*models.User, error) {
	const q = `
		INSERT INTO users (username, phone, is_active, created_at)
		VALUES ($1, $2, FALSE, $3)
		RETURNING id
	`
	u := &models.User{
		Username:  username,
		Phone:     phone,
		IsActive:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.DB.QueryRowContext(ctx, q, u.Username, u.Phone, u.CreatedAt).Scan(&u.ID); err != nil {
		return nil, fmt.Errorf("user create minimal: %w", err)
	}
	return u, nil
}

func (r *userRepository) SetActive(ctx context.Context, q Querier, id int) error {
	const stmt = `UPDATE users SET is_active = TRUE WHERE id = $1`
	if _, err := q.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("user set active: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(
		&u.ID, &u.Username, &u.Phone, &u.Email, &u.PasswordHash,
		&u.IsActive, &u.CreatedAt, &u.TelegramChatID,
	); err != nil {
		return nil, err
	}
	return &u, nil
}
