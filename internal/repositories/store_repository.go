package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"qooqz/internal/models"
)

type StoreRepository interface {
	// ActivateAllInactiveForOwner cascades owner activation to every
	// inactive store. Runs against the caller's Querier so it can share
	// the consume transaction.
	ActivateAllInactiveForOwner(ctx context.Context, q Querier, ownerID int) (int64, error)
	ListByOwner(ctx context.Context, ownerID int) ([]*models.Store, error)
}

type storeRepository struct {
	DB *sql.DB
}

func NewStoreRepository(db *sql.DB) StoreRepository {
	return &storeRepository{DB: db}
}

func (r *storeRepository) ActivateAllInactiveForOwner(ctx context.Context, q Querier, ownerID int) (int64, error) {
	const stmt = `UPDATE stores SET is_active = TRUE WHERE owner_id = $1 AND is_active = FALSE`
	res, err := q.ExecContext(ctx, stmt, ownerID)
	if err != nil {
		return 0, fmt.Errorf("store activate for owner: %w", err)
	}
	return res.RowsAffected()
}

func (r *storeRepository) ListByOwner(ctx context.Context, ownerID int) ([]*models.Store, error) {
	const q = `
		SELECT id, owner_id, name, is_active, created_at
		FROM stores
		WHERE owner_id = $1
		ORDER BY id
	`
	rows, err := r.DB.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("stores by owner: %w", err)
	}
	defer rows.Close()

	var out []*models.Store
	for rows.Next() {
		var s models.Store
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return out, nil
}
