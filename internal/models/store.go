package models

import "time"

// Store — vendor record owned by a user. Activation of the owner
// cascades to all of their inactive stores.
type Store struct {
	ID        int64     `json:"id"`
	OwnerID   int       `json:"owner_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
