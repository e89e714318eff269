package models

import "time"

// Session — browser session created at login. Only the SHA-256 of the
// opaque session token is stored.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int       `json:"user_id"`
	TokenHash string    `json:"-"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}
