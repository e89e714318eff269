package models

import "time"

// Delivery channels for verification tokens.
const (
	ChannelCode     = "code"
	ChannelLink     = "link"
	ChannelWhatsApp = "whatsapp"
)

// VerificationToken — one row per issued code. Rows are append-only:
// after insert only used, used_at, attempts, verifier_ip and
// verifier_user_agent may change. Superseded rows stay in the table
// as an audit trail.
type VerificationToken struct {
	ID                int64      `json:"id"`
	JTI               string     `json:"jti"`
	UserID            int        `json:"user_id"`
	Channel           string     `json:"channel"`
	TokenHash         string     `json:"-"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	UserTZ            string     `json:"user_tz,omitempty"`
	Used              bool       `json:"used"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
	Attempts          int        `json:"attempts"`
	Origin            string     `json:"origin,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	IssuerIP          string     `json:"issuer_ip,omitempty"`
	IssuerUserAgent   string     `json:"-"`
	VerifierIP        string     `json:"verifier_ip,omitempty"`
	VerifierUserAgent string     `json:"-"`

	// SessionID is the opaque reference to the session active at
	// issuance; nil when the token was issued without a session.
	SessionID *int64 `json:"-"`
}

// Expired derives expiry from the clock; there is no stored flag.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
