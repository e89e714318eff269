package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decode failures are distinguished internally for logging; callers
// collapse all of them into one generic invalid_token so the response
// never reveals which check failed.
var (
	ErrLinkMalformed = errors.New("link token malformed")
	ErrLinkSignature = errors.New("link token signature invalid")
	ErrLinkExpired   = errors.New("link token expired")
)

// LinkClaims is the payload carried inside a signed verification link.
// The code rides inside the token so that clicking the link can redeem
// without manual entry; the session token binds the link to the browser
// it was requested from.
type LinkClaims struct {
	UserID       int    `json:"uid"`
	Code         string `json:"code"`
	SessionToken string `json:"st,omitempty"`
	jwt.RegisteredClaims
}

// EncodeLinkToken signs the full payload, expiry included, with HS256.
func EncodeLinkToken(userID int, jti, code, sessionToken string, issuedAt, expiresAt time.Time, secret []byte) (string, error) {
	claims := &LinkClaims{
		UserID:       userID,
		Code:         code,
		SessionToken: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// DecodeLinkToken verifies and parses a link token. Decoding has no
// side effects; it never touches the store and never marks a token
// used, so it is safe for pre-fill flows.
func DecodeLinkToken(token string, secret []byte) (*LinkClaims, error) {
	claims := &LinkClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// принимаем только HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrLinkExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrLinkSignature
		default:
			return nil, ErrLinkMalformed
		}
	}
	if !parsed.Valid {
		return nil, ErrLinkSignature
	}
	return claims, nil
}
