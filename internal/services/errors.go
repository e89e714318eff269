package services

import (
	"errors"
	"fmt"
)

// Terminal domain outcomes. Everything except wrapped store errors is
// surfaced verbatim to the caller as one of the wire message codes; the
// caller decides the UX (retry vs. request a new code).
var (
	ErrTokenNotFound      = errors.New("token not found")
	ErrNoActiveTokens     = errors.New("no active tokens")
	ErrTokenAlreadyUsed   = errors.New("token already used")
	ErrTokenExpired       = errors.New("token expired")
	ErrCodeInvalid        = errors.New("code invalid")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrWrongSession       = errors.New("wrong session")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrResendThrottled    = errors.New("resend throttled")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidChannel     = errors.New("invalid channel")
)

// InvalidCodeError carries how many attempts the submitted token has
// consumed so far. errors.Is(err, ErrCodeInvalid) holds.
type InvalidCodeError struct {
	Attempts    int
	MaxAttempts int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("code invalid (attempt %d of %d)", e.Attempts, e.MaxAttempts)
}

func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrCodeInvalid
}
