package clinicauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when the engine is missing a required
	// dependency.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrAuthenticationFailed covers unknown emails and wrong passwords
	// alike, so callers cannot tell which part of the credential was wrong.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAccountDisabled is returned for deactivated or unverified accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned while a login lockout is in force. The
	// concrete error is an *AccountLockedError carrying the unlock time.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid is returned for tokens that are malformed, forged,
	// unknown, or already used.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for tokens past their lifetime.
	ErrTokenExpired = errors.New("token expired")
	// ErrValidation is returned for requests rejected before any
	// credential check, such as a too-short new password.
	ErrValidation = errors.New("validation failed")
	// ErrInternal wraps backend failures the caller cannot act on.
	ErrInternal = errors.New("internal error")
)

// AccountLockedError reports a login rejected by the lockout policy.
type AccountLockedError struct {
	UnlockAt time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.UnlockAt.Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}
