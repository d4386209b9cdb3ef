package clinicauth

import (
	"context"
	"time"
)

// Identity is the credential record the engine reads from and writes back to
// the identity store. Account management (creating identities, toggling the
// enabled/verified flags) belongs to a collaborator; the engine only mutates
// the login bookkeeping, password hash, and reset-token fields.
type Identity struct {
	ID            string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	Roles         []string
	Active        bool
	EmailVerified bool

	FailedLogins int
	LockedUntil  *time.Time
	LastLogin    *time.Time

	ResetToken        *string
	ResetTokenExpires *time.Time
}

// IdentitySummary is the password-free view of an identity returned to
// clients after login. LastLogin is the previous successful login, not the
// one that produced this summary.
type IdentitySummary struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Roles         []string   `json:"roles"`
	EmailVerified bool       `json:"email_verified"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// TokenPair is an issued access/refresh credential pair. ExpiresIn is the
// access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginResult is the full login response.
type LoginResult struct {
	TokenPair
	Identity IdentitySummary `json:"identity"`
}

// IdentityStore is the identity persistence collaborator.
type IdentityStore interface {
	// GetByEmail looks up an identity by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByResetToken(ctx context.Context, token string) (*Identity, error)

	// RecordLoginFailure atomically increments the failure counter; when
	// threshold is reached it sets lockedUntil = now + lockDuration and
	// resets the counter. Must be a single conditional update, not
	// read-then-write. Reports whether this call triggered the lock and,
	// if so, the unlock time.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockDuration time.Duration) (locked bool, unlockAt time.Time, err error)
	// RecordLoginSuccess clears the failure counter and lock and stamps
	// the last login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// SaveResetToken stores the reset token and expiry, replacing any
	// pending token.
	SaveResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	// UpdatePassword stores the new hash and clears the reset-token
	// fields.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// IsNotFound reports whether err means the looked-up identity does not
	// exist.
	IsNotFound(err error) bool
}

// Notifier delivers password-reset tokens. Delivery is fire-and-forget:
// the engine logs failures and reports success to the caller regardless.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, email, token string) error

func (f NotifierFunc) SendPasswordReset(ctx context.Context, email, token string) error {
	return f(ctx, email, token)
}

// AccessClaims is the validated view of an access token.
type AccessClaims struct {
	IdentityID string
	Roles      []string
	TokenID    string
	ExpiresAt  time.Time
}
