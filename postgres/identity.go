package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	clinicauth "github.com/cliniccore/clinicauth"
)

const identityColumns = `id, email, first_name, last_name, password_hash, roles,
	active, email_verified, failed_logins, locked_until, last_login,
	reset_token, reset_token_expires`

// ErrIdentityNotFound is returned when a lookup matches no identity row.
var ErrIdentityNotFound = errors.New("identity not found")

// IdentityStore is the PostgreSQL implementation of clinicauth.IdentityStore.
type IdentityStore struct {
	db *DB
}

// NewIdentityStore wraps db.
func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// GetByEmail looks up an identity case-insensitively by email.
func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*clinicauth.Identity, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
	return scanIdentity(row)
}

// GetByID looks up an identity by primary key.
func (s *IdentityStore) GetByID(ctx context.Context, id string) (*clinicauth.Identity, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// GetByResetToken looks up the identity holding a pending reset token.
func (s *IdentityStore) GetByResetToken(ctx context.Context, token string) (*clinicauth.Identity, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE reset_token = $1`, token)
	return scanIdentity(row)
}

// RecordLoginFailure bumps the failure counter in a single conditional
// UPDATE. Crossing the threshold sets locked_until and resets the counter in
// the same statement, so concurrent failures elect exactly one locking
// attempt.
func (s *IdentityStore) RecordLoginFailure(ctx context.Context, id string, threshold int, lockDuration time.Duration) (bool, time.Time, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	if threshold <= 0 {
		tag, err := s.db.Pool.Exec(ctx,
			`UPDATE identities SET failed_logins = failed_logins + 1, updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("record login failure: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, time.Time{}, ErrIdentityNotFound
		}
		return false, time.Time{}, nil
	}

	unlockAt := time.Now().Add(lockDuration)
	var (
		failedLogins int
		lockedUntil  *time.Time
	)
	err := s.db.Pool.QueryRow(ctx, `
		UPDATE identities
		   SET failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END,
		       locked_until  = CASE WHEN failed_logins + 1 >= $2 THEN $3::timestamptz ELSE locked_until END,
		       updated_at    = now()
		 WHERE id = $1
		RETURNING failed_logins, locked_until`, id, threshold, unlockAt).Scan(&failedLogins, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, time.Time{}, ErrIdentityNotFound
		}
		return false, time.Time{}, fmt.Errorf("record login failure: %w", err)
	}
	// The counter only resets to zero when this statement crosses the
	// threshold, so that is the lock signal. The timestamp comes back at the
	// database's microsecond precision; report the stored value, not the
	// nanosecond one bound above.
	if failedLogins == 0 && lockedUntil != nil && lockedUntil.After(time.Now()) {
		return true, *lockedUntil, nil
	}
	return false, time.Time{}, nil
}

// RecordLoginSuccess clears the failure bookkeeping and stamps last_login.
func (s *IdentityStore) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE identities
		   SET failed_logins = 0, locked_until = NULL, last_login = $2, updated_at = now()
		 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// SaveResetToken stores the token and expiry, replacing any pending one.
func (s *IdentityStore) SaveResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE identities
		   SET reset_token = $2, reset_token_expires = $3, updated_at = now()
		 WHERE id = $1`, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// UpdatePassword stores the new hash and clears the reset-token fields.
func (s *IdentityStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE identities
		   SET password_hash = $2, reset_token = NULL, reset_token_expires = NULL, updated_at = now()
		 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// IsNotFound reports whether err means the identity row does not exist.
func (s *IdentityStore) IsNotFound(err error) bool {
	return errors.Is(err, ErrIdentityNotFound)
}

func scanIdentity(row pgx.Row) (*clinicauth.Identity, error) {
	var identity clinicauth.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.FirstName,
		&identity.LastName,
		&identity.PasswordHash,
		&identity.Roles,
		&identity.Active,
		&identity.EmailVerified,
		&identity.FailedLogins,
		&identity.LockedUntil,
		&identity.LastLogin,
		&identity.ResetToken,
		&identity.ResetTokenExpires,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return &identity, nil
}
