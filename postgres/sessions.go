package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cliniccore/clinicauth/session"
)

// SessionStore is the PostgreSQL implementation of session.Store. Rotation
// rides on row deletion: DELETE .. RETURNING consumes the presented token
// under the row lock, so concurrent rotations of the same token elect exactly
// one winner.
type SessionStore struct {
	db *DB
}

// NewSessionStore wraps db.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save persists rec, replacing any record stored under the same hash.
func (s *SessionStore) Save(ctx context.Context, rec *session.Record) error {
	if rec == nil {
		return errors.New("nil session record")
	}
	if !rec.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("session record already expired at %v", rec.ExpiresAt)
	}
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO refresh_sessions (token_hash, identity_id, expires_at, remember_me, created_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_hash) DO UPDATE
		   SET identity_id = EXCLUDED.identity_id,
		       expires_at  = EXCLUDED.expires_at,
		       remember_me = EXCLUDED.remember_me,
		       created_at  = EXCLUDED.created_at,
		       ip          = EXCLUDED.ip,
		       user_agent  = EXCLUDED.user_agent`,
		rec.TokenHash, rec.IdentityID, rec.ExpiresAt, rec.RememberMe, rec.CreatedAt, rec.IP, rec.UserAgent)
	if err != nil {
		return fmt.Errorf("%w: save: %v", session.ErrUnavailable, err)
	}
	return nil
}

// Get returns the record stored under tokenHash. A lapsed record is deleted
// and reported as session.ErrExpired.
func (s *SessionStore) Get(ctx context.Context, tokenHash string) (*session.Record, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	rec, err := s.scanOne(s.db.Pool.QueryRow(ctx, `
		SELECT token_hash, identity_id, expires_at, remember_me, created_at, ip, user_agent
		  FROM refresh_sessions WHERE token_hash = $1`, tokenHash))
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(time.Now()) {
		if _, derr := s.db.Pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash); derr != nil {
			return nil, fmt.Errorf("%w: delete expired: %v", session.ErrUnavailable, derr)
		}
		return rec, session.ErrExpired
	}
	return rec, nil
}

// Rotate consumes the record under oldHash and re-keys it under newHash with
// the given expiry, both in one transaction.
func (s *SessionStore) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*session.Record, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin rotate: %v", session.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.scanOne(tx.QueryRow(ctx, `
		DELETE FROM refresh_sessions WHERE token_hash = $1
		RETURNING token_hash, identity_id, expires_at, remember_me, created_at, ip, user_agent`, oldHash))
	if err != nil {
		return nil, err
	}

	// The expired token is burned on first presentation either way.
	if !rec.ExpiresAt.After(time.Now()) {
		if cerr := tx.Commit(ctx); cerr != nil {
			return nil, fmt.Errorf("%w: commit rotate: %v", session.ErrUnavailable, cerr)
		}
		return rec, session.ErrExpired
	}

	rec.TokenHash = newHash
	rec.ExpiresAt = expiresAt
	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_sessions (token_hash, identity_id, expires_at, remember_me, created_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TokenHash, rec.IdentityID, rec.ExpiresAt, rec.RememberMe, rec.CreatedAt, rec.IP, rec.UserAgent); err != nil {
		return nil, fmt.Errorf("%w: insert rotated: %v", session.ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit rotate: %v", session.ErrUnavailable, err)
	}
	return rec, nil
}

// Delete removes the record under tokenHash; a missing record is not an
// error.
func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("%w: delete: %v", session.ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForIdentity removes every session of identityID and reports how
// many were removed.
func (s *SessionStore) DeleteAllForIdentity(ctx context.Context, identityID string) (int, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete all: %v", session.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired prunes every lapsed record.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", session.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) scanOne(row pgx.Row) (*session.Record, error) {
	var rec session.Record
	err := row.Scan(&rec.TokenHash, &rec.IdentityID, &rec.ExpiresAt, &rec.RememberMe, &rec.CreatedAt, &rec.IP, &rec.UserAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan session: %v", session.ErrUnavailable, err)
	}
	return &rec, nil
}
