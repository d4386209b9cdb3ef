package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cliniccore/clinicauth/internal/audit"
	"github.com/cliniccore/clinicauth/internal/metrics"
	"github.com/cliniccore/clinicauth/session"
)

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	IdentityID       string
	Roles            []string
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now func() time.Time

	// DecodeRefresh validates the raw token as a refresh-type credential
	// and returns its subject plus the lifetime it was issued with. The
	// rotated replacement inherits that lifetime, so remember-me sessions
	// keep their longer horizon across rotations.
	DecodeRefresh   func(raw string) (subject string, ttl time.Duration, err error)
	IsDecodeExpired func(error) bool

	IssueRefresh func(identityID string, ttl time.Duration) (string, error)
	IssueAccess  func(identityID string, roles []string) (string, error)
	HashToken    func(raw string) string

	Rotate        func(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*session.Record, error)
	DeleteSession func(ctx context.Context, tokenHash string) error

	GetIdentityByID    func(ctx context.Context, id string) (IdentityRecord, error)
	IsIdentityNotFound func(error) bool

	Logger  *zap.Logger
	Audit   *audit.Dispatcher
	Metrics *metrics.Metrics
	Errors  Errors
}

// RunRefresh rotates a refresh token: the presented token is consumed
// atomically and a fresh pair is issued. A token that was already rotated
// (reuse, including the loser of a concurrent race) is rejected as invalid.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*RefreshResult, error) {
	normalizeRefreshDeps(&deps)
	if deps.DecodeRefresh == nil ||
		deps.IssueRefresh == nil ||
		deps.IssueAccess == nil ||
		deps.HashToken == nil ||
		deps.Rotate == nil ||
		deps.DeleteSession == nil ||
		deps.GetIdentityByID == nil {
		return nil, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer deps.Metrics.ObserveFlow("refresh", start)

	subject, ttl, err := deps.DecodeRefresh(refreshToken)
	if err != nil {
		reason := metrics.RefreshInvalid
		if deps.IsDecodeExpired(err) {
			reason = metrics.RefreshExpired
		}
		deps.Metrics.RefreshRejected(reason)
		deps.Audit.Emit(ctx, refreshEvent("", deps.Errors.TokenInvalid, reason, deps))
		return nil, deps.Errors.TokenInvalid
	}

	next, err := deps.IssueRefresh(subject, ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: issue refresh token: %v", deps.Errors.Internal, err)
	}

	expiresAt := deps.Now().Add(ttl)
	rec, err := deps.Rotate(ctx, deps.HashToken(refreshToken), deps.HashToken(next), expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			// Unknown hash: never registered, already rotated, or revoked.
			deps.Metrics.RefreshRejected(metrics.RefreshReused)
			deps.Audit.Emit(ctx, refreshEvent(subject, deps.Errors.TokenInvalid, "unknown_or_reused", deps))
			return nil, deps.Errors.TokenInvalid
		case errors.Is(err, session.ErrExpired):
			deps.Metrics.RefreshRejected(metrics.RefreshExpired)
			deps.Audit.Emit(ctx, refreshEvent(subject, deps.Errors.TokenExpired, "session_expired", deps))
			return nil, deps.Errors.TokenExpired
		default:
			return nil, fmt.Errorf("%w: rotate refresh session: %v", deps.Errors.Internal, err)
		}
	}

	identity, err := deps.GetIdentityByID(ctx, rec.IdentityID)
	if err != nil {
		if deps.IsIdentityNotFound(err) {
			_ = deps.DeleteSession(ctx, rec.TokenHash)
			deps.Metrics.RefreshRejected(metrics.RefreshInvalid)
			deps.Audit.Emit(ctx, refreshEvent(rec.IdentityID, deps.Errors.TokenInvalid, "identity_gone", deps))
			return nil, deps.Errors.TokenInvalid
		}
		return nil, fmt.Errorf("%w: identity lookup: %v", deps.Errors.Internal, err)
	}
	if !identity.Active || !identity.EmailVerified {
		_ = deps.DeleteSession(ctx, rec.TokenHash)
		deps.Metrics.RefreshRejected(metrics.RefreshInvalid)
		deps.Audit.Emit(ctx, refreshEvent(identity.ID, deps.Errors.AccountDisabled, "account_disabled", deps))
		return nil, deps.Errors.AccountDisabled
	}

	access, err := deps.IssueAccess(identity.ID, identity.Roles)
	if err != nil {
		return nil, fmt.Errorf("%w: issue access token: %v", deps.Errors.Internal, err)
	}

	deps.Metrics.RefreshRotated()
	deps.Audit.Emit(ctx, audit.Event{
		Timestamp:  deps.Now(),
		EventType:  audit.TypeTokenRefreshed,
		IdentityID: identity.ID,
		Success:    true,
	})

	return &RefreshResult{
		IdentityID:       identity.ID,
		Roles:            identity.Roles,
		AccessToken:      access,
		RefreshToken:     next,
		RefreshExpiresAt: expiresAt,
	}, nil
}

func refreshEvent(identityID string, cause error, reason string, deps RefreshDeps) audit.Event {
	event := audit.Event{
		Timestamp:  deps.Now(),
		EventType:  audit.TypeRefreshRejected,
		IdentityID: identityID,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if reason != "" {
		event.Metadata = map[string]string{"reason": reason}
	}
	return event
}

func normalizeRefreshDeps(deps *RefreshDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsDecodeExpired == nil {
		deps.IsDecodeExpired = func(error) bool { return false }
	}
	if deps.IsIdentityNotFound == nil {
		deps.IsIdentityNotFound = func(error) bool { return false }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
}
