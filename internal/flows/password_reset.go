package flows

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cliniccore/clinicauth/internal/audit"
	"github.com/cliniccore/clinicauth/internal/metrics"
)

// ResetRecord pairs an identity with its pending reset token expiry.
type ResetRecord struct {
	Identity  IdentityRecord
	ExpiresAt time.Time
}

// ResetDeps captures password-reset flow dependencies.
type ResetDeps struct {
	ResetTTL time.Duration
	Now      func() time.Time

	NewResetToken func() string

	GetIdentityByEmail func(ctx context.Context, email string) (IdentityRecord, error)
	IsIdentityNotFound func(error) bool

	// SaveResetToken stores the token against the identity, replacing any
	// pending one.
	SaveResetToken          func(ctx context.Context, identityID, token string, expiresAt time.Time) error
	GetIdentityByResetToken func(ctx context.Context, token string) (ResetRecord, error)
	IsResetNotFound         func(error) bool

	HashPassword func(password string) (string, error)
	// UpdatePassword stores the new hash and clears the reset token fields.
	UpdatePassword func(ctx context.Context, identityID, newHash string) error
	DeleteSessions func(ctx context.Context, identityID string) (int, error)

	// Notify delivers the reset token to the account's email. Failures are
	// logged, never surfaced.
	Notify func(ctx context.Context, email, token string) error

	Logger  *zap.Logger
	Audit   *audit.Dispatcher
	Metrics *metrics.Metrics
	Errors  Errors
}

// RunRequestReset issues a reset token for the account, if it exists. An
// unknown email reports success all the same, so the endpoint cannot be used
// to probe which addresses are registered.
func RunRequestReset(ctx context.Context, email string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if deps.NewResetToken == nil ||
		deps.GetIdentityByEmail == nil ||
		deps.SaveResetToken == nil ||
		deps.Notify == nil {
		return deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer deps.Metrics.ObserveFlow("reset_request", start)

	if email == "" {
		return deps.Errors.Validation
	}

	identity, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if deps.IsIdentityNotFound(err) {
			deps.Audit.Emit(ctx, audit.Event{
				Timestamp: deps.Now(),
				EventType: audit.TypeResetRequested,
				Email:     email,
				Success:   true,
				Metadata:  map[string]string{"enumeration_safe": "true"},
			})
			return nil
		}
		return fmt.Errorf("%w: identity lookup: %v", deps.Errors.Internal, err)
	}

	token := deps.NewResetToken()
	expiresAt := deps.Now().Add(deps.ResetTTL)
	if err := deps.SaveResetToken(ctx, identity.ID, token, expiresAt); err != nil {
		return fmt.Errorf("%w: save reset token: %v", deps.Errors.Internal, err)
	}

	if err := deps.Notify(ctx, identity.Email, token); err != nil {
		deps.Logger.Warn("reset notification failed", zap.String("identity_id", identity.ID), zap.Error(err))
	}

	deps.Metrics.ResetRequested()
	deps.Audit.Emit(ctx, audit.Event{
		Timestamp:  deps.Now(),
		EventType:  audit.TypeResetRequested,
		IdentityID: identity.ID,
		Email:      identity.Email,
		Success:    true,
	})
	return nil
}

// RunRedeemReset consumes a reset token and sets the new password. Every
// live refresh session for the identity is revoked before the credential
// changes hands.
func RunRedeemReset(ctx context.Context, token, newPassword string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if deps.GetIdentityByResetToken == nil ||
		deps.HashPassword == nil ||
		deps.UpdatePassword == nil ||
		deps.DeleteSessions == nil {
		return deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer deps.Metrics.ObserveFlow("reset_redeem", start)

	if token == "" {
		return deps.Errors.TokenInvalid
	}
	if newPassword == "" {
		return deps.Errors.Validation
	}

	rec, err := deps.GetIdentityByResetToken(ctx, token)
	if err != nil {
		if deps.IsResetNotFound(err) {
			deps.Audit.Emit(ctx, resetRedeemFailure("", deps.Errors.TokenInvalid, deps))
			return deps.Errors.TokenInvalid
		}
		return fmt.Errorf("%w: reset token lookup: %v", deps.Errors.Internal, err)
	}

	if !rec.ExpiresAt.After(deps.Now()) {
		deps.Audit.Emit(ctx, resetRedeemFailure(rec.Identity.ID, deps.Errors.TokenExpired, deps))
		return deps.Errors.TokenExpired
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Validation, err)
	}

	// Revoke sessions first: once the password change is visible, no token
	// issued under the old credential may remain redeemable.
	revoked, err := deps.DeleteSessions(ctx, rec.Identity.ID)
	if err != nil {
		return fmt.Errorf("%w: revoke sessions: %v", deps.Errors.Internal, err)
	}
	deps.Metrics.SessionsRevoked(revoked)

	if err := deps.UpdatePassword(ctx, rec.Identity.ID, newHash); err != nil {
		return fmt.Errorf("%w: update password: %v", deps.Errors.Internal, err)
	}

	deps.Metrics.ResetRedeemed()
	deps.Audit.Emit(ctx, audit.Event{
		Timestamp:  deps.Now(),
		EventType:  audit.TypeResetRedeemed,
		IdentityID: rec.Identity.ID,
		Email:      rec.Identity.Email,
		Success:    true,
		Metadata:   map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})
	return nil
}

func resetRedeemFailure(identityID string, cause error, deps ResetDeps) audit.Event {
	return audit.Event{
		Timestamp:  deps.Now(),
		EventType:  audit.TypeResetRedeemed,
		IdentityID: identityID,
		Error:      cause.Error(),
	}
}

func normalizeResetDeps(deps *ResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ResetTTL <= 0 {
		deps.ResetTTL = time.Hour
	}
	if deps.IsIdentityNotFound == nil {
		deps.IsIdentityNotFound = func(error) bool { return false }
	}
	if deps.IsResetNotFound == nil {
		deps.IsResetNotFound = func(error) bool { return false }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
}
