package clinicauth

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cliniccore/clinicauth/internal/audit"
	"github.com/cliniccore/clinicauth/internal/flows"
	"github.com/cliniccore/clinicauth/internal/metrics"
	"github.com/cliniccore/clinicauth/password"
	"github.com/cliniccore/clinicauth/session"
	"github.com/cliniccore/clinicauth/token"
)

// Engine orchestrates the authentication flows. Build one with New at
// startup and treat it as immutable; all methods are safe for concurrent
// use.
type Engine struct {
	config      Config
	codec       *token.Codec
	hasher      *password.Hasher
	identities  IdentityStore
	sessions    session.Store
	notifier    Notifier
	logger      *zap.Logger
	metrics     *metrics.Metrics
	audit       *audit.Dispatcher
	auditWriter io.Writer
	deps        flows.Deps
}

// Option customizes an Engine under construction.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotifier sets the password-reset notification collaborator. Without
// one, reset requests are honored but the token is only logged.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetricsRegistry registers the engine's Prometheus collectors with
// reg. Without this option the engine records no metrics.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = metrics.New(reg) }
}

// WithAuditWriter streams audit events as JSON lines to w instead of the
// logger.
func WithAuditWriter(w io.Writer) Option {
	return func(e *Engine) { e.auditWriter = w }
}

// New validates cfg and wires the engine from its collaborators.
func New(cfg Config, identities IdentityStore, sessions session.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if identities == nil || sessions == nil {
		return nil, ErrEngineNotReady
	}

	codec, err := token.NewCodec(token.Config{
		SigningKey: []byte(cfg.Token.SigningKey),
		Issuer:     cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}
	hasher, err := password.New(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		codec:      codec,
		hasher:     hasher,
		identities: identities,
		sessions:   sessions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = NotifierFunc(func(_ context.Context, email, _ string) error {
			e.logger.Info("password reset requested, no notifier configured", zap.String("email", email))
			return nil
		})
	}

	if cfg.Audit.Enabled {
		var sink audit.Sink = audit.NewZapSink(e.logger)
		if e.auditWriter != nil {
			sink = audit.NewJSONWriterSink(e.auditWriter)
		}
		e.audit = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	e.deps = e.buildDeps()
	return e, nil
}

// Login authenticates the credentials and issues a fresh token pair,
// replacing any prior refresh sessions for the identity.
func (e *Engine) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := flows.RunLogin(ctx, email, password, rememberMe, e.deps.Login)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		TokenPair: e.tokenPair(result.AccessToken, result.RefreshToken),
		Identity: IdentitySummary{
			ID:            result.IdentityID,
			Email:         result.Email,
			FirstName:     result.FirstName,
			LastName:      result.LastName,
			Roles:         result.Roles,
			EmailVerified: result.EmailVerified,
			LastLogin:     result.LastLogin,
		},
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The presented
// token is consumed; presenting it again fails with ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := flows.RunRefresh(ctx, refreshToken, e.deps.Refresh)
	if err != nil {
		return nil, err
	}
	pair := e.tokenPair(result.AccessToken, result.RefreshToken)
	return &pair, nil
}

// Logout revokes the refresh session for the token, best effort. It never
// fails the caller.
func (e *Engine) Logout(ctx context.Context, refreshToken string) {
	if e == nil {
		return
	}
	flows.RunLogout(ctx, refreshToken, e.deps.Logout)
}

// RequestPasswordReset issues a reset token and hands it to the notifier.
// Unknown emails succeed silently.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunRequestReset(ctx, email, e.deps.Reset)
}

// RedeemPasswordReset consumes a reset token, stores the new password, and
// revokes every refresh session of the identity.
func (e *Engine) RedeemPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunRedeemReset(ctx, resetToken, newPassword, e.deps.Reset)
}

// ValidateAccess verifies an access token and returns its claims. The check
// is purely cryptographic; access tokens are never tracked server-side.
func (e *Engine) ValidateAccess(tokenStr string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.Decode(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Kind != token.KindAccess {
		return nil, ErrTokenInvalid
	}
	return &AccessClaims{
		IdentityID: claims.Subject,
		Roles:      claims.Roles,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// SweepExpiredSessions prunes lapsed refresh session records. Housekeeping
// only; request-path correctness never depends on it.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.DeleteExpired(ctx)
}

// RunSweeper runs the expiry sweep at the configured interval until ctx is
// canceled. A non-positive interval disables it.
func (e *Engine) RunSweeper(ctx context.Context) {
	if e == nil || e.config.Session.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.config.Session.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := e.SweepExpiredSessions(ctx)
			if err != nil {
				e.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				e.logger.Debug("session sweep", zap.Int("removed", removed))
			}
		}
	}
}

// AuditDropped reports how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes the audit pipeline.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) tokenPair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.Token.AccessTTL.Seconds()),
	}
}

func (e *Engine) buildDeps() flows.Deps {
	errs := flows.Errors{
		EngineNotReady:       ErrEngineNotReady,
		AuthenticationFailed: ErrAuthenticationFailed,
		AccountDisabled:      ErrAccountDisabled,
		TokenInvalid:         ErrTokenInvalid,
		TokenExpired:         ErrTokenExpired,
		Validation:           ErrValidation,
		Internal:             ErrInternal,
		AccountLocked: func(unlockAt time.Time) error {
			return &AccountLockedError{UnlockAt: unlockAt}
		},
	}

	getByEmail := func(ctx context.Context, email string) (flows.IdentityRecord, error) {
		identity, err := e.identities.GetByEmail(ctx, email)
		if err != nil {
			return flows.IdentityRecord{}, err
		}
		return toFlowIdentity(identity), nil
	}
	getByID := func(ctx context.Context, id string) (flows.IdentityRecord, error) {
		identity, err := e.identities.GetByID(ctx, id)
		if err != nil {
			return flows.IdentityRecord{}, err
		}
		return toFlowIdentity(identity), nil
	}
	issueAccess := func(identityID string, roles []string) (string, error) {
		return e.codec.Issue(identityID, token.KindAccess, roles, e.config.Token.AccessTTL)
	}
	issueRefresh := func(identityID string, ttl time.Duration) (string, error) {
		return e.codec.Issue(identityID, token.KindRefresh, nil, ttl)
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			Policy:               e.config.lockoutPolicy(),
			RefreshTTL:           e.config.Token.RefreshTTL,
			RememberTTL:          e.config.Token.RememberMeTTL,
			ClientIPFromContext:  clientIPFromContext,
			UserAgentFromContext: userAgentFromContext,
			GetIdentityByEmail:   getByEmail,
			IsIdentityNotFound:   e.identities.IsNotFound,
			VerifyPassword:       e.hasher.Verify,
			RecordLoginFailure: func(ctx context.Context, id string) (bool, time.Time, error) {
				return e.identities.RecordLoginFailure(ctx, id, e.config.Lockout.Threshold, e.config.Lockout.Duration)
			},
			RecordLoginSuccess: func(ctx context.Context, id string) error {
				return e.identities.RecordLoginSuccess(ctx, id, time.Now())
			},
			IssueAccess:    issueAccess,
			IssueRefresh:   issueRefresh,
			HashToken:      token.Hash,
			DeleteSessions: e.sessions.DeleteAllForIdentity,
			SaveSession:    e.sessions.Save,
			Logger:         e.logger,
			Audit:          e.audit,
			Metrics:        e.metrics,
			Errors:         errs,
		},
		Refresh: flows.RefreshDeps{
			DecodeRefresh: func(raw string) (string, time.Duration, error) {
				claims, err := e.codec.Decode(raw)
				if err != nil {
					return "", 0, err
				}
				// iat is needed to recover the issued lifetime; a signed
				// token without it is not one of ours.
				if claims.Kind != token.KindRefresh || claims.IssuedAt == nil || claims.ExpiresAt == nil {
					return "", 0, token.ErrMalformed
				}
				return claims.Subject, claims.ExpiresAt.Sub(claims.IssuedAt.Time), nil
			},
			IsDecodeExpired: func(err error) bool {
				return errors.Is(err, token.ErrExpired)
			},
			IssueRefresh:       issueRefresh,
			IssueAccess:        issueAccess,
			HashToken:          token.Hash,
			Rotate:             e.sessions.Rotate,
			DeleteSession:      e.sessions.Delete,
			GetIdentityByID:    getByID,
			IsIdentityNotFound: e.identities.IsNotFound,
			Logger:             e.logger,
			Audit:              e.audit,
			Metrics:            e.metrics,
			Errors:             errs,
		},
		Logout: flows.LogoutDeps{
			HashToken:     token.Hash,
			DeleteSession: e.sessions.Delete,
			Logger:        e.logger,
			Audit:         e.audit,
		},
		Reset: flows.ResetDeps{
			ResetTTL:           e.config.PasswordReset.TokenTTL,
			NewResetToken:      uuid.NewString,
			GetIdentityByEmail: getByEmail,
			IsIdentityNotFound: e.identities.IsNotFound,
			SaveResetToken:     e.identities.SaveResetToken,
			GetIdentityByResetToken: func(ctx context.Context, resetToken string) (flows.ResetRecord, error) {
				identity, err := e.identities.GetByResetToken(ctx, resetToken)
				if err != nil {
					return flows.ResetRecord{}, err
				}
				rec := flows.ResetRecord{Identity: toFlowIdentity(identity)}
				if identity.ResetTokenExpires != nil {
					rec.ExpiresAt = *identity.ResetTokenExpires
				}
				return rec, nil
			},
			IsResetNotFound: e.identities.IsNotFound,
			HashPassword:    e.hasher.Hash,
			UpdatePassword:  e.identities.UpdatePassword,
			DeleteSessions:  e.sessions.DeleteAllForIdentity,
			Notify:          e.notifier.SendPasswordReset,
			Logger:          e.logger,
			Audit:           e.audit,
			Metrics:         e.metrics,
			Errors:          errs,
		},
	}
}

func toFlowIdentity(identity *Identity) flows.IdentityRecord {
	return flows.IdentityRecord{
		ID:            identity.ID,
		Email:         identity.Email,
		FirstName:     identity.FirstName,
		LastName:      identity.LastName,
		PasswordHash:  identity.PasswordHash,
		Roles:         identity.Roles,
		Active:        identity.Active,
		EmailVerified: identity.EmailVerified,
		FailedLogins:  identity.FailedLogins,
		LockedUntil:   identity.LockedUntil,
		LastLogin:     identity.LastLogin,
	}
}
