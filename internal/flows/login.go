package flows

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cliniccore/clinicauth/internal/audit"
	"github.com/cliniccore/clinicauth/internal/metrics"
	"github.com/cliniccore/clinicauth/lockout"
	"github.com/cliniccore/clinicauth/session"
)

// IdentityRecord is the flow-local identity model shared by the login,
// refresh, and reset flows.
type IdentityRecord struct {
	ID            string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	Roles         []string
	Active        bool
	EmailVerified bool
	FailedLogins  int
	LockedUntil   *time.Time
	LastLogin     *time.Time
}

// LoginResult carries the issued token pair plus the identity summary
// returned to the client.
type LoginResult struct {
	IdentityID       string
	Email            string
	FirstName        string
	LastName         string
	Roles            []string
	EmailVerified    bool
	LastLogin        *time.Time
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Policy      lockout.Policy
	RefreshTTL  time.Duration
	RememberTTL time.Duration

	Now                  func() time.Time
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	GetIdentityByEmail func(ctx context.Context, email string) (IdentityRecord, error)
	IsIdentityNotFound func(error) bool
	VerifyPassword     func(password, hash string) (bool, error)

	// RecordLoginFailure atomically bumps the failure counter; when the
	// threshold is crossed it sets the lock, resets the counter, and
	// reports the unlock time. The counter the store holds at that instant
	// decides, not a value read earlier in the request.
	RecordLoginFailure func(ctx context.Context, identityID string) (locked bool, unlockAt time.Time, err error)
	// RecordLoginSuccess clears the failure counter and lock and stamps the
	// last login time.
	RecordLoginSuccess func(ctx context.Context, identityID string) error

	IssueAccess  func(identityID string, roles []string) (string, error)
	IssueRefresh func(identityID string, ttl time.Duration) (string, error)
	HashToken    func(raw string) string

	DeleteSessions func(ctx context.Context, identityID string) (int, error)
	SaveSession    func(ctx context.Context, rec *session.Record) error

	Logger  *zap.Logger
	Audit   *audit.Dispatcher
	Metrics *metrics.Metrics
	Errors  Errors
}

// RunLogin authenticates email/password credentials and issues a token pair.
// A successful login replaces any prior refresh sessions for the identity.
func RunLogin(ctx context.Context, email, password string, rememberMe bool, deps LoginDeps) (*LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.GetIdentityByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.RecordLoginFailure == nil ||
		deps.RecordLoginSuccess == nil ||
		deps.IssueAccess == nil ||
		deps.IssueRefresh == nil ||
		deps.HashToken == nil ||
		deps.DeleteSessions == nil ||
		deps.SaveSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer deps.Metrics.ObserveFlow("login", start)

	ip := deps.ClientIPFromContext(ctx)
	userAgent := deps.UserAgentFromContext(ctx)

	if email == "" || password == "" {
		deps.Metrics.LoginAttempt(metrics.LoginRejected)
		deps.Audit.Emit(ctx, loginEvent(audit.TypeLoginFailure, "", email, ip, userAgent, deps.Errors.AuthenticationFailed, "empty_credentials", deps))
		return nil, deps.Errors.AuthenticationFailed
	}

	identity, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if deps.IsIdentityNotFound(err) {
			deps.Metrics.LoginAttempt(metrics.LoginRejected)
			deps.Audit.Emit(ctx, loginEvent(audit.TypeLoginFailure, "", email, ip, userAgent, deps.Errors.AuthenticationFailed, "unknown_email", deps))
			return nil, deps.Errors.AuthenticationFailed
		}
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: identity lookup: %v", deps.Errors.Internal, err)
	}

	if !identity.Active || !identity.EmailVerified {
		deps.Metrics.LoginAttempt(metrics.LoginDisabled)
		deps.Audit.Emit(ctx, loginEvent(audit.TypeLoginFailure, identity.ID, email, ip, userAgent, deps.Errors.AccountDisabled, "account_disabled", deps))
		return nil, deps.Errors.AccountDisabled
	}

	now := deps.Now()
	if deps.Policy.Active(identity.LockedUntil, now) {
		deps.Metrics.LoginAttempt(metrics.LoginLocked)
		lockedErr := deps.Errors.AccountLocked(*identity.LockedUntil)
		deps.Audit.Emit(ctx, loginEvent(audit.TypeLoginFailure, identity.ID, email, ip, userAgent, lockedErr, "account_locked", deps))
		return nil, lockedErr
	}

	ok, err := deps.VerifyPassword(password, identity.PasswordHash)
	if err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: password verification: %v", deps.Errors.Internal, err)
	}
	if !ok {
		locked, unlockAt, recErr := deps.RecordLoginFailure(ctx, identity.ID)
		if recErr != nil {
			// The lockout guarantee rests on this write; an unrecorded
			// failure must not pass as a plain rejection.
			deps.Metrics.LoginAttempt(metrics.LoginError)
			return nil, fmt.Errorf("%w: record login failure: %v", deps.Errors.Internal, recErr)
		}
		deps.Metrics.LoginAttempt(metrics.LoginRejected)
		deps.Audit.Emit(ctx, loginEvent(audit.TypeLoginFailure, identity.ID, email, ip, userAgent, deps.Errors.AuthenticationFailed, "password_mismatch", deps))
		if locked {
			deps.Metrics.Lockout()
			deps.Audit.Emit(ctx, loginEvent(audit.TypeAccountLocked, identity.ID, email, ip, userAgent, nil, "threshold_reached", deps))
			return nil, deps.Errors.AccountLocked(unlockAt)
		}
		return nil, deps.Errors.AuthenticationFailed
	}

	if err := deps.RecordLoginSuccess(ctx, identity.ID); err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: clear login bookkeeping: %v", deps.Errors.Internal, err)
	}

	refreshTTL := deps.RefreshTTL
	if rememberMe {
		refreshTTL = deps.RememberTTL
	}

	refresh, err := deps.IssueRefresh(identity.ID, refreshTTL)
	if err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: issue refresh token: %v", deps.Errors.Internal, err)
	}
	access, err := deps.IssueAccess(identity.ID, identity.Roles)
	if err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: issue access token: %v", deps.Errors.Internal, err)
	}

	// One live refresh session per identity: prior sessions fall away when
	// a new login succeeds.
	revoked, err := deps.DeleteSessions(ctx, identity.ID)
	if err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: revoke prior sessions: %v", deps.Errors.Internal, err)
	}
	deps.Metrics.SessionsRevoked(revoked)

	expiresAt := now.Add(refreshTTL)
	rec := &session.Record{
		TokenHash:  deps.HashToken(refresh),
		IdentityID: identity.ID,
		ExpiresAt:  expiresAt,
		RememberMe: rememberMe,
		CreatedAt:  now,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if err := deps.SaveSession(ctx, rec); err != nil {
		deps.Metrics.LoginAttempt(metrics.LoginError)
		return nil, fmt.Errorf("%w: save refresh session: %v", deps.Errors.Internal, err)
	}

	deps.Metrics.LoginAttempt(metrics.LoginOK)
	event := loginEvent(audit.TypeLoginSuccess, identity.ID, email, ip, userAgent, nil, "", deps)
	event.Success = true
	deps.Audit.Emit(ctx, event)

	return &LoginResult{
		IdentityID:       identity.ID,
		Email:            identity.Email,
		FirstName:        identity.FirstName,
		LastName:         identity.LastName,
		Roles:            identity.Roles,
		EmailVerified:    identity.EmailVerified,
		LastLogin:        identity.LastLogin,
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: expiresAt,
	}, nil
}

func loginEvent(eventType, identityID, email, ip, userAgent string, cause error, reason string, deps LoginDeps) audit.Event {
	event := audit.Event{
		Timestamp:  deps.Now(),
		EventType:  eventType,
		IdentityID: identityID,
		Email:      email,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if reason != "" {
		event.Metadata = map[string]string{"reason": reason}
	}
	return event
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.IsIdentityNotFound == nil {
		deps.IsIdentityNotFound = func(error) bool { return false }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Errors.AccountLocked == nil {
		deps.Errors.AccountLocked = func(time.Time) error { return deps.Errors.AuthenticationFailed }
	}
}
