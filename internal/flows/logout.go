package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cliniccore/clinicauth/internal/audit"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Now func() time.Time

	HashToken     func(raw string) string
	DeleteSession func(ctx context.Context, tokenHash string) error

	Logger *zap.Logger
	Audit  *audit.Dispatcher
}

// RunLogout revokes the refresh session for the presented token. Logout is
// best effort: malformed tokens and store failures are logged, never
// surfaced, so the client can always discard its credentials.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) {
	normalizeLogoutDeps(&deps)
	if deps.HashToken == nil || deps.DeleteSession == nil {
		return
	}
	if refreshToken == "" {
		return
	}

	// Revocation keys off the hash alone, so even a token that no longer
	// decodes still gets its record removed.
	if err := deps.DeleteSession(ctx, deps.HashToken(refreshToken)); err != nil {
		deps.Logger.Warn("logout revocation failed", zap.Error(err))
		return
	}

	deps.Audit.Emit(ctx, audit.Event{
		Timestamp: deps.Now(),
		EventType: audit.TypeLogout,
		Success:   true,
	})
}

func normalizeLogoutDeps(deps *LogoutDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
}
