// Package flows holds the authentication flow logic free of root package
// dependencies. Each flow receives its collaborators through a Deps struct
// built once by the engine, so the flows stay testable with plain fakes and
// the root package keeps the public API surface.
package flows

import (
	"time"
)

// Errors carries the host-level sentinel errors the flows return. The root
// package owns the error values; flows only select which one applies.
type Errors struct {
	EngineNotReady       error
	AuthenticationFailed error
	AccountDisabled      error
	TokenInvalid         error
	TokenExpired         error
	Validation           error
	Internal             error

	// AccountLocked builds the lockout error carrying the unlock time.
	AccountLocked func(unlockAt time.Time) error
}

// Deps groups the per-flow dependency sets. The engine builds this once and
// delegates each request method to the matching Run function.
type Deps struct {
	Login   LoginDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
	Reset   ResetDeps
}
