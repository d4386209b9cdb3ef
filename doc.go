// Package clinicauth is the authentication subsystem of the clinic
// management backend. It issues and validates JWT access/refresh token
// pairs, enforces a progressive login-lockout policy, tracks refresh tokens
// in a revocable registry with single-use rotation, and runs the
// email-based password-reset flow.
//
// The Engine is the single entry point. It is wired from an IdentityStore
// (credential records), a session.Store (refresh-token registry), and a
// Config; everything else (hashing, token codec, audit, metrics) is built
// internally.
package clinicauth
