// Package session is the refresh-token registry. Each issued refresh token
// is tracked as a Record keyed by the SHA-256 hash of the raw token, so a
// stolen store dump never yields usable tokens. Stores implement atomic
// rotation: redeeming a refresh token replaces its record under the new
// token's hash in a single step, which makes every token single-use and lets
// concurrent redeemers of the same token race to exactly one winner.
package session

import "time"

// Record is one live refresh token.
type Record struct {
	// TokenHash is the SHA-256 hash of the raw refresh token, base64url
	// encoded. It is the primary key; the raw token is never stored.
	TokenHash  string
	IdentityID string
	ExpiresAt  time.Time
	RememberMe bool
	CreatedAt  time.Time

	// Client metadata captured at login, kept for audit trails.
	IP        string
	UserAgent string
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}
