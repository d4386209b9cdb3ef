// Package token implements the signed bearer-token codec used for access and
// refresh credentials. The codec is pure and stateless: issuing embeds a fresh
// jti and signs with a process-wide HMAC key, decoding verifies signature,
// issuer, and expiry. It is safe for concurrent use.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates access tokens from refresh tokens inside the claims.
type Kind string

const (
	KindAccess  Kind = "ACCESS"
	KindRefresh Kind = "REFRESH"
)

var (
	// ErrMalformed is returned when the token is not a parseable JWS.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when the HMAC does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired is returned when the exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrIssuerMismatch is returned when the iss claim does not match the
	// codec's configured issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
)

// Claims is the fixed claim set carried by every issued token. The claim set
// is closed; dynamic claim maps are deliberately not supported.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	Kind  Kind     `json:"type"`
	jwt.RegisteredClaims
}

// Config holds the immutable signing parameters for a Codec.
type Config struct {
	// SigningKey is the symmetric HMAC-SHA256 key. Rotating it invalidates
	// every outstanding token; there is no dual-key grace window.
	SigningKey []byte
	Issuer     string
}

// Codec issues and decodes signed bearer tokens.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer must not be empty")
	}
	return &Codec{config: cfg}, nil
}

// Issue signs a token of the given kind for subject, embedding a fresh jti,
// iat = now, and exp = now + ttl.
func (c *Codec) Issue(subject string, kind Kind, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.SigningKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, issuer, and expiry, and returns the claims.
// Failures map to exactly one of ErrMalformed, ErrSignatureInvalid,
// ErrExpired, or ErrIssuerMismatch.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.config.Issuer),
		jwt.WithExpirationRequired(),
	)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.config.SigningKey, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	default:
		return ErrMalformed
	}
}
