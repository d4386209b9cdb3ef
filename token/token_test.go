package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "clinic-management-system",
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c
}

func TestNewCodecRejectsWeakConfig(t *testing.T) {
	if _, err := NewCodec(Config{SigningKey: []byte("short"), Issuer: "x"}); err == nil {
		t.Fatal("expected error for short signing key")
	}
	if _, err := NewCodec(Config{SigningKey: make([]byte, 32)}); err == nil {
		t.Fatal("expected error for empty issuer")
	}
}

func TestIssueDecodeRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	raw, err := c.Issue("user-42", KindAccess, []string{"DOCTOR", "ADMIN"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if parts := strings.Split(raw, "."); len(parts) != 3 {
		t.Fatalf("expected three-part token, got %d parts", len(parts))
	}

	claims, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("subject = %q, want user-42", claims.Subject)
	}
	if claims.Kind != KindAccess {
		t.Errorf("kind = %q, want ACCESS", claims.Kind)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "DOCTOR" {
		t.Errorf("roles = %v, want [DOCTOR ADMIN]", claims.Roles)
	}
	if claims.ID == "" {
		t.Error("expected non-empty jti")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		t.Error("expected exp > iat")
	}
}

func TestFreshJTIPerToken(t *testing.T) {
	c := newTestCodec(t)

	a, _ := c.Issue("u1", KindRefresh, nil, time.Hour)
	b, _ := c.Issue("u1", KindRefresh, nil, time.Hour)
	if a == b {
		t.Fatal("expected distinct tokens for identical inputs")
	}
	ca, _ := c.Decode(a)
	cb, _ := c.Decode(b)
	if ca.ID == cb.ID {
		t.Fatal("expected distinct jti values")
	}
}

func TestDecodeZeroTTLExpired(t *testing.T) {
	c := newTestCodec(t)

	raw, err := c.Issue("u1", KindAccess, nil, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Decode(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	c := newTestCodec(t)

	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := c.Decode(raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestDecodeSignatureInvalid(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec(Config{
		SigningKey: []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:     "clinic-management-system",
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	raw, _ := other.Issue("u1", KindAccess, nil, time.Minute)
	if _, err := c.Decode(raw); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestDecodeIssuerMismatch(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec(Config{
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "some-other-service",
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	raw, _ := other.Issue("u1", KindAccess, nil, time.Minute)
	if _, err := c.Decode(raw); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("expected ErrIssuerMismatch, got %v", err)
	}
}

func TestHashStable(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Fatal("expected deterministic hash")
	}
	if Hash("abc") == Hash("abd") {
		t.Fatal("expected distinct hashes for distinct inputs")
	}
	if strings.ContainsAny(Hash("abc"), "+/=") {
		t.Fatal("expected URL-safe encoding")
	}
}
