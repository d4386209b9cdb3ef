package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	clinicauth "github.com/cliniccore/clinicauth"
	"github.com/cliniccore/clinicauth/session"
)

var errMwIdentityNotFound = errors.New("identity not found")

type staticIdentityStore struct {
	mu       sync.Mutex
	identity *clinicauth.Identity
}

func (s *staticIdentityStore) GetByEmail(_ context.Context, email string) (*clinicauth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && strings.EqualFold(s.identity.Email, email) {
		clone := *s.identity
		return &clone, nil
	}
	return nil, errMwIdentityNotFound
}

func (s *staticIdentityStore) GetByID(_ context.Context, id string) (*clinicauth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.identity.ID == id {
		clone := *s.identity
		return &clone, nil
	}
	return nil, errMwIdentityNotFound
}

func (s *staticIdentityStore) GetByResetToken(_ context.Context, token string) (*clinicauth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.identity.ResetToken != nil && *s.identity.ResetToken == token {
		clone := *s.identity
		return &clone, nil
	}
	return nil, errMwIdentityNotFound
}

func (s *staticIdentityStore) RecordLoginFailure(context.Context, string, int, time.Duration) (bool, time.Time, error) {
	return false, time.Time{}, nil
}

func (s *staticIdentityStore) RecordLoginSuccess(context.Context, string, time.Time) error {
	return nil
}

func (s *staticIdentityStore) SaveResetToken(context.Context, string, string, time.Time) error {
	return nil
}

func (s *staticIdentityStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil || s.identity.ID != id {
		return errMwIdentityNotFound
	}
	s.identity.PasswordHash = passwordHash
	s.identity.ResetToken = nil
	s.identity.ResetTokenExpires = nil
	return nil
}

func (s *staticIdentityStore) IsNotFound(err error) bool {
	return errors.Is(err, errMwIdentityNotFound)
}

func newGuardedEngine(t *testing.T) (*clinicauth.Engine, string) {
	t.Helper()
	cfg := clinicauth.DefaultConfig()
	cfg.Token.SigningKey = "0123456789abcdef0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	store := &staticIdentityStore{}
	engine, err := clinicauth.New(cfg, store, session.NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)

	// Seed through the engine so the hash matches its hasher parameters.
	plaintext := seedPassword(t, engine, store)

	result, err := engine.Login(context.Background(), "dr.lee@clinic.test", plaintext, false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return engine, result.AccessToken
}

// seedPassword installs a known identity and returns the plaintext password.
func seedPassword(t *testing.T, engine *clinicauth.Engine, store *staticIdentityStore) string {
	t.Helper()
	const plaintext = "secret123"

	// Drive the hasher through the reset flow so the test does not reach
	// into engine internals: install a throwaway hash first, then redeem.
	store.mu.Lock()
	store.identity = &clinicauth.Identity{
		ID:            "id-lee",
		Email:         "dr.lee@clinic.test",
		PasswordHash:  "$argon2id$placeholder",
		Roles:         []string{"DOCTOR"},
		Active:        true,
		EmailVerified: true,
	}
	store.mu.Unlock()

	resetToken := "seed-reset-token"
	expires := time.Now().Add(time.Hour)
	store.mu.Lock()
	store.identity.ResetToken = &resetToken
	store.identity.ResetTokenExpires = &expires
	store.mu.Unlock()

	if err := engine.RedeemPasswordReset(context.Background(), resetToken, plaintext); err != nil {
		t.Fatalf("seed password: %v", err)
	}
	return plaintext
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "no claims", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(claims.IdentityID))
	})
}

func TestGuardAcceptsValidToken(t *testing.T) {
	engine, access := newGuardedEngine(t)
	handler := Guard(engine)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "id-lee" {
		t.Fatalf("body = %q, want identity id", got)
	}
}

func TestGuardRejections(t *testing.T) {
	engine, _ := newGuardedEngine(t)
	handler := Guard(engine)(okHandler())

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	engine, access := newGuardedEngine(t)

	allowed := Guard(engine)(RequireRole("DOCTOR")(okHandler()))
	denied := Guard(engine)(RequireRole("ADMIN")(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+access)

	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, req.Clone(req.Context()))
	if rec.Code != http.StatusOK {
		t.Fatalf("matching role: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req.Clone(req.Context()))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing role: status = %d, want 403", rec.Code)
	}
}
