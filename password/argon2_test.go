package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	// Smallest accepted parameters to keep the test fast.
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestNewRejectsWeakParameters(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"memory", func(c *Config) { c.Memory = 1024 }},
		{"time", func(c *Config) { c.Time = 0 }},
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"salt", func(c *Config) { c.SaltLength = 8 }},
		{"key", func(c *Config) { c.KeyLength = 8 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mut(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	encoded, err := h.Hash("secret123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected PHC prefix: %q", encoded)
	}

	ok, err := h.Verify("secret123", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}

	ok, err = h.Verify("secret124", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h, _ := New(testConfig())

	a, _ := h.Hash("secret123")
	b, _ := h.Hash("secret123")
	if a == b {
		t.Fatal("expected distinct encodings for identical passwords")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h, _ := New(testConfig())
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestVerifyRejectsCorruptEncoding(t *testing.T) {
	h, _ := New(testConfig())

	for _, enc := range []string{
		"",
		"$argon2id$v=19$m=8192,t=1,p=1$notbase64!$x",
		"$bcrypt$v=19$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA==$AAAAAAAAAAAAAAAAAAAAAA==",
	} {
		if _, err := h.Verify("secret123", enc); err == nil {
			t.Errorf("Verify(%q) succeeded, want parse error", enc)
		}
	}
}
