package clinicauth

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"short signing key", func(c *Config) { c.Token.SigningKey = "short" }, "signing key"},
		{"empty issuer", func(c *Config) { c.Token.Issuer = "" }, "issuer"},
		{"zero access ttl", func(c *Config) { c.Token.AccessTTL = 0 }, "TTLs"},
		{"negative refresh ttl", func(c *Config) { c.Token.RefreshTTL = -time.Hour }, "TTLs"},
		{"remember-me shorter than refresh", func(c *Config) { c.Token.RememberMeTTL = time.Hour; c.Token.RefreshTTL = 24 * time.Hour }, "remember-me"},
		{"negative lockout threshold", func(c *Config) { c.Lockout.Threshold = -1 }, "lockout"},
		{"zero reset ttl", func(c *Config) { c.PasswordReset.TokenTTL = 0 }, "reset token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDefaultConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Token.SigningKey != "" {
		t.Fatal("default config must not ship a signing key")
	}
	if cfg.Token.AccessTTL != 15*time.Minute || cfg.Token.RefreshTTL != 24*time.Hour {
		t.Fatalf("unexpected token TTLs: %+v", cfg.Token)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Duration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Lockout)
	}
	if cfg.PasswordReset.TokenTTL != time.Hour {
		t.Fatalf("unexpected reset TTL: %v", cfg.PasswordReset.TokenTTL)
	}
}
