package clinicauth

import (
	"errors"
	"time"

	"github.com/cliniccore/clinicauth/lockout"
	"github.com/cliniccore/clinicauth/password"
)

// Config carries every tunable of the engine. The env tags let a host
// process populate it straight from the environment with cleanenv; library
// embedders can fill the struct directly.
type Config struct {
	Token         TokenConfig
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
}

// TokenConfig configures the codec and token lifetimes.
type TokenConfig struct {
	// SigningKey is the process-wide HMAC secret, at least 32 bytes.
	// Rotating it invalidates every outstanding token.
	SigningKey string        `env:"CLINICAUTH_SIGNING_KEY"`
	Issuer     string        `env:"CLINICAUTH_ISSUER" env-default:"clinic-management-system"`
	AccessTTL  time.Duration `env:"CLINICAUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `env:"CLINICAUTH_REFRESH_TTL" env-default:"24h"`
	// RememberMeTTL replaces RefreshTTL when the login asks to be
	// remembered.
	RememberMeTTL time.Duration `env:"CLINICAUTH_REMEMBER_ME_TTL" env-default:"720h"`
}

// SessionConfig configures the refresh-token registry.
type SessionConfig struct {
	RedisPrefix string `env:"CLINICAUTH_SESSION_PREFIX" env-default:"clinicauth"`
	// SweepInterval is how often expired records are pruned. Zero disables
	// the sweep; correctness never depends on it.
	SweepInterval time.Duration `env:"CLINICAUTH_SESSION_SWEEP_INTERVAL" env-default:"10m"`
}

// PasswordConfig mirrors the Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 `env:"CLINICAUTH_PASSWORD_MEMORY_KB" env-default:"65536"`
	Time        uint32 `env:"CLINICAUTH_PASSWORD_TIME" env-default:"2"`
	Parallelism uint8  `env:"CLINICAUTH_PASSWORD_PARALLELISM" env-default:"2"`
	SaltLength  uint32 `env:"CLINICAUTH_PASSWORD_SALT_LENGTH" env-default:"16"`
	KeyLength   uint32 `env:"CLINICAUTH_PASSWORD_KEY_LENGTH" env-default:"32"`
}

// LockoutConfig configures the progressive login lockout.
type LockoutConfig struct {
	Threshold int           `env:"CLINICAUTH_LOCKOUT_THRESHOLD" env-default:"5"`
	Duration  time.Duration `env:"CLINICAUTH_LOCKOUT_DURATION" env-default:"15m"`
}

// PasswordResetConfig configures the reset-token lifetime.
type PasswordResetConfig struct {
	TokenTTL time.Duration `env:"CLINICAUTH_RESET_TTL" env-default:"1h"`
}

// AuditConfig configures the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"CLINICAUTH_AUDIT_ENABLED" env-default:"true"`
	BufferSize int  `env:"CLINICAUTH_AUDIT_BUFFER" env-default:"256"`
	DropIfFull bool `env:"CLINICAUTH_AUDIT_DROP_IF_FULL" env-default:"true"`
}

// DefaultConfig returns the production defaults with an empty signing key;
// the key must be supplied before New accepts the config.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	policy := lockout.DefaultPolicy()
	return Config{
		Token: TokenConfig{
			Issuer:        "clinic-management-system",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:   "clinicauth",
			SweepInterval: 10 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
		Lockout: LockoutConfig{
			Threshold: policy.Threshold,
			Duration:  policy.Duration,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if len(c.Token.SigningKey) < 32 {
		return errors.New("config: signing key must be at least 32 bytes")
	}
	if c.Token.Issuer == "" {
		return errors.New("config: issuer must be set")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.Token.RememberMeTTL < c.Token.RefreshTTL {
		return errors.New("config: remember-me TTL must not be shorter than the refresh TTL")
	}
	if c.Lockout.Threshold < 0 || c.Lockout.Duration < 0 {
		return errors.New("config: lockout threshold and duration must not be negative")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("config: reset token TTL must be positive")
	}
	return nil
}

func (c Config) lockoutPolicy() lockout.Policy {
	return lockout.Policy{Threshold: c.Lockout.Threshold, Duration: c.Lockout.Duration}
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}
