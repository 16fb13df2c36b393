package trustcore

import (
	"errors"
	"time"
)

// Config defines a public type used by trustcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	TwoFactor     TwoFactorConfig
	RememberMe    RememberMeConfig
	Impersonation ImpersonationConfig
	Unlock        UnlockConfig
	Challenge     ChallengeConfig
	RateLimit     RateLimitConfig
	Mail          MailConfig
	Token         TokenConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by trustcore APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	// Duration is the fixed session lifetime measured from the last
	// create/extend. A session older than Duration is treated identically
	// to an absent session by every reader.
	Duration time.Duration
	// SealKey is the 32-byte XChaCha20-Poly1305 key protecting the
	// client-held session record.
	SealKey []byte
	// RedisPrefix namespaces the persisted device records.
	RedisPrefix string
	// TrackDevices persists a device record per interactive session so
	// bearer-token destroy and active-session views work.
	TrackDevices bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by trustcore APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines a public type used by trustcore APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	// Threshold is the failed-attempt count that locks the account.
	Threshold int
	// Duration is how long LockedUntil is pushed into the future.
	Duration time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig defines a public type used by trustcore APIs.
//
// TwoFactorConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TwoFactorConfig struct {
	Enabled bool
	Issuer  string
	Digits  int
	Period  uint
	// QRSize is the pixel width/height of the generated QR PNG.
	QRSize int

	BackupCodeCount  int
	BackupCodeLength int

	// Per-client-address setup throttle, independent of account-level
	// throttling.
	SetupMaxAttempts int
	SetupCooldown    time.Duration
}

/*
====================================
REMEMBER-ME CONFIG
====================================
*/

// RememberMeConfig defines a public type used by trustcore APIs.
//
// RememberMeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RememberMeConfig struct {
	Enabled bool
	// TTL bounds how long an untouched series stays valid.
	TTL time.Duration
}

/*
====================================
IMPERSONATION CONFIG
====================================
*/

// ImpersonationConfig defines a public type used by trustcore APIs.
//
// ImpersonationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ImpersonationConfig struct {
	Enabled bool
	// MaxDuration forcibly ends impersonation regardless of session
	// extension. Checked lazily on every session read.
	MaxDuration time.Duration
}

/*
====================================
ONE-SHOT TOKEN CONFIG
====================================
*/

// TokenKind tags the purpose of a one-shot token. Each kind has its own
// storage slot and expiry so the kinds can never collide.
type TokenKind uint8

const (
	// TokenPasswordReset is an exported constant or variable used by the session-trust engine.
	TokenPasswordReset TokenKind = iota
	// TokenEmailVerification is an exported constant or variable used by the session-trust engine.
	TokenEmailVerification
	// TokenAccountUnlock is an exported constant or variable used by the session-trust engine.
	TokenAccountUnlock
)

// UnlockConfig defines a public type used by trustcore APIs.
//
// UnlockConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type UnlockConfig struct {
	TokenTTL    time.Duration
	MaxAttempts int
}

/*
====================================
LOGIN CHALLENGE CONFIG
====================================
*/

// ChallengeConfig defines a public type used by trustcore APIs.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by trustcore APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	EnableIPThrottle bool

	MaxLoginAttempts int
	LoginCooldown    time.Duration

	MaxUnlockRequests int
	UnlockCooldown    time.Duration
}

/*
====================================
MAIL / BREAKER CONFIG
====================================
*/

// MailConfig defines a public type used by trustcore APIs.
//
// MailConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MailConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

/*
====================================
API TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by trustcore APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	Enabled       bool
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by trustcore APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by trustcore APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Duration:     30 * time.Minute,
			RedisPrefix:  "tc",
			TrackDevices: true,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:          true,
			Issuer:           "trustcore",
			Digits:           6,
			Period:           30,
			QRSize:           256,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			SetupMaxAttempts: 5,
			SetupCooldown:    time.Minute,
		},
		RememberMe: RememberMeConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Impersonation: ImpersonationConfig{
			Enabled:     true,
			MaxDuration: time.Hour,
		},
		Unlock: UnlockConfig{
			TokenTTL:    time.Hour,
			MaxAttempts: 5,
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:  true,
			MaxLoginAttempts:  10,
			LoginCooldown:     time.Minute,
			MaxUnlockRequests: 3,
			UnlockCooldown:    15 * time.Minute,
		},
		Mail: MailConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			ResetTimeout:        time.Minute,
			HalfOpenMaxRequests: 1,
		},
		Token: TokenConfig{
			Enabled:       false,
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.Session.Duration <= 0 {
		return errors.New("Session.Duration must be positive")
	}
	if len(c.Session.SealKey) != 32 {
		return errors.New("Session.SealKey must be exactly 32 bytes")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout.Threshold must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout.Duration must be positive")
	}
	if c.TwoFactor.Enabled {
		if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
			return errors.New("TwoFactor.Digits must be 6 or 8")
		}
		if c.TwoFactor.Period == 0 {
			return errors.New("TwoFactor.Period must be positive")
		}
		if c.TwoFactor.BackupCodeCount < 0 || c.TwoFactor.BackupCodeCount > 32 {
			return errors.New("TwoFactor.BackupCodeCount out of range")
		}
	}
	if c.RememberMe.Enabled && c.RememberMe.TTL <= 0 {
		return errors.New("RememberMe.TTL must be positive")
	}
	if c.Impersonation.Enabled && c.Impersonation.MaxDuration <= 0 {
		return errors.New("Impersonation.MaxDuration must be positive")
	}
	if c.Unlock.TokenTTL <= 0 {
		return errors.New("Unlock.TokenTTL must be positive")
	}
	if c.Unlock.MaxAttempts <= 0 {
		return errors.New("Unlock.MaxAttempts must be positive")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge configuration must be positive")
	}
	if c.Mail.FailureThreshold <= 0 || c.Mail.SuccessThreshold <= 0 {
		return errors.New("Mail breaker thresholds must be positive")
	}
	if c.Mail.ResetTimeout <= 0 {
		return errors.New("Mail.ResetTimeout must be positive")
	}
	if c.Mail.HalfOpenMaxRequests <= 0 {
		return errors.New("Mail.HalfOpenMaxRequests must be positive")
	}
	if c.Token.Enabled {
		if c.Token.AccessTTL <= 0 {
			return errors.New("Token.AccessTTL must be positive")
		}
		if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
			return errors.New("Token.SigningMethod must be ed25519 or hs256")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.SealKey = cloneBytes(cfg.Session.SealKey)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
