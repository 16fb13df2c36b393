package trustcore

import (
	"context"
	"time"

	"github.com/relathq/trustcore/rbac"
	"github.com/relathq/trustcore/session"
)

// SessionData is the sealed, client-held record of the caller's
// authenticated identity and timing metadata.
//
//	Docs: docs/session.md
type SessionData = session.Data

// ImpersonationRecord is the block embedded in [SessionData] while an
// admin is impersonating another user. It carries enough information to
// fully restore the original identity on exit.
type ImpersonationRecord = session.Impersonation

// OrganizationContext is the optional organization scope embedded in
// [SessionData].
type OrganizationContext = session.Organization

// UserRecord is the credential-relevant projection of a user account
// returned by [UserProvider]. LockedUntil in the past is equivalent to
// "not locked"; TwoFactorEnabled requires a non-empty secret.
type UserRecord struct {
	UserID              string
	Email               string
	PasswordHash        string
	Role                rbac.Role
	FailedLoginAttempts int
	LockedUntil         *time.Time
	TwoFactorEnabled    bool
	TwoFactorVerified   bool
	EmailVerified       bool
	LastLoginAt         *time.Time
}

// TwoFactorRecord is retrieved from [UserProvider.GetTwoFactorSecret].
// The secret is the raw TOTP seed; Verified flips true only after the
// user proves possession during setup confirmation.
type TwoFactorRecord struct {
	Secret   []byte
	Enabled  bool
	Verified bool
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code.
// The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// UserProvider is the primary interface that callers must implement to
// integrate trustcore with their user database. IncrementFailedLogins
// must be an atomic read-modify-write at the storage layer; concurrent
// failed logins must not lose updates.
//
//	Docs: docs/engine.md
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	ResetFailedLogins(ctx context.Context, userID string) error
	SetLockedUntil(ctx context.Context, userID string, until time.Time) error
	ClearLock(ctx context.Context, userID string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	SaveTwoFactorSecret(ctx context.Context, userID string, secret []byte) error
	GetTwoFactorSecret(ctx context.Context, userID string) (*TwoFactorRecord, error)
	MarkTwoFactorVerified(ctx context.Context, userID string) error
	EnableTwoFactor(ctx context.Context, userID string) error
	DisableTwoFactor(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// RoleProvider exposes role grants to the safeguard layer. It is
// read-only from the engine's perspective; grant mutation stays with the
// caller, gated by [Engine.CheckRoleRemovalSafeguards].
type RoleProvider interface {
	GrantsForUser(ctx context.Context, userID string) ([]rbac.Grant, error)
	// CountAdminHolders returns the number of distinct users holding an
	// admin-equivalent role at the given scope: platform ADMIN when
	// organizationID is nil, organization ADMIN or OWNER otherwise.
	CountAdminHolders(ctx context.Context, organizationID *string) (int, error)
}

// Message is a single outbound email handed to [Mailer.Send].
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Mailer is the email transport collaborator. Send returns the provider
// message id used to correlate asynchronous delivery-status callbacks;
// those callbacks are outside this core. Every Send is wrapped by the
// engine's circuit breaker.
type Mailer interface {
	Send(ctx context.Context, msg Message) (providerMessageID string, err error)
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmLogin].
// When the account has two-factor enabled, the first step returns
// TwoFactorRequired with a challenge instead of a session.
type LoginResult struct {
	SealedSession string
	UserID        string

	// RememberToken is set when the login requested a durable trust
	// token; deliver it as a long-lived cookie.
	RememberToken string

	TwoFactorRequired bool
	Challenge         string
}

// SessionStatus is the derived timing view returned by
// [Engine.SessionStatus].
type SessionStatus struct {
	Active        bool
	ExpiresAt     time.Time
	TimeRemaining time.Duration

	Impersonating          bool
	ImpersonationRemaining time.Duration
}

// TwoFactorSetup holds the provisioning material returned by
// [Engine.SetupTwoFactor]. BackupCodes are shown once and never
// persisted in plaintext.
type TwoFactorSetup struct {
	SecretBase32   string
	OTPAuthURL     string
	QRCodeDataURL  string
	ManualEntryKey string
	BackupCodes    []string
}

// DeviceRecord is one tracked remember-me device, as returned by
// [Engine.ListRememberDevices].
type DeviceRecord struct {
	Series     string
	UserID     string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// UnlockResult is returned by [Engine.RedeemUnlockToken]. WasLocked is
// false when the token was valid but the account was never locked; the
// redemption still consumes the token and succeeds.
type UnlockResult struct {
	UserID    string
	WasLocked bool
}

// RoleRemovalDecision is returned by
// [Engine.CheckRoleRemovalSafeguards].
type RoleRemovalDecision struct {
	Allowed bool
	Reason  string
}

// AccessClaims is the validated content of an API bearer token.
type AccessClaims struct {
	UserID   string
	Email    string
	Role     rbac.Role
	DeviceID string
}
