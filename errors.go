package trustcore

import (
	"errors"
	"fmt"
	"time"
)

// Base error kinds. Every operation-specific sentinel below wraps one
// of these, so callers can classify with errors.Is at either level.
var (
	// ErrAuthentication is an exported constant or variable used by the session-trust engine.
	ErrAuthentication = errors.New("authentication required")
	// ErrAuthorization is an exported constant or variable used by the session-trust engine.
	ErrAuthorization = errors.New("insufficient role")
	// ErrForbidden is an exported constant or variable used by the session-trust engine.
	ErrForbidden = errors.New("operation blocked by structural rule")
	// ErrValidation is an exported constant or variable used by the session-trust engine.
	ErrValidation = errors.New("invalid input")
	// ErrRateLimited is an exported constant or variable used by the session-trust engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrConflict is an exported constant or variable used by the session-trust engine.
	ErrConflict = errors.New("conflicting state transition")
	// ErrNotFound is an exported constant or variable used by the session-trust engine.
	ErrNotFound = errors.New("not found")
	// ErrAccountLocked is an exported constant or variable used by the session-trust engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrServer is an exported constant or variable used by the session-trust engine.
	ErrServer = errors.New("internal error")
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the session-trust engine.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	// ErrUserNotFound is an exported constant or variable used by the session-trust engine.
	ErrUserNotFound = fmt.Errorf("%w: user not found", ErrNotFound)
	// ErrLoginRateLimited is an exported constant or variable used by the session-trust engine.
	ErrLoginRateLimited = fmt.Errorf("%w: login attempts", ErrRateLimited)
	// ErrLockoutUnavailable is an exported constant or variable used by the session-trust engine.
	ErrLockoutUnavailable = fmt.Errorf("%w: lockout backend unavailable", ErrServer)

	// ErrUnlockInvalid is an exported constant or variable used by the session-trust engine.
	ErrUnlockInvalid = fmt.Errorf("%w: unlock token invalid", ErrValidation)
	// ErrUnlockRateLimited is an exported constant or variable used by the session-trust engine.
	ErrUnlockRateLimited = fmt.Errorf("%w: unlock requests", ErrRateLimited)
	// ErrUnlockUnavailable is an exported constant or variable used by the session-trust engine.
	ErrUnlockUnavailable = fmt.Errorf("%w: unlock backend unavailable", ErrServer)

	// ErrSessionNotFound is an exported constant or variable used by the session-trust engine.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrAuthentication)
	// ErrSessionExpired is an exported constant or variable used by the session-trust engine.
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrAuthentication)
	// ErrSessionSealFailed is an exported constant or variable used by the session-trust engine.
	ErrSessionSealFailed = fmt.Errorf("%w: session seal failed", ErrServer)
	// ErrSessionUnavailable is an exported constant or variable used by the session-trust engine.
	ErrSessionUnavailable = fmt.Errorf("%w: session backend unavailable", ErrServer)

	// ErrTwoFactorDisabled is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorDisabled = fmt.Errorf("%w: two-factor feature disabled", ErrForbidden)
	// ErrTwoFactorAlreadyEnabled is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorAlreadyEnabled = fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	// ErrTwoFactorNotConfigured is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorNotConfigured = fmt.Errorf("%w: two-factor not configured", ErrConflict)
	// ErrTwoFactorCodeInvalid is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorCodeInvalid = fmt.Errorf("%w: invalid two-factor code", ErrValidation)
	// ErrTwoFactorRateLimited is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorRateLimited = fmt.Errorf("%w: two-factor attempts", ErrRateLimited)
	// ErrTwoFactorUnavailable is an exported constant or variable used by the session-trust engine.
	ErrTwoFactorUnavailable = fmt.Errorf("%w: two-factor backend unavailable", ErrServer)
	// ErrBackupCodeInvalid is an exported constant or variable used by the session-trust engine.
	ErrBackupCodeInvalid = fmt.Errorf("%w: invalid backup code", ErrValidation)

	// ErrChallengeInvalid is an exported constant or variable used by the session-trust engine.
	ErrChallengeInvalid = fmt.Errorf("%w: login challenge invalid", ErrAuthentication)
	// ErrChallengeExpired is an exported constant or variable used by the session-trust engine.
	ErrChallengeExpired = fmt.Errorf("%w: login challenge expired", ErrAuthentication)
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the session-trust engine.
	ErrChallengeAttemptsExceeded = fmt.Errorf("%w: login challenge attempts", ErrRateLimited)
	// ErrChallengeUnavailable is an exported constant or variable used by the session-trust engine.
	ErrChallengeUnavailable = fmt.Errorf("%w: login challenge backend unavailable", ErrServer)

	// ErrRememberInvalid is an exported constant or variable used by the session-trust engine.
	ErrRememberInvalid = fmt.Errorf("%w: remember-me token invalid", ErrAuthentication)
	// ErrRememberTheft is an exported constant or variable used by the session-trust engine.
	ErrRememberTheft = fmt.Errorf("%w: remember-me token reuse detected", ErrAuthentication)
	// ErrRememberUnavailable is an exported constant or variable used by the session-trust engine.
	ErrRememberUnavailable = fmt.Errorf("%w: remember-me backend unavailable", ErrServer)

	// ErrNotImpersonating is an exported constant or variable used by the session-trust engine.
	ErrNotImpersonating = fmt.Errorf("%w: session is not impersonating", ErrConflict)
	// ErrAlreadyImpersonating is an exported constant or variable used by the session-trust engine.
	ErrAlreadyImpersonating = fmt.Errorf("%w: session is already impersonating", ErrConflict)
	// ErrImpersonationBlocked is an exported constant or variable used by the session-trust engine.
	ErrImpersonationBlocked = fmt.Errorf("%w: operation blocked while impersonating", ErrForbidden)
	// ErrSelfImpersonation is an exported constant or variable used by the session-trust engine.
	ErrSelfImpersonation = fmt.Errorf("%w: cannot impersonate own account", ErrForbidden)

	// ErrLastAdmin is an exported constant or variable used by the session-trust engine.
	ErrLastAdmin = fmt.Errorf("%w: cannot remove last admin at scope", ErrForbidden)
	// ErrRoleUnknown is an exported constant or variable used by the session-trust engine.
	ErrRoleUnknown = fmt.Errorf("%w: unknown role", ErrValidation)

	// ErrMailUnavailable is an exported constant or variable used by the session-trust engine.
	ErrMailUnavailable = fmt.Errorf("%w: email transport unavailable", ErrServer)
	// ErrBreakerOpen is an exported constant or variable used by the session-trust engine.
	ErrBreakerOpen = fmt.Errorf("%w: email circuit breaker open", ErrServer)

	// ErrTokenInvalid is an exported constant or variable used by the session-trust engine.
	ErrTokenInvalid = fmt.Errorf("%w: invalid token", ErrAuthentication)
	// ErrEngineNotReady is an exported constant or variable used by the session-trust engine.
	ErrEngineNotReady = fmt.Errorf("%w: engine not initialized", ErrServer)
)

// AccountLockedError carries the lock expiry alongside the lockout
// signal. It matches [ErrAccountLocked] in errors.Is chains; use
// errors.As to read Until.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
