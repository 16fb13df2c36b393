package trustcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	auditCategoryAuthentication = "authentication"
	auditCategoryAuthorization  = "authorization"
	auditCategorySecurity       = "security"
	auditCategoryAdmin          = "admin"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventLoginChallenge       = "login_challenge_issued"
	auditEventChallengeSuccess     = "login_challenge_success"
	auditEventChallengeFailure     = "login_challenge_failure"
	auditEventChallengeExceeded    = "login_challenge_attempts_exceeded"
	auditEventAccountLocked        = "account_locked"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventUnlockRequested      = "unlock_requested"
	auditEventUnlockFailure        = "unlock_failure"
	auditEventSessionCreated       = "session_created"
	auditEventSessionExtended      = "session_extended"
	auditEventSessionDestroyed     = "session_destroyed"
	auditEventSessionRejected      = "session_rejected"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPFailure          = "totp_failure"
	auditEventTOTPSuccess          = "totp_success"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
	auditEventRememberIssued       = "remember_token_issued"
	auditEventRememberRedeemed     = "remember_token_redeemed"
	auditEventRememberTheft        = "remember_token_theft_detected"
	auditEventRememberRevoked      = "remember_token_revoked"
	auditEventImpersonationStarted = "admin_impersonation_start"
	auditEventImpersonationEnded   = "admin_impersonation_end"
	auditEventImpersonationExpired = "admin_impersonation_expired"
	auditEventImpersonationBlocked = "admin_impersonation_blocked"
	auditEventRoleRemovalBlocked   = "role_removal_blocked"
	auditEventMailSent             = "mail_sent"
	auditEventMailFailure          = "mail_failure"
	auditEventMailBreakerOpen      = "mail_breaker_open"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventAccessTokenIssued    = "access_token_issued"
)

// AuditErrorCode defines a public type used by trustcore APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrChallengeInvalid   AuditErrorCode = "challenge_invalid"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrTheftDetected      AuditErrorCode = "theft_detected"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrLastAdmin          AuditErrorCode = "last_admin"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrBreakerOpen        AuditErrorCode = "breaker_open"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	category string,
	eventType string,
	success bool,
	userID string,
	actorID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventID:        uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Category:       category,
		UserID:         userID,
		ActorID:        actorID,
		OrganizationID: organizationIDFromContext(ctx),
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		Success:        success,
		Metadata:       metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditCategorySecurity, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// Operation sentinels wrap the base kinds, so the specific cases
	// must run before any base-kind case.
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTwoFactorCodeInvalid),
		errors.Is(err, ErrBackupCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrChallengeInvalid),
		errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrRememberTheft):
		return auditErrTheftDetected
	case errors.Is(err, ErrLastAdmin):
		return auditErrLastAdmin
	case errors.Is(err, ErrUnlockInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRememberInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrBreakerOpen):
		return auditErrBreakerOpen
	case errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrUnlockUnavailable),
		errors.Is(err, ErrTwoFactorUnavailable),
		errors.Is(err, ErrChallengeUnavailable),
		errors.Is(err, ErrRememberUnavailable),
		errors.Is(err, ErrSessionUnavailable),
		errors.Is(err, ErrMailUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrUnlockRateLimited),
		errors.Is(err, ErrTwoFactorRateLimited),
		errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrImpersonationBlocked),
		errors.Is(err, ErrSelfImpersonation),
		errors.Is(err, ErrForbidden):
		return auditErrForbidden
	default:
		return auditErrInternal
	}
}
