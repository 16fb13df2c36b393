package trustcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/relathq/trustcore/internal"
)

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	return e.loginInternal(ctx, email, password, false)
}

// LoginWithRemember behaves like [Engine.Login] but also requests a
// durable remember-me token once the login fully completes, including
// across the two-factor challenge step.
//
// LoginWithRemember may return an error when input validation, dependency calls, or security checks fail.
// LoginWithRemember does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LoginWithRemember(ctx context.Context, email, password string) (*LoginResult, error) {
	return e.loginInternal(ctx, email, password, true)
}

func (e *Engine) loginInternal(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrValidation
	}

	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrLoginRateLimited
		}
		if err := e.rateLimiter.IncrementLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrLoginRateLimited
		}
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		// Uniform failure path: unknown accounts cost the same as a
		// wrong password.
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginFailure, false, user.UserID, "", ErrAccountLocked, nil)
		return nil, &AccountLockedError{Until: *user.LockedUntil}
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordFailedLogin(ctx, user)
	}

	if e.twoFactorActive(ctx, user) {
		challengeID, err := e.issueLoginChallenge(ctx, user.UserID, rememberMe)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricChallengeIssued)
		e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginChallenge, true, user.UserID, "", nil, nil)
		return &LoginResult{
			UserID:            user.UserID,
			TwoFactorRequired: true,
			Challenge:         challengeID,
		}, nil
	}

	return e.finalizeLogin(ctx, user, email, rememberMe)
}

// ConfirmLogin completes a two-step login by verifying a TOTP code or
// backup code against the outstanding challenge.
//
// ConfirmLogin may return an error when input validation, dependency calls, or security checks fail.
// ConfirmLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.challengeStore == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" || code == "" {
		return nil, ErrValidation
	}

	challenge, err := e.challengeStore.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, errChallengeNotFound):
			return nil, ErrChallengeInvalid
		case errors.Is(err, errChallengeExpired):
			return nil, ErrChallengeExpired
		default:
			return nil, ErrChallengeUnavailable
		}
	}

	user, err := e.userProvider.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, ErrChallengeInvalid
	}

	verified, verr := e.verifySecondFactor(ctx, user.UserID, code)
	if verr != nil {
		return nil, verr
	}
	if !verified {
		exceeded, ferr := e.challengeStore.RecordFailure(ctx, challengeID, e.config.Challenge.MaxAttempts)
		if ferr != nil && !errors.Is(ferr, errChallengeExpired) && !errors.Is(ferr, errChallengeNotFound) {
			return nil, ErrChallengeUnavailable
		}
		e.metricInc(MetricChallengeFailure)
		if exceeded {
			e.emitAudit(ctx, auditCategoryAuthentication, auditEventChallengeExceeded, false, user.UserID, "", ErrChallengeAttemptsExceeded, nil)
			return nil, ErrChallengeAttemptsExceeded
		}
		e.emitAudit(ctx, auditCategoryAuthentication, auditEventChallengeFailure, false, user.UserID, "", ErrTwoFactorCodeInvalid, nil)
		return nil, ErrTwoFactorCodeInvalid
	}

	// One challenge, one success. A lost race means someone else already
	// consumed it.
	deleted, err := e.challengeStore.Delete(ctx, challengeID)
	if err != nil {
		return nil, ErrChallengeUnavailable
	}
	if !deleted {
		return nil, ErrChallengeInvalid
	}

	e.metricInc(MetricChallengeSuccess)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventChallengeSuccess, true, user.UserID, "", nil, nil)

	return e.finalizeLogin(ctx, user, user.Email, challenge.RememberMe)
}

func (e *Engine) recordFailedLogin(ctx context.Context, user UserRecord) error {
	count, err := e.userProvider.IncrementFailedLogins(ctx, user.UserID)
	if err != nil {
		return ErrLockoutUnavailable
	}

	if count >= e.config.Lockout.Threshold {
		until := time.Now().Add(e.config.Lockout.Duration)
		if err := e.userProvider.SetLockedUntil(ctx, user.UserID, until); err != nil {
			return ErrLockoutUnavailable
		}
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditCategorySecurity, auditEventAccountLocked, true, user.UserID, "", nil, func() map[string]string {
			return map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
		})
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, nil)

	return ErrInvalidCredentials
}

func (e *Engine) finalizeLogin(ctx context.Context, user UserRecord, email string, rememberMe bool) (*LoginResult, error) {
	now := time.Now()

	if err := e.userProvider.ResetFailedLogins(ctx, user.UserID); err != nil {
		return nil, ErrLockoutUnavailable
	}
	if user.LockedUntil != nil {
		// Expired lock left behind; clear it so status reads clean.
		if err := e.userProvider.ClearLock(ctx, user.UserID); err != nil {
			return nil, ErrLockoutUnavailable
		}
	}
	_ = e.userProvider.TouchLastLogin(ctx, user.UserID, now)

	if e.rateLimiter != nil {
		_ = e.rateLimiter.ResetLogin(ctx, email, clientIPFromContext(ctx))
	}

	sealed, err := e.CreateSession(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		SealedSession: sealed,
		UserID:        user.UserID,
	}

	if rememberMe && e.config.RememberMe.Enabled {
		token, err := e.issueRememberTokenForUser(ctx, user.UserID)
		if err == nil {
			result.RememberToken = token
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventLoginSuccess, true, user.UserID, "", nil, nil)

	return result, nil
}

// twoFactorActive reports whether the account must pass a second
// factor. Enabled without a confirmed secret counts as inactive.
func (e *Engine) twoFactorActive(ctx context.Context, user UserRecord) bool {
	if !e.config.TwoFactor.Enabled || !user.TwoFactorEnabled {
		return false
	}

	record, err := e.userProvider.GetTwoFactorSecret(ctx, user.UserID)
	if err != nil || record == nil {
		return false
	}
	return record.Enabled && record.Verified && len(record.Secret) > 0
}

func (e *Engine) issueLoginChallenge(ctx context.Context, userID string, rememberMe bool) (string, error) {
	challengeID, err := internal.NewTokenID()
	if err != nil {
		return "", ErrChallengeUnavailable
	}

	record := &loginChallenge{
		UserID:     userID,
		RememberMe: rememberMe,
		ExpiresAt:  time.Now().Add(e.config.Challenge.TTL).Unix(),
	}

	if err := e.challengeStore.Save(ctx, challengeID.String(), record, e.config.Challenge.TTL); err != nil {
		return "", ErrChallengeUnavailable
	}

	return challengeID.String(), nil
}
