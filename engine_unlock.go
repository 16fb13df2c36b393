package trustcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/relathq/trustcore/internal"
)

// RequestUnlockToken emails a single-use unlock token to the account.
// The outcome is deliberately uniform: unknown addresses and unlocked
// accounts return success just like locked ones, so the endpoint cannot
// be used to probe for accounts.
//
// RequestUnlockToken may return an error when input validation, dependency calls, or security checks fail.
// RequestUnlockToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestUnlockToken(ctx context.Context, email string) error {
	if e == nil || e.tokenStore == nil || e.userProvider == nil {
		return ErrEngineNotReady
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ErrValidation
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckUnlockRequest(ctx, email); err != nil {
			e.emitRateLimit(ctx, "unlock_request", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return ErrUnlockRateLimited
		}
	}

	e.metricInc(MetricUnlockRequested)

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		// Uniform response; nothing to send.
		e.emitAudit(ctx, auditCategorySecurity, auditEventUnlockRequested, true, "", "", nil, func() map[string]string {
			return map[string]string{"identifier": email, "known_account": "false"}
		})
		return nil
	}

	token, err := e.issueOneShotToken(ctx, TokenAccountUnlock, user.UserID, e.config.Unlock.TokenTTL)
	if err != nil {
		return ErrUnlockUnavailable
	}

	e.emitAudit(ctx, auditCategorySecurity, auditEventUnlockRequested, true, user.UserID, "", nil, nil)

	msg := Message{
		To:      user.Email,
		Subject: "Unlock your account",
		Text:    "Use this token to unlock your account: " + token,
	}
	if _, err := e.SendMail(ctx, msg); err != nil {
		// Token stays valid; a later delivery retry can still use it.
		return err
	}

	return nil
}

// RedeemUnlockToken consumes an unlock token and clears the account
// lock. A valid token against a never-locked account still consumes the
// token and succeeds with WasLocked false.
//
// RedeemUnlockToken may return an error when input validation, dependency calls, or security checks fail.
// RedeemUnlockToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RedeemUnlockToken(ctx context.Context, token string) (*UnlockResult, error) {
	if e == nil || e.tokenStore == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, secret, err := internal.DecodeOneShotToken(token)
	if err != nil {
		e.metricInc(MetricUnlockFailure)
		return nil, ErrUnlockInvalid
	}

	record, err := e.tokenStore.Consume(
		ctx,
		TokenAccountUnlock,
		tokenID,
		internal.HashOneShotSecret(secret),
		e.config.Unlock.MaxAttempts,
	)
	if err != nil {
		e.metricInc(MetricUnlockFailure)
		e.emitAudit(ctx, auditCategorySecurity, auditEventUnlockFailure, false, "", "", ErrUnlockInvalid, nil)
		switch {
		case errors.Is(err, errTokenNotFound), errors.Is(err, errTokenSecretMismatch), errors.Is(err, errTokenAttemptsExceeded):
			return nil, ErrUnlockInvalid
		default:
			return nil, ErrUnlockUnavailable
		}
	}

	if record.Consumed {
		// Replayed redemption: the unlock already happened, so report
		// no-op success without touching the account again.
		return &UnlockResult{UserID: record.UserID, WasLocked: false}, nil
	}

	user, err := e.userProvider.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	wasLocked := user.LockedUntil != nil && user.LockedUntil.After(time.Now())

	if err := e.userProvider.ClearLock(ctx, user.UserID); err != nil {
		return nil, ErrUnlockUnavailable
	}
	if err := e.userProvider.ResetFailedLogins(ctx, user.UserID); err != nil {
		return nil, ErrUnlockUnavailable
	}

	e.metricInc(MetricUnlockSuccess)
	e.emitAudit(ctx, auditCategorySecurity, auditEventAccountUnlocked, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"was_locked": boolString(wasLocked)}
	})

	return &UnlockResult{
		UserID:    user.UserID,
		WasLocked: wasLocked,
	}, nil
}

// issueOneShotToken mints and stores a purpose-tagged one-shot token,
// returning the opaque string.
func (e *Engine) issueOneShotToken(ctx context.Context, kind TokenKind, userID string, ttl time.Duration) (string, error) {
	tokenID, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewOneShotSecret()
	if err != nil {
		return "", err
	}

	record := &oneShotTokenRecord{
		UserID:     userID,
		SecretHash: internal.HashOneShotSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
		Kind:       kind,
	}

	if err := e.tokenStore.Save(ctx, tokenID.String(), record, ttl); err != nil {
		return "", err
	}

	return internal.EncodeOneShotToken(tokenID.String(), secret)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
