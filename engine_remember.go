package trustcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"time"

	"github.com/relathq/trustcore/internal"
)

// IssueRememberToken mints a durable series/validator trust token for
// the session's user. The returned opaque string is the cookie value;
// the engine stores only a hash of the validator half.
//
// IssueRememberToken may return an error when input validation, dependency calls, or security checks fail.
// IssueRememberToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueRememberToken(ctx context.Context, sealed string) (string, error) {
	if e == nil || e.rememberStore == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.RememberMe.Enabled {
		return "", ErrRememberInvalid
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}
	if data.Impersonating != nil {
		// Remember tokens bind to the real person, never to a borrowed
		// identity.
		return "", ErrImpersonationBlocked
	}

	return e.issueRememberTokenForUser(ctx, data.UserID)
}

// ValidateRememberToken redeems a remember-me cookie into a fresh
// session. The validator is rotated in place: the result carries both
// the new sealed session and the replacement cookie value. Presenting a
// rotated-out validator is treated as theft and revokes the series.
//
// ValidateRememberToken may return an error when input validation, dependency calls, or security checks fail.
// ValidateRememberToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateRememberToken(ctx context.Context, token string) (*LoginResult, error) {
	if e == nil || e.rememberStore == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.RememberMe.Enabled {
		return nil, ErrRememberInvalid
	}

	series, validator, err := internal.DecodeRememberToken(token)
	if err != nil {
		return nil, ErrRememberInvalid
	}
	providedHash := internal.HashValidator(validator)

	// The lock state must be settled before the validator rotates:
	// rotating first would leave a locked-out caller holding the old
	// validator, and its next legitimate attempt would burn the series
	// as theft.
	current, err := e.rememberStore.Get(ctx, series)
	if err != nil {
		if errors.Is(err, errRememberNotFound) {
			return nil, ErrRememberInvalid
		}
		return nil, ErrRememberUnavailable
	}
	var user UserRecord
	if subtle.ConstantTimeCompare(current.ValidatorHash[:], providedHash[:]) == 1 {
		user, err = e.userProvider.GetUserByID(ctx, current.UserID)
		if err != nil {
			_ = e.rememberStore.Delete(ctx, current.UserID, series)
			return nil, ErrRememberInvalid
		}
		if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
			return nil, &AccountLockedError{Until: *user.LockedUntil}
		}
	}

	newValidator, err := internal.NewValidator()
	if err != nil {
		return nil, ErrRememberUnavailable
	}

	record, err := e.rememberStore.Redeem(
		ctx,
		series,
		providedHash,
		internal.HashValidator(newValidator),
		e.config.RememberMe.TTL,
		time.Now(),
	)
	if err != nil {
		switch {
		case errors.Is(err, errRememberNotFound):
			return nil, ErrRememberInvalid
		case errors.Is(err, errRememberValidatorTheft):
			userID := ""
			if record != nil {
				userID = record.UserID
			}
			e.metricInc(MetricRememberTheftDetected)
			e.emitAudit(ctx, auditCategorySecurity, auditEventRememberTheft, false, userID, "", ErrRememberTheft, func() map[string]string {
				return map[string]string{"series": series}
			})
			return nil, ErrRememberTheft
		default:
			return nil, ErrRememberUnavailable
		}
	}

	if user.UserID == "" {
		user, err = e.userProvider.GetUserByID(ctx, record.UserID)
		if err != nil {
			_ = e.rememberStore.Delete(ctx, record.UserID, series)
			return nil, ErrRememberInvalid
		}
	}

	sealed, err := e.CreateSession(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRememberRedeemed)
	e.metricInc(MetricRememberRotated)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventRememberRedeemed, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"series": series}
	})

	return &LoginResult{
		SealedSession: sealed,
		UserID:        user.UserID,
		RememberToken: internal.EncodeRememberToken(series, newValidator),
	}, nil
}

// RevokeRememberToken destroys one series. Revoking an unknown or
// already-revoked token succeeds.
//
// RevokeRememberToken may return an error when input validation, dependency calls, or security checks fail.
// RevokeRememberToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeRememberToken(ctx context.Context, token string) error {
	if e == nil || e.rememberStore == nil {
		return ErrEngineNotReady
	}

	series, _, err := internal.DecodeRememberToken(token)
	if err != nil {
		return ErrRememberInvalid
	}

	record, err := e.rememberStore.Get(ctx, series)
	if err != nil {
		if errors.Is(err, errRememberNotFound) {
			return nil
		}
		return ErrRememberUnavailable
	}

	if err := e.rememberStore.Delete(ctx, record.UserID, series); err != nil {
		return ErrRememberUnavailable
	}

	e.emitAudit(ctx, auditCategoryAuthentication, auditEventRememberRevoked, true, record.UserID, "", nil, func() map[string]string {
		return map[string]string{"series": series}
	})

	return nil
}

// RevokeAllRememberTokens destroys every series belonging to the
// session's user, logging the device count.
//
// RevokeAllRememberTokens may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllRememberTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAllRememberTokens(ctx context.Context, sealed string) error {
	if e == nil || e.rememberStore == nil {
		return ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return ErrSessionNotFound
	}

	if err := e.rememberStore.DeleteAllForUser(ctx, data.UserID); err != nil {
		return ErrRememberUnavailable
	}

	e.emitAudit(ctx, auditCategoryAuthentication, auditEventRememberRevoked, true, data.UserID, "", nil, func() map[string]string {
		return map[string]string{"scope": "all"}
	})

	return nil
}

// ListRememberDevices returns the user's live trusted devices, most
// recently used first.
//
// ListRememberDevices may return an error when input validation, dependency calls, or security checks fail.
// ListRememberDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListRememberDevices(ctx context.Context, sealed string) ([]DeviceRecord, error) {
	if e == nil || e.rememberStore == nil {
		return nil, ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return nil, ErrSessionNotFound
	}

	records, err := e.rememberStore.ListForUser(ctx, data.UserID)
	if err != nil {
		return nil, ErrRememberUnavailable
	}

	devices := make([]DeviceRecord, 0, len(records))
	for series, record := range records {
		devices = append(devices, DeviceRecord{
			Series:     series,
			UserID:     record.UserID,
			IPAddress:  record.IPAddress,
			UserAgent:  record.UserAgent,
			CreatedAt:  time.UnixMilli(record.CreatedAt),
			LastUsedAt: time.UnixMilli(record.LastUsedAt),
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastUsedAt.After(devices[j].LastUsedAt)
	})

	return devices, nil
}

func (e *Engine) issueRememberTokenForUser(ctx context.Context, userID string) (string, error) {
	series, err := internal.NewSeries()
	if err != nil {
		return "", ErrRememberUnavailable
	}
	validator, err := internal.NewValidator()
	if err != nil {
		return "", ErrRememberUnavailable
	}

	now := time.Now().UnixMilli()
	record := &rememberRecord{
		UserID:        userID,
		ValidatorHash: internal.HashValidator(validator),
		IPAddress:     clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		CreatedAt:     now,
		LastUsedAt:    now,
	}

	if err := e.rememberStore.Save(ctx, series, record, e.config.RememberMe.TTL); err != nil {
		return "", ErrRememberUnavailable
	}

	e.metricInc(MetricRememberIssued)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventRememberIssued, true, userID, "", nil, func() map[string]string {
		return map[string]string{"series": series}
	})

	return internal.EncodeRememberToken(series, validator), nil
}
