package trustcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relathq/trustcore/internal"
	"github.com/relathq/trustcore/session"
)

// CreateSession mints a sealed session record for an already
// authenticated user. Most callers never invoke this directly; Login and
// ConfirmLogin call it after credential verification.
//
// CreateSession may return an error when input validation, dependency calls, or security checks fail.
// CreateSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CreateSession(ctx context.Context, userID string) (string, error) {
	if e == nil || e.sealer == nil {
		return "", ErrEngineNotReady
	}
	if e.userProvider == nil {
		return "", ErrEngineNotReady
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return "", ErrUserNotFound
	}

	data, err := e.newSessionData(ctx, user)
	if err != nil {
		return "", ErrSessionSealFailed
	}

	sealed, err := e.sealer.Seal(data)
	if err != nil {
		return "", ErrSessionSealFailed
	}

	if e.config.Session.TrackDevices && e.deviceStore != nil {
		device := &session.Device{
			DeviceID:  data.DeviceID,
			UserID:    data.UserID,
			IPAddress: clientIPFromContext(ctx),
			UserAgent: userAgentFromContext(ctx),
			CreatedAt: data.CreatedAt,
		}
		// Device tracking is best effort; sessions stay valid without it.
		_ = e.deviceStore.Save(ctx, device, e.config.Session.Duration)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventSessionCreated, true, data.UserID, "", nil, nil)

	return sealed, nil
}

// GetSession opens a sealed record and returns the caller's session
// view. It never loud-fails: tampered, expired, or schema-mismatched
// records all come back as the anonymous session. When the engine had to
// rewrite the record (impersonation cutoff) the replacement sealed
// string is returned alongside; callers should hand it back to the
// client.
func (e *Engine) GetSession(ctx context.Context, sealed string) (*SessionData, string) {
	if e == nil || e.sealer == nil {
		return &session.Data{}, ""
	}

	data, rewritten := e.openSession(ctx, sealed)
	if data == nil {
		return &session.Data{}, ""
	}

	if !rewritten {
		return data, ""
	}

	resealed, err := e.sealer.Seal(data)
	if err != nil {
		return data, ""
	}
	return data, resealed
}

// ExtendSession resets the session clock, pushing expiry out by the
// configured duration. Expired or invalid records cannot be extended.
//
// ExtendSession may return an error when input validation, dependency calls, or security checks fail.
// ExtendSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ExtendSession(ctx context.Context, sealed string) (string, error) {
	if e == nil || e.sealer == nil {
		return "", ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}

	data.CreatedAt = time.Now().UnixMilli()

	resealed, err := e.sealer.Seal(data)
	if err != nil {
		return "", ErrSessionSealFailed
	}

	if e.config.Session.TrackDevices && e.deviceStore != nil && data.DeviceID != "" {
		if device, derr := e.deviceStore.Get(ctx, data.DeviceID); derr == nil {
			_ = e.deviceStore.Save(ctx, device, e.config.Session.Duration)
		}
	}

	e.metricInc(MetricSessionExtended)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventSessionExtended, true, data.UserID, "", nil, nil)

	return resealed, nil
}

// SessionStatus derives the timing view of a sealed record without
// mutating it.
//
// SessionStatus may return an error when input validation, dependency calls, or security checks fail.
// SessionStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SessionStatus(ctx context.Context, sealed string) SessionStatus {
	if e == nil || e.sealer == nil {
		return SessionStatus{}
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return SessionStatus{}
	}

	now := time.Now()
	expiresAt := time.UnixMilli(data.CreatedAt).Add(e.config.Session.Duration)

	status := SessionStatus{
		Active:        true,
		ExpiresAt:     expiresAt,
		TimeRemaining: expiresAt.Sub(now),
	}

	if data.Impersonating != nil {
		cutoff := time.UnixMilli(data.Impersonating.StartedAt).Add(e.config.Impersonation.MaxDuration)
		status.Impersonating = true
		status.ImpersonationRemaining = cutoff.Sub(now)
		if status.ImpersonationRemaining < 0 {
			status.ImpersonationRemaining = 0
		}
	}

	return status
}

// DestroySession invalidates a session. Both arguments are optional:
// sealed is the client-held record, bearer a previously issued access
// token whose device record should be deleted. Destroying an absent or
// already-destroyed session succeeds.
//
// DestroySession may return an error when input validation, dependency calls, or security checks fail.
// DestroySession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DestroySession(ctx context.Context, sealed, bearer string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var userID string

	if sealed != "" && e.sealer != nil {
		if data, err := e.sealer.Open(sealed); err == nil && !data.Anonymous() {
			userID = data.UserID
			if e.deviceStore != nil && data.DeviceID != "" {
				if err := e.deviceStore.Delete(ctx, data.UserID, data.DeviceID); err != nil {
					return ErrSessionUnavailable
				}
			}
		}
	}

	if bearer != "" && e.jwtManager != nil {
		if claims, err := e.jwtManager.ParseAccess(bearer); err == nil {
			if userID == "" {
				userID = claims.UID
			}
			if e.deviceStore != nil && claims.DID != "" {
				if err := e.deviceStore.Delete(ctx, claims.UID, claims.DID); err != nil {
					return ErrSessionUnavailable
				}
			}
		}
	}

	e.metricInc(MetricSessionDestroyed)
	e.emitAudit(ctx, auditCategoryAuthentication, auditEventSessionDestroyed, true, userID, "", nil, nil)

	return nil
}

// newSessionData builds a fresh logged-in record for the given user,
// including CSRF token, device id, and any organization scope from ctx.
func (e *Engine) newSessionData(ctx context.Context, user UserRecord) (*session.Data, error) {
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	data := &session.Data{
		UserID:     user.UserID,
		Email:      user.Email,
		Role:       user.Role,
		IsLoggedIn: true,
		CreatedAt:  time.Now().UnixMilli(),
		CSRFToken:  csrf,
		DeviceID:   uuid.NewString(),
	}

	if organizationID := organizationIDFromContext(ctx); organizationID != "" {
		data.Organization = &session.Organization{
			ID:   organizationID,
			Role: user.Role,
		}
	}

	return data, nil
}

// openSession decodes and validates a sealed record. Returns nil for
// anything unusable, and reports whether the record was rewritten by the
// lazy impersonation cutoff.
func (e *Engine) openSession(ctx context.Context, sealed string) (*session.Data, bool) {
	if sealed == "" {
		return nil, false
	}

	data, err := e.sealer.Open(sealed)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		e.emitAudit(ctx, auditCategorySecurity, auditEventSessionRejected, false, "", "", ErrSessionNotFound, nil)
		return nil, false
	}
	if data.Anonymous() {
		return data, false
	}

	now := time.Now()
	if now.After(time.UnixMilli(data.CreatedAt).Add(e.config.Session.Duration)) {
		e.metricInc(MetricSessionRejected)
		e.emitAudit(ctx, auditCategoryAuthentication, auditEventSessionRejected, false, data.UserID, "", ErrSessionExpired, nil)
		return nil, false
	}

	if data.Impersonating != nil && e.config.Impersonation.MaxDuration > 0 {
		cutoff := time.UnixMilli(data.Impersonating.StartedAt).Add(e.config.Impersonation.MaxDuration)
		if now.After(cutoff) {
			restored := e.revertImpersonation(data)
			e.metricInc(MetricImpersonationExpired)
			e.emitAudit(ctx, auditCategoryAdmin, auditEventImpersonationExpired, true, data.UserID, restored.UserID, nil, nil)
			return restored, true
		}
	}

	return data, false
}

// revertImpersonation restores the original identity stored in the
// impersonation block. The impersonated identity is discarded entirely.
func (e *Engine) revertImpersonation(data *session.Data) *session.Data {
	imp := data.Impersonating

	restored := &session.Data{
		UserID:     imp.OriginalUserID,
		Email:      imp.OriginalEmail,
		Role:       imp.OriginalRole,
		IsLoggedIn: true,
		CreatedAt:  data.CreatedAt,
		CSRFToken:  data.CSRFToken,
		DeviceID:   data.DeviceID,
	}
	if data.Organization != nil {
		restored.Organization = &session.Organization{
			ID:   data.Organization.ID,
			Role: imp.OriginalRole,
		}
	}

	return restored
}
