package trustcore

import (
	"context"
	"strconv"
	"time"

	"github.com/relathq/trustcore/rbac"
	"github.com/relathq/trustcore/session"
)

// Impersonate switches the session's effective identity to the target
// user. Admin-only; the original identity is preserved inside the
// sealed record and fully restored on exit or at the time cutoff.
// Returns the replacement sealed record.
//
// Impersonate may return an error when input validation, dependency calls, or security checks fail.
// Impersonate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Impersonate(ctx context.Context, sealed, targetUserID string) (string, error) {
	if e == nil || e.userProvider == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.Impersonation.Enabled {
		return "", ErrForbidden
	}
	if targetUserID == "" {
		return "", ErrValidation
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}
	if data.Impersonating != nil {
		return "", ErrAlreadyImpersonating
	}
	if data.UserID == targetUserID {
		e.emitAudit(ctx, auditCategoryAdmin, auditEventImpersonationBlocked, false, targetUserID, data.UserID, ErrSelfImpersonation, nil)
		return "", ErrSelfImpersonation
	}
	if !e.hierarchy.IsAtLeast(data.Role, rbac.RoleAdmin) {
		e.metricInc(MetricImpersonationBlocked)
		e.emitAudit(ctx, auditCategoryAdmin, auditEventImpersonationBlocked, false, targetUserID, data.UserID, ErrAuthorization, nil)
		return "", ErrAuthorization
	}

	target, err := e.userProvider.GetUserByID(ctx, targetUserID)
	if err != nil {
		return "", ErrUserNotFound
	}

	impersonated := &session.Data{
		UserID:     target.UserID,
		Email:      target.Email,
		Role:       target.Role,
		IsLoggedIn: true,
		CreatedAt:  data.CreatedAt,
		CSRFToken:  data.CSRFToken,
		DeviceID:   data.DeviceID,
		Impersonating: &session.Impersonation{
			OriginalUserID: data.UserID,
			OriginalEmail:  data.Email,
			OriginalRole:   data.Role,
			StartedAt:      time.Now().UnixMilli(),
		},
	}
	if data.Organization != nil {
		impersonated.Organization = &session.Organization{
			ID:   data.Organization.ID,
			Role: target.Role,
		}
	}

	resealed, err := e.sealer.Seal(impersonated)
	if err != nil {
		return "", ErrSessionSealFailed
	}

	e.metricInc(MetricImpersonationStarted)
	e.emitAudit(ctx, auditCategoryAdmin, auditEventImpersonationStarted, true, target.UserID, data.UserID, nil, func() map[string]string {
		return map[string]string{
			"original_role": string(data.Role),
			"target_role":   string(target.Role),
		}
	})

	return resealed, nil
}

// ExitImpersonation restores the original admin identity exactly as it
// was before [Engine.Impersonate]. Returns the replacement sealed
// record.
//
// ExitImpersonation may return an error when input validation, dependency calls, or security checks fail.
// ExitImpersonation does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ExitImpersonation(ctx context.Context, sealed string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}
	if data.Impersonating == nil {
		return "", ErrNotImpersonating
	}

	elapsed := time.Since(time.UnixMilli(data.Impersonating.StartedAt))
	impersonatedID := data.UserID

	restored := e.revertImpersonation(data)

	resealed, err := e.sealer.Seal(restored)
	if err != nil {
		return "", ErrSessionSealFailed
	}

	e.metricInc(MetricImpersonationEnded)
	e.emitAudit(ctx, auditCategoryAdmin, auditEventImpersonationEnded, true, impersonatedID, restored.UserID, nil, func() map[string]string {
		return map[string]string{
			"elapsed_seconds": strconv.FormatInt(int64(elapsed.Seconds()), 10),
		}
	})

	return resealed, nil
}

// ImpersonationStatus reports whether the session is impersonating and
// how long remains before the forced cutoff.
//
// ImpersonationStatus may return an error when input validation, dependency calls, or security checks fail.
// ImpersonationStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ImpersonationStatus(ctx context.Context, sealed string) (bool, time.Duration) {
	if e == nil {
		return false, 0
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() || data.Impersonating == nil {
		return false, 0
	}

	cutoff := time.UnixMilli(data.Impersonating.StartedAt).Add(e.config.Impersonation.MaxDuration)
	remaining := time.Until(cutoff)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}
