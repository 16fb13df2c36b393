package trustcore

import (
	"context"

	"github.com/relathq/trustcore/rbac"
)

// IssueAccessToken exchanges a live sealed session for a short-lived
// signed API bearer token. Requires the token subsystem to be enabled.
//
// IssueAccessToken may return an error when input validation, dependency calls, or security checks fail.
// IssueAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueAccessToken(ctx context.Context, sealed string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.jwtManager == nil {
		return "", ErrTokenInvalid
	}

	data, _ := e.openSession(ctx, sealed)
	if data == nil || data.Anonymous() {
		return "", ErrSessionNotFound
	}
	if data.Impersonating != nil {
		// API tokens outlive the impersonation cutoff; never mint one
		// for a borrowed identity.
		return "", ErrImpersonationBlocked
	}

	token, err := e.jwtManager.CreateAccess(data.UserID, data.Email, string(data.Role), data.DeviceID)
	if err != nil {
		return "", ErrTokenInvalid
	}

	e.emitAudit(ctx, auditCategoryAuthentication, auditEventAccessTokenIssued, true, data.UserID, "", nil, nil)

	return token, nil
}

// ValidateAccessToken verifies a bearer token's signature and claims.
//
// ValidateAccessToken may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.jwtManager == nil || token == "" {
		return nil, ErrTokenInvalid
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	role := rbac.Role(claims.Role)
	if claims.Role != "" && !e.hierarchy.Valid(role) {
		return nil, ErrTokenInvalid
	}

	return &AccessClaims{
		UserID:   claims.UID,
		Email:    claims.Email,
		Role:     role,
		DeviceID: claims.DID,
	}, nil
}
