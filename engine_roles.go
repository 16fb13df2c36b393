package trustcore

import (
	"context"

	"github.com/relathq/trustcore/rbac"
)

// IsGranted reports whether the user holds at least the required role
// at the given scope. A nil organizationID means platform scope; at
// organization scope, a platform grant of sufficient level also counts.
//
// IsGranted may return an error when input validation, dependency calls, or security checks fail.
// IsGranted does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IsGranted(ctx context.Context, userID string, required rbac.Role, organizationID *string) (bool, error) {
	if e == nil || e.roleProvider == nil {
		return false, ErrEngineNotReady
	}
	if !e.hierarchy.Valid(required) {
		return false, ErrRoleUnknown
	}

	grants, err := e.roleProvider.GrantsForUser(ctx, userID)
	if err != nil {
		return false, ErrServer
	}

	for _, grant := range grants {
		if !e.hierarchy.Valid(grant.Role) {
			continue
		}
		if !grantCoversScope(grant, organizationID) {
			continue
		}
		if e.hierarchy.IsAtLeast(grant.Role, required) {
			return true, nil
		}
	}

	return false, nil
}

// CheckRoleRemovalSafeguards decides whether removing the given role
// grant from the target user is allowed. Removal of the sole remaining
// admin-equivalent grant at a scope is refused and audited; the engine
// never clears the path to a zero-admin scope.
//
// CheckRoleRemovalSafeguards may return an error when input validation, dependency calls, or security checks fail.
// CheckRoleRemovalSafeguards does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CheckRoleRemovalSafeguards(
	ctx context.Context,
	targetUserID string,
	role rbac.Role,
	organizationID *string,
	actorUserID string,
) (RoleRemovalDecision, error) {
	if e == nil || e.roleProvider == nil {
		return RoleRemovalDecision{}, ErrEngineNotReady
	}
	if !e.hierarchy.Valid(role) {
		return RoleRemovalDecision{}, ErrRoleUnknown
	}

	if !e.hierarchy.AdminEquivalent(role, organizationID != nil) {
		return RoleRemovalDecision{Allowed: true}, nil
	}

	// Only grants the target actually holds can bring the count down.
	grants, err := e.roleProvider.GrantsForUser(ctx, targetUserID)
	if err != nil {
		return RoleRemovalDecision{}, ErrServer
	}
	holdsGrant := false
	for _, grant := range grants {
		if grant.Role == role && sameScope(grant.OrganizationID, organizationID) {
			holdsGrant = true
			break
		}
	}
	if !holdsGrant {
		return RoleRemovalDecision{Allowed: true}, nil
	}

	holders, err := e.roleProvider.CountAdminHolders(ctx, organizationID)
	if err != nil {
		return RoleRemovalDecision{}, ErrServer
	}

	if holders <= 1 {
		e.metricInc(MetricRoleRemovalBlocked)
		e.emitAudit(ctx, auditCategoryAuthorization, auditEventRoleRemovalBlocked, false, targetUserID, actorUserID, ErrLastAdmin, func() map[string]string {
			meta := map[string]string{"role": string(role)}
			if organizationID != nil {
				meta["organization_id"] = *organizationID
			}
			return meta
		})
		return RoleRemovalDecision{
			Allowed: false,
			Reason:  "removing this grant would leave the scope without an administrator",
		}, ErrLastAdmin
	}

	return RoleRemovalDecision{Allowed: true}, nil
}

// grantCoversScope reports whether a grant applies at the requested
// scope. Platform grants cover every organization; organization grants
// cover only their own.
func grantCoversScope(grant rbac.Grant, organizationID *string) bool {
	if organizationID == nil {
		return grant.PlatformScoped()
	}
	if grant.PlatformScoped() {
		return true
	}
	return grant.OrganizationID != nil && *grant.OrganizationID == *organizationID
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
