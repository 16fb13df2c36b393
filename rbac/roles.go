package rbac

import "errors"

// Role defines a public type used by trustcore APIs.
//
// Role instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Role string

const (
	// RoleUser is an exported constant or variable used by the session-trust engine.
	RoleUser Role = "USER"
	// RoleModerator is an exported constant or variable used by the session-trust engine.
	RoleModerator Role = "MODERATOR"
	// RoleAdmin is an exported constant or variable used by the session-trust engine.
	RoleAdmin Role = "ADMIN"
	// RoleOwner is valid at organization scope only.
	RoleOwner Role = "OWNER"
)

// ErrUnknownRole is an exported constant or variable used by the session-trust engine.
var ErrUnknownRole = errors.New("unknown role")

// Grant is one (user, role, scope) tuple. A nil OrganizationID means
// platform scope.
type Grant struct {
	UserID         string
	Role           Role
	OrganizationID *string
}

// PlatformScoped reports whether the grant applies at platform scope.
func (g Grant) PlatformScoped() bool {
	return g.OrganizationID == nil
}

// Hierarchy maps roles to ordered levels. The zero value is unusable;
// construct via [NewHierarchy].
type Hierarchy struct {
	levels map[Role]int
}

// NewHierarchy returns the authoritative hierarchy. There is exactly one
// ordering in the system; callers never register additional roles.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		levels: map[Role]int{
			RoleUser:      1,
			RoleModerator: 2,
			RoleAdmin:     3,
			RoleOwner:     4,
		},
	}
}

// Level describes the level operation and its observable behavior.
//
// Level may return an error when input validation, dependency calls, or security checks fail.
// Level does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *Hierarchy) Level(role Role) (int, error) {
	if h == nil {
		return 0, ErrUnknownRole
	}
	level, ok := h.levels[role]
	if !ok {
		return 0, ErrUnknownRole
	}
	return level, nil
}

// IsAtLeast reports whether held satisfies required within one scope.
// Unknown roles never satisfy anything.
func (h *Hierarchy) IsAtLeast(held, required Role) bool {
	heldLevel, err := h.Level(held)
	if err != nil {
		return false
	}
	requiredLevel, err := h.Level(required)
	if err != nil {
		return false
	}
	return heldLevel >= requiredLevel
}

// AdminEquivalent reports whether role counts toward the last-admin
// safeguard at the given scope: platform ADMIN, or organization
// ADMIN/OWNER.
func (h *Hierarchy) AdminEquivalent(role Role, organizationScoped bool) bool {
	if role == RoleAdmin {
		return true
	}
	return organizationScoped && role == RoleOwner
}

// Valid reports whether role exists in the hierarchy.
func (h *Hierarchy) Valid(role Role) bool {
	_, err := h.Level(role)
	return err == nil
}

// Projection returns a read-only copy of the hierarchy for client-facing
// capability display. It must never be trusted for enforcement.
func (h *Hierarchy) Projection() map[Role]int {
	out := make(map[Role]int, len(h.levels))
	for role, level := range h.levels {
		out[role] = level
	}
	return out
}
