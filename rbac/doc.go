// Package rbac holds the single authoritative role hierarchy for the
// session-trust engine.
//
// Roles are ordered: USER < MODERATOR < ADMIN, with OWNER above ADMIN at
// organization scope. A grant is scoped to the platform (nil
// organization id) or to one organization. Grant checks compare levels
// within one scope only; an organization ADMIN holds no platform
// authority.
//
// # What this package must NOT do
//
//   - Perform I/O; grant storage belongs to the caller.
//   - Be duplicated client-side for enforcement. [Projection] exists for
//     capability display only; enforcement always re-executes
//     [Hierarchy.IsAtLeast] server-side.
package rbac
