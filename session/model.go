package session

import "github.com/relathq/trustcore/rbac"

// SchemaVersion is the current sealed-record schema. Records carrying
// any other version are rejected whole.
const SchemaVersion = 2

// Organization is the optional organization scope carried in the sealed
// record.
type Organization struct {
	ID   string
	Role rbac.Role
}

// Impersonation is the block stored while an admin has assumed another
// identity. It must carry enough to fully restore the original identity
// on exit. At most one impersonation is active per session; it never
// leaves the sealed record.
type Impersonation struct {
	OriginalUserID string
	OriginalEmail  string
	OriginalRole   rbac.Role
	// StartedAt is epoch milliseconds.
	StartedAt int64
}

// Data is the decoded session record. IsLoggedIn implies UserID and
// Email are set. The zero value is the anonymous session.
type Data struct {
	UserID string
	Email  string
	Role   rbac.Role

	IsLoggedIn bool

	// CreatedAt is epoch milliseconds; reset by extension.
	CreatedAt int64

	// CSRFToken is the per-session anti-forgery token; rotated after
	// sensitive state changes.
	CSRFToken string

	// DeviceID links the sealed record to its persisted device record,
	// when device tracking is enabled.
	DeviceID string

	Organization  *Organization
	Impersonating *Impersonation
}

// Anonymous reports whether the record carries no authenticated
// identity.
func (d *Data) Anonymous() bool {
	return d == nil || !d.IsLoggedIn
}
