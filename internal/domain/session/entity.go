package session

import "strings"

// Role selects which notification stream and which REST endpoints a session uses.
type Role string

const (
	RoleAdmin  Role = "admin"  // Dispatch back office, sees the shared admin stream
	RoleVendor Role = "vendor" // Fleet vendor, sees only its own stream
)

// ParseRole normalizes a role flag. Unknown values return ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleVendor:
		return RoleVendor, nil
	default:
		return "", ErrUnknownRole
	}
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleVendor
}

// Scope is immutable for the lifetime of a connection.
type Scope struct {
	Role       Role
	Credential string
	UserID     string
	VendorID   string
}

// HasCredential reports whether there is an active session to serve.
func (s Scope) HasCredential() bool {
	return strings.TrimSpace(s.Credential) != ""
}

// StreamKey identifies the server-side push stream for the scope.
// Every admin shares one stream; each vendor has its own.
func (s Scope) StreamKey() string {
	return StreamKey(s.Role, s.VendorID)
}

func StreamKey(role Role, vendorID string) string {
	if role == RoleVendor {
		return "vendor:" + vendorID
	}
	return string(RoleAdmin)
}
