package domain

// Role is the name of a support tier (e.g. "L2-engineer").
type Role string

func (r Role) String() string { return string(r) }

// Caller is the authenticated principal for a request. Role and Level come
// from the user store, never from token claims. An empty Role means the user
// is unknown or inactive and may do nothing beyond reading their own profile.
type Caller struct {
	Email Email
	Role  Role
	Level int
}

// HasRole reports whether the caller resolved to an active role.
func (c Caller) HasRole() bool {
	return c.Role != "" && c.Level > 0
}

// AtLeast reports whether the caller's tier is at or above level.
func (c Caller) AtLeast(level int) bool {
	return c.HasRole() && c.Level >= level
}
