package rbac

import "commandbridge/pkg/domain"

// Resolve maps (role, action) to a permission. It is total: anything not
// explicitly granted is locked, and a role's level never widens its grants.
func (c *Catalogue) Resolve(role domain.Role, actionID string) Permission {
	g, ok := c.grant(role, actionID)
	if !ok {
		return PermissionLocked
	}
	switch {
	case g.Wildcard, g.Run:
		return PermissionRun
	case g.Request:
		return PermissionRequest
	default:
		return PermissionLocked
	}
}

// CanApprove reports whether role may approve a pending request for actionID.
func (c *Catalogue) CanApprove(role domain.Role, actionID string) bool {
	g, ok := c.grant(role, actionID)
	return ok && (g.Wildcard || g.Run || g.Approve)
}

// ActionsForRole projects every action with role's resolved permission.
func (c *Catalogue) ActionsForRole(role domain.Role) []ActionView {
	out := make([]ActionView, 0, len(c.order))
	for _, id := range c.order {
		a := c.actions[id]
		categories := a.Categories
		if categories == nil {
			categories = []Category{}
		}
		out = append(out, ActionView{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Risk:        a.Risk,
			Target:      a.Target,
			Runbook:     a.Runbook,
			Categories:  categories,
			Permission:  c.Resolve(role, id),
		})
	}
	return out
}

func (c *Catalogue) grant(role domain.Role, actionID string) (Grant, bool) {
	if role == "" {
		return Grant{}, false
	}
	a, ok := c.actions[actionID]
	if !ok {
		return Grant{}, false
	}
	g, ok := a.Permissions[role]
	return g, ok
}

// Capabilities on non-action surfaces follow the caller's level.

func CanWriteKB(c domain.Caller) bool          { return c.AtLeast(2) }
func CanDeleteKB(c domain.Caller) bool         { return c.AtLeast(3) }
func CanAdminister(c domain.Caller) bool       { return c.AtLeast(3) }
func CanReviewRequests(c domain.Caller) bool   { return c.AtLeast(2) }
func CanQueryAllAudit(c domain.Caller) bool    { return c.AtLeast(2) }
func CanQueryAllActivity(c domain.Caller) bool { return c.AtLeast(3) }
