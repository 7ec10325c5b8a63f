// Package policy is the static role -> capability table consulted by the
// action pipeline and the REST layer.
package policy

// Roles.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleBuilder = "builder"
	RoleViewer  = "viewer"
	RoleAgent   = "agent"
)

// Capabilities.
const (
	CapRead             = "read"
	CapWrite            = "write"
	CapDelete           = "delete"
	CapManageRoles      = "manage_roles"
	CapManageAgents     = "manage_agents"
	CapSnapshot         = "snapshot"
	CapRollback         = "rollback"
	CapSetPermissions   = "set_permissions"
	CapApproveProposals = "approve_proposals"
)

var rolePermissions = map[string]map[string]struct{}{
	RoleOwner: caps(CapRead, CapWrite, CapDelete, CapManageRoles, CapManageAgents,
		CapSnapshot, CapRollback, CapSetPermissions, CapApproveProposals),
	RoleAdmin: caps(CapRead, CapWrite, CapDelete, CapManageAgents,
		CapSnapshot, CapRollback, CapApproveProposals),
	RoleBuilder: caps(CapRead, CapWrite, CapDelete),
	RoleViewer:  caps(CapRead),
	RoleAgent:   caps(CapRead, CapWrite),
}

func caps(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Allows reports whether role carries the capability. Unknown roles carry
// nothing.
func Allows(role, capability string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = perms[capability]
	return ok
}

// Known reports whether role is part of the table.
func Known(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}
