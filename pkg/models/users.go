package models

import "time"

// Role is the access level of a human principal within a tenant. Roles are
// distinct from API key scopes; the permission map below applies to JWT
// principals only.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
)

// Permission is an action a human principal may perform.
type Permission string

const (
	PermManageProjects  Permission = "ManageProjects"
	PermManageAPIKeys   Permission = "ManageApiKeys"
	PermManageUsers     Permission = "ManageUsers"
	PermManageBilling   Permission = "ManageBilling"
	PermViewAuditLogs   Permission = "ViewAuditLogs"
	PermPublishEvents   Permission = "PublishEvents"
	PermSubscribeEvents Permission = "SubscribeEvents"
	PermViewBilling     Permission = "ViewBilling"
)

var rolePermissions = map[Role][]Permission{
	RoleOwner: {
		PermManageProjects, PermManageAPIKeys, PermManageUsers, PermManageBilling,
		PermViewAuditLogs, PermPublishEvents, PermSubscribeEvents, PermViewBilling,
	},
	RoleAdmin: {
		PermManageProjects, PermManageAPIKeys, PermManageUsers,
		PermViewAuditLogs, PermPublishEvents, PermSubscribeEvents, PermViewBilling,
	},
	RoleDeveloper: {
		PermManageAPIKeys, PermPublishEvents, PermSubscribeEvents, PermViewBilling,
	},
	RoleViewer: {
		PermSubscribeEvents, PermViewBilling,
	},
}

// HasPermission reports whether the role grants the permission.
func (r Role) HasPermission(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// User is a human principal authenticated via JWT.
type User struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Email     string    `json:"email" db:"email"`
	Role      Role      `json:"role" db:"role"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
