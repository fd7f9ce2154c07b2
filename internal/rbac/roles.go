package rbac

// Role names carried in access tokens. Changing a value invalidates issued tokens.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleAnalyst   = "analyst"
	RoleFinance   = "finance"
	RoleDeveloper = "developer"

	RoleSuperAdmin = "super_admin"
	// RoleSupport is platform staff acting inside a tenant. Hidden: never granted by a role list
	// unless named explicitly.
	RoleSupport = "support"
)

var knownRoles = map[string]struct{}{
	RoleOwner:      {},
	RoleAdmin:      {},
	RoleAnalyst:    {},
	RoleFinance:    {},
	RoleDeveloper:  {},
	RoleSuperAdmin: {},
	RoleSupport:    {},
}

// CallHistoryRoles may read call sessions, costs and summaries.
var CallHistoryRoles = []string{RoleOwner, RoleAdmin, RoleAnalyst, RoleFinance}

func Known(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }
