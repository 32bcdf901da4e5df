package auth

const (
	PermResourcesRead     = "resources.read"
	PermResourcesOperate  = "resources.operate"
	PermUsersManage       = "users.manage"
	PermInvitationsManage = "invitations.manage"
	PermApprovalsDecide   = "approvals.decide"
	PermAuditRead         = "audit.read"
	PermAuditWrite        = "audit.write"
	PermPreferencesWrite  = "preferences.write"
)

// BuiltinPermissions maps each permission to the least role that holds it.
var BuiltinPermissions = map[string]Role{
	PermResourcesRead:     RoleReadonly,
	PermResourcesOperate:  RoleWrite,
	PermUsersManage:       RoleAdmin,
	PermInvitationsManage: RoleAdmin,
	PermApprovalsDecide:   RoleAdmin,
	PermAuditRead:         RoleAdmin,
	PermAuditWrite:        RoleReadonly,
	PermPreferencesWrite:  RoleReadonly,
}

// RequiredRole returns the least role holding perm. Unknown permissions require admin.
func RequiredRole(perm string) Role {
	if r, ok := BuiltinPermissions[perm]; ok {
		return r
	}
	return RoleAdmin
}
