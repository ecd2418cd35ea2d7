// Package authz decides what a principal may do with catalog content: the
// role-to-permission matrix, per-request role contexts and the visibility rules
// for datasets, tags and showcases.
package authz

// Permission is a capability checked independently of any resource instance.
type Permission int

// The permission set is closed. Evaluate fails closed for anything else.
const (
	PermViewPublicContent Permission = iota + 1
	PermViewOwnUnapprovedContent
	PermCreateUnapprovedContent
	PermEditOwnContent
	PermViewControlledDatasetDetails
	PermViewAllUnapprovedContent
	PermCreateApprovedContent
	PermApproveContent
	PermEditAllContent
	PermEditHomepageSettings
	PermManageUsers
)

var permissionNames = map[Permission]string{
	PermViewPublicContent:            "VIEW_PUBLIC_CONTENT",
	PermViewOwnUnapprovedContent:     "VIEW_OWN_UNAPPROVED_CONTENT",
	PermCreateUnapprovedContent:      "CREATE_UNAPPROVED_CONTENT",
	PermEditOwnContent:               "EDIT_OWN_CONTENT",
	PermViewControlledDatasetDetails: "VIEW_CONTROLLED_DATASET_DETAILS",
	PermViewAllUnapprovedContent:     "VIEW_ALL_UNAPPROVED_CONTENT",
	PermCreateApprovedContent:        "CREATE_APPROVED_CONTENT",
	PermApproveContent:               "APPROVE_CONTENT",
	PermEditAllContent:               "EDIT_ALL_CONTENT",
	PermEditHomepageSettings:         "EDIT_HOMEPAGE_SETTINGS",
	PermManageUsers:                  "MANAGE_USERS",
}

// String returns the canonical upper-case permission name.
func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// AllPermissions lists every permission in declaration order.
func AllPermissions() []Permission {
	perms := make([]Permission, 0, len(permissionNames))
	for p := PermViewPublicContent; p <= PermManageUsers; p++ {
		perms = append(perms, p)
	}
	return perms
}

// ParsePermission resolves a canonical permission name.
func ParsePermission(name string) (Permission, bool) {
	for p, n := range permissionNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

var (
	contributorRoles = []Role{RoleGeneralUser, RoleControlledDatasetGrantedUser, RoleContentOwner, RoleAdmin}
	detailRoles      = []Role{RoleControlledDatasetGrantedUser, RoleContentOwner, RoleAdmin}
)

// Evaluate reports whether rc holds permission p. It has no side effects and
// returns false for values outside the closed set.
func Evaluate(p Permission, rc RoleContext) bool {
	switch p {
	case PermViewPublicContent:
		return true
	case PermViewOwnUnapprovedContent:
		return rc.Authenticated()
	case PermCreateUnapprovedContent, PermEditOwnContent:
		return rc.HasAnyRole(contributorRoles...)
	case PermViewControlledDatasetDetails:
		return rc.HasAnyRole(detailRoles...)
	case PermViewAllUnapprovedContent,
		PermCreateApprovedContent,
		PermApproveContent,
		PermEditAllContent,
		PermEditHomepageSettings,
		PermManageUsers:
		return rc.HasRole(RoleAdmin)
	default:
		return false
	}
}

// EffectivePermissions returns every permission rc holds.
func EffectivePermissions(rc RoleContext) []Permission {
	var granted []Permission
	for _, p := range AllPermissions() {
		if Evaluate(p, rc) {
			granted = append(granted, p)
		}
	}
	return granted
}
