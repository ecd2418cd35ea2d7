package authz

// Role is a named group of permissions. Only GeneralUser and Admin are ever
// attached to a principal directly; ControlledDatasetGrantedUser and
// ContentOwner are derived per resource by RoleContext.RolesFor.
type Role string

const (
	RolePublicVisitor                Role = "PUBLIC_VISITOR"
	RoleGeneralUser                  Role = "GENERAL_USER"
	RoleControlledDatasetGrantedUser Role = "CONTROLLED_DATASET_GRANTED_USER"
	RoleContentOwner                 Role = "CONTENT_OWNER"
	RoleAdmin                        Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePublicVisitor, RoleGeneralUser, RoleControlledDatasetGrantedUser, RoleContentOwner, RoleAdmin:
		return true
	default:
		return false
	}
}
