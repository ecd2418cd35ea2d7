package authz

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"
)

// RoleContext is the resolved security context of one principal for one
// request. It is immutable; build a fresh one per request.
type RoleContext struct {
	principal uuid.UUID
	roles     []Role
	grants    map[uuid.UUID]struct{}
}

// Anonymous returns the context of an unauthenticated visitor.
func Anonymous() RoleContext {
	return RoleContext{roles: []Role{RolePublicVisitor}}
}

// NewRoleContext builds the context of an authenticated principal. A nil
// principal yields the anonymous context regardless of the other arguments.
func NewRoleContext(principal uuid.UUID, isAdmin bool, grantedDatasetIDs []uuid.UUID) RoleContext {
	if principal == uuid.Nil {
		return Anonymous()
	}
	roles := []Role{RoleGeneralUser}
	if isAdmin {
		roles = append(roles, RoleAdmin)
	}
	grants := make(map[uuid.UUID]struct{}, len(grantedDatasetIDs))
	for _, id := range grantedDatasetIDs {
		grants[id] = struct{}{}
	}
	return RoleContext{principal: principal, roles: roles, grants: grants}
}

// Principal returns the principal id, or uuid.Nil when anonymous.
func (rc RoleContext) Principal() uuid.UUID {
	return rc.principal
}

// Authenticated reports whether a principal is present.
func (rc RoleContext) Authenticated() bool {
	return rc.principal != uuid.Nil
}

// Roles returns a copy of the role set.
func (rc RoleContext) Roles() []Role {
	if len(rc.roles) == 0 {
		return []Role{RolePublicVisitor}
	}
	out := make([]Role, len(rc.roles))
	copy(out, rc.roles)
	return out
}

// HasRole reports whether role is in the set.
func (rc RoleContext) HasRole(role Role) bool {
	for _, r := range rc.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the set intersects roles.
func (rc RoleContext) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if rc.HasRole(r) {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (rc RoleContext) IsAdmin() bool {
	return rc.HasRole(RoleAdmin)
}

// Owns reports whether the principal is ownerID. Anonymous contexts own nothing.
func (rc RoleContext) Owns(ownerID uuid.UUID) bool {
	return rc.principal != uuid.Nil && rc.principal == ownerID
}

// HasGrant reports whether the principal holds a currently valid grant for datasetID.
func (rc RoleContext) HasGrant(datasetID uuid.UUID) bool {
	_, ok := rc.grants[datasetID]
	return ok
}

// GrantedDatasetIDs returns the granted dataset ids in a stable order.
func (rc RoleContext) GrantedDatasetIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rc.grants))
	for id := range rc.grants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

// RolesFor returns a copy of rc with the roles that only exist relative to
// subject: ContentOwner when the principal owns it and
// ControlledDatasetGrantedUser when it is a controlled dataset the principal
// holds a grant for.
func (rc RoleContext) RolesFor(subject Subject) RoleContext {
	if !rc.Authenticated() {
		return rc
	}
	roles := rc.Roles()
	if rc.Owns(subject.OwnerID) {
		roles = append(roles, RoleContentOwner)
	}
	if subject.Controlled && rc.HasGrant(subject.ID) {
		roles = append(roles, RoleControlledDatasetGrantedUser)
	}
	return RoleContext{principal: rc.principal, roles: roles, grants: rc.grants}
}

type roleContextKey struct{}

// WithRoleContext stores rc in ctx.
func WithRoleContext(ctx context.Context, rc RoleContext) context.Context {
	return context.WithValue(ctx, roleContextKey{}, rc)
}

// FromContext returns the RoleContext stored in ctx, or the anonymous context.
func FromContext(ctx context.Context) RoleContext {
	if rc, ok := ctx.Value(roleContextKey{}).(RoleContext); ok {
		return rc
	}
	return Anonymous()
}
