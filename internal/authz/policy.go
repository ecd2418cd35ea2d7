package authz

import "github.com/google/uuid"

// Subject is the authorization-relevant view of a catalog resource.
type Subject struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Approved   bool
	Controlled bool
}

// CanView reports whether rc may see the resource at all: approved content is
// public, unapproved content is visible to admins and the owner only.
func CanView(s Subject, rc RoleContext) bool {
	return s.Approved || rc.IsAdmin() || rc.Owns(s.OwnerID)
}

// CanViewDetails reports whether rc may see the detail fields of a dataset
// (connection endpoint, credentials, sample payload, external links). Open
// datasets disclose details to everyone. Callers must strip detail fields from
// any projection when this is false.
func CanViewDetails(s Subject, rc RoleContext) bool {
	if !s.Controlled {
		return true
	}
	if !rc.Authenticated() {
		return false
	}
	return rc.IsAdmin() || rc.Owns(s.OwnerID) || rc.HasGrant(s.ID)
}

// CanEdit reports whether rc may modify the resource.
func CanEdit(s Subject, rc RoleContext) bool {
	if Evaluate(PermEditAllContent, rc) {
		return true
	}
	return rc.Owns(s.OwnerID) && Evaluate(PermEditOwnContent, rc)
}

// CanDelete follows the same rule as CanEdit.
func CanDelete(s Subject, rc RoleContext) bool {
	return CanEdit(s, rc)
}

// CanCreate reports whether rc may contribute new content.
func CanCreate(rc RoleContext) bool {
	return Evaluate(PermCreateUnapprovedContent, rc)
}

// CanApprove reports whether rc may moderate content and access requests.
func CanApprove(rc RoleContext) bool {
	return Evaluate(PermApproveContent, rc)
}

// CanDeny is the deny-side twin of CanApprove.
func CanDeny(rc RoleContext) bool {
	return Evaluate(PermApproveContent, rc)
}

// CanViewTag is the simplified tag rule: approved tags are public, the rest
// need VIEW_ALL_UNAPPROVED_CONTENT.
func CanViewTag(s Subject, rc RoleContext) bool {
	return s.Approved || Evaluate(PermViewAllUnapprovedContent, rc)
}
