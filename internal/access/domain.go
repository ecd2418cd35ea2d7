// Package access owns access requests for controlled datasets and derives the
// grants that feed role contexts.
package access

import (
	"time"

	"github.com/google/uuid"
)

// Module is the approval log module name for access requests.
const Module = "access_request"

// AccessRequest asks for detail access to one dataset.
type AccessRequest struct {
	ID                 uuid.UUID  `json:"id"`
	RequesterID        uuid.UUID  `json:"requesterId"`
	DatasetID          uuid.UUID  `json:"datasetId"`
	JobTitle           string     `json:"jobTitle"`
	Company            string     `json:"company"`
	ContactEmail       string     `json:"contactEmail"`
	Department         *string    `json:"department,omitempty"`
	ProjectDescription string     `json:"projectDescription"`
	UsageDetails       string     `json:"usageDetails"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	ApprovedAt         *time.Time `json:"approvedAt,omitempty"`
	DeniedAt           *time.Time `json:"deniedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"-"`
	Version            int64      `json:"version"`
}

// IsApproved reports whether the request has been approved.
func (r AccessRequest) IsApproved() bool { return r.ApprovedAt != nil }

// IsDenied reports whether the request has been denied.
func (r AccessRequest) IsDenied() bool { return r.DeniedAt != nil }

// IsPending reports whether no decision has been made.
func (r AccessRequest) IsPending() bool { return !r.IsApproved() && !r.IsDenied() }

// IsExpired reports whether a finite end time lies strictly before now. A
// request is still valid at exactly its end time.
func (r AccessRequest) IsExpired(now time.Time) bool {
	return r.EndTime != nil && now.After(*r.EndTime)
}

// HasValidAccess reports whether the request currently grants access.
func (r AccessRequest) HasValidAccess(now time.Time) bool {
	return r.IsApproved() && !r.IsDenied() && !r.IsExpired(now)
}

// Status is a display label for the request state.
func (r AccessRequest) Status(now time.Time) string {
	switch {
	case r.IsDenied():
		return "denied"
	case r.IsApproved() && r.IsExpired(now):
		return "expired"
	case r.IsApproved():
		return "approved"
	default:
		return "pending"
	}
}

// approve sets the approved state. endDate nil means unlimited.
func (r *AccessRequest) approve(at time.Time, endDate *time.Time) {
	approved := at
	r.ApprovedAt = &approved
	r.DeniedAt = nil
	r.EndTime = nil
	if endDate != nil {
		end := endDate.UTC()
		r.EndTime = &end
	}
	r.UpdatedAt = at
}

// deny sets the denied state and drops any end time.
func (r *AccessRequest) deny(at time.Time) {
	denied := at
	r.DeniedAt = &denied
	r.ApprovedAt = nil
	r.EndTime = nil
	r.UpdatedAt = at
}

// CreateInput carries the requester's form fields.
type CreateInput struct {
	JobTitle           string  `json:"jobTitle" validate:"required,max=200"`
	Company            string  `json:"company" validate:"required,max=200"`
	ContactEmail       string  `json:"contactEmail" validate:"required,email,max=320"`
	Department         *string `json:"department" validate:"omitempty,max=200"`
	ProjectDescription string  `json:"projectDescription" validate:"required,max=4000"`
	UsageDetails       string  `json:"usageDetails" validate:"required,max=4000"`
}

// ApproveInput is the body of an approve call.
type ApproveInput struct {
	EndTime *time.Time `json:"endTime"`
}

// Grant is a currently valid access request reduced to what role contexts
// and caches need.
type Grant struct {
	DatasetID uuid.UUID
	EndTime   *time.Time
}
