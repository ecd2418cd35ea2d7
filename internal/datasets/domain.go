// Package datasets serves the dataset catalog on top of the visibility
// policy and the moderation machine.
package datasets

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/shared"
)

// Kind is open or controlled.
type Kind string

const (
	KindOpen       Kind = "open"
	KindControlled Kind = "controlled"
)

// Dataset is the stored dataset row.
type Dataset struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Kind          Kind
	Title         string
	Description   string
	EndpointURL   string
	Credentials   string
	SamplePayload string
	ExternalLinks []string
	TagIDs        []uuid.UUID
	FeedVerified  bool
	Status        moderation.Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
	Version       int64
}

// Subject returns the authorization view of the dataset.
func (d Dataset) Subject() authz.Subject {
	return authz.Subject{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		Approved:   d.Status.IsApproved(),
		Controlled: d.Kind == KindControlled,
	}
}

// Details is the field subset gated by authz.CanViewDetails.
type Details struct {
	EndpointURL   string   `json:"endpointUrl,omitempty"`
	Credentials   string   `json:"credentials,omitempty"`
	SamplePayload string   `json:"samplePayload,omitempty"`
	ExternalLinks []string `json:"externalLinks,omitempty"`
}

// View is the projection returned to callers.
type View struct {
	ID           uuid.UUID        `json:"id"`
	OwnerID      uuid.UUID        `json:"ownerId"`
	Kind         Kind             `json:"kind"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	TagIDs       []uuid.UUID      `json:"tagIds"`
	FeedVerified bool             `json:"feedVerified"`
	State        moderation.State `json:"state"`
	ApprovedAt   *time.Time       `json:"approvedAt,omitempty"`
	DeniedAt     *time.Time       `json:"deniedAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	Version      int64            `json:"version"`
	Details      *Details         `json:"details,omitempty"`
}

// Project builds the caller's view of d. Detail fields are left out entirely
// unless rc may see them.
func Project(d Dataset, rc authz.RoleContext) View {
	v := View{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Kind:         d.Kind,
		Title:        d.Title,
		Description:  d.Description,
		TagIDs:       append([]uuid.UUID{}, d.TagIDs...),
		FeedVerified: d.FeedVerified,
		State:        d.Status.State(),
		ApprovedAt:   d.Status.ApprovedAt,
		DeniedAt:     d.Status.DeniedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Version:      d.Version,
	}
	if authz.CanViewDetails(d.Subject(), rc) {
		v.Details = &Details{
			EndpointURL:   d.EndpointURL,
			Credentials:   d.Credentials,
			SamplePayload: d.SamplePayload,
			ExternalLinks: append([]string(nil), d.ExternalLinks...),
		}
	}
	return v
}

// CreateInput is the body of a create call.
type CreateInput struct {
	Kind          Kind        `json:"kind" validate:"required,oneof=open controlled"`
	Title         string      `json:"title" validate:"required,max=200"`
	Description   string      `json:"description" validate:"max=10000"`
	EndpointURL   string      `json:"endpointUrl" validate:"omitempty,url,max=2048"`
	Credentials   string      `json:"credentials" validate:"max=4000"`
	SamplePayload string      `json:"samplePayload" validate:"max=65536"`
	ExternalLinks []string    `json:"externalLinks" validate:"max=20,dive,url"`
	TagIDs        []uuid.UUID `json:"tagIds" validate:"max=50"`
}

// UpdateInput carries the fields an edit changes; nil fields are kept.
type UpdateInput struct {
	Kind          *Kind        `json:"kind" validate:"omitempty,oneof=open controlled"`
	Title         *string      `json:"title" validate:"omitempty,max=200"`
	Description   *string      `json:"description" validate:"omitempty,max=10000"`
	EndpointURL   *string      `json:"endpointUrl" validate:"omitempty,max=2048"`
	Credentials   *string      `json:"credentials" validate:"omitempty,max=4000"`
	SamplePayload *string      `json:"samplePayload" validate:"omitempty,max=65536"`
	ExternalLinks *[]string    `json:"externalLinks" validate:"omitempty,max=20,dive,url"`
	TagIDs        *[]uuid.UUID `json:"tagIds" validate:"omitempty,max=50"`
}

// Edits converts the input into moderation edits. Changing the endpoint
// clears the feed verification.
func (in UpdateInput) Edits() moderation.Edits {
	edits := moderation.Edits{}
	if in.Kind != nil {
		edits["kind"] = string(*in.Kind)
	}
	if in.Title != nil {
		edits["title"] = *in.Title
	}
	if in.Description != nil {
		edits["description"] = *in.Description
	}
	if in.EndpointURL != nil {
		edits["endpoint_url"] = *in.EndpointURL
		edits["feed_verified"] = false
	}
	if in.Credentials != nil {
		edits["credentials"] = *in.Credentials
	}
	if in.SamplePayload != nil {
		edits["sample_payload"] = *in.SamplePayload
	}
	if in.ExternalLinks != nil {
		edits["external_links"] = *in.ExternalLinks
	}
	if in.TagIDs != nil {
		edits[moderation.TagIDsEdit] = *in.TagIDs
	}
	return edits
}

// ListFilter narrows a listing.
type ListFilter struct {
	Kind    Kind
	TagID   uuid.UUID
	OwnerID uuid.UUID
	Query   string
	Page    shared.PageRequest
}

// Visibility restricts a listing to what the viewer may see: approved rows,
// plus the viewer's own rows, or everything for admins.
type Visibility struct {
	All    bool
	Viewer uuid.UUID
}

// VisibilityFor derives the listing restriction from rc.
func VisibilityFor(rc authz.RoleContext) Visibility {
	return Visibility{All: authz.Evaluate(authz.PermViewAllUnapprovedContent, rc), Viewer: rc.Principal()}
}
