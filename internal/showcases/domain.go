// Package showcases manages write-ups that feature a dataset.
package showcases

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
)

// Showcase is a moderated write-up about a dataset.
type Showcase struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	DatasetID uuid.UUID
	Title     string
	Summary   string
	URL       string
	Status    moderation.Status
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	Version   int64
}

// Subject returns the authorization view of the showcase.
func (s Showcase) Subject() authz.Subject {
	return authz.Subject{ID: s.ID, OwnerID: s.OwnerID, Approved: s.Status.IsApproved()}
}

// View is the JSON shape of a showcase.
type View struct {
	ID        uuid.UUID        `json:"id"`
	OwnerID   uuid.UUID        `json:"ownerId"`
	DatasetID uuid.UUID        `json:"datasetId"`
	Title     string           `json:"title"`
	Summary   string           `json:"summary"`
	URL       string           `json:"url"`
	State     moderation.State `json:"state"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Version   int64            `json:"version"`
}

func toView(s Showcase) View {
	return View{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		DatasetID: s.DatasetID,
		Title:     s.Title,
		Summary:   s.Summary,
		URL:       s.URL,
		State:     s.Status.State(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Version:   s.Version,
	}
}

// CreateInput is the body of a create call.
type CreateInput struct {
	DatasetID uuid.UUID `json:"datasetId" validate:"required"`
	Title     string    `json:"title" validate:"required,max=200"`
	Summary   string    `json:"summary" validate:"max=4000"`
	URL       string    `json:"url" validate:"omitempty,url,max=2048"`
}

// UpdateInput carries changed fields; nil fields are kept.
type UpdateInput struct {
	Title   *string `json:"title" validate:"omitempty,max=200"`
	Summary *string `json:"summary" validate:"omitempty,max=4000"`
	URL     *string `json:"url" validate:"omitempty,max=2048"`
}

func (in UpdateInput) edits() moderation.Edits {
	edits := moderation.Edits{}
	if in.Title != nil {
		edits["title"] = *in.Title
	}
	if in.Summary != nil {
		edits["summary"] = *in.Summary
	}
	if in.URL != nil {
		edits["url"] = *in.URL
	}
	return edits
}
