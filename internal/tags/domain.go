// Package tags manages the dataset tag vocabulary.
package tags

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
)

// Tag is a moderated label attached to datasets.
type Tag struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Status    moderation.Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Subject returns the authorization view of the tag.
func (t Tag) Subject() authz.Subject {
	return authz.Subject{ID: t.ID, OwnerID: t.OwnerID, Approved: t.Status.IsApproved()}
}

// View is the JSON shape of a tag.
type View struct {
	ID        uuid.UUID        `json:"id"`
	OwnerID   uuid.UUID        `json:"ownerId"`
	Name      string           `json:"name"`
	State     moderation.State `json:"state"`
	CreatedAt time.Time        `json:"createdAt"`
	Version   int64            `json:"version"`
}

func toView(t Tag) View {
	return View{ID: t.ID, OwnerID: t.OwnerID, Name: t.Name, State: t.Status.State(), CreatedAt: t.CreatedAt, Version: t.Version}
}

// Input is the body of create and rename calls.
type Input struct {
	Name string `json:"name" validate:"required,max=64"`
}
