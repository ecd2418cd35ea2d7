// Package moderation implements the pending/approved/denied lifecycle shared
// by datasets, tags and showcases.
package moderation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/shared"
)

// Kind identifies a moderatable resource type.
type Kind string

const (
	KindDataset  Kind = "dataset"
	KindTag      Kind = "tag"
	KindShowcase Kind = "showcase"
)

// ParseKind validates a kind coming from a route parameter.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(raw); k {
	case KindDataset, KindTag, KindShowcase:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown resource kind %q", shared.ErrValidation, raw)
	}
}

// SoftDeletes reports whether delete keeps the row with deleted_at set.
func (k Kind) SoftDeletes() bool {
	return k == KindDataset || k == KindShowcase
}

// State is the derived moderation state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
)

// Status holds the two moderation timestamps. At most one is ever set; the
// mutators below are the only way to change them.
type Status struct {
	ApprovedAt *time.Time
	DeniedAt   *time.Time
}

// ApprovedStatus returns a status approved at t.
func ApprovedStatus(t time.Time) Status {
	var s Status
	s.Approve(t)
	return s
}

// State derives the state from the timestamps.
func (s Status) State() State {
	switch {
	case s.ApprovedAt != nil:
		return StateApproved
	case s.DeniedAt != nil:
		return StateDenied
	default:
		return StatePending
	}
}

// IsApproved reports whether the status is approved.
func (s Status) IsApproved() bool {
	return s.State() == StateApproved
}

// Valid reports whether the mutual-exclusion invariant holds.
func (s Status) Valid() bool {
	return s.ApprovedAt == nil || s.DeniedAt == nil
}

// Approve moves to approved at t.
func (s *Status) Approve(t time.Time) {
	at := t
	s.ApprovedAt = &at
	s.DeniedAt = nil
}

// Deny moves to denied at t.
func (s *Status) Deny(t time.Time) {
	at := t
	s.DeniedAt = &at
	s.ApprovedAt = nil
}

// Reset moves to pending.
func (s *Status) Reset() {
	s.ApprovedAt = nil
	s.DeniedAt = nil
}

// Record is the moderation-relevant projection of a resource row.
type Record struct {
	Kind       Kind
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Controlled bool
	Status     Status
	DeletedAt  *time.Time
	Version    int64
}

// Subject returns the authorization view of the record.
func (r Record) Subject() authz.Subject {
	return authz.Subject{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Approved:   r.Status.IsApproved(),
		Controlled: r.Controlled,
	}
}

// Edits maps editable column names to new values. Stores reject columns that
// are not editable for the kind.
type Edits map[string]any

var (
	// ErrInvalidEdit indicates an edit names a column the kind does not allow.
	ErrInvalidEdit = fmt.Errorf("%w: field is not editable", shared.ErrValidation)
	// ErrStoreNotConfigured indicates the machine has no store.
	ErrStoreNotConfigured = errors.New("moderation: store not configured")
)
