package moderation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/shared"
)

// Store opens the transactional unit every transition runs in.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx is the set of writes a transition may perform. Everything done through
// one Tx commits or rolls back together.
type Tx interface {
	// Lock loads and row-locks the record. Absent or soft-deleted rows
	// yield shared.ErrNotFound.
	Lock(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	// ApplyEdits writes domain field edits.
	ApplyEdits(ctx context.Context, rec Record, edits Edits) error
	// SaveStatus persists rec.Status guarded by rec.Version and returns the
	// record with its new version. A version mismatch yields shared.ErrConflict.
	SaveStatus(ctx context.Context, rec Record) (Record, error)
	// ApprovePendingTags approves every pending tag attached to the dataset
	// and returns the ids it changed.
	ApprovePendingTags(ctx context.Context, datasetID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	// Remove deletes the record, softly for kinds that keep history.
	Remove(ctx context.Context, rec Record, at time.Time) error
	// Log appends a moderation history entry.
	Log(ctx context.Context, entry shared.ApprovalLog) error
}
