package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/platform/db"
)

// ApprovalAction enumerates moderation log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a first submission or a non-privileged edit.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalResubmit marks an edit that moved previously denied content back to pending.
	ApprovalResubmit ApprovalAction = "RESUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalDeny marks a deny action.
	ApprovalDeny ApprovalAction = "DENY"
	// ApprovalDelete marks removal of the record.
	ApprovalDelete ApprovalAction = "DELETE"
)

// ApprovalLog represents a single moderation record.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID uuid.UUID
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// Validate checks the required fields.
func (l ApprovalLog) Validate() error {
	if l.Module == "" {
		return errors.New("approval module required")
	}
	if l.ActorID == uuid.Nil {
		return errors.New("approval actor required")
	}
	if l.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if l.Action == "" {
		return errors.New("approval action required")
	}
	return nil
}

// ApprovalRecorder persists moderation history.
type ApprovalRecorder struct {
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{logger: logger}
}

// Record writes an approval entry through q, which may be a transaction so
// the log commits or rolls back with the transition it describes.
func (r *ApprovalRecorder) Record(ctx context.Context, q db.DBTX, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := q.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.Any("error", err))
		return err
	}
	return nil
}

// List returns approvals for module/ref in chronological order.
func (r *ApprovalRecorder) List(ctx context.Context, q db.DBTX, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := q.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
