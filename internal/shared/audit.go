package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/platform/db"
)

// AuditLog is one row of audit_logs. A uuid.Nil actor marks a system action
// such as the expiry sweep.
type AuditLog struct {
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes audit_logs rows through q, which may be a pool or the
// transaction of the mutation being audited.
type AuditLogger struct {
	q db.DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(q db.DBTX) *AuditLogger {
	return &AuditLogger{q: q}
}

// Record persists entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.q == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return fmt.Errorf("shared: audit entry %q on %s/%s is incomplete", entry.Action, entry.Entity, entry.EntityID)
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("shared: audit meta: %w", err)
	}
	var actor *uuid.UUID
	if entry.ActorID != uuid.Nil {
		actor = &entry.ActorID
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = l.q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}
