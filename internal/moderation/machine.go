package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/shared"
)

// Observer receives one call per attempted transition.
type Observer interface {
	ObserveTransition(module, action, outcome string)
}

// Machine runs moderation transitions against a Store.
type Machine struct {
	store    Store
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewMachine constructs a Machine.
func NewMachine(store Store, logger *slog.Logger, observer Observer) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:    store,
		logger:   logger,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (m *Machine) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Now returns the machine clock reading.
func (m *Machine) Now() time.Time {
	return m.now()
}

// InitialStatus is the status new content starts in: approved when the
// creator holds CREATE_APPROVED_CONTENT, pending otherwise.
func (m *Machine) InitialStatus(rc authz.RoleContext) Status {
	if authz.Evaluate(authz.PermCreateApprovedContent, rc) {
		return ApprovedStatus(m.now())
	}
	return Status{}
}

// InitialAction is the log action matching InitialStatus.
func InitialAction(status Status) shared.ApprovalAction {
	if status.IsApproved() {
		return shared.ApprovalApprove
	}
	return shared.ApprovalSubmit
}

// Approve moves the resource to approved. Approving a dataset also approves
// every pending tag attached to it in the same transaction; tags that are
// already approved or denied are left alone.
func (m *Machine) Approve(ctx context.Context, rc authz.RoleContext, kind Kind, id uuid.UUID) (rec Record, err error) {
	defer func() { m.observe(kind, shared.ApprovalApprove, err) }()
	if !authz.CanApprove(rc) {
		return Record{}, fmt.Errorf("moderation: approve %s: %w", kind, shared.ErrForbidden)
	}
	err = m.withTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.Lock(ctx, kind, id)
		if err != nil {
			return err
		}
		at := m.now()
		locked.Status.Approve(at)
		rec, err = tx.SaveStatus(ctx, locked)
		if err != nil {
			return err
		}
		if err := m.log(ctx, tx, rec, rc.Principal(), shared.ApprovalApprove, ""); err != nil {
			return err
		}
		if kind != KindDataset {
			return nil
		}
		return m.cascadeTags(ctx, tx, rec.ID, rc.Principal(), at)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Deny moves the resource to denied.
func (m *Machine) Deny(ctx context.Context, rc authz.RoleContext, kind Kind, id uuid.UUID) (rec Record, err error) {
	defer func() { m.observe(kind, shared.ApprovalDeny, err) }()
	if !authz.CanDeny(rc) {
		return Record{}, fmt.Errorf("moderation: deny %s: %w", kind, shared.ErrForbidden)
	}
	err = m.withTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.Lock(ctx, kind, id)
		if err != nil {
			return err
		}
		locked.Status.Deny(m.now())
		rec, err = tx.SaveStatus(ctx, locked)
		if err != nil {
			return err
		}
		return m.log(ctx, tx, rec, rc.Principal(), shared.ApprovalDeny, "")
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update applies edits and then re-evaluates the moderation state: editors
// holding CREATE_APPROVED_CONTENT re-affirm approval, everyone else sends the
// resource back to pending, including resources that were denied. A denied
// resource sent back is logged as RESUBMIT. expectedVersion pins the version
// the caller read; zero skips the check.
func (m *Machine) Update(ctx context.Context, rc authz.RoleContext, kind Kind, id uuid.UUID, expectedVersion int64, edits Edits) (rec Record, err error) {
	action := shared.ApprovalSubmit
	defer func() { m.observe(kind, action, err) }()
	if !rc.Authenticated() {
		return Record{}, fmt.Errorf("moderation: update %s: %w", kind, shared.ErrUnauthenticated)
	}
	err = m.withTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.Lock(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := editable(locked, rc); err != nil {
			return fmt.Errorf("moderation: update %s: %w", kind, err)
		}
		if expectedVersion != 0 && locked.Version != expectedVersion {
			return fmt.Errorf("moderation: update %s: stale version %d: %w", kind, expectedVersion, shared.ErrConflict)
		}
		if len(edits) > 0 {
			if err := tx.ApplyEdits(ctx, locked, edits); err != nil {
				return err
			}
		}
		previous := locked.Status.State()
		at := m.now()
		if authz.Evaluate(authz.PermCreateApprovedContent, rc) {
			locked.Status.Approve(at)
			action = shared.ApprovalApprove
		} else {
			locked.Status.Reset()
			if previous == StateDenied {
				action = shared.ApprovalResubmit
			}
		}
		rec, err = tx.SaveStatus(ctx, locked)
		if err != nil {
			return err
		}
		if err := m.log(ctx, tx, rec, rc.Principal(), action, "edited"); err != nil {
			return err
		}
		if kind != KindDataset || !rec.Status.IsApproved() {
			return nil
		}
		return m.cascadeTags(ctx, tx, rec.ID, rc.Principal(), at)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the resource. Datasets and showcases are soft deleted.
func (m *Machine) Delete(ctx context.Context, rc authz.RoleContext, kind Kind, id uuid.UUID) (err error) {
	defer func() { m.observe(kind, shared.ApprovalDelete, err) }()
	if !rc.Authenticated() {
		return fmt.Errorf("moderation: delete %s: %w", kind, shared.ErrUnauthenticated)
	}
	return m.withTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.Lock(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := editable(locked, rc); err != nil {
			return fmt.Errorf("moderation: delete %s: %w", kind, err)
		}
		if err := tx.Remove(ctx, locked, m.now()); err != nil {
			return err
		}
		return m.log(ctx, tx, locked, rc.Principal(), shared.ApprovalDelete, "")
	})
}

// cascadeTags approves the pending tags linked to an approved dataset and
// logs one APPROVE row per tag.
func (m *Machine) cascadeTags(ctx context.Context, tx Tx, datasetID, actor uuid.UUID, at time.Time) error {
	tagIDs, err := tx.ApprovePendingTags(ctx, datasetID, at)
	if err != nil {
		return fmt.Errorf("moderation: cascade tag approval: %w", err)
	}
	for _, tagID := range tagIDs {
		if err := tx.Log(ctx, CascadeLog(datasetID, tagID, actor, at)); err != nil {
			return err
		}
	}
	if len(tagIDs) > 0 {
		m.logger.Info("cascaded tag approval", slog.String("dataset", datasetID.String()), slog.Int("tags", len(tagIDs)))
	}
	return nil
}

// CascadeLog is the approval row written for a tag approved along with its
// dataset.
func CascadeLog(datasetID, tagID, actor uuid.UUID, at time.Time) shared.ApprovalLog {
	return shared.ApprovalLog{
		Module:  string(KindTag),
		RefID:   tagID,
		ActorID: actor,
		Action:  shared.ApprovalApprove,
		Note:    "dataset " + datasetID.String() + " approved",
		At:      at,
	}
}

// editable rejects callers that may not modify rec. Callers that cannot see
// rec at all get ErrNotFound so existence is not disclosed.
func editable(rec Record, rc authz.RoleContext) error {
	if authz.CanEdit(rec.Subject(), rc) {
		return nil
	}
	visible := authz.CanView(rec.Subject(), rc)
	if rec.Kind == KindTag {
		visible = authz.CanViewTag(rec.Subject(), rc)
	}
	if !visible {
		return shared.ErrNotFound
	}
	return shared.ErrForbidden
}

func (m *Machine) withTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if m == nil || m.store == nil {
		return ErrStoreNotConfigured
	}
	return m.store.WithTx(ctx, fn)
}

func (m *Machine) log(ctx context.Context, tx Tx, rec Record, actor uuid.UUID, action shared.ApprovalAction, note string) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("moderation: %s %s has both approval and denial set", rec.Kind, rec.ID)
	}
	return tx.Log(ctx, shared.ApprovalLog{
		Module:  string(rec.Kind),
		RefID:   rec.ID,
		ActorID: actor,
		Action:  action,
		Note:    note,
		At:      m.now(),
	})
}

func (m *Machine) observe(kind Kind, action shared.ApprovalAction, err error) {
	if m == nil || m.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrUnauthenticated):
		outcome = "forbidden"
	case errors.Is(err, shared.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, shared.ErrConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	m.observer.ObserveTransition(string(kind), string(action), outcome)
}
