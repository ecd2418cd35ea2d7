package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/shared"
)

type table struct {
	name       string
	deletedCol string
	controlled string
	editable   map[string]struct{}
}

var tables = map[Kind]table{
	KindDataset: {
		name:       "datasets",
		deletedCol: "deleted_at",
		controlled: "kind = 'controlled'",
		editable: columnSet("title", "description", "kind", "endpoint_url", "credentials",
			"sample_payload", "external_links", "feed_verified", TagIDsEdit),
	},
	KindTag: {
		name:       "dataset_tags",
		deletedCol: "NULL::timestamptz",
		controlled: "false",
		editable:   columnSet("name"),
	},
	KindShowcase: {
		name:       "showcases",
		deletedCol: "deleted_at",
		controlled: "false",
		editable:   columnSet("title", "summary", "url"),
	},
}

// TagIDsEdit replaces the tag links of a dataset. Its value is []uuid.UUID.
const TagIDsEdit = "tag_ids"

func columnSet(cols ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return set
}

func tableFor(kind Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("moderation: unsupported kind %q", kind)
	}
	return t, nil
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *shared.ApprovalRecorder
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, recorder *shared.ApprovalRecorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, recorder: r.recorder})
	})
}

// History returns the moderation log of a resource.
func (r *Repository) History(ctx context.Context, kind Kind, id uuid.UUID) ([]shared.ApprovalLog, error) {
	return r.recorder.List(ctx, r.pool, string(kind), id)
}

type pgTx struct {
	tx       pgx.Tx
	recorder *shared.ApprovalRecorder
}

func (t *pgTx) Lock(ctx context.Context, kind Kind, id uuid.UUID) (Record, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return Record{}, err
	}
	query := fmt.Sprintf(`SELECT id, owner_id, %s, approved_at, denied_at, %s, version
FROM %s WHERE id = $1 FOR UPDATE`, tbl.controlled, tbl.deletedCol, tbl.name)
	rec := Record{Kind: kind}
	err = t.tx.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.OwnerID, &rec.Controlled,
		&rec.Status.ApprovedAt, &rec.Status.DeniedAt, &rec.DeletedAt, &rec.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("moderation: %s %s: %w", kind, id, shared.ErrNotFound)
		}
		return Record{}, err
	}
	if rec.DeletedAt != nil {
		return Record{}, fmt.Errorf("moderation: %s %s deleted: %w", kind, id, shared.ErrNotFound)
	}
	return rec, nil
}

func (t *pgTx) ApplyEdits(ctx context.Context, rec Record, edits Edits) error {
	tbl, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(edits))
	for col := range edits {
		if _, ok := tbl.editable[col]; !ok {
			return fmt.Errorf("moderation: %s.%s: %w", tbl.name, col, ErrInvalidEdit)
		}
		if col == TagIDsEdit {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if len(cols) > 0 {
		sets := make([]string, 0, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, col := range cols {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
			args = append(args, edits[col])
		}
		args = append(args, rec.ID)
		query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = NOW() WHERE id = $%d`,
			tbl.name, strings.Join(sets, ", "), len(args))
		if _, err := t.tx.Exec(ctx, query, args...); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("moderation: %s edit: %w", tbl.name, shared.ErrConflict)
			}
			return err
		}
	}
	if raw, ok := edits[TagIDsEdit]; ok {
		tagIDs, ok := raw.([]uuid.UUID)
		if !ok {
			return fmt.Errorf("moderation: tag_ids must be a list of ids: %w", ErrInvalidEdit)
		}
		return ReplaceTagLinks(ctx, t.tx, rec.ID, tagIDs)
	}
	return nil
}

// ReplaceTagLinks sets the tags attached to a dataset.
func ReplaceTagLinks(ctx context.Context, q db.DBTX, datasetID uuid.UUID, tagIDs []uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM dataset_tag_links WHERE dataset_id = $1`, datasetID); err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	tag, err := q.Exec(ctx, `INSERT INTO dataset_tag_links (dataset_id, tag_id)
SELECT $1, t.id FROM dataset_tags t WHERE t.id = ANY($2)
ON CONFLICT DO NOTHING`, datasetID, tagIDs)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(uniqueIDs(tagIDs)) {
		return fmt.Errorf("moderation: unknown tag id: %w", shared.ErrNotFound)
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (t *pgTx) SaveStatus(ctx context.Context, rec Record) (Record, error) {
	tbl, err := tableFor(rec.Kind)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.Valid() {
		return Record{}, fmt.Errorf("moderation: %s %s: approval and denial both set", rec.Kind, rec.ID)
	}
	query := fmt.Sprintf(`UPDATE %s SET approved_at = $1, denied_at = $2, version = version + 1, updated_at = NOW()
WHERE id = $3 AND version = $4 RETURNING version`, tbl.name)
	var version int64
	err = t.tx.QueryRow(ctx, query, rec.Status.ApprovedAt, rec.Status.DeniedAt, rec.ID, rec.Version).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("moderation: %s %s version %d: %w", rec.Kind, rec.ID, rec.Version, shared.ErrConflict)
		}
		return Record{}, err
	}
	rec.Version = version
	return rec, nil
}

func (t *pgTx) ApprovePendingTags(ctx context.Context, datasetID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	return ApprovePendingTags(ctx, t.tx, datasetID, at)
}

// ApprovePendingTags approves the pending tags linked to a dataset and returns
// their ids. Approved and denied tags are untouched.
func ApprovePendingTags(ctx context.Context, q db.DBTX, datasetID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `UPDATE dataset_tags t
SET approved_at = $2, denied_at = NULL, version = t.version + 1, updated_at = NOW()
FROM dataset_tag_links l
WHERE l.tag_id = t.id AND l.dataset_id = $1 AND t.approved_at IS NULL AND t.denied_at IS NULL
RETURNING t.id`, datasetID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) Remove(ctx context.Context, rec Record, at time.Time) error {
	tbl, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	var (
		query string
		args  []any
	)
	if rec.Kind.SoftDeletes() {
		query = fmt.Sprintf(`UPDATE %s SET deleted_at = $2, version = version + 1 WHERE id = $1 AND version = $3`, tbl.name)
		args = []any{rec.ID, at, rec.Version}
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND version = $2`, tbl.name)
		args = []any{rec.ID, rec.Version}
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("moderation: remove %s %s: %w", rec.Kind, rec.ID, shared.ErrConflict)
	}
	return nil
}

func (t *pgTx) Log(ctx context.Context, entry shared.ApprovalLog) error {
	return t.recorder.Record(ctx, t.tx, entry)
}

var _ Store = (*Repository)(nil)
