package datasets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/shared"
)

const datasetColumns = `d.id, d.owner_id, d.kind, d.title, d.description, d.endpoint_url, d.credentials,
d.sample_payload, d.external_links,
COALESCE(ARRAY(SELECT l.tag_id FROM dataset_tag_links l WHERE l.dataset_id = d.id ORDER BY l.tag_id), '{}'::uuid[]),
d.feed_verified, d.approved_at, d.denied_at, d.created_at, d.updated_at, d.deleted_at, d.version`

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepository)(nil)
)

// Repository is the PostgreSQL dataset store.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *shared.ApprovalRecorder
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, recorder *shared.ApprovalRecorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, recorder: r.recorder})
	})
}

// Get loads an undeleted dataset.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Dataset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.id = $1 AND d.deleted_at IS NULL`, id)
	d, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dataset{}, fmt.Errorf("datasets: %s: %w", id, shared.ErrNotFound)
	}
	return d, err
}

// List pages through undeleted datasets matching filter and vis.
func (r *Repository) List(ctx context.Context, filter ListFilter, vis Visibility) ([]Dataset, int, error) {
	conds := []string{"d.deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !vis.All {
		if vis.Viewer == uuid.Nil {
			conds = append(conds, "d.approved_at IS NOT NULL")
		} else {
			conds = append(conds, "(d.approved_at IS NOT NULL OR d.owner_id = "+arg(vis.Viewer)+")")
		}
	}
	if filter.Kind != "" {
		conds = append(conds, "d.kind = "+arg(string(filter.Kind)))
	}
	if filter.OwnerID != uuid.Nil {
		conds = append(conds, "d.owner_id = "+arg(filter.OwnerID))
	}
	if filter.TagID != uuid.Nil {
		conds = append(conds, "EXISTS (SELECT 1 FROM dataset_tag_links l WHERE l.dataset_id = d.id AND l.tag_id = "+arg(filter.TagID)+")")
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + q + "%")
		conds = append(conds, "(d.title ILIKE "+p+" OR d.description ILIKE "+p+")")
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM datasets d WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := arg(filter.Page.Limit())
	offset := arg(filter.Page.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE `+where+
		` ORDER BY d.created_at DESC, d.id LIMIT `+limit+` OFFSET `+offset, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// SetFeedVerified records a probe result.
func (r *Repository) SetFeedVerified(ctx context.Context, id uuid.UUID, version int64, verified bool) (int64, error) {
	var next int64
	err := r.pool.QueryRow(ctx, `UPDATE datasets SET feed_verified = $2, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $3 AND deleted_at IS NULL RETURNING version`, id, verified, version).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("datasets: %s changed during feed check: %w", id, shared.ErrConflict)
	}
	return next, err
}

type txRepository struct {
	tx       pgx.Tx
	recorder *shared.ApprovalRecorder
}

func (t *txRepository) Insert(ctx context.Context, d Dataset) (Dataset, error) {
	if d.ExternalLinks == nil {
		d.ExternalLinks = []string{}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO datasets
(id, owner_id, kind, title, description, endpoint_url, credentials, sample_payload, external_links,
 feed_verified, approved_at, denied_at, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11, $12, $12, 1)`,
		d.ID, d.OwnerID, string(d.Kind), d.Title, d.Description, d.EndpointURL, d.Credentials, d.SamplePayload,
		d.ExternalLinks, d.Status.ApprovedAt, d.Status.DeniedAt, d.CreatedAt)
	if err != nil {
		return Dataset{}, err
	}
	if err := moderation.ReplaceTagLinks(ctx, t.tx, d.ID, d.TagIDs); err != nil {
		return Dataset{}, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.id = $1`, d.ID)
	return scanDataset(row)
}

func (t *txRepository) ApprovePendingTags(ctx context.Context, datasetID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	return moderation.ApprovePendingTags(ctx, t.tx, datasetID, at)
}

func (t *txRepository) LogApproval(ctx context.Context, entry shared.ApprovalLog) error {
	return t.recorder.Record(ctx, t.tx, entry)
}

func scanDataset(row pgx.Row) (Dataset, error) {
	var (
		d    Dataset
		kind string
	)
	err := row.Scan(&d.ID, &d.OwnerID, &kind, &d.Title, &d.Description, &d.EndpointURL, &d.Credentials,
		&d.SamplePayload, &d.ExternalLinks, &d.TagIDs, &d.FeedVerified, &d.Status.ApprovedAt, &d.Status.DeniedAt,
		&d.CreatedAt, &d.UpdatedAt, &d.DeletedAt, &d.Version)
	if err != nil {
		return Dataset{}, err
	}
	d.Kind = Kind(kind)
	return d, nil
}
