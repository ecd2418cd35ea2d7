package showcases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/shared"
)

const showcaseColumns = `id, owner_id, dataset_id, title, summary, url, approved_at, denied_at, created_at, updated_at, deleted_at, version`

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepository)(nil)
)

// Repository is the PostgreSQL showcase store.
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

// Get loads an undeleted showcase.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Showcase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+showcaseColumns+` FROM showcases WHERE id = $1 AND deleted_at IS NULL`, id)
	sc, err := scanShowcase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Showcase{}, fmt.Errorf("showcases: %s: %w", id, shared.ErrNotFound)
	}
	return sc, err
}

// ListForDataset pages through the showcases of a dataset.
func (r *Repository) ListForDataset(ctx context.Context, datasetID, viewer uuid.UUID, all bool, page shared.PageRequest) ([]Showcase, int, error) {
	const where = `dataset_id = $1 AND deleted_at IS NULL AND ($2 OR approved_at IS NOT NULL OR owner_id = $3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM showcases WHERE `+where, datasetID, all, viewer).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+showcaseColumns+` FROM showcases WHERE `+where+
		` ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`, datasetID, all, viewer, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Showcase
	for rows.Next() {
		sc, err := scanShowcase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, sc)
	}
	return items, total, rows.Err()
}

// DatasetSubject loads the owner and moderation state of an undeleted dataset.
func (r *Repository) DatasetSubject(ctx context.Context, id uuid.UUID) (authz.Subject, error) {
	subject := authz.Subject{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT owner_id, approved_at IS NOT NULL, kind = 'controlled'
FROM datasets WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&subject.OwnerID, &subject.Approved, &subject.Controlled)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Subject{}, fmt.Errorf("showcases: dataset %s: %w", id, shared.ErrNotFound)
	}
	return subject, err
}

type txRepository struct {
	tx       pgx.Tx
	recorder *shared.ApprovalRecorder
}

func (t *txRepository) DatasetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	return exists, err
}

func (t *txRepository) Insert(ctx context.Context, s Showcase) (Showcase, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO showcases
(id, owner_id, dataset_id, title, summary, url, approved_at, denied_at, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1) RETURNING `+showcaseColumns,
		s.ID, s.OwnerID, s.DatasetID, s.Title, s.Summary, s.URL, s.Status.ApprovedAt, s.Status.DeniedAt, s.CreatedAt)
	return scanShowcase(row)
}

func (t *txRepository) LogApproval(ctx context.Context, entry shared.ApprovalLog) error {
	return t.recorder.Record(ctx, t.tx, entry)
}

func scanShowcase(row pgx.Row) (Showcase, error) {
	var s Showcase
	err := row.Scan(&s.ID, &s.OwnerID, &s.DatasetID, &s.Title, &s.Summary, &s.URL, &s.Status.ApprovedAt,
		&s.Status.DeniedAt, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt, &s.Version)
	return s, err
}
