package tags

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/shared"
)

const tagColumns = `id, owner_id, name, approved_at, denied_at, created_at, updated_at, version`

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepository)(nil)
)

// Repository is the PostgreSQL tag store.
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

// Get loads a tag.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Tag, error) {
	t, err := scanTag(r.pool.QueryRow(ctx, `SELECT `+tagColumns+` FROM dataset_tags WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tag{}, fmt.Errorf("tags: %s: %w", id, shared.ErrNotFound)
	}
	return t, err
}

// List pages through tags by name.
func (r *Repository) List(ctx context.Context, includeUnapproved bool, page shared.PageRequest) ([]Tag, int, error) {
	where := `approved_at IS NOT NULL`
	if includeUnapproved {
		where = `TRUE`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dataset_tags WHERE `+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+tagColumns+` FROM dataset_tags WHERE `+where+` ORDER BY name LIMIT $1 OFFSET $2`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

type txRepository struct {
	tx       pgx.Tx
	recorder *shared.ApprovalRecorder
}

func (t *txRepository) Insert(ctx context.Context, tag Tag) (Tag, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO dataset_tags (id, owner_id, name, approved_at, denied_at, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1) RETURNING `+tagColumns,
		tag.ID, tag.OwnerID, tag.Name, tag.Status.ApprovedAt, tag.Status.DeniedAt, tag.CreatedAt)
	created, err := scanTag(row)
	if db.IsUniqueViolation(err) {
		return Tag{}, fmt.Errorf("tags: name %q already exists: %w", tag.Name, shared.ErrConflict)
	}
	return created, err
}

func (t *txRepository) LogApproval(ctx context.Context, entry shared.ApprovalLog) error {
	return t.recorder.Record(ctx, t.tx, entry)
}

func scanTag(row pgx.Row) (Tag, error) {
	var t Tag
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Status.ApprovedAt, &t.Status.DeniedAt, &t.CreatedAt, &t.UpdatedAt, &t.Version)
	return t, err
}
