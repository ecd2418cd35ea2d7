package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/shared"
)

const requestColumns = `id, requester_id, dataset_id, job_title, company, contact_email, department,
project_description, usage_details, end_time, approved_at, denied_at, created_at, updated_at, deleted_at, version`

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool     *pgxpool.Pool
	recorder *shared.ApprovalRecorder
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool, recorder *shared.ApprovalRecorder) Repository {
	return &pgRepository{pool: pool, recorder: recorder}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder, audit: shared.NewAuditLogger(tx)})
	})
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (AccessRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1 AND deleted_at IS NULL`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccessRequest{}, fmt.Errorf("access: request %s: %w", id, shared.ErrNotFound)
	}
	return req, err
}

func (r *pgRepository) ListPending(ctx context.Context, page shared.PageRequest) ([]AccessRequest, int, error) {
	const where = `deleted_at IS NULL AND approved_at IS NULL AND denied_at IS NULL`
	return r.list(ctx, where, page)
}

func (r *pgRepository) ListForRequester(ctx context.Context, requester uuid.UUID, page shared.PageRequest) ([]AccessRequest, int, error) {
	return r.list(ctx, `deleted_at IS NULL AND requester_id = $1`, page, requester)
}

func (r *pgRepository) list(ctx context.Context, where string, page shared.PageRequest, args ...any) ([]AccessRequest, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM access_requests WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM access_requests WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		requestColumns, where, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *pgRepository) ListApproved(ctx context.Context, requester uuid.UUID, dataset *uuid.UUID) ([]AccessRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM access_requests
WHERE requester_id = $1 AND ($2::uuid IS NULL OR dataset_id = $2)
  AND deleted_at IS NULL AND approved_at IS NOT NULL AND denied_at IS NULL`, requester, dataset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *pgRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]AccessRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM access_requests
WHERE deleted_at IS NULL AND approved_at IS NOT NULL AND denied_at IS NULL
  AND end_time >= $1 AND end_time < $2
ORDER BY end_time`, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

type pgTxRepository struct {
	tx       pgx.Tx
	recorder *shared.ApprovalRecorder
	audit    *shared.AuditLogger
}

func (t *pgTxRepository) DatasetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) Insert(ctx context.Context, req AccessRequest) (AccessRequest, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO access_requests
(id, requester_id, dataset_id, job_title, company, contact_email, department, project_description, usage_details, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, 1)
RETURNING `+requestColumns,
		req.ID, req.RequesterID, req.DatasetID, req.JobTitle, req.Company, req.ContactEmail, req.Department,
		req.ProjectDescription, req.UsageDetails, req.CreatedAt)
	return scanRequest(row)
}

func (t *pgTxRepository) Lock(ctx context.Context, id uuid.UUID) (AccessRequest, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccessRequest{}, fmt.Errorf("access: request %s: %w", id, shared.ErrNotFound)
	}
	return req, err
}

func (t *pgTxRepository) Save(ctx context.Context, req AccessRequest) (AccessRequest, error) {
	row := t.tx.QueryRow(ctx, `UPDATE access_requests
SET approved_at = $2, denied_at = $3, end_time = $4, updated_at = $5, version = version + 1
WHERE id = $1 AND version = $6
RETURNING `+requestColumns, req.ID, req.ApprovedAt, req.DeniedAt, req.EndTime, req.UpdatedAt, req.Version)
	saved, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccessRequest{}, fmt.Errorf("access: request %s changed concurrently: %w", req.ID, shared.ErrConflict)
	}
	return saved, err
}

func (t *pgTxRepository) Delete(ctx context.Context, req AccessRequest) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM access_requests WHERE id = $1 AND version = $2`, req.ID, req.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("access: request %s changed concurrently: %w", req.ID, shared.ErrConflict)
	}
	return nil
}

func (t *pgTxRepository) LogApproval(ctx context.Context, entry shared.ApprovalLog) error {
	return t.recorder.Record(ctx, t.tx, entry)
}

func (t *pgTxRepository) Audit(ctx context.Context, entry shared.AuditLog) error {
	return t.audit.Record(ctx, entry)
}

func scanRequest(row pgx.Row) (AccessRequest, error) {
	var req AccessRequest
	err := row.Scan(&req.ID, &req.RequesterID, &req.DatasetID, &req.JobTitle, &req.Company, &req.ContactEmail,
		&req.Department, &req.ProjectDescription, &req.UsageDetails, &req.EndTime, &req.ApprovedAt, &req.DeniedAt,
		&req.CreatedAt, &req.UpdatedAt, &req.DeletedAt, &req.Version)
	return req, err
}

func collect(rows pgx.Rows) ([]AccessRequest, error) {
	defer rows.Close()
	var out []AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
