package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/shared"
)

// Repository is the storage port of the access service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id uuid.UUID) (AccessRequest, error)
	ListPending(ctx context.Context, page shared.PageRequest) ([]AccessRequest, int, error)
	ListForRequester(ctx context.Context, requester uuid.UUID, page shared.PageRequest) ([]AccessRequest, int, error)
	// ListApproved returns approved, undenied requests of requester. A
	// non-nil dataset narrows the result to that dataset. Expiry is left to
	// the caller's clock.
	ListApproved(ctx context.Context, requester uuid.UUID, dataset *uuid.UUID) ([]AccessRequest, error)
	// ListExpiring returns approved requests whose end time lies in [from, to),
	// i.e. requests that were valid at from and are expired at to.
	ListExpiring(ctx context.Context, from, to time.Time) ([]AccessRequest, error)
}

// TxRepository holds the writes performed inside one transaction.
type TxRepository interface {
	// DatasetExists reports whether an undeleted dataset with id exists.
	DatasetExists(ctx context.Context, id uuid.UUID) (bool, error)
	Insert(ctx context.Context, req AccessRequest) (AccessRequest, error)
	// Lock loads and row-locks the request; absent rows yield shared.ErrNotFound.
	Lock(ctx context.Context, id uuid.UUID) (AccessRequest, error)
	// Save writes decision fields guarded by req.Version and returns the row
	// with its new version.
	Save(ctx context.Context, req AccessRequest) (AccessRequest, error)
	Delete(ctx context.Context, req AccessRequest) error
	LogApproval(ctx context.Context, entry shared.ApprovalLog) error
	Audit(ctx context.Context, entry shared.AuditLog) error
}

// Observer receives one call per attempted mutation.
type Observer interface {
	ObserveTransition(module, action, outcome string)
}

// Invalidator drops cached grant sets.
type Invalidator interface {
	Invalidate(ctx context.Context, principal uuid.UUID) error
}

// Service implements the access request lifecycle.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	observer    Observer
	invalidator Invalidator
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetObserver attaches a metrics observer.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// SetInvalidator attaches the grant cache so mutations evict stale entries.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Create files a pending request for requester on dataset.
func (s *Service) Create(ctx context.Context, requester, datasetID uuid.UUID, input CreateInput) (req AccessRequest, err error) {
	defer func() { s.observe(shared.ApprovalSubmit, err) }()
	if requester == uuid.Nil {
		return AccessRequest{}, fmt.Errorf("access: create: %w", shared.ErrUnauthenticated)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return AccessRequest{}, err
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.DatasetExists(ctx, datasetID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("access: dataset %s: %w", datasetID, shared.ErrNotFound)
		}
		req, err = tx.Insert(ctx, AccessRequest{
			ID:                 uuid.New(),
			RequesterID:        requester,
			DatasetID:          datasetID,
			JobTitle:           input.JobTitle,
			Company:            input.Company,
			ContactEmail:       input.ContactEmail,
			Department:         input.Department,
			ProjectDescription: input.ProjectDescription,
			UsageDetails:       input.UsageDetails,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		if err != nil {
			return err
		}
		if err := tx.LogApproval(ctx, shared.ApprovalLog{
			Module: Module, RefID: req.ID, ActorID: requester, Action: shared.ApprovalSubmit, At: now,
		}); err != nil {
			return err
		}
		return tx.Audit(ctx, auditEntry(requester, "access_request.create", req, now))
	})
	if err != nil {
		return AccessRequest{}, err
	}
	s.logger.Info("access request filed", slog.String("id", req.ID.String()), slog.String("dataset", datasetID.String()))
	return req, nil
}

// Approve grants access until endDate, or indefinitely when endDate is nil.
// Approving a denied request replaces the denial.
func (s *Service) Approve(ctx context.Context, rc authz.RoleContext, id uuid.UUID, endDate *time.Time) (AccessRequest, error) {
	return s.decide(ctx, rc, id, shared.ApprovalApprove, func(req *AccessRequest, at time.Time) {
		req.approve(at, endDate)
	})
}

// Deny refuses access and clears any end time.
func (s *Service) Deny(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (AccessRequest, error) {
	return s.decide(ctx, rc, id, shared.ApprovalDeny, func(req *AccessRequest, at time.Time) {
		req.deny(at)
	})
}

func (s *Service) decide(ctx context.Context, rc authz.RoleContext, id uuid.UUID, action shared.ApprovalAction, apply func(*AccessRequest, time.Time)) (req AccessRequest, err error) {
	defer func() { s.observe(action, err) }()
	if !authz.CanApprove(rc) {
		return AccessRequest{}, fmt.Errorf("access: %s: %w", action, shared.ErrForbidden)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		at := s.now()
		apply(&locked, at)
		req, err = tx.Save(ctx, locked)
		if err != nil {
			return err
		}
		if err := tx.LogApproval(ctx, shared.ApprovalLog{
			Module: Module, RefID: req.ID, ActorID: rc.Principal(), Action: action, Note: endTimeNote(req.EndTime), At: at,
		}); err != nil {
			return err
		}
		return tx.Audit(ctx, auditEntry(rc.Principal(), "access_request."+actionVerb(action), req, at))
	})
	if err != nil {
		return AccessRequest{}, err
	}
	s.invalidate(ctx, req.RequesterID)
	return req, nil
}

// Delete removes the request.
func (s *Service) Delete(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (err error) {
	defer func() { s.observe(shared.ApprovalDelete, err) }()
	if !authz.CanApprove(rc) {
		return fmt.Errorf("access: delete: %w", shared.ErrForbidden)
	}
	var requester uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		requester = locked.RequesterID
		if err := tx.Delete(ctx, locked); err != nil {
			return err
		}
		at := s.now()
		if err := tx.LogApproval(ctx, shared.ApprovalLog{
			Module: Module, RefID: locked.ID, ActorID: rc.Principal(), Action: shared.ApprovalDelete, At: at,
		}); err != nil {
			return err
		}
		return tx.Audit(ctx, auditEntry(rc.Principal(), "access_request.delete", locked, at))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, requester)
	return nil
}

// Get returns one request to its requester or to a moderator. Anyone else
// sees shared.ErrNotFound.
func (s *Service) Get(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (AccessRequest, error) {
	if !rc.Authenticated() {
		return AccessRequest{}, fmt.Errorf("access: get: %w", shared.ErrUnauthenticated)
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return AccessRequest{}, err
	}
	if req.RequesterID != rc.Principal() && !authz.CanApprove(rc) {
		return AccessRequest{}, fmt.Errorf("access: request %s: %w", id, shared.ErrNotFound)
	}
	return req, nil
}

// ListPending returns undecided requests for moderators.
func (s *Service) ListPending(ctx context.Context, rc authz.RoleContext, page shared.PageRequest) ([]AccessRequest, shared.Pagination, error) {
	if !authz.CanApprove(rc) {
		return nil, shared.Pagination{}, fmt.Errorf("access: list pending: %w", shared.ErrForbidden)
	}
	items, total, err := s.repo.ListPending(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, total), nil
}

// ListForRequester returns the caller's own requests.
func (s *Service) ListForRequester(ctx context.Context, rc authz.RoleContext, page shared.PageRequest) ([]AccessRequest, shared.Pagination, error) {
	if !rc.Authenticated() {
		return nil, shared.Pagination{}, fmt.Errorf("access: list own: %w", shared.ErrUnauthenticated)
	}
	items, total, err := s.repo.ListForRequester(ctx, rc.Principal(), page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, total), nil
}

// HasValidAccess reports whether user currently holds a grant for dataset.
func (s *Service) HasValidAccess(ctx context.Context, datasetID, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, nil
	}
	reqs, err := s.repo.ListApproved(ctx, userID, &datasetID)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, req := range reqs {
		if req.DatasetID == datasetID && req.HasValidAccess(now) {
			return true, nil
		}
	}
	return false, nil
}

// ActiveGrants returns one entry per dataset user currently has access to,
// carrying the latest end time among that dataset's valid requests (nil when
// any of them is unlimited).
func (s *Service) ActiveGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	reqs, err := s.repo.ListApproved(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	now := s.now()
	byDataset := make(map[uuid.UUID]Grant)
	for _, req := range reqs {
		if !req.HasValidAccess(now) {
			continue
		}
		g, seen := byDataset[req.DatasetID]
		switch {
		case !seen:
			byDataset[req.DatasetID] = Grant{DatasetID: req.DatasetID, EndTime: req.EndTime}
		case g.EndTime == nil:
		case req.EndTime == nil || req.EndTime.After(*g.EndTime):
			g.EndTime = req.EndTime
			byDataset[req.DatasetID] = g
		}
	}
	grants := make([]Grant, 0, len(byDataset))
	for _, g := range byDataset {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].DatasetID.String() < grants[j].DatasetID.String()
	})
	return grants, nil
}

// GrantedDatasetIDs lists datasets user currently has access to. It is
// computed on every call.
func (s *Service) GrantedDatasetIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	grants, err := s.ActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return DatasetIDs(grants), nil
}

// SweepExpired finds grants that lapsed between since and now, evicts their cached
// grant sets and records an audit entry for each. It returns the number of
// lapsed grants and the sweep time to use as the next since.
func (s *Service) SweepExpired(ctx context.Context, since time.Time) (int, time.Time, error) {
	now := s.now()
	reqs, err := s.repo.ListExpiring(ctx, since, now)
	if err != nil {
		return 0, since, err
	}
	if len(reqs) == 0 {
		return 0, now, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, req := range reqs {
			if err := tx.Audit(ctx, auditEntry(uuid.Nil, "access_request.expired", req, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, since, err
	}
	seen := make(map[uuid.UUID]struct{}, len(reqs))
	for _, req := range reqs {
		if _, ok := seen[req.RequesterID]; ok {
			continue
		}
		seen[req.RequesterID] = struct{}{}
		s.invalidate(ctx, req.RequesterID)
	}
	s.logger.Info("access grants expired", slog.Int("count", len(reqs)))
	return len(reqs), now, nil
}

// DatasetIDs extracts the dataset ids of grants.
func DatasetIDs(grants []Grant) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.DatasetID)
	}
	return ids
}

func (s *Service) invalidate(ctx context.Context, principal uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, principal); err != nil {
		s.logger.Warn("invalidate grant cache", slog.String("principal", principal.String()), slog.Any("error", err))
	}
}

func (s *Service) observe(action shared.ApprovalAction, err error) {
	if s.observer == nil {
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
	case errors.Is(err, shared.ErrValidation):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.observer.ObserveTransition(Module, string(action), outcome)
}

func auditEntry(actor uuid.UUID, action string, req AccessRequest, at time.Time) shared.AuditLog {
	meta := map[string]any{
		"dataset_id":   req.DatasetID.String(),
		"requester_id": req.RequesterID.String(),
	}
	if req.EndTime != nil {
		meta["end_time"] = req.EndTime.Format(time.RFC3339)
	}
	return shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   Module,
		EntityID: req.ID.String(),
		Meta:     meta,
		At:       at,
	}
}

func actionVerb(action shared.ApprovalAction) string {
	switch action {
	case shared.ApprovalApprove:
		return "approve"
	case shared.ApprovalDeny:
		return "deny"
	default:
		return "update"
	}
}

func endTimeNote(end *time.Time) string {
	if end == nil {
		return ""
	}
	return "until " + end.Format(time.RFC3339)
}
